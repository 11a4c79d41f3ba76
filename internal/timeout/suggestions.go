package timeout

import "github.com/statcode-ai/toolguard/internal/tools"

// staticSuggestions returns the deterministic per-tool fallback suggestions
// used when AI generation is unavailable or fails.
func staticSuggestions(toolName string) []Suggestion {
	switch toolName {
	case tools.ToolNameExecuteCommand:
		return []Suggestion{
			{Answer: "Retry the command with a longer timeout"},
			{Answer: "Run the command in the background and continue"},
			{Answer: "Break the command into smaller steps"},
			{Answer: "Skip this command and continue"},
		}
	case tools.ToolNameBrowserAction:
		return []Suggestion{
			{Answer: "Retry the browser action"},
			{Answer: "Close the browser and start from a fresh page"},
			{Answer: "Skip this step and continue"},
		}
	case tools.ToolNameReadFile:
		return []Suggestion{
			{Answer: "Retry reading a smaller range of the file"},
			{Answer: "Skip this file and continue"},
		}
	case tools.ToolNameWriteToFile:
		return []Suggestion{
			{Answer: "Retry the write in smaller chunks"},
			{Answer: "Skip this file and continue"},
		}
	case tools.ToolNameSearchFiles:
		return []Suggestion{
			{Answer: "Narrow the search pattern or directory"},
			{Answer: "Retry the search with a longer timeout"},
			{Answer: "Skip the search and continue"},
		}
	case tools.ToolNameListFiles:
		return []Suggestion{
			{Answer: "List a more specific directory"},
			{Answer: "Skip the listing and continue"},
		}
	case tools.ToolNameUseMCPTool:
		return []Suggestion{
			{Answer: "Retry the MCP tool call"},
			{Answer: "Check the MCP server connection and retry"},
			{Answer: "Skip this step and continue"},
		}
	default:
		return []Suggestion{
			{Answer: "Retry the operation with a longer timeout"},
			{Answer: "Break the task into smaller steps"},
			{Answer: "Skip this step and continue"},
		}
	}
}
