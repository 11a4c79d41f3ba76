package tools

import (
	"time"

	"github.com/statcode-ai/toolguard/internal/consts"
)

// Tool names form a closed vocabulary shared with the agent loop.
const (
	ToolNameExecuteCommand      = "execute_command"
	ToolNameReadFile            = "read_file"
	ToolNameWriteToFile         = "write_to_file"
	ToolNameSearchFiles         = "search_files"
	ToolNameListFiles           = "list_files"
	ToolNameBrowserAction       = "browser_action"
	ToolNameUseMCPTool          = "use_mcp_tool"
	ToolNameAskFollowupQuestion = "ask_followup_question"
	ToolNameAttemptCompletion   = "attempt_completion"
)

// backgroundCapable lists tools that may keep running after their deadline
// fires. Cancellation is cooperative, so a timed-out shell command or browser
// session can survive in the background until it observes the signal.
var backgroundCapable = map[string]bool{
	ToolNameExecuteCommand: true,
	ToolNameBrowserAction:  true,
}

// IsBackgroundCapable reports whether a timed-out tool may still be running.
func IsBackgroundCapable(toolName string) bool {
	return backgroundCapable[toolName]
}

// KnownTool reports whether the name belongs to the tool vocabulary.
func KnownTool(toolName string) bool {
	switch toolName {
	case ToolNameExecuteCommand, ToolNameReadFile, ToolNameWriteToFile,
		ToolNameSearchFiles, ToolNameListFiles, ToolNameBrowserAction,
		ToolNameUseMCPTool, ToolNameAskFollowupQuestion, ToolNameAttemptCompletion:
		return true
	}
	return false
}

// TimeoutConfig configures per-tool execution timeouts.
type TimeoutConfig struct {
	Default time.Duration
	PerTool map[string]time.Duration
}

// DefaultTimeoutConfig returns the built-in per-tool deadlines.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Default: consts.DefaultToolTimeout,
		PerTool: map[string]time.Duration{
			ToolNameExecuteCommand: consts.DefaultCommandTimeout,
			ToolNameBrowserAction:  consts.DefaultBrowserTimeout,
			ToolNameReadFile:       consts.DefaultFileTimeout,
			ToolNameWriteToFile:    consts.DefaultFileTimeout,
			ToolNameSearchFiles:    consts.DefaultFileTimeout,
			ToolNameListFiles:      consts.DefaultFileTimeout,
			ToolNameUseMCPTool:     consts.DefaultMCPTimeout,
		},
	}
}

// TimeoutFor returns the timeout for a tool, falling back to the default.
func (t TimeoutConfig) TimeoutFor(name string) time.Duration {
	if t.PerTool != nil {
		if timeout, ok := t.PerTool[name]; ok {
			return timeout
		}
	}
	if t.Default > 0 {
		return t.Default
	}
	return consts.DefaultToolTimeout
}
