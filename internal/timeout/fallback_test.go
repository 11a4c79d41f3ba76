package timeout

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	response string
	err      error
	delay    time.Duration
	prompts  []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", context.Cause(ctx)
		}
	}
	return f.response, f.err
}

type fakeTask struct {
	completer  Completer
	workingDir string
	sayKinds   []string
	sayPayload map[string]interface{}
	sayErr     error
}

func (f *fakeTask) Completer() Completer { return f.completer }

func (f *fakeTask) Say(ctx context.Context, kind string, payload map[string]interface{}) error {
	f.sayKinds = append(f.sayKinds, kind)
	f.sayPayload = payload
	return f.sayErr
}

func (f *fakeTask) WorkingDir() string { return f.workingDir }

func TestGenerateFallback_StaticWithoutTask(t *testing.T) {
	composer := NewFallbackComposer()

	result := composer.GenerateFallback(context.Background(), &FallbackContext{
		ToolName: "execute_command",
		Timeout:  100 * time.Millisecond,
	}, nil)

	require.True(t, result.Success)
	require.NotNil(t, result.ToolCall)
	assert.Contains(t, result.ToolCall.Question, "The execute_command operation timed out after 0s")
	assert.Contains(t, result.ToolCall.Question, "may still be running in the background")
	assert.Contains(t, result.ToolCall.Question, "How would you like to proceed?")
	assert.NotEmpty(t, result.ToolCall.Suggestions)
}

func TestGenerateFallback_StaticWithoutCompleter(t *testing.T) {
	composer := NewFallbackComposer()
	task := &fakeTask{}

	result := composer.GenerateFallback(context.Background(), &FallbackContext{
		ToolName: "read_file",
		Timeout:  30 * time.Second,
	}, task)

	require.True(t, result.Success)
	assert.Equal(t, "The read_file operation timed out after 30s. How would you like to proceed?", result.ToolCall.Question)
	assert.Equal(t, staticSuggestions("read_file"), result.ToolCall.Suggestions)
}

func TestGenerateFallback_AISuggestions(t *testing.T) {
	composer := NewFallbackComposer()
	task := &fakeTask{
		completer: &fakeCompleter{
			response: `[{"answer": "Retry with sudo"}, {"answer": "Open a shell", "mode": "code"}]`,
		},
	}

	result := composer.GenerateFallback(context.Background(), &FallbackContext{
		ToolName: "execute_command",
		Timeout:  30 * time.Second,
	}, task)

	require.True(t, result.Success)
	require.Len(t, result.ToolCall.Suggestions, 2)
	assert.Equal(t, "Retry with sudo", result.ToolCall.Suggestions[0].Answer)
	assert.Equal(t, "code", result.ToolCall.Suggestions[1].Mode)
	// The question is always the deterministic one, AI only fills suggestions.
	assert.Contains(t, result.ToolCall.Question, "The execute_command operation timed out after 30s")
}

func TestGenerateFallback_DegradesOnCompleterError(t *testing.T) {
	composer := NewFallbackComposer()
	task := &fakeTask{completer: &fakeCompleter{err: errors.New("rate limited")}}

	result := composer.GenerateFallback(context.Background(), &FallbackContext{
		ToolName: "browser_action",
		Timeout:  90 * time.Second,
	}, task)

	require.True(t, result.Success)
	assert.Equal(t, staticSuggestions("browser_action"), result.ToolCall.Suggestions)
}

func TestGenerateFallback_DegradesOnUnparseableOutput(t *testing.T) {
	composer := NewFallbackComposer()
	task := &fakeTask{completer: &fakeCompleter{response: "I cannot help with that."}}

	result := composer.GenerateFallback(context.Background(), &FallbackContext{
		ToolName: "search_files",
		Timeout:  15 * time.Second,
	}, task)

	require.True(t, result.Success)
	assert.Equal(t, staticSuggestions("search_files"), result.ToolCall.Suggestions)
}

func TestGenerateFallback_DegradesOnSlowCompleter(t *testing.T) {
	composer := NewFallbackComposer()
	task := &fakeTask{
		completer: &fakeCompleter{
			response: `[{"answer": "too late"}]`,
			delay:    2 * time.Second,
		},
	}

	start := time.Now()
	result := composer.GenerateFallback(context.Background(), &FallbackContext{
		ToolName: "use_mcp_tool",
		Timeout:  30 * time.Millisecond,
	}, task)

	require.True(t, result.Success)
	assert.Less(t, time.Since(start), time.Second, "generation must be bounded by the original deadline")
	assert.Equal(t, staticSuggestions("use_mcp_tool"), result.ToolCall.Suggestions)
}

func TestCreateTimeoutResponse(t *testing.T) {
	composer := NewFallbackComposer()
	task := &fakeTask{workingDir: "/work"}

	response := composer.CreateTimeoutResponse(context.Background(), "execute_command", 2*time.Minute, 2*time.Minute+50*time.Millisecond, &FallbackContext{
		ToolName:   "execute_command",
		Timeout:    2 * time.Minute,
		ToolParams: map[string]interface{}{"command": "npm install"},
	}, task)

	assert.Contains(t, response, "The execute_command operation timed out after 120s")
	assert.Contains(t, response, "You must ask the user how to proceed by making the following tool call:")
	assert.Contains(t, response, "<ask_followup_question>")
	assert.Contains(t, response, "</ask_followup_question>")
	assert.Contains(t, response, "<question>")
	assert.Contains(t, response, "<follow_up>")
	assert.Contains(t, response, "<suggest>")

	require.Equal(t, []string{sayKindToolTimeout}, task.sayKinds)
	assert.Equal(t, "execute_command", task.sayPayload["tool"])
	assert.Equal(t, int64(120000), task.sayPayload["timeout_ms"])
	assert.Equal(t, true, task.sayPayload["may_still_be_running"])
}

func TestCreateTimeoutResponse_SayFailureIgnored(t *testing.T) {
	composer := NewFallbackComposer()
	task := &fakeTask{sayErr: errors.New("ui gone")}

	response := composer.CreateTimeoutResponse(context.Background(), "read_file", 15*time.Second, 15*time.Second, nil, task)

	assert.Contains(t, response, "<ask_followup_question>")
	assert.NotContains(t, response, "ui gone")
}

func TestCreateTimeoutResponse_NilTaskAndContext(t *testing.T) {
	composer := NewFallbackComposer()

	response := composer.CreateTimeoutResponse(context.Background(), "list_files", 15*time.Second, 15*time.Second, nil, nil)

	assert.Contains(t, response, "The list_files operation timed out after 15s. How would you like to proceed?")
	assert.NotContains(t, response, "may still be running")
	assert.Contains(t, response, "<ask_followup_question>")
}

func TestTimeoutQuestion(t *testing.T) {
	tests := []struct {
		toolName string
		timeout  time.Duration
		want     string
	}{
		{"execute_command", 2 * time.Minute, "The execute_command operation timed out after 120s, but may still be running in the background. How would you like to proceed?"},
		{"browser_action", 90 * time.Second, "The browser_action operation timed out after 90s, but may still be running in the background. How would you like to proceed?"},
		{"read_file", 15 * time.Second, "The read_file operation timed out after 15s. How would you like to proceed?"},
		{"execute_command", 100 * time.Millisecond, "The execute_command operation timed out after 0s, but may still be running in the background. How would you like to proceed?"},
		{"write_to_file", 1500 * time.Millisecond, "The write_to_file operation timed out after 1s. How would you like to proceed?"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, timeoutQuestion(tt.toolName, tt.timeout))
	}
}

func TestFormatFollowupCall(t *testing.T) {
	got := formatFollowupCall(&FollowupCall{
		Question: "What now?",
		Suggestions: []Suggestion{
			{Answer: "Retry"},
			{Answer: "Switch to code mode", Mode: "code"},
		},
	})

	assert.True(t, strings.HasPrefix(got, "<ask_followup_question>\n"))
	assert.True(t, strings.HasSuffix(got, "</ask_followup_question>"))
	assert.Contains(t, got, "<question>What now?</question>")
	assert.Contains(t, got, "<suggest>Retry</suggest>")
	assert.Contains(t, got, "<suggest mode=\"code\">Switch to code mode</suggest>")
}

func TestBuildSuggestionPrompt_TruncatesParams(t *testing.T) {
	fbCtx := &FallbackContext{
		ToolName:   "execute_command",
		Timeout:    30 * time.Second,
		ToolParams: map[string]interface{}{"command": strings.Repeat("x", 2000)},
		WorkingDir: "/work",
	}

	prompt := buildSuggestionPrompt(fbCtx)
	assert.Contains(t, prompt, "Tool: execute_command")
	assert.Contains(t, prompt, "Working directory: /work")
	assert.Contains(t, prompt, "...")
	assert.Less(t, len(prompt), 1500)
}

func TestParseSuggestions_CapsAndFilters(t *testing.T) {
	response := "```json\n" + `[
		{"answer": "  one  "},
		{"answer": ""},
		{"answer": "two"},
		{"answer": "three"},
		{"answer": "four"},
		{"answer": "five"}
	]` + "\n```"

	suggestions, err := parseSuggestions(response)
	require.NoError(t, err)
	require.Len(t, suggestions, 4)
	assert.Equal(t, "one", suggestions[0].Answer)
	assert.Equal(t, "four", suggestions[3].Answer)
}
