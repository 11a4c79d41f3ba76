package timeout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/statcode-ai/toolguard/internal/consts"
	"github.com/statcode-ai/toolguard/internal/llm"
	"github.com/statcode-ai/toolguard/internal/logger"
	"github.com/statcode-ai/toolguard/internal/tools"
)

// Completer is the single-prompt completion capability consumed for AI
// fallback generation. Provider clients in internal/llm satisfy it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TaskHandle is the slice of the owning conversational task the composer
// needs. Any method may effectively be absent: a nil Completer skips AI
// generation, and Say errors are swallowed.
type TaskHandle interface {
	// Completer returns the task's completion capability, or nil.
	Completer() Completer
	// Say appends a non-interactive UI event of the named kind.
	Say(ctx context.Context, kind string, payload map[string]interface{}) error
	// WorkingDir returns the task's working directory, or "".
	WorkingDir() string
}

// FallbackContext carries the timed-out operation into fallback generation.
type FallbackContext struct {
	ToolName      string
	Timeout       time.Duration
	ExecutionTime time.Duration
	ToolParams    map[string]interface{}
	WorkingDir    string
}

// Suggestion is one proposed reply, optionally targeting an operating mode.
type Suggestion struct {
	Answer string `json:"answer"`
	Mode   string `json:"mode,omitempty"`
}

// FollowupCall is the structured ask_followup_question payload.
type FollowupCall struct {
	Question    string       `json:"question"`
	Suggestions []Suggestion `json:"follow_up"`
}

// FallbackResult is the outcome of fallback generation. The public entry
// points always return Success true; Success false is reserved for the
// internal AI-generation step.
type FallbackResult struct {
	Success  bool
	ToolCall *FollowupCall
	Err      string
}

// sayKindToolTimeout is the UI event kind for the timeout notice.
const sayKindToolTimeout = "tool_timeout"

// FallbackComposer turns timeouts into actionable follow-up questions. It
// prefers AI-generated suggestions and degrades silently to static per-tool
// suggestions; its public methods never fail.
type FallbackComposer struct {
	log *logger.Logger
}

// NewFallbackComposer creates a composer.
func NewFallbackComposer() *FallbackComposer {
	return &FallbackComposer{log: logger.Global().WithPrefix("fallback")}
}

// CreateTimeoutResponse produces the text block the agent loop feeds back to
// the model after a timeout. It always embeds a well-formed
// ask_followup_question tool call. When a task handle is supplied, a
// non-interactive timeout notice is surfaced to the UI first.
func (c *FallbackComposer) CreateTimeoutResponse(ctx context.Context, toolName string, timeout, executionTime time.Duration, fbCtx *FallbackContext, task TaskHandle) string {
	mayBeRunning := tools.IsBackgroundCapable(toolName)

	if task != nil {
		err := task.Say(ctx, sayKindToolTimeout, map[string]interface{}{
			"tool":                 toolName,
			"timeout_ms":           timeout.Milliseconds(),
			"execution_time_ms":    executionTime.Milliseconds(),
			"may_still_be_running": mayBeRunning,
		})
		if err != nil {
			c.log.Warn("failed to surface timeout notice for %s: %v", toolName, err)
		}
	}

	if fbCtx == nil {
		fbCtx = &FallbackContext{ToolName: toolName, Timeout: timeout, ExecutionTime: executionTime}
	}
	if task != nil && fbCtx.WorkingDir == "" {
		fbCtx.WorkingDir = task.WorkingDir()
	}

	result := c.GenerateFallback(ctx, fbCtx, task)

	var sb strings.Builder
	sb.WriteString(result.ToolCall.Question)
	sb.WriteString("\n\n")
	sb.WriteString("You must ask the user how to proceed by making the following tool call:\n\n")
	sb.WriteString(formatFollowupCall(result.ToolCall))
	return sb.String()
}

// GenerateFallback builds the follow-up question for a timed-out operation.
// The AI path is attempted when the task exposes a completion capability and
// is time-boxed to the operation's original timeout; any failure there
// degrades silently to the static per-tool suggestions. The returned result
// always has Success true.
func (c *FallbackComposer) GenerateFallback(ctx context.Context, fbCtx *FallbackContext, task TaskHandle) *FallbackResult {
	question := timeoutQuestion(fbCtx.ToolName, fbCtx.Timeout)

	if task != nil {
		if completer := task.Completer(); completer != nil {
			aiResult := c.generateAISuggestions(ctx, fbCtx, completer)
			if aiResult.Success {
				aiResult.ToolCall.Question = question
				return aiResult
			}
			c.log.Debug("AI fallback generation failed for %s: %s", fbCtx.ToolName, aiResult.Err)
		}
	}

	return &FallbackResult{
		Success: true,
		ToolCall: &FollowupCall{
			Question:    question,
			Suggestions: staticSuggestions(fbCtx.ToolName),
		},
	}
}

// generateAISuggestions is the internal AI-generation step. It is the only
// place a FallbackResult with Success false is produced.
func (c *FallbackComposer) generateAISuggestions(ctx context.Context, fbCtx *FallbackContext, completer Completer) *FallbackResult {
	prompt := buildSuggestionPrompt(fbCtx)

	// The generation call is raced against the tool's original deadline,
	// not a fresh budget. A fallback requested at the end of a short
	// deadline will deadline near-instantly; that bounds total latency.
	response, err := raceCompletion(ctx, fbCtx.Timeout, completer, prompt)
	if err != nil {
		return &FallbackResult{Err: err.Error()}
	}

	suggestions, err := parseSuggestions(response)
	if err != nil {
		return &FallbackResult{Err: err.Error()}
	}
	if len(suggestions) == 0 {
		return &FallbackResult{Err: "no valid suggestions in model output"}
	}

	return &FallbackResult{
		Success:  true,
		ToolCall: &FollowupCall{Suggestions: suggestions},
	}
}

// raceCompletion runs the completion call under a deadline using the same
// first-of-{settle, deadline} composition the manager uses for operations.
func raceCompletion(ctx context.Context, deadline time.Duration, completer Completer, prompt string) (string, error) {
	if deadline <= 0 {
		deadline = consts.DefaultToolTimeout
	}

	callCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := completer.Complete(callCtx, prompt)
		done <- outcome{text: text, err: err}
	}()

	select {
	case out := <-done:
		return out.text, out.err
	case <-timer.C:
		cancel(ErrDeadlineExceeded)
		return "", fmt.Errorf("fallback generation: %w after %s", ErrDeadlineExceeded, deadline)
	case <-callCtx.Done():
		return "", context.Cause(callCtx)
	}
}

func buildSuggestionPrompt(fbCtx *FallbackContext) string {
	var sb strings.Builder
	sb.WriteString("A coding agent's tool call timed out and the user must choose how to proceed.\n\n")
	fmt.Fprintf(&sb, "Tool: %s\n", fbCtx.ToolName)
	fmt.Fprintf(&sb, "Deadline: %s\n", fbCtx.Timeout)
	fmt.Fprintf(&sb, "Elapsed: %s\n", fbCtx.ExecutionTime)
	if fbCtx.WorkingDir != "" {
		fmt.Fprintf(&sb, "Working directory: %s\n", fbCtx.WorkingDir)
	}
	if len(fbCtx.ToolParams) > 0 {
		if raw, err := json.Marshal(fbCtx.ToolParams); err == nil {
			params := string(raw)
			if len(params) > 500 {
				params = params[:500] + "..."
			}
			fmt.Fprintf(&sb, "Tool parameters: %s\n", params)
		}
	}
	sb.WriteString("\nSuggest 2 to 4 concrete next actions the user could pick. ")
	sb.WriteString("Respond with only a JSON array of objects with an \"answer\" string ")
	sb.WriteString("and an optional \"mode\" string, for example: ")
	sb.WriteString(`[{"answer": "Retry with a longer timeout"}, {"answer": "Skip this step"}]`)
	return sb.String()
}

// parseSuggestions extracts suggestions from model output, tolerating code
// fences and surrounding prose. Entries without an answer are dropped.
func parseSuggestions(response string) ([]Suggestion, error) {
	parsed, err := llm.ExtractJSONArray[Suggestion](response)
	if err != nil {
		return nil, err
	}

	suggestions := make([]Suggestion, 0, len(parsed))
	for _, s := range parsed {
		s.Answer = strings.TrimSpace(s.Answer)
		if s.Answer == "" {
			continue
		}
		suggestions = append(suggestions, s)
		if len(suggestions) >= consts.MaxFallbackSuggestions {
			break
		}
	}
	return suggestions, nil
}

// timeoutQuestion renders the user-facing question. Background-capable tools
// get the "may still be running" clause since cooperative cancellation cannot
// stop a detached process.
func timeoutQuestion(toolName string, timeout time.Duration) string {
	question := fmt.Sprintf("The %s operation timed out after %ds", toolName, timeout.Milliseconds()/1000)
	if tools.IsBackgroundCapable(toolName) {
		question += ", but may still be running in the background"
	}
	question += ". How would you like to proceed?"
	return question
}

// formatFollowupCall serializes the tool call in the wire format the agent
// loop forwards to the model.
func formatFollowupCall(call *FollowupCall) string {
	var sb strings.Builder
	sb.WriteString("<ask_followup_question>\n")
	sb.WriteString("<question>")
	sb.WriteString(call.Question)
	sb.WriteString("</question>\n")
	sb.WriteString("<follow_up>\n")
	for _, s := range call.Suggestions {
		if s.Mode != "" {
			fmt.Fprintf(&sb, "<suggest mode=%q>%s</suggest>\n", s.Mode, s.Answer)
		} else {
			fmt.Fprintf(&sb, "<suggest>%s</suggest>\n", s.Answer)
		}
	}
	sb.WriteString("</follow_up>\n")
	sb.WriteString("</ask_followup_question>")
	return sb.String()
}
