package timeout

import (
	"encoding/json"
	"errors"
	"time"
)

// Cancellation causes distinguish why an operation's context was cancelled.
// The deadline firing and an external CancelOperation call race against each
// other; context.Cause is the tie-breaker.
var (
	// ErrDeadlineExceeded is the cancellation cause when the deadline fires.
	ErrDeadlineExceeded = errors.New("operation timed out")
	// ErrOperationCancelled is the cancellation cause for explicit cancellation.
	ErrOperationCancelled = errors.New("operation cancelled")
	// ErrManagerDisposed is returned for operations started after Dispose.
	ErrManagerDisposed = errors.New("timeout manager disposed")
)

// OperationConfig identifies one timed operation.
type OperationConfig struct {
	// ToolName is the tool vocabulary identifier of the operation kind.
	ToolName string
	// Timeout is the wall-clock deadline measured from call start.
	Timeout time.Duration
	// EnableFallback marks whether a timeout should trigger fallback
	// question generation. It is reflected back in Result.FallbackTriggered
	// and never acted on by the manager itself.
	EnableFallback bool
	// TaskID correlates telemetry and forms the operation key together
	// with ToolName. Optional.
	TaskID string
}

// TimeoutEvent records one deadline expiry.
type TimeoutEvent struct {
	ToolName      string        `json:"tool_name"`
	Timeout       time.Duration `json:"-"`
	ExecutionTime time.Duration `json:"-"`
	TaskID        string        `json:"task_id,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// MarshalJSON encodes the durations as integer milliseconds.
func (e TimeoutEvent) MarshalJSON() ([]byte, error) {
	type alias TimeoutEvent
	return json.Marshal(struct {
		alias
		TimeoutMs       int64 `json:"timeout_ms"`
		ExecutionTimeMs int64 `json:"execution_time_ms"`
	}{
		alias:           alias(e),
		TimeoutMs:       e.Timeout.Milliseconds(),
		ExecutionTimeMs: e.ExecutionTime.Milliseconds(),
	})
}

// Result is the terminal outcome of a tracked operation. The manager never
// returns an error alongside it; every outcome is encoded here.
type Result[T any] struct {
	// Success is true only when the operation settled before the deadline
	// without error.
	Success bool
	// Value holds the operation's result when Success is true.
	Value T
	// TimedOut is true only when the deadline fired first.
	TimedOut bool
	// FallbackTriggered mirrors OperationConfig.EnableFallback on the
	// timeout path and is false on every other path.
	FallbackTriggered bool
	// Err is set whenever Success is false.
	Err error
	// ExecutionTime is the elapsed wall-clock time until settlement.
	ExecutionTime time.Duration
}

// Stats is a point-in-time snapshot of manager state.
type Stats struct {
	LastTimeout      *TimeoutEvent `json:"last_timeout,omitempty"`
	ActiveOperations int           `json:"active_operations"`
	OperationKeys    []string      `json:"operation_keys"`
}

const defaultTaskKey = "default"

// operationKey derives the registry key. At most one live operation may hold
// a key at a time.
func operationKey(toolName, taskID string) string {
	if taskID == "" {
		taskID = defaultTaskKey
	}
	return toolName + ":" + taskID
}
