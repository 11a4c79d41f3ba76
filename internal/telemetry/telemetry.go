package telemetry

import "time"

// Sink receives tool timeout events for out-of-band analysis. The timeout
// manager forwards an event exactly once per timeout, and only when a task ID
// is present.
type Sink interface {
	CaptureToolTimeout(taskID, toolName string, timeout, executionTime time.Duration)
}

// NopSink discards all events.
type NopSink struct{}

// CaptureToolTimeout implements Sink.
func (NopSink) CaptureToolTimeout(taskID, toolName string, timeout, executionTime time.Duration) {}
