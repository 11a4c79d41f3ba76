package timeout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/statcode-ai/toolguard/internal/consts"
	"github.com/statcode-ai/toolguard/internal/logger"
	"github.com/statcode-ai/toolguard/internal/telemetry"
)

// activeOperation is one in-flight cancellable operation. The manager is the
// sole owner of the cancel handle and releases it on every exit path.
type activeOperation struct {
	key       string
	toolName  string
	taskID    string
	cancel    context.CancelCauseFunc
	startedAt time.Time
}

// Manager races operations against wall-clock deadlines, exposes per-key
// cancellation, and records timeout outcomes. Construct with NewManager and
// tear down with Dispose; there is no package-level singleton.
type Manager struct {
	mu          sync.Mutex
	ops         map[string]*activeOperation
	subscribers map[uint64]chan TimeoutEvent
	nextSubID   uint64
	lastTimeout *TimeoutEvent
	recent      []TimeoutEvent
	historySize int
	sink        telemetry.Sink
	log         *logger.Logger
	disposed    bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithTelemetry sets the telemetry sink. Timeouts are forwarded only when a
// sink is set and the operation carries a task ID.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithLogger sets the logger used for manager diagnostics.
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithHistorySize bounds the in-memory ring of recent timeout events.
func WithHistorySize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historySize = n
		}
	}
}

// NewManager creates an empty operation registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		ops:         make(map[string]*activeOperation),
		subscribers: make(map[uint64]chan TimeoutEvent),
		historySize: consts.DefaultEventHistorySize,
		log:         logger.Global().WithPrefix("timeout"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute runs op under the configured deadline and returns its terminal
// outcome. It never panics and never returns a separate error; every outcome
// is encoded in the Result.
//
// The operation receives a context that is cancelled when the deadline fires,
// when CancelOperation/CancelAll is called for its key, or when the parent
// context is cancelled. Cancellation is cooperative: the operation must
// observe the context, and a timed-out operation may keep running until it
// does.
func Execute[T any](ctx context.Context, m *Manager, cfg OperationConfig, op func(context.Context) (T, error)) Result[T] {
	start := time.Now()

	if op == nil {
		return Result[T]{Err: fmt.Errorf("nil operation for tool %q", cfg.ToolName)}
	}

	deadline := cfg.Timeout
	if deadline <= 0 {
		deadline = consts.DefaultToolTimeout
	}

	opCtx, cancel := context.WithCancelCause(ctx)
	act := &activeOperation{
		key:       operationKey(cfg.ToolName, cfg.TaskID),
		toolName:  cfg.ToolName,
		taskID:    cfg.TaskID,
		cancel:    cancel,
		startedAt: start,
	}

	if err := m.register(act); err != nil {
		cancel(err)
		return Result[T]{Err: err, ExecutionTime: time.Since(start)}
	}
	defer cancel(nil)
	defer m.release(act)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := op(opCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			return Result[T]{Err: out.err, ExecutionTime: elapsed}
		}
		return Result[T]{Success: true, Value: out.value, ExecutionTime: elapsed}

	case <-timer.C:
		elapsed := time.Since(start)
		cancel(ErrDeadlineExceeded)
		// An explicit cancel can land between the timer firing and this
		// branch running. The first recorded cause wins; a cancelled
		// operation must not produce a timeout event.
		if cause := context.Cause(opCtx); !errors.Is(cause, ErrDeadlineExceeded) {
			return Result[T]{
				Err:           fmt.Errorf("%s: %w", cfg.ToolName, cause),
				ExecutionTime: elapsed,
			}
		}
		m.recordTimeout(cfg, deadline, elapsed)
		return Result[T]{
			TimedOut:          true,
			FallbackTriggered: cfg.EnableFallback,
			Err:               fmt.Errorf("%s: %w after %s", cfg.ToolName, ErrDeadlineExceeded, deadline),
			ExecutionTime:     elapsed,
		}

	case <-opCtx.Done():
		// External cancellation (CancelOperation, CancelAll, duplicate-key
		// overwrite) or parent context cancellation.
		elapsed := time.Since(start)
		cause := context.Cause(opCtx)
		if cause == nil {
			cause = opCtx.Err()
		}
		return Result[T]{
			Err:           fmt.Errorf("%s: %w", cfg.ToolName, cause),
			ExecutionTime: elapsed,
		}
	}
}

// ExecuteWithTimeout is the non-generic convenience form of Execute.
func (m *Manager) ExecuteWithTimeout(ctx context.Context, cfg OperationConfig, op func(context.Context) (interface{}, error)) Result[interface{}] {
	return Execute(ctx, m, cfg, op)
}

// register installs the operation under its key. A live entry under the same
// key is cancelled and replaced: starting a second operation for the same
// (tool, task) pair is a caller error, and overwriting without cancelling
// would orphan the old cancel handle.
func (m *Manager) register(act *activeOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrManagerDisposed
	}

	if prev, ok := m.ops[act.key]; ok {
		m.log.Warn("duplicate operation key %s, cancelling previous operation", act.key)
		prev.cancel(ErrOperationCancelled)
	}
	m.ops[act.key] = act
	return nil
}

// release removes the operation, unless another operation has already
// replaced it under the same key.
func (m *Manager) release(act *activeOperation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.ops[act.key]; ok && cur == act {
		delete(m.ops, act.key)
	}
}

// recordTimeout retains the event, publishes it to subscribers, and forwards
// it to telemetry when a sink is configured and a task ID is present.
func (m *Manager) recordTimeout(cfg OperationConfig, deadline, elapsed time.Duration) {
	event := TimeoutEvent{
		ToolName:      cfg.ToolName,
		Timeout:       deadline,
		ExecutionTime: elapsed,
		TaskID:        cfg.TaskID,
		Timestamp:     time.Now(),
	}

	m.mu.Lock()
	m.lastTimeout = &event
	m.recent = append(m.recent, event)
	if len(m.recent) > m.historySize {
		m.recent = m.recent[len(m.recent)-m.historySize:]
	}
	// Publish while holding the lock: unsubscribe and Dispose close the
	// channels under the same lock, and a send on a closed channel panics
	// even with a default case.
	dropped := 0
	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	sink := m.sink
	m.mu.Unlock()

	m.log.Warn("tool %s timed out after %s (deadline %s, task %q)",
		cfg.ToolName, elapsed, deadline, cfg.TaskID)
	if dropped > 0 {
		m.log.Warn("dropped timeout event for %s on %d full subscriber buffers", cfg.ToolName, dropped)
	}

	if sink != nil && cfg.TaskID != "" {
		sink.CaptureToolTimeout(cfg.TaskID, cfg.ToolName, deadline, elapsed)
	}
}

// CancelOperation cancels the active operation for the key, if any. Returns
// false without side effects when no operation holds the key.
func (m *Manager) CancelOperation(toolName, taskID string) bool {
	key := operationKey(toolName, taskID)

	m.mu.Lock()
	act, ok := m.ops[key]
	if ok {
		delete(m.ops, key)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	act.cancel(ErrOperationCancelled)
	m.log.Info("cancelled operation %s", key)
	return true
}

// CancelAll cancels every active operation and clears the registry.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ops := make([]*activeOperation, 0, len(m.ops))
	for _, act := range m.ops {
		ops = append(ops, act)
	}
	m.ops = make(map[string]*activeOperation)
	m.mu.Unlock()

	for _, act := range ops {
		act.cancel(ErrOperationCancelled)
	}
	if len(ops) > 0 {
		m.log.Info("cancelled %d active operations", len(ops))
	}
}

// IsOperationActive reports whether an operation holds the derived key.
func (m *Manager) IsOperationActive(toolName, taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ops[operationKey(toolName, taskID)]
	return ok
}

// ActiveOperationCount returns the number of not-yet-settled operations.
func (m *Manager) ActiveOperationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// Stats returns a snapshot of the registry and the last timeout event.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.ops))
	for key := range m.ops {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	stats := Stats{
		ActiveOperations: len(m.ops),
		OperationKeys:    keys,
	}
	if m.lastTimeout != nil {
		event := *m.lastTimeout
		stats.LastTimeout = &event
	}
	return stats
}

// LastTimeoutEvent returns a copy of the most recent timeout event, or nil.
func (m *Manager) LastTimeoutEvent() *TimeoutEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastTimeout == nil {
		return nil
	}
	event := *m.lastTimeout
	return &event
}

// ClearLastTimeoutEvent discards the retained event.
func (m *Manager) ClearLastTimeoutEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTimeout = nil
}

// RecentTimeoutEvents returns the bounded history of timeout events, oldest
// first.
func (m *Manager) RecentTimeoutEvents() []TimeoutEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TimeoutEvent(nil), m.recent...)
}

// Subscribe registers a timeout event channel. Every recorded TimeoutEvent is
// published to all subscribers; a subscriber that falls behind its buffer
// drops events. The returned func unsubscribes and closes the channel.
func (m *Manager) Subscribe() (<-chan TimeoutEvent, func()) {
	ch := make(chan TimeoutEvent, consts.SubscriberBufferSize)

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, unsubscribe
}

// Dispose cancels all operations, closes all subscriptions, and clears the
// retained events. The manager rejects new operations afterwards. The
// disposed flag is set in the same critical section that drains the registry,
// so no operation can register between the drain and the flag.
func (m *Manager) Dispose() {
	m.mu.Lock()
	m.disposed = true
	ops := make([]*activeOperation, 0, len(m.ops))
	for _, act := range m.ops {
		ops = append(ops, act)
	}
	m.ops = make(map[string]*activeOperation)
	for id, ch := range m.subscribers {
		delete(m.subscribers, id)
		close(ch)
	}
	m.lastTimeout = nil
	m.recent = nil
	m.mu.Unlock()

	for _, act := range ops {
		act.cancel(ErrOperationCancelled)
	}
}
