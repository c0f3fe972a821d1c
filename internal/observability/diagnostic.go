// Package observability provides diagnostic event types and emission.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// DiagnosticEventType identifies the type of diagnostic event.
type DiagnosticEventType string

const (
	EventTypeTaskLaunched    DiagnosticEventType = "background.task.launched"
	EventTypeTaskResumed     DiagnosticEventType = "background.task.resumed"
	EventTypeTaskCompleted   DiagnosticEventType = "background.task.completed"
	EventTypeTaskCanceled    DiagnosticEventType = "background.task.canceled"
	EventTypeQueueEnqueue    DiagnosticEventType = "background.queue.enqueue"
	EventTypeQueueDequeue    DiagnosticEventType = "background.queue.dequeue"
	EventTypeRecoveryPhase   DiagnosticEventType = "recovery.phase"
	EventTypeRecoveryOutcome DiagnosticEventType = "recovery.outcome"
	EventTypePruningPass     DiagnosticEventType = "pruning.pass"
	EventTypeDiagnosticHeartbeat DiagnosticEventType = "diagnostic.heartbeat"
)

// DiagnosticEvent is the base event structure.
type DiagnosticEvent struct {
	Type DiagnosticEventType `json:"type"`
	Seq  int64               `json:"seq"`
	Ts   int64               `json:"ts"`
}

// TaskLaunchedEvent tracks a newly launched or resumed background task.
type TaskLaunchedEvent struct {
	DiagnosticEvent
	TaskID         string `json:"task_id"`
	ParentSession  string `json:"parent_session_id"`
	ConcurrencyKey string `json:"concurrency_key"`
	Resumed        bool   `json:"resumed"`
}

// TaskCompletedEvent tracks a background task reaching a terminal state.
type TaskCompletedEvent struct {
	DiagnosticEvent
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// TaskCanceledEvent tracks an explicitly canceled background task.
type TaskCanceledEvent struct {
	DiagnosticEvent
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

// QueueEvent tracks a per-concurrency-key FIFO queue transition.
type QueueEvent struct {
	DiagnosticEvent
	ConcurrencyKey string `json:"concurrency_key"`
	QueueDepth     int    `json:"queue_depth"`
	WaitMs         int64  `json:"wait_ms,omitempty"`
}

// RecoveryPhaseEvent tracks RecoveryController phase transitions.
type RecoveryPhaseEvent struct {
	DiagnosticEvent
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"` // "empty_content", "truncate", "summarize"
	Attempt   int    `json:"attempt,omitempty"`
}

// RecoveryOutcomeEvent tracks the final result of a recovery attempt.
type RecoveryOutcomeEvent struct {
	DiagnosticEvent
	SessionID  string `json:"session_id"`
	Outcome    string `json:"outcome"` // "recovered", "exhausted", "error"
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// PruningPassEvent tracks a single pruning engine pass.
type PruningPassEvent struct {
	DiagnosticEvent
	SessionID       string `json:"session_id"`
	Deduplicated    int    `json:"deduplicated"`
	Superseded      int    `json:"superseded"`
	Purged          int    `json:"purged"`
	TokensSaved     int64  `json:"tokens_saved"`
}

// DiagnosticHeartbeatEvent carries periodic aggregate counters.
type DiagnosticHeartbeatEvent struct {
	DiagnosticEvent
	ActiveTasks int `json:"active_tasks"`
	QueuedTasks int `json:"queued_tasks"`
}

// DiagnosticEventPayload is a union type for all diagnostic events.
type DiagnosticEventPayload interface {
	EventType() DiagnosticEventType
	Sequence() int64
	Timestamp() int64
}

func (e *DiagnosticEvent) EventType() DiagnosticEventType { return e.Type }
func (e *DiagnosticEvent) Sequence() int64                { return e.Seq }
func (e *DiagnosticEvent) Timestamp() int64               { return e.Ts }

// DiagnosticListener receives diagnostic events.
type DiagnosticListener func(event DiagnosticEventPayload)

// DiagnosticEmitter manages diagnostic event emission.
type DiagnosticEmitter struct {
	mu        sync.RWMutex
	seq       int64
	enabled   bool
	listeners []DiagnosticListener
}

var globalEmitter = &DiagnosticEmitter{}

// SetDiagnosticsEnabled enables or disables diagnostic events.
func SetDiagnosticsEnabled(enabled bool) {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	globalEmitter.enabled = enabled
}

// IsDiagnosticsEnabled returns whether diagnostics are enabled.
func IsDiagnosticsEnabled() bool {
	globalEmitter.mu.RLock()
	defer globalEmitter.mu.RUnlock()
	return globalEmitter.enabled
}

// OnDiagnosticEvent registers a listener for diagnostic events.
func OnDiagnosticEvent(listener DiagnosticListener) func() {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	globalEmitter.listeners = append(globalEmitter.listeners, listener)

	return func() {
		globalEmitter.mu.Lock()
		defer globalEmitter.mu.Unlock()
		for i, l := range globalEmitter.listeners {
			if &l == &listener {
				globalEmitter.listeners = append(globalEmitter.listeners[:i], globalEmitter.listeners[i+1:]...)
				break
			}
		}
	}
}

func nextSeq() int64 {
	return atomic.AddInt64(&globalEmitter.seq, 1)
}

func emit(event DiagnosticEventPayload) {
	globalEmitter.mu.RLock()
	if !globalEmitter.enabled {
		globalEmitter.mu.RUnlock()
		return
	}
	listeners := make([]DiagnosticListener, len(globalEmitter.listeners))
	copy(listeners, globalEmitter.listeners)
	globalEmitter.mu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					_ = recovered
				}
			}()
			listener(event)
		}()
	}
}

// EmitTaskLaunched emits a task-launched event.
func EmitTaskLaunched(e *TaskLaunchedEvent) {
	e.Type = EventTypeTaskLaunched
	if e.Resumed {
		e.Type = EventTypeTaskResumed
	}
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitTaskCompleted emits a task-completed event.
func EmitTaskCompleted(e *TaskCompletedEvent) {
	e.Type = EventTypeTaskCompleted
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitTaskCanceled emits a task-canceled event.
func EmitTaskCanceled(e *TaskCanceledEvent) {
	e.Type = EventTypeTaskCanceled
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitQueueEnqueue emits a queue-enqueue event.
func EmitQueueEnqueue(e *QueueEvent) {
	e.Type = EventTypeQueueEnqueue
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitQueueDequeue emits a queue-dequeue event.
func EmitQueueDequeue(e *QueueEvent) {
	e.Type = EventTypeQueueDequeue
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRecoveryPhase emits a recovery-phase transition event.
func EmitRecoveryPhase(e *RecoveryPhaseEvent) {
	e.Type = EventTypeRecoveryPhase
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRecoveryOutcome emits a recovery-outcome event.
func EmitRecoveryOutcome(e *RecoveryOutcomeEvent) {
	e.Type = EventTypeRecoveryOutcome
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitPruningPass emits a pruning-pass event.
func EmitPruningPass(e *PruningPassEvent) {
	e.Type = EventTypePruningPass
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitDiagnosticHeartbeat emits a diagnostic heartbeat event.
func EmitDiagnosticHeartbeat(e *DiagnosticHeartbeatEvent) {
	e.Type = EventTypeDiagnosticHeartbeat
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// ResetDiagnosticsForTest resets diagnostic state for testing.
func ResetDiagnosticsForTest() {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	atomic.StoreInt64(&globalEmitter.seq, 0)
	globalEmitter.listeners = nil
}
