package background

import (
	"sync"
	"time"
)

// TaskStateManager owns the four indexed collections that make up the
// scheduler's shared mutable state: the task table itself, the
// pending-by-parent sets used to detect "all siblings complete", the
// per-key FIFO queues, and the cancellable per-task cleanup timers.
//
// Every exported method takes and releases the manager's single mutex
// within its own body; no method call spans an I/O suspension point, so
// callers never hold the lock across a filesystem or backend call.
type TaskStateManager struct {
	mu sync.Mutex

	tasks            map[string]*BackgroundTask
	pendingByParent  map[string]map[string]struct{}
	queuesByKey      map[string][]string
	completionTimers map[string]*time.Timer
}

// NewTaskStateManager returns an empty state manager.
func NewTaskStateManager() *TaskStateManager {
	return &TaskStateManager{
		tasks:            make(map[string]*BackgroundTask),
		pendingByParent:  make(map[string]map[string]struct{}),
		queuesByKey:      make(map[string][]string),
		completionTimers: make(map[string]*time.Timer),
	}
}

// AddTask inserts a new task and tracks it as pending against its parent.
func (m *TaskStateManager) AddTask(t *BackgroundTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	m.trackPendingLocked(t.ParentSessionID, t.ID)
}

// GetTask returns a snapshot copy of a task, or false if it no longer
// exists (already removed by a cleanup timer).
func (m *TaskStateManager) GetTask(id string) (BackgroundTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return BackgroundTask{}, false
	}
	return t.Snapshot(), true
}

// RemoveTask deletes a task's record entirely. Called by the cleanup timer
// after a terminal notification has been delivered.
func (m *TaskStateManager) RemoveTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
}

// FindBySession returns the task whose ChildSessionID matches sessionID.
func (m *TaskStateManager) FindBySession(sessionID string) (BackgroundTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ChildSessionID == sessionID {
			return t.Snapshot(), true
		}
	}
	return BackgroundTask{}, false
}

// TasksForParent returns every task (any status) belonging to parent,
// ordered by ID for determinism.
func (m *TaskStateManager) TasksForParent(parent string) []BackgroundTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BackgroundTask
	for _, t := range m.tasks {
		if t.ParentSessionID == parent {
			out = append(out, t.Snapshot())
		}
	}
	sortTasksByID(out)
	return out
}

// RunningTasks returns every task currently Running for a concurrency key.
func (m *TaskStateManager) RunningTasks(key string) []BackgroundTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BackgroundTask
	for _, t := range m.tasks {
		if t.ConcurrencyKey == key && t.Status == StatusRunning {
			out = append(out, t.Snapshot())
		}
	}
	sortTasksByID(out)
	return out
}

// HasRunning reports whether any task for key is currently Running.
func (m *TaskStateManager) HasRunning(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ConcurrencyKey == key && t.Status == StatusRunning {
			return true
		}
	}
	return false
}

// TrackPending records that id still needs to resolve for parent.
func (m *TaskStateManager) TrackPending(parent, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackPendingLocked(parent, id)
}

func (m *TaskStateManager) trackPendingLocked(parent, id string) {
	set, ok := m.pendingByParent[parent]
	if !ok {
		set = make(map[string]struct{})
		m.pendingByParent[parent] = set
	}
	set[id] = struct{}{}
}

// ResolvePending removes id from its parent's pending set and reports
// whether the parent now has no pending/running siblings left.
func (m *TaskStateManager) ResolvePending(parent, id string) (allComplete bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.pendingByParent[parent]
	if !ok {
		return true
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.pendingByParent, parent)
		return true
	}
	return false
}

// PendingCount reports how many siblings of parent are still unresolved.
func (m *TaskStateManager) PendingCount(parent string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pendingByParent[parent])
}

// Enqueue appends id to the FIFO queue for key.
func (m *TaskStateManager) Enqueue(key, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queuesByKey[key] = append(m.queuesByKey[key], id)
}

// Dequeue pops the oldest id queued for key, or ("", false) if empty.
func (m *TaskStateManager) Dequeue(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.queuesByKey[key]
	if len(queue) == 0 {
		return "", false
	}
	id := queue[0]
	m.queuesByKey[key] = queue[1:]
	return id, true
}

// removeFromQueue removes id from key's queue wherever it sits, preserving
// order of the remaining entries. Used by CancelPending, which may need to
// remove a task that is not necessarily at the queue's head.
func (m *TaskStateManager) removeFromQueueLocked(key, id string) {
	queue := m.queuesByKey[key]
	for i, qid := range queue {
		if qid == id {
			m.queuesByKey[key] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

// SetTimer installs a cleanup timer for id, replacing any existing one.
func (m *TaskStateManager) SetTimer(id string, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.completionTimers[id]; ok {
		existing.Stop()
	}
	m.completionTimers[id] = time.AfterFunc(d, fn)
}

// ClearTimer cancels id's cleanup timer, if any. Idempotent: calling it
// twice, or on an id with no timer, is a no-op.
func (m *TaskStateManager) ClearTimer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.completionTimers[id]; ok {
		existing.Stop()
		delete(m.completionTimers, id)
	}
}

// CancelPending cancels a Pending task: removes it from its queue, marks it
// Cancelled, stamps CompletedAt, and clears it from the parent-pending set.
// It rejects (returns false) if the task is not currently Pending.
func (m *TaskStateManager) CancelPending(id string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != StatusPending {
		return false
	}
	m.removeFromQueueLocked(t.ConcurrencyKey, id)
	t.Status = StatusCanceled
	t.CompletedAt = now

	if set, ok := m.pendingByParent[t.ParentSessionID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m.pendingByParent, t.ParentSessionID)
		}
	}
	return true
}

// TryCompleteTask transitions a Running task to a terminal status,
// recording its output text (if any) for later retrieval via
// BackgroundOutput. It is idempotent: calling it on a task that is not
// Running returns false without any side effects, matching the originating
// "second call is a no-op" guarantee.
func (m *TaskStateManager) TryCompleteTask(id string, status Status, now time.Time, errMsg, result string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != StatusRunning {
		return false
	}
	t.Status = status
	t.CompletedAt = now
	t.Error = errMsg
	t.Result = result
	return true
}

// MarkRunning transitions a task from Pending to Running, recording its
// child session and concurrency assignment. Returns false if the task was
// not Pending.
func (m *TaskStateManager) MarkRunning(id, childSessionID, concurrencyKey, concurrencyGroup string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != StatusPending {
		return false
	}
	t.Status = StatusRunning
	t.StartedAt = now
	t.ChildSessionID = childSessionID
	t.ConcurrencyKey = concurrencyKey
	t.ConcurrencyGroup = concurrencyGroup
	return true
}

// RecordToolCompletion updates the progress attributes of the Running task
// whose ChildSessionID matches sessionID after one of its tool calls
// finishes. Returns false if no such task is found.
func (m *TaskStateManager) RecordToolCompletion(sessionID, tool string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ChildSessionID == sessionID {
			t.ToolCallCount++
			t.LastTool = tool
			t.LastUpdateTime = now
			return true
		}
	}
	return false
}

// RecordMessageUpdate updates the progress attributes of the Running task
// whose ChildSessionID matches sessionID after one of its messages changes.
// Returns false if no such task is found.
func (m *TaskStateManager) RecordMessageUpdate(sessionID, lastMessage string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ChildSessionID == sessionID {
			t.LastMessage = lastMessage
			t.LastUpdateTime = now
			return true
		}
	}
	return false
}

func sortTasksByID(tasks []BackgroundTask) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && tasks[j].ID < tasks[j-1].ID; j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
}
