package background

import (
	"testing"
	"time"
)

func TestTaskStateManagerPendingLifecycle(t *testing.T) {
	m := NewTaskStateManager()
	task := &BackgroundTask{ID: "t1", ParentSessionID: "parent", ConcurrencyKey: "k", Status: StatusPending}
	m.AddTask(task)
	m.Enqueue("k", "t1")

	if got := m.PendingCount("parent"); got != 1 {
		t.Fatalf("PendingCount() = %d, want 1", got)
	}

	id, ok := m.Dequeue("k")
	if !ok || id != "t1" {
		t.Fatalf("Dequeue() = (%q, %v), want (t1, true)", id, ok)
	}

	now := time.Now()
	if !m.MarkRunning("t1", "child-1", "k", "", now) {
		t.Fatalf("MarkRunning() returned false")
	}

	snap, ok := m.GetTask("t1")
	if !ok || snap.Status != StatusRunning || snap.ChildSessionID != "child-1" {
		t.Fatalf("unexpected snapshot after MarkRunning: %+v", snap)
	}

	if !m.TryCompleteTask("t1", StatusCompleted, now, "", "the answer") {
		t.Fatalf("TryCompleteTask() returned false on first call")
	}
	if snap, _ := m.GetTask("t1"); snap.Result != "the answer" {
		t.Fatalf("Result = %q, want %q", snap.Result, "the answer")
	}
	if m.TryCompleteTask("t1", StatusCompleted, now, "", "ignored") {
		t.Fatalf("TryCompleteTask() should be idempotent and return false on second call")
	}

	if allComplete := m.ResolvePending("parent", "t1"); !allComplete {
		t.Fatalf("ResolvePending() = false, want true (last sibling)")
	}
	if got := m.PendingCount("parent"); got != 0 {
		t.Fatalf("PendingCount() after resolve = %d, want 0", got)
	}
}

func TestTaskStateManagerFIFOOrder(t *testing.T) {
	m := NewTaskStateManager()
	m.Enqueue("k", "a")
	m.Enqueue("k", "b")
	m.Enqueue("k", "c")

	for _, want := range []string{"a", "b", "c"} {
		got, ok := m.Dequeue("k")
		if !ok || got != want {
			t.Fatalf("Dequeue() = (%q, %v), want (%q, true)", got, ok, want)
		}
	}
	if _, ok := m.Dequeue("k"); ok {
		t.Fatalf("expected empty queue to report ok=false")
	}
}

func TestTaskStateManagerCancelPending(t *testing.T) {
	m := NewTaskStateManager()
	task := &BackgroundTask{ID: "t1", ParentSessionID: "parent", ConcurrencyKey: "k", Status: StatusPending}
	m.AddTask(task)
	m.Enqueue("k", "t1")

	if !m.CancelPending("t1", time.Now()) {
		t.Fatalf("CancelPending() returned false")
	}

	snap, ok := m.GetTask("t1")
	if !ok || snap.Status != StatusCanceled {
		t.Fatalf("expected task to be Canceled, got %+v", snap)
	}
	if _, ok := m.Dequeue("k"); ok {
		t.Fatalf("expected cancelled task to have been removed from its queue")
	}
	if got := m.PendingCount("parent"); got != 0 {
		t.Fatalf("PendingCount() = %d, want 0 after cancel", got)
	}

	// Cancelling a non-Pending task is rejected.
	task2 := &BackgroundTask{ID: "t2", ParentSessionID: "parent", Status: StatusRunning}
	m.AddTask(task2)
	if m.CancelPending("t2", time.Now()) {
		t.Fatalf("expected CancelPending() on a Running task to fail")
	}
}

func TestTaskStateManagerTimerIdempotentClear(t *testing.T) {
	m := NewTaskStateManager()
	fired := make(chan struct{}, 1)
	m.SetTimer("t1", time.Hour, func() { fired <- struct{}{} })

	m.ClearTimer("t1")
	m.ClearTimer("t1") // must not panic

	select {
	case <-fired:
		t.Fatalf("timer fired after being cleared")
	default:
	}
}

func TestTaskStateManagerRunningTasksFilteredByKey(t *testing.T) {
	m := NewTaskStateManager()
	m.AddTask(&BackgroundTask{ID: "a", ParentSessionID: "p", ConcurrencyKey: "x", Status: StatusRunning})
	m.AddTask(&BackgroundTask{ID: "b", ParentSessionID: "p", ConcurrencyKey: "y", Status: StatusRunning})
	m.AddTask(&BackgroundTask{ID: "c", ParentSessionID: "p", ConcurrencyKey: "x", Status: StatusPending})

	running := m.RunningTasks("x")
	if len(running) != 1 || running[0].ID != "a" {
		t.Fatalf("RunningTasks(x) = %+v, want only task a", running)
	}
	if !m.HasRunning("x") {
		t.Fatalf("HasRunning(x) = false, want true")
	}
	if m.HasRunning("z") {
		t.Fatalf("HasRunning(z) = true, want false")
	}
}
