package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/relaycore/internal/backend"
	"github.com/relaycore/relaycore/internal/observability"
	"github.com/relaycore/relaycore/internal/recovery"
)

// DefaultCleanupDelay is how long a terminal task's record lingers after its
// "all complete" notification fires, giving a slow parent time to drain
// Notifications before the record disappears.
const DefaultCleanupDelay = 60 * time.Second

// DefaultTmuxCallbackDelay gives an attached tmux observer a moment to see
// the "subagent session created" event before the child starts producing
// output.
const DefaultTmuxCallbackDelay = 200 * time.Millisecond

// ModelRef names a provider+model(+variant) triple. An empty ModelRef means
// the task runs under its agent's default model.
type ModelRef struct {
	Provider string
	Model    string
	Variant  string
}

func (m ModelRef) isSet() bool { return m.Provider != "" && m.Model != "" }

func (m ModelRef) wireModel() string {
	if m.Variant != "" {
		return fmt.Sprintf("%s/%s/%s", m.Provider, m.Model, m.Variant)
	}
	return fmt.Sprintf("%s/%s", m.Provider, m.Model)
}

// LaunchInput describes a new delegated sub-agent task.
type LaunchInput struct {
	ParentSessionID string
	ParentMessageID string
	Description     string
	Prompt          string
	Agent           string
	Model           ModelRef
	Category        string
	SkillContent    string
}

// ResumeInput resumes a task that already has a child session but needs its
// prompt re-submitted (e.g. after the owning process restarted).
type ResumeInput struct {
	TaskID string
	Prompt string
}

// Scheduler launches, resumes, cancels, and tracks BackgroundTasks, and
// composes the parent-facing notifications that report on completion.
//
// It never takes a concurrency permit itself on Launch; the dispatch loop
// holds a task Pending until ConcurrencyManager.Acquire returns, keeping the
// Scheduler's own logic free of contention bookkeeping (SPEC_FULL.md
// §4.D).
type Scheduler struct {
	client       backend.Client
	concurrency  *ConcurrencyManager
	state        *TaskStateManager
	recovery     *recovery.Controller
	logger       *observability.Logger
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	cleanupDelay time.Duration
	tmuxDelay    time.Duration
	defaultDir   string
	tmuxEnabled  func() bool

	newID func() string

	notifMu       sync.Mutex
	notifications map[string][]string

	pendingCompactMu sync.Mutex
	pendingCompact   map[string]struct{}
}

// SchedulerOption configures optional Scheduler behavior.
type SchedulerOption func(*Scheduler)

// WithCleanupDelay overrides DefaultCleanupDelay.
func WithCleanupDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.cleanupDelay = d }
}

// WithDefaultDirectory sets the working directory used when a parent
// session's own directory cannot be resolved.
func WithDefaultDirectory(dir string) SchedulerOption {
	return func(s *Scheduler) { s.defaultDir = dir }
}

// WithTmuxEnabled installs a predicate deciding whether the tmux attach
// delay applies (the originating runtime gates this on `$TMUX` being set).
func WithTmuxEnabled(fn func() bool) SchedulerOption {
	return func(s *Scheduler) { s.tmuxEnabled = fn }
}

// WithRecoveryController wires the RecoveryController the scheduler invokes
// from OnSessionError and OnSessionIdle. Without this option the two
// handlers still track pending-compact state but never call into recovery.
func WithRecoveryController(rc *recovery.Controller) SchedulerOption {
	return func(s *Scheduler) { s.recovery = rc }
}

// WithTracer wires a Tracer that spans each BackgroundTask from launch
// protocol through terminal completion, and each individual tool call.
// Without this option the scheduler runs untraced.
func WithTracer(tracer *observability.Tracer) SchedulerOption {
	return func(s *Scheduler) { s.tracer = tracer }
}

// NewScheduler wires a Scheduler against its collaborators.
func NewScheduler(client backend.Client, concurrency *ConcurrencyManager, state *TaskStateManager, logger *observability.Logger, metrics *observability.Metrics, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		client:        client,
		concurrency:   concurrency,
		state:         state,
		logger:        logger,
		metrics:       metrics,
		cleanupDelay:  DefaultCleanupDelay,
		tmuxDelay:     DefaultTmuxCallbackDelay,
		tmuxEnabled:   func() bool { return false },
		newID:          func() string { return "bg_" + uuid.NewString()[:8] },
		notifications:  make(map[string][]string),
		pendingCompact: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func concurrencyKey(input LaunchInput) string {
	if input.Model.isSet() {
		return input.Model.wireModel()
	}
	return input.Agent
}

// Launch creates a Pending task, enqueues it under its concurrency key, and
// kicks off dispatch. It returns the task id immediately; the task reaches
// Running asynchronously once a permit is available.
//
// The dequeued task id and the dispatched input must always refer to the
// same task: dispatch looks up everything it needs from the task record
// itself (never from a closure captured at Launch time), because under
// concurrent launches on the same key the goroutine that wins the race to
// dequeue is not guaranteed to be the one Launch spawned for that task.
func (s *Scheduler) Launch(ctx context.Context, input LaunchInput) (string, error) {
	key := concurrencyKey(input)
	wireModel := ""
	if input.Model.isSet() {
		wireModel = input.Model.wireModel()
	}
	task := &BackgroundTask{
		ID:              s.newID(),
		ParentSessionID: input.ParentSessionID,
		ConcurrencyKey:  key,
		Description:     input.Description,
		Prompt:          input.Prompt,
		Agent:           input.Agent,
		Model:           wireModel,
		Category:        input.Category,
		SkillContent:    input.SkillContent,
		Status:          StatusPending,
		CreatedAt:       time.Now(),
	}
	s.state.AddTask(task)
	s.state.Enqueue(key, task.ID)

	if s.metrics != nil {
		s.metrics.TaskLaunched(key)
	}
	observability.EmitTaskLaunched(&observability.TaskLaunchedEvent{
		TaskID:         task.ID,
		ParentSession:  input.ParentSessionID,
		ConcurrencyKey: key,
		Resumed:        false,
	})

	go s.dispatch(context.Background(), key)
	return task.ID, nil
}

// Resume re-acquires a permit for an existing task and re-submits its
// prompt to its already-created child session. It refuses a task that is
// currently Running.
func (s *Scheduler) Resume(ctx context.Context, input ResumeInput) (string, error) {
	task, ok := s.state.GetTask(input.TaskID)
	if !ok {
		return "", fmt.Errorf("resume: unknown task %q", input.TaskID)
	}
	if task.Status == StatusRunning {
		return "", fmt.Errorf("resume: task %q is already running", input.TaskID)
	}

	observability.EmitTaskLaunched(&observability.TaskLaunchedEvent{
		TaskID:         task.ID,
		ParentSession:  task.ParentSessionID,
		ConcurrencyKey: task.ConcurrencyKey,
		Resumed:        true,
	})

	if err := s.concurrency.Acquire(ctx, task.ConcurrencyKey); err != nil {
		return "", fmt.Errorf("resume: acquire permit: %w", err)
	}
	s.state.MarkRunning(task.ID, task.ChildSessionID, task.ConcurrencyKey, task.ConcurrencyGroup, time.Now())

	ok2, err := s.client.SessionPrompt(ctx, task.ChildSessionID, backend.PromptRequest{
		Agent:   "",
		NoReply: false,
		Parts:   []backend.MessagePart{{PartType: "text", Text: input.Prompt}},
	})
	if err != nil || !ok2 {
		s.concurrency.Release(task.ConcurrencyKey)
		s.completeTask(task.ID, StatusError, errString(err, "resume prompt refused"), "")
		return task.ID, fmt.Errorf("resume: prompt failed: %w", err)
	}
	return task.ID, nil
}

// dispatch waits for a permit and then runs the launch protocol for
// whichever task is at the front of key's queue. It is spawned once per
// Launch call, but does not assume it is the one that dequeues its own
// task: FIFO ordering across waiters on the same key is provided by
// TaskStateManager's queue plus ConcurrencyManager's semaphore, not by
// goroutine identity.
func (s *Scheduler) dispatch(ctx context.Context, key string) {
	taskID, ok := s.state.Dequeue(key)
	if !ok {
		return
	}

	if err := s.concurrency.Acquire(ctx, key); err != nil {
		s.completeTask(taskID, StatusError, "concurrency acquire canceled: "+err.Error(), "")
		return
	}

	if err := s.runLaunchProtocol(ctx, taskID); err != nil {
		s.concurrency.Release(key)
		s.completeTask(taskID, StatusError, err.Error(), "")
	}
}

func (s *Scheduler) runLaunchProtocol(ctx context.Context, taskID string) error {
	task, ok := s.state.GetTask(taskID)
	if !ok {
		return fmt.Errorf("launch protocol: task %q vanished before dispatch", taskID)
	}

	directory := s.defaultDir
	if info, err := s.client.SessionGet(ctx, task.ParentSessionID); err == nil && info != nil && info.Directory != "" {
		directory = info.Directory
	}

	child, err := s.client.SessionCreate(ctx, task.ParentSessionID, task.Description, directory)
	if err != nil || child == nil {
		return fmt.Errorf("session create failed: %w", err)
	}

	if s.tmuxEnabled() {
		time.Sleep(s.tmuxDelay)
	}

	if s.tracer != nil {
		s.tracer.TraceBackgroundTask(taskID, task.ConcurrencyKey)
	}

	s.state.MarkRunning(taskID, child.ID, task.ConcurrencyKey, task.Category, time.Now())

	ok2, err := s.client.SessionPrompt(ctx, child.ID, backend.PromptRequest{
		Agent:   task.Agent,
		Model:   task.Model,
		NoReply: false,
		System:  task.SkillContent,
		Parts:   []backend.MessagePart{{PartType: "text", Text: task.Prompt}},
	})
	if err != nil || !ok2 {
		return fmt.Errorf("prompt submission failed: %w", err)
	}
	return nil
}

// Get returns a snapshot of a task.
func (s *Scheduler) Get(id string) (BackgroundTask, bool) {
	return s.state.GetTask(id)
}

// Notifications drains and returns the pending notification bodies for a
// parent session.
func (s *Scheduler) Notifications(parent string) []string {
	s.notifMu.Lock()
	defer s.notifMu.Unlock()
	out := s.notifications[parent]
	delete(s.notifications, parent)
	return out
}

func (s *Scheduler) pushNotification(parent, body string) {
	s.notifMu.Lock()
	defer s.notifMu.Unlock()
	s.notifications[parent] = append(s.notifications[parent], body)
}

// Cancel cancels a task. A Pending task is removed synchronously. A Running
// task is marked Cancelled best-effort: session_abort is fire-and-forget,
// its permit is released, and the completion/notification path runs as if
// the task had finished with status=Cancelled.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if s.state.CancelPending(id, time.Now()) {
		task, _ := s.state.GetTask(id)
		s.notifyCompletion(task)
		return nil
	}

	task, ok := s.state.GetTask(id)
	if !ok {
		return fmt.Errorf("cancel: unknown task %q", id)
	}
	if task.Status != StatusRunning {
		return fmt.Errorf("cancel: task %q is not running or pending", id)
	}

	if !s.state.TryCompleteTask(id, StatusCanceled, time.Now(), "", "") {
		return nil // a real completion raced us; idempotent no-op.
	}
	if task.ChildSessionID != "" {
		_ = s.client.SessionAbort(ctx, task.ChildSessionID)
	}
	s.concurrency.Release(task.ConcurrencyKey)
	s.state.ResolvePending(task.ParentSessionID, id)

	updated, _ := s.state.GetTask(id)
	s.notifyCompletion(updated)
	return nil
}

// CompleteRunning is the entry point for an external completion signal
// (e.g. the backend reporting the child session went idle with a final
// answer). It is idempotent: a second call on a non-Running task returns
// false without side effects.
func (s *Scheduler) CompleteRunning(ctx context.Context, id string, status Status, errMsg, result string) bool {
	if status == StatusPending || status == StatusRunning {
		status = StatusCompleted
	}
	if !s.state.TryCompleteTask(id, status, time.Now(), errMsg, result) {
		return false
	}
	s.completeTask(id, status, errMsg, result)
	return true
}

// BackgroundOutput retrieves a completed task's stored result, the
// equivalent of the parent-facing background_output(task_id=...) tool. ok
// is false if the task is unknown or has not yet reached a terminal
// status.
func (s *Scheduler) BackgroundOutput(id string) (result string, ok bool) {
	task, found := s.state.GetTask(id)
	if !found || !task.Status.Terminal() {
		return "", false
	}
	return task.Result, true
}

// completeTask runs the shared post-completion path for a task that has
// already had its terminal status recorded (or never reached Running, in
// which case a synthetic completion is installed here).
func (s *Scheduler) completeTask(id string, status Status, errMsg, result string) {
	task, ok := s.state.GetTask(id)
	if !ok {
		s.state.TryCompleteTask(id, status, time.Now(), errMsg, result)
		task, ok = s.state.GetTask(id)
		if !ok {
			return
		}
	}
	if task.ConcurrencyKey != "" && task.Status != StatusPending {
		s.concurrency.Release(task.ConcurrencyKey)
	}
	s.state.ResolvePending(task.ParentSessionID, id)

	if task.ChildSessionID != "" {
		_ = s.client.SessionAbort(context.Background(), task.ChildSessionID)
	}

	if s.metrics != nil {
		s.metrics.TaskCompleted(task.ConcurrencyKey, string(status))
	}
	if s.tracer != nil {
		s.tracer.EndBackgroundTask(task.ID, string(status))
	}
	observability.EmitTaskCompleted(&observability.TaskCompletedEvent{
		TaskID: task.ID,
		Status: string(status),
	})

	s.notifyCompletion(task)
}

// notifyCompletion composes and queues the parent-facing notification body
// for a terminal task, and schedules the delayed cleanup when every
// sibling has resolved.
func (s *Scheduler) notifyCompletion(task BackgroundTask) {
	siblings := s.state.TasksForParent(task.ParentSessionID)
	pendingCount := s.state.PendingCount(task.ParentSessionID)
	allComplete := pendingCount == 0

	var body string
	if allComplete {
		body = renderAllCompleteBody(siblings)
	} else {
		body = renderSingleTaskBody(task, pendingCount)
	}
	s.pushNotification(task.ParentSessionID, body)

	if err := s.deliverNotification(task.ParentSessionID, body, !allComplete); err != nil && s.logger != nil {
		s.logger.Warn(context.Background(), "background task notification delivery failed", "parent", task.ParentSessionID, "error", err)
	}

	if allComplete {
		taskID := task.ID
		s.state.SetTimer(taskID, s.cleanupDelay, func() {
			s.state.RemoveTask(taskID)
		})
	}
}

func (s *Scheduler) deliverNotification(parent, body string, noReply bool) error {
	if parent == "" {
		return fmt.Errorf("parent missing for notification")
	}
	_, err := s.client.SessionPrompt(context.Background(), parent, backend.PromptRequest{
		NoReply: noReply,
		Parts:   []backend.MessagePart{{PartType: "text", Text: body}},
	})
	return err
}

// OnSessionError routes a session error through the recovery pipeline.
// rawErr is parsed to decide whether it is a recognized token-limit or
// empty-content shape; if so, sessionID is flagged pending-compact and the
// RecoveryController is invoked directly (SPEC_FULL.md §4.D: "route err
// through ErrorParser; if it matches, forward to RecoveryController").
func (s *Scheduler) OnSessionError(ctx context.Context, sessionID string, rawErr any) {
	if s.recovery == nil {
		return
	}
	if recovery.Parse(rawErr).Kind == recovery.ErrorKindNone {
		return
	}
	s.setPendingCompact(sessionID)
	outcome, err := s.recovery.Recover(ctx, sessionID, "", "", rawErr)
	if outcome == recovery.OutcomeRecovered {
		s.clearPendingCompact(sessionID)
	}
	if err != nil && s.logger != nil {
		s.logger.Warn(ctx, "session error recovery failed", "session", sessionID, "error", err)
	}
}

// OnSessionIdle handles a parent-session-idle event. If sessionID was left
// pending-compact by a prior OnSessionError and the session's last message
// is not already a recovery summary, it re-invokes the RecoveryController
// (SPEC_FULL.md §4.D: "if pending_compact[sid] is set and the last
// assistant message is not a summary, invoke RecoveryController").
func (s *Scheduler) OnSessionIdle(ctx context.Context, sessionID string) {
	if s.recovery == nil || !s.isPendingCompact(sessionID) {
		return
	}

	messages, err := s.client.SessionMessages(ctx, sessionID)
	if err != nil {
		return
	}
	if len(messages) > 0 && messages[len(messages)-1].Role == "system" {
		s.clearPendingCompact(sessionID)
		return
	}

	lastErr := lastMessageContent(messages)
	outcome, err := s.recovery.Recover(ctx, sessionID, "", "", lastErr)
	if outcome == recovery.OutcomeRecovered || outcome == recovery.OutcomeExhausted {
		s.clearPendingCompact(sessionID)
	}
	if err != nil && s.logger != nil {
		s.logger.Warn(ctx, "idle recovery retry failed", "session", sessionID, "error", err)
	}
}

// OnSessionDeleted drops any pending-compact bookkeeping tied to a deleted
// session. Tasks whose child session was deleted out from under them are
// left for the next completion signal to resolve; TaskStateManager indexes
// by task id, not session id, so there is nothing more to clean up there.
func (s *Scheduler) OnSessionDeleted(sessionID string) {
	s.clearPendingCompact(sessionID)
}

// OnMessageUpdated records that sessionID (a background task's child
// session) produced a new or changed message, updating that task's
// LastMessage/LastUpdateTime progress attributes.
func (s *Scheduler) OnMessageUpdated(sessionID string, message backend.Message) {
	s.state.RecordMessageUpdate(sessionID, message.Content, time.Now())
}

// OnToolCompleted records that sessionID's child session finished a tool
// call, updating that task's ToolCallCount/LastTool/LastUpdateTime progress
// attributes. callID is accepted to match the spec's event signature but is
// not currently tracked per-call.
func (s *Scheduler) OnToolCompleted(sessionID, tool, callID string) {
	s.state.RecordToolCompletion(sessionID, tool, time.Now())
	if s.tracer != nil {
		_, span := s.tracer.TraceToolExecution(context.Background(), tool)
		span.End()
	}
}

func (s *Scheduler) setPendingCompact(sessionID string) {
	s.pendingCompactMu.Lock()
	defer s.pendingCompactMu.Unlock()
	s.pendingCompact[sessionID] = struct{}{}
}

func (s *Scheduler) clearPendingCompact(sessionID string) {
	s.pendingCompactMu.Lock()
	defer s.pendingCompactMu.Unlock()
	delete(s.pendingCompact, sessionID)
}

func (s *Scheduler) isPendingCompact(sessionID string) bool {
	s.pendingCompactMu.Lock()
	defer s.pendingCompactMu.Unlock()
	_, ok := s.pendingCompact[sessionID]
	return ok
}

// lastMessageContent returns the content of the last message in messages,
// or an empty string if there are none. OnSessionIdle re-parses this text
// through the same ErrorParser path OnSessionError uses, since the idle
// retrigger has no fresh raw error of its own to route.
func lastMessageContent(messages []backend.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}

func errString(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
