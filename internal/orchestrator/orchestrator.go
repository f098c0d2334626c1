// Package orchestrator drives one document-production session end to
// end: dependency-ordered tasks, two-party consultations, drafting with
// a length-conformance pass, the bounded quality-review loop,
// cooperative pause/resume with operator interventions, and the final
// cross-section consistency pass.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/scriptorium-ai/scriptorium/internal/charts"
	"github.com/scriptorium-ai/scriptorium/internal/consult"
	"github.com/scriptorium-ai/scriptorium/internal/events"
	"github.com/scriptorium-ai/scriptorium/internal/generate"
	"github.com/scriptorium-ai/scriptorium/internal/inbox"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/prompt"
	"github.com/scriptorium-ai/scriptorium/internal/review"
	"github.com/scriptorium-ai/scriptorium/internal/roster"
	"github.com/scriptorium-ai/scriptorium/internal/sourcedata"
	"github.com/scriptorium-ai/scriptorium/internal/store"
	"github.com/scriptorium-ai/scriptorium/internal/transcript"
	"github.com/scriptorium-ai/scriptorium/internal/workflow"
)

// LogLevel controls logging verbosity.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// operatorID is the transcript identity for humans intervening in a
// session.
const operatorID = "operator"

// Deps are the collaborators injected at construction. Generation, the
// store and the snapshot provider are interfaces so tests run against
// scripted doubles.
type Deps struct {
	Config   model.Config
	Workflow *workflow.Definition
	Roster   *roster.Roster
	Generate generate.Service
	Store    store.Store
	Source   sourcedata.Provider
	Prompts  *prompt.Builder

	// Charts defaults to the snapshot-backed backend when nil.
	Charts charts.Backend
	// Bus, Inbox and Logger are optional.
	Bus    *events.Bus
	Inbox  *inbox.Watcher
	Logger *log.Logger

	// SessionID resumes a stored session instead of creating one.
	SessionID string
}

// Orchestrator runs one session. Strictly sequential: tasks,
// consultations and reviews execute in declared order, nothing fans
// out. Pause, Resume, Status and AskWorker are safe to call from the
// control server while Run is in flight.
type Orchestrator struct {
	cfg      model.Config
	def      *workflow.Definition
	reg      *roster.Roster
	svc      generate.Service
	st       store.Store
	source   sourcedata.Provider
	backend  charts.Backend
	prompts  *prompt.Builder
	engine   *consult.Engine
	reviewer *review.Reviewer
	bus      *events.Bus
	inbox    *inbox.Watcher
	resumeID string

	logger   *log.Logger
	logLevel LogLevel

	gate *Gate

	mu      sync.Mutex
	sess    *model.Session
	snap    model.Snapshot
	records map[string]*model.TaskRecord
}

func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Workflow == nil:
		return nil, errors.New("orchestrator: workflow definition is required")
	case deps.Roster == nil:
		return nil, errors.New("orchestrator: roster is required")
	case deps.Generate == nil:
		return nil, errors.New("orchestrator: generation service is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.Source == nil:
		return nil, errors.New("orchestrator: snapshot provider is required")
	case deps.Prompts == nil:
		return nil, errors.New("orchestrator: prompt builder is required")
	}

	cfg := deps.Config
	cfg.Defaults()

	backend := deps.Charts
	if backend == nil {
		backend = charts.NewSnapshotBackend()
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}

	engine, err := consult.NewEngine(deps.Generate, deps.Prompts, deps.Roster, backend, deps.Store)
	if err != nil {
		return nil, fmt.Errorf("build consultation engine: %w", err)
	}

	persona, ok := deps.Roster.Reviewer()
	if !ok {
		return nil, errors.New("orchestrator: roster declares no reviewer")
	}
	reviewer, err := review.New(deps.Generate, deps.Prompts, persona)
	if err != nil {
		return nil, fmt.Errorf("build reviewer: %w", err)
	}

	return &Orchestrator{
		cfg:      cfg,
		def:      deps.Workflow,
		reg:      deps.Roster,
		svc:      deps.Generate,
		st:       deps.Store,
		source:   deps.Source,
		backend:  backend,
		prompts:  deps.Prompts,
		engine:   engine,
		reviewer: reviewer,
		bus:      deps.Bus,
		inbox:    deps.Inbox,
		resumeID: deps.SessionID,
		logger:   logger,
		logLevel: parseLogLevel(cfg.Logging.Level),
		gate:     newGate(),
		records:  make(map[string]*model.TaskRecord),
	}, nil
}

// Run executes the session to a terminal status. Only context
// initialization failure comes back as an error; every other failure is
// absorbed into task states and transcript warnings. Cancelling the
// context parks the session as PAUSED in the store so a later run can
// resume it.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.openSession(); err != nil {
		return err
	}
	if o.currentStatus() != model.SessionRunning {
		o.setStatus(model.SessionRunning)
	}

	if err := o.initContext(); err != nil {
		return err
	}

	if o.doneCount() == 0 {
		o.announce()
		o.openingAudit(ctx)
	} else {
		o.say(o.reg.Coordinator.ID, transcript.Broadcast,
			fmt.Sprintf("Session resumed with %d of %d sections done.", o.doneCount(), len(o.def.Tasks)),
			transcript.KindSystem)
	}

	for _, task := range o.def.Tasks {
		if o.taskDone(task.ID) {
			continue
		}
		if err := o.checkpoint(ctx); err != nil {
			return err
		}
		rec := o.runTask(ctx, task)
		o.finishTask(task.ID, rec)
	}

	o.finalPhase(ctx)
	return nil
}

// openSession loads the session named by SessionID, or creates a fresh
// one.
func (o *Orchestrator) openSession() error {
	if o.resumeID != "" {
		sess, err := o.st.LoadSession(o.resumeID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", o.resumeID, err)
		}
		if model.IsSessionTerminal(sess.Status) {
			return fmt.Errorf("session %s already finished with status %q", sess.SessionID, sess.Status)
		}
		recs, err := o.st.LoadTaskRecords(sess.SessionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load task records: %w", err)
		}
		o.mu.Lock()
		o.sess = sess
		for _, rec := range recs {
			o.records[rec.TaskID] = rec
		}
		o.mu.Unlock()
		o.log(LogLevelInfo, "session_reopened id=%s status=%s done=%d",
			sess.SessionID, sess.Status, len(sess.CompletedIDs))
		return nil
	}

	id, err := model.GenerateID(model.IDTypeSession)
	if err != nil {
		return fmt.Errorf("generate session id: %w", err)
	}
	sess := &model.Session{
		SchemaVersion: model.SchemaVersion,
		FileType:      model.FileTypeSession,
		SessionID:     id,
		WorkflowName:  o.def.Name,
		Status:        model.SessionIdle,
		Phase:         model.PhaseInit,
		TaskOrder:     o.def.TaskIDs(),
		CreatedAt:     time.Now().UTC(),
	}
	o.mu.Lock()
	o.sess = sess
	o.mu.Unlock()
	o.persistSession()
	o.log(LogLevelInfo, "session_created id=%s workflow=%s tasks=%d", id, o.def.Name, len(o.def.Tasks))
	return nil
}

// initContext builds the immutable context snapshot. This is the one
// fatal step: without the snapshot no task can be drafted or reviewed.
func (o *Orchestrator) initContext() error {
	id := o.sessionID()

	if o.resumeID != "" {
		if snap, err := o.st.LoadSnapshot(id); err == nil {
			o.mu.Lock()
			o.snap = *snap
			o.mu.Unlock()
			o.log(LogLevelInfo, "context_reloaded units=%d", snap.TotalUnits)
			return nil
		}
	}

	snap, err := o.source.Snapshot(id)
	if err != nil {
		o.say(o.reg.Coordinator.ID, transcript.Broadcast,
			fmt.Sprintf("Session setup failed: %v", err), transcript.KindError)
		o.mu.Lock()
		o.sess.LastError = err.Error()
		o.mu.Unlock()
		o.setStatus(model.SessionError)
		o.log(LogLevelError, "context_init_failed err=%v", err)
		return fmt.Errorf("initialize session context: %w", err)
	}

	o.mu.Lock()
	o.snap = snap
	o.mu.Unlock()
	if err := o.st.SaveSnapshot(&snap); err != nil {
		o.log(LogLevelWarn, "snapshot_persist_failed err=%v", err)
	}
	o.log(LogLevelInfo, "context_initialized units=%d complaints=%d completeness=%d",
		snap.TotalUnits, snap.ComplaintCount, snap.Constraints.CompletenessScore)
	return nil
}

// announce opens the transcript with the roster grouped by category.
func (o *Orchestrator) announce() {
	var groups []prompt.Group
	byCategory := make(map[string]int)
	for _, w := range o.reg.Workers {
		category := w.Category
		if category == "" {
			category = "team"
		}
		i, ok := byCategory[category]
		if !ok {
			i = len(groups)
			byCategory[category] = i
			groups = append(groups, prompt.Group{Category: category})
		}
		groups[i].Members = append(groups[i].Members, w.Name)
	}

	title := o.def.Title
	if title == "" {
		title = o.def.Name
	}
	text, err := o.prompts.Announcement(prompt.AnnouncementData{
		WorkflowTitle: title,
		TaskCount:     len(o.def.Tasks),
		Groups:        groups,
	})
	if err != nil {
		text = fmt.Sprintf("Session start: %s, %d tasks.", title, len(o.def.Tasks))
	}
	o.say(o.reg.Coordinator.ID, transcript.Broadcast, text, transcript.KindSystem)
	o.log(LogLevelInfo, "session_announced workers=%d tasks=%d", len(o.reg.Workers), len(o.def.Tasks))
}

// openingAudit runs one auditor consultation before the first task. The
// auditor responder degrades to a deterministic report on its own, so
// this only skips when no auditor is rostered or the audit is disabled.
func (o *Orchestrator) openingAudit(ctx context.Context) {
	if !o.cfg.Session.OpeningAudit {
		return
	}
	auditors := o.reg.ByKind(roster.KindAuditor)
	if len(auditors) == 0 {
		o.log(LogLevelDebug, "opening_audit_skipped no auditor in roster")
		return
	}
	o.setPhase(model.PhaseAudit)

	spec := workflow.Consultation{
		Requester:   o.reg.Coordinator.ID,
		Responder:   auditors[0],
		Instruction: "Audit the session dataset for completeness and call out any gaps before drafting begins.",
	}
	task := workflow.Task{ID: "opening_audit", Title: "Opening data quality audit"}
	if _, ok := o.engine.Run(ctx, o.sessionID(), task, spec, o.snapshot()); !ok {
		o.log(LogLevelWarn, "opening_audit_failed responder=%s", auditors[0])
	}
}

// finalPhase materializes the chart set, runs the cross-section
// consistency review, persists the snapshot with its chart ids and
// closes the session.
func (o *Orchestrator) finalPhase(ctx context.Context) {
	o.setPhase(model.PhaseFinalReview)

	chartIDs := o.materializeCharts()
	o.consistencyReview(ctx)

	o.mu.Lock()
	snap := o.snap.WithCharts(chartIDs)
	o.snap = snap
	approved := len(o.sess.CompletedIDs)
	errored := len(o.sess.ErroredIDs)
	o.mu.Unlock()

	if err := o.st.SaveSnapshot(&snap); err != nil {
		o.log(LogLevelWarn, "snapshot_persist_failed err=%v", err)
	}

	o.say(o.reg.Coordinator.ID, transcript.Broadcast,
		fmt.Sprintf("Session complete: %d of %d sections approved.", approved, len(o.def.Tasks)),
		transcript.KindSuccess)

	o.setPhase(model.PhaseComplete)
	o.setStatus(model.SessionComplete)
	o.log(LogLevelInfo, "session_complete id=%s approved=%d errored=%d", o.sessionID(), approved, errored)
}

// materializeCharts builds every chart declared by an approved task
// that was not already produced during a consultation, and returns the
// full chart id list in declared order.
func (o *Orchestrator) materializeCharts() []string {
	id := o.sessionID()
	existing := make(map[string]bool)
	if specs, err := o.st.ListChartSpecs(id); err == nil {
		for _, spec := range specs {
			existing[spec.ChartID] = true
		}
	} else {
		o.log(LogLevelWarn, "chart_list_failed err=%v", err)
	}

	snap := o.snapshot()
	seen := make(map[string]bool)
	var produced []string
	for _, task := range o.def.Tasks {
		if !o.taskApproved(task.ID) {
			continue
		}
		for _, chartID := range task.Charts {
			if seen[chartID] {
				continue
			}
			seen[chartID] = true
			if !existing[chartID] {
				spec, err := o.backend.Build(&snap, chartID)
				if err != nil {
					o.say(o.reg.Coordinator.ID, transcript.Broadcast,
						fmt.Sprintf("Could not produce %s: %v.", chartID, err), transcript.KindWarning)
					o.log(LogLevelWarn, "chart_failed id=%s err=%v", chartID, err)
					continue
				}
				if err := o.st.SaveChartSpec(id, spec); err != nil {
					o.log(LogLevelWarn, "chart_persist_failed id=%s err=%v", chartID, err)
					continue
				}
				o.log(LogLevelInfo, "chart_materialized id=%s", chartID)
			}
			produced = append(produced, chartID)
		}
	}
	return produced
}

// consistencyReview submits fixed-size excerpts of every approved
// section to the reviewer in one call. A failing verdict is a warning,
// never a blocker.
func (o *Orchestrator) consistencyReview(ctx context.Context) {
	limit := o.cfg.Session.ExcerptChars
	var excerpts []prompt.Excerpt
	o.mu.Lock()
	for _, task := range o.def.Tasks {
		if !o.sess.Completed(task.ID) {
			continue
		}
		rec, ok := o.records[task.ID]
		if !ok || rec.Content == "" {
			continue
		}
		excerpts = append(excerpts, prompt.Excerpt{Title: task.Title, Text: excerpt(rec.Content, limit)})
	}
	o.mu.Unlock()

	if len(excerpts) == 0 {
		o.log(LogLevelInfo, "consistency_skipped no approved sections")
		return
	}

	res, err := o.reviewer.Consistency(ctx, excerpts, o.snapshot().Constraints)
	if err != nil {
		o.log(LogLevelError, "consistency_review_failed err=%v", err)
		return
	}
	persona := o.reviewer.Persona()
	if res.Passed() {
		o.say(persona.ID, transcript.Broadcast, res.Feedback, transcript.KindSuccess)
	} else {
		o.say(persona.ID, transcript.Broadcast, res.Feedback, transcript.KindWarning)
	}
	o.log(LogLevelInfo, "consistency_verdict verdict=%s sections=%d", res.Verdict, len(excerpts))
}

// Status is the control-surface view of a session.
type Status struct {
	SessionID      string              `json:"session_id"`
	WorkflowName   string              `json:"workflow_name"`
	Status         model.SessionStatus `json:"status"`
	Phase          string              `json:"phase"`
	CurrentTaskID  string              `json:"current_task_id,omitempty"`
	CurrentWorker  string              `json:"current_worker,omitempty"`
	TasksCompleted int                 `json:"tasks_completed"`
	TasksErrored   int                 `json:"tasks_errored"`
	TotalTasks     int                 `json:"total_tasks"`
	Paused         bool                `json:"paused"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		TotalTasks: len(o.def.Tasks),
		Paused:     o.gate.Paused(),
	}
	if o.sess == nil {
		st.Status = model.SessionIdle
		return st
	}
	st.SessionID = o.sess.SessionID
	st.WorkflowName = o.sess.WorkflowName
	st.Status = o.sess.Status
	st.Phase = o.sess.Phase
	st.CurrentTaskID = o.sess.CurrentTaskID
	st.TasksCompleted = len(o.sess.CompletedIDs)
	st.TasksErrored = len(o.sess.ErroredIDs)
	if st.CurrentTaskID != "" {
		if task, ok := o.def.Task(st.CurrentTaskID); ok {
			st.CurrentWorker = task.AuthorID
		}
	}
	return st
}

func (o *Orchestrator) setStatus(to model.SessionStatus) {
	o.mu.Lock()
	from := o.sess.Status
	if err := model.ValidateSessionTransition(from, to); err != nil {
		o.mu.Unlock()
		o.log(LogLevelError, "session_transition_rejected err=%v", err)
		return
	}
	o.sess.Status = to
	id := o.sess.SessionID
	phase := o.sess.Phase
	o.mu.Unlock()

	o.persistSession()
	o.publish(events.EventSessionStatus, map[string]interface{}{
		"session_id": id,
		"status":     string(to),
		"phase":      phase,
	})
	o.log(LogLevelInfo, "session_status id=%s status=%s", id, to)
}

func (o *Orchestrator) setPhase(phase string) {
	o.mu.Lock()
	o.sess.Phase = phase
	o.mu.Unlock()
	o.persistSession()
}

func (o *Orchestrator) finishTask(taskID string, rec *model.TaskRecord) {
	o.mu.Lock()
	if rec.State == model.TaskApproved {
		o.sess.CompletedIDs = append(o.sess.CompletedIDs, taskID)
	} else {
		o.sess.ErroredIDs = append(o.sess.ErroredIDs, taskID)
	}
	o.sess.CurrentTaskID = ""
	o.mu.Unlock()
	o.persistSession()
}

func (o *Orchestrator) persistSession() {
	o.mu.Lock()
	sess := *o.sess
	o.mu.Unlock()
	if err := o.st.UpdateSession(&sess); err != nil {
		o.log(LogLevelWarn, "session_persist_failed err=%v", err)
	}
}

func (o *Orchestrator) persistRecord(rec *model.TaskRecord) {
	if err := o.st.UpsertTaskRecord(rec); err != nil {
		o.log(LogLevelWarn, "task_persist_failed id=%s err=%v", rec.TaskID, err)
	}
}

// say appends a transcript entry. Transcript failures are logged, never
// propagated; the session keeps moving.
func (o *Orchestrator) say(from, to, text string, kind transcript.Kind) {
	if _, err := o.st.AppendMessage(o.sessionID(), from, to, text, kind); err != nil {
		o.log(LogLevelDebug, "transcript_append_failed err=%v", err)
	}
}

func (o *Orchestrator) publish(eventType events.EventType, data map[string]interface{}) {
	if o.bus != nil {
		o.bus.Publish(eventType, data)
	}
}

func (o *Orchestrator) sessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == nil {
		return ""
	}
	return o.sess.SessionID
}

func (o *Orchestrator) currentStatus() model.SessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == nil {
		return model.SessionIdle
	}
	return o.sess.Status
}

func (o *Orchestrator) snapshot() model.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

func (o *Orchestrator) taskDone(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.Completed(taskID) || o.sess.Errored(taskID)
}

func (o *Orchestrator) taskApproved(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.Completed(taskID)
}

func (o *Orchestrator) doneCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sess.CompletedIDs) + len(o.sess.ErroredIDs)
}

func (o *Orchestrator) log(level LogLevel, format string, args ...any) {
	if level < o.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	o.logger.Printf("%s %s orchestrator: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
