package orchestrator

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium-ai/scriptorium/internal/inbox"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/prompt"
	"github.com/scriptorium-ai/scriptorium/internal/roster"
	"github.com/scriptorium-ai/scriptorium/internal/sourcedata"
	"github.com/scriptorium-ai/scriptorium/internal/store"
	"github.com/scriptorium-ai/scriptorium/internal/transcript"
	"github.com/scriptorium-ai/scriptorium/internal/workflow"
)

// fakeService scripts generation per worker id. Queued answers pop in
// order until one remains, which then repeats for every further call.
type fakeService struct {
	mu       sync.Mutex
	fallback string
	answers  map[string][]string
	errs     map[string]error
	calls    map[string]int
	lastUser map[string]string
	onCall   func(workerID string)
}

func newFakeService() *fakeService {
	return &fakeService{
		fallback: "The dataset supports this section and every figure cited here follows the shared session constraints throughout.",
		answers:  make(map[string][]string),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
		lastUser: make(map[string]string),
	}
}

func (f *fakeService) queue(workerID string, answers ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[workerID] = append(f.answers[workerID], answers...)
}

func (f *fakeService) fail(workerID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[workerID] = err
}

func (f *fakeService) Generate(ctx context.Context, workerID, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	f.calls[workerID]++
	f.lastUser[workerID] = userPrompt
	hook := f.onCall
	err := f.errs[workerID]
	var answer string
	if err == nil {
		answer = f.fallback
		if queued := f.answers[workerID]; len(queued) > 0 {
			answer = queued[0]
			if len(queued) > 1 {
				f.answers[workerID] = queued[1:]
			}
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(workerID)
	}
	if err != nil {
		return "", err
	}
	return answer, nil
}

func (f *fakeService) callCount(workerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[workerID]
}

func (f *fakeService) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeService) userPrompt(workerID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUser[workerID]
}

func testRoster() *roster.Roster {
	return &roster.Roster{
		Name: "safety_panel",
		Coordinator: roster.Worker{
			ID: "chair", Name: "Maren Voss", Title: "Session Chair",
			Persona: "Runs the session and keeps the team on schedule.",
			Kind:    roster.KindGeneric, Category: "coordination",
		},
		ReviewerID: "w_rev",
		Workers: []roster.Worker{
			{ID: "w_alpha", Name: "Noor Ishida", Title: "Field Analyst",
				Persona: "Writes grounded overview sections.",
				Kind:    roster.KindGeneric, Category: "writers"},
			{ID: "w_beta", Name: "Tomas Reyes", Title: "Market Analyst",
				Persona: "Covers distribution and exposure.",
				Kind:    roster.KindGeneric, Category: "writers"},
			{ID: "w_gamma", Name: "Chidi Okafor", Title: "Data Analyst",
				Persona: "Answers quantitative questions from the session data.",
				Kind:    roster.KindGeneric, Category: "analysts"},
			{ID: "w_audit", Name: "Mateo Sandoval", Title: "Data Auditor",
				Persona: "Checks the dataset for gaps before drafting starts.",
				Kind:    roster.KindAuditor, Category: "analysts"},
			{ID: "w_rev", Name: "Abigail Stern", Title: "Quality Reviewer",
				Persona: "Reviews sections against the shared constraints.",
				Kind:    roster.KindGeneric, Category: "review"},
		},
	}
}

func testSnapshot() model.Snapshot {
	snap := model.Snapshot{
		SchemaVersion: model.SchemaVersion,
		FileType:      model.FileTypeSnapshot,
		Product: model.ProductInfo{
			Name: "VitaPort", ModelNumber: "VP-300", Manufacturer: "Stellar Devices",
		},
		Period:        model.ReportingPeriod{Start: "2023-01", End: "2025-06"},
		TotalUnits:    16380,
		UnitsByYear:   map[string]int{"2023": 5200, "2024": 7300, "2025": 3880},
		UnitsByRegion: map[string]int{"domestic": 11000, "export": 5380},
		ComplaintCount: 7,
		ComplaintsByCategory: map[string]int{
			"overheating": 4, "enclosure": 2, "battery": 1,
		},
		IncidentCount:     2,
		ActionCount:       5,
		ClosedActionCount: 4,
		SourceFileCount:   4,
	}
	snap.Constraints = snap.DeriveConstraints()
	return snap
}

func taskDef(tasks ...workflow.Task) *workflow.Definition {
	return &workflow.Definition{
		Name:  "safety_report",
		Title: "Product Safety Report",
		Tasks: tasks,
	}
}

type testEnv struct {
	orch *Orchestrator
	st   store.Store
	svc  *fakeService
}

func newTestEnv(t *testing.T, def *workflow.Definition, opts ...func(*Deps)) *testEnv {
	t.Helper()

	svc := newFakeService()
	st := store.NewFileStore(t.TempDir(), nil)
	t.Cleanup(func() { _ = st.Close() })

	prompts, err := prompt.NewBuilder("")
	require.NoError(t, err)

	deps := Deps{
		Workflow: def,
		Roster:   testRoster(),
		Generate: svc,
		Store:    st,
		Source:   sourcedata.Static{Snap: testSnapshot()},
		Prompts:  prompts,
		Logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	orch, err := New(deps)
	require.NoError(t, err)
	return &testEnv{orch: orch, st: st, svc: svc}
}

func (e *testEnv) session(t *testing.T) *model.Session {
	t.Helper()
	id := e.orch.Status().SessionID
	require.NotEmpty(t, id)
	sess, err := e.st.LoadSession(id)
	require.NoError(t, err)
	return sess
}

func (e *testEnv) record(t *testing.T, taskID string) *model.TaskRecord {
	t.Helper()
	recs, err := e.st.LoadTaskRecords(e.orch.Status().SessionID)
	require.NoError(t, err)
	for _, rec := range recs {
		if rec.TaskID == taskID {
			return rec
		}
	}
	t.Fatalf("no record for task %s", taskID)
	return nil
}

func (e *testEnv) entries(t *testing.T) []transcript.Entry {
	t.Helper()
	entries, err := transcript.ReadAll(e.st.TranscriptPath(e.orch.Status().SessionID))
	require.NoError(t, err)
	return entries
}

func hasEntry(entries []transcript.Entry, match func(transcript.Entry) bool) bool {
	for _, entry := range entries {
		if match(entry) {
			return true
		}
	}
	return false
}

func TestRun_AllTasksApproveFirstPass(t *testing.T) {
	def := taskDef(
		workflow.Task{ID: "t_overview", Title: "Overview", AuthorID: "w_alpha"},
		workflow.Task{ID: "t_market", Title: "Market Exposure", AuthorID: "w_beta"},
		workflow.Task{ID: "t_actions", Title: "Corrective Actions", AuthorID: "w_gamma"},
	)
	env := newTestEnv(t, def)
	env.svc.queue("w_rev", "PASS. Accurate and grounded.")

	require.NoError(t, env.orch.Run(context.Background()))

	sess := env.session(t)
	assert.Equal(t, model.SessionComplete, sess.Status)
	assert.Equal(t, model.PhaseComplete, sess.Phase)
	assert.Equal(t, []string{"t_overview", "t_market", "t_actions"}, sess.CompletedIDs)
	assert.Empty(t, sess.ErroredIDs)

	for _, id := range def.TaskIDs() {
		rec := env.record(t, id)
		assert.Equal(t, model.TaskApproved, rec.State)
		assert.Equal(t, 0, rec.RevisionCount)
		assert.False(t, rec.ForceApproved)
		assert.NotEmpty(t, rec.Content)
	}
}

func TestRun_DependenciesFeedLaterDrafts(t *testing.T) {
	def := taskDef(
		workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"},
		workflow.Task{ID: "t2", Title: "Detail", AuthorID: "w_beta", DependsOn: []string{"t1"}},
	)
	env := newTestEnv(t, def)
	env.svc.queue("w_alpha", "Distribution reached sixteen thousand units across both markets.")
	env.svc.queue("w_rev", "PASS. Clean.")

	var mu sync.Mutex
	var order []string
	env.svc.onCall = func(workerID string) {
		mu.Lock()
		order = append(order, workerID)
		mu.Unlock()
	}

	require.NoError(t, env.orch.Run(context.Background()))

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	assert.Equal(t, []string{"w_alpha", "w_rev", "w_beta", "w_rev", "w_rev"}, got)

	draftPrompt := env.svc.userPrompt("w_beta")
	assert.Contains(t, draftPrompt, "--- Overview ---")
	assert.Contains(t, draftPrompt, "Distribution reached sixteen thousand units")
}

func TestRun_DependencyNotApprovedSkipsTask(t *testing.T) {
	def := taskDef(
		workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"},
		workflow.Task{ID: "t2", Title: "Detail", AuthorID: "w_beta", DependsOn: []string{"t1"}},
	)
	env := newTestEnv(t, def)
	env.svc.fail("w_alpha", errors.New("provider down"))

	require.NoError(t, env.orch.Run(context.Background()))

	sess := env.session(t)
	assert.Equal(t, model.SessionComplete, sess.Status)
	assert.Empty(t, sess.CompletedIDs)
	assert.Equal(t, []string{"t1", "t2"}, sess.ErroredIDs)

	assert.Equal(t, model.TaskErrored, env.record(t, "t1").State)
	assert.Equal(t, model.TaskErrored, env.record(t, "t2").State)
	assert.Empty(t, env.record(t, "t2").Content)

	assert.Zero(t, env.svc.callCount("w_beta"))
	assert.Zero(t, env.svc.callCount("w_rev"))

	assert.True(t, hasEntry(env.entries(t), func(e transcript.Entry) bool {
		return e.Kind == transcript.KindWarning &&
			strings.Contains(e.Text, "dependency t1 was not approved")
	}))
}

func TestRun_ConditionalRevisionsThenPass(t *testing.T) {
	def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"})
	env := newTestEnv(t, def)
	env.svc.queue("w_alpha", "First pass draft.", "Second pass draft.", "Third pass draft.")
	env.svc.queue("w_rev",
		"CONDITIONAL. Cite the authoritative unit figure.",
		"CONDITIONAL. Closure rate still missing.",
		"PASS. All figures line up.",
	)

	require.NoError(t, env.orch.Run(context.Background()))

	rec := env.record(t, "t1")
	assert.Equal(t, model.TaskApproved, rec.State)
	assert.Equal(t, 2, rec.RevisionCount)
	assert.False(t, rec.ForceApproved)
	assert.Equal(t, "Third pass draft.", rec.Content)

	entries := env.entries(t)
	feedbackToAuthor := 0
	for _, entry := range entries {
		if entry.From == "w_rev" && entry.To == "w_alpha" {
			feedbackToAuthor++
		}
	}
	assert.Equal(t, 2, feedbackToAuthor)

	assert.True(t, hasEntry(entries, func(e transcript.Entry) bool {
		return e.Kind == transcript.KindSuccess &&
			strings.Contains(e.Text, `Approved "Overview" after 2 revisions.`)
	}))
}

func TestRun_ForceApprovalAfterExhaustedReviews(t *testing.T) {
	def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"})
	env := newTestEnv(t, def)
	env.svc.queue("w_rev", "FAIL. Numbers contradict the session context.")

	require.NoError(t, env.orch.Run(context.Background()))

	rec := env.record(t, "t1")
	assert.Equal(t, model.TaskApproved, rec.State)
	assert.True(t, rec.ForceApproved)
	assert.Equal(t, 2, rec.RevisionCount)

	sess := env.session(t)
	assert.Equal(t, model.SessionComplete, sess.Status)
	assert.Equal(t, []string{"t1"}, sess.CompletedIDs)

	assert.True(t, hasEntry(env.entries(t), func(e transcript.Entry) bool {
		return e.Kind == transcript.KindWarning &&
			strings.Contains(e.Text, `Accepting "Overview" after 3 reviews without a passing verdict.`)
	}))
}

func TestRun_DraftFailureAdvancesToNextTask(t *testing.T) {
	def := taskDef(
		workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"},
		workflow.Task{ID: "t2", Title: "Detail", AuthorID: "w_beta"},
	)
	env := newTestEnv(t, def)
	env.svc.fail("w_alpha", errors.New("provider timeout"))
	env.svc.queue("w_rev", "PASS. Fine.")

	require.NoError(t, env.orch.Run(context.Background()))

	sess := env.session(t)
	assert.Equal(t, model.SessionComplete, sess.Status)
	assert.Equal(t, []string{"t2"}, sess.CompletedIDs)
	assert.Equal(t, []string{"t1"}, sess.ErroredIDs)
	assert.Empty(t, env.record(t, "t1").Content)
	assert.Equal(t, model.TaskApproved, env.record(t, "t2").State)

	assert.True(t, hasEntry(env.entries(t), func(e transcript.Entry) bool {
		return e.Kind == transcript.KindWarning &&
			strings.Contains(e.Text, `Section "Overview" could not be drafted`)
	}))
}

func TestRun_PauseParksBetweenTasksUntilResume(t *testing.T) {
	def := taskDef(
		workflow.Task{ID: "t1", Title: "One", AuthorID: "w_alpha"},
		workflow.Task{ID: "t2", Title: "Two", AuthorID: "w_beta"},
		workflow.Task{ID: "t3", Title: "Three", AuthorID: "w_gamma"},
	)
	env := newTestEnv(t, def)
	env.svc.queue("w_rev", "PASS. Fine.")

	var once sync.Once
	env.svc.onCall = func(workerID string) {
		if workerID == "w_alpha" {
			once.Do(func() { env.orch.Pause() })
		}
	}

	done := make(chan error, 1)
	go func() { done <- env.orch.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		st := env.orch.Status()
		return st.Status == model.SessionPaused && st.TasksCompleted == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The session must hold position at the boundary, not creep forward.
	time.Sleep(50 * time.Millisecond)
	st := env.orch.Status()
	assert.Equal(t, 1, st.TasksCompleted)
	assert.True(t, st.Paused)

	require.True(t, env.orch.Resume())
	require.NoError(t, <-done)

	sess := env.session(t)
	assert.Equal(t, model.SessionComplete, sess.Status)
	assert.Equal(t, []string{"t1", "t2", "t3"}, sess.CompletedIDs)
	assert.Equal(t, 1, env.svc.callCount("w_alpha"))
	assert.Equal(t, 1, env.svc.callCount("w_beta"))
	assert.Equal(t, 1, env.svc.callCount("w_gamma"))
}

func TestRun_FailedConsultationLeavesDraftClean(t *testing.T) {
	def := taskDef(workflow.Task{
		ID: "t1", Title: "Overview", AuthorID: "w_alpha",
		PreConsult: []workflow.Consultation{
			{Requester: "w_alpha", Responder: "w_gamma", Instruction: "Summarize the exposure figures."},
		},
	})
	env := newTestEnv(t, def)
	env.svc.fail("w_gamma", errors.New("provider down"))
	env.svc.queue("w_rev", "PASS. Fine.")

	require.NoError(t, env.orch.Run(context.Background()))

	assert.Equal(t, model.TaskApproved, env.record(t, "t1").State)
	assert.NotContains(t, env.svc.userPrompt("w_alpha"), "Consultation notes")

	entries := env.entries(t)
	assert.True(t, hasEntry(entries, func(e transcript.Entry) bool {
		return e.Kind == transcript.KindWarning &&
			strings.Contains(e.Text, "continuing without this consultation")
	}))
	for _, entry := range entries {
		assert.NotEqual(t, "w_gamma", entry.From)
	}
}

func TestRun_ConsultationAnswerFeedsDraft(t *testing.T) {
	def := taskDef(workflow.Task{
		ID: "t1", Title: "Overview", AuthorID: "w_alpha",
		PreConsult: []workflow.Consultation{
			{Requester: "w_alpha", Responder: "w_gamma", Instruction: "Summarize the exposure figures."},
		},
	})
	env := newTestEnv(t, def)
	env.svc.queue("w_gamma", "Exposure runs at 16380 units with overheating the leading complaint.")
	env.svc.queue("w_rev", "PASS. Fine.")

	require.NoError(t, env.orch.Run(context.Background()))

	draftPrompt := env.svc.userPrompt("w_alpha")
	assert.Contains(t, draftPrompt, "Consultation notes gathered for this section:")
	assert.Contains(t, draftPrompt, "[Chidi Okafor] Exposure runs at 16380 units")
}

func TestRun_CondensesOverlongDraft(t *testing.T) {
	longDraft := strings.Repeat("word ", 30)

	t.Run("accepts a strictly shorter rewrite", func(t *testing.T) {
		def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha", TargetWords: 10})
		env := newTestEnv(t, def)
		env.svc.queue("w_alpha", longDraft, "A ten word summary that fits the target length band.")
		env.svc.queue("w_rev", "PASS. Fine.")

		require.NoError(t, env.orch.Run(context.Background()))

		rec := env.record(t, "t1")
		assert.Equal(t, "A ten word summary that fits the target length band.", rec.Content)
		assert.Equal(t, 2, env.svc.callCount("w_alpha"))
	})

	t.Run("keeps the original when the rewrite is not shorter", func(t *testing.T) {
		def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha", TargetWords: 10})
		env := newTestEnv(t, def)
		env.svc.queue("w_alpha", longDraft, longDraft)
		env.svc.queue("w_rev", "PASS. Fine.")

		require.NoError(t, env.orch.Run(context.Background()))

		assert.Equal(t, strings.TrimSpace(longDraft), env.record(t, "t1").Content)
	})

	t.Run("keeps the original when the rewrite is empty", func(t *testing.T) {
		def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha", TargetWords: 10})
		env := newTestEnv(t, def)
		env.svc.queue("w_alpha", longDraft, "")
		env.svc.queue("w_rev", "PASS. Fine.")

		require.NoError(t, env.orch.Run(context.Background()))

		assert.Equal(t, strings.TrimSpace(longDraft), env.record(t, "t1").Content)
	})
}

func TestRun_AnnouncementOpensTranscript(t *testing.T) {
	def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"})
	env := newTestEnv(t, def, func(d *Deps) {
		d.Config.Session.OpeningAudit = true
	})
	env.svc.queue("w_audit", "Data quality verified. No material gaps in the dataset.")
	env.svc.queue("w_rev", "PASS. Fine.")

	require.NoError(t, env.orch.Run(context.Background()))

	entries := env.entries(t)
	require.NotEmpty(t, entries)

	first := entries[0]
	assert.Equal(t, "chair", first.From)
	assert.Equal(t, transcript.Broadcast, first.To)
	assert.Equal(t, transcript.KindSystem, first.Kind)
	assert.Contains(t, first.Text, "Session start: Product Safety Report, 1 tasks.")
	assert.Contains(t, first.Text, "writers: Noor Ishida, Tomas Reyes")
	assert.Contains(t, first.Text, "analysts: Chidi Okafor, Mateo Sandoval")
	assert.Contains(t, first.Text, "review: Abigail Stern")

	assert.True(t, hasEntry(entries, func(e transcript.Entry) bool {
		return e.From == "w_audit" && e.To == "chair" &&
			strings.Contains(e.Text, "Data quality verified")
	}))
}

func TestRun_OpeningAuditFallsBackToGeneratedReport(t *testing.T) {
	def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"})
	env := newTestEnv(t, def, func(d *Deps) {
		d.Config.Session.OpeningAudit = true
	})
	env.svc.fail("w_audit", errors.New("provider down"))
	env.svc.queue("w_rev", "PASS. Fine.")

	require.NoError(t, env.orch.Run(context.Background()))

	assert.True(t, hasEntry(env.entries(t), func(e transcript.Entry) bool {
		return e.From == "w_audit" &&
			strings.Contains(e.Text, "Automated data quality report.")
	}))
}

func TestRun_ContextInitFailureIsFatal(t *testing.T) {
	def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"})
	env := newTestEnv(t, def, func(d *Deps) {
		d.Source = sourcedata.Static{Err: errors.New("dataset unreadable")}
	})

	err := env.orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset unreadable")

	assert.Equal(t, model.SessionError, env.orch.Status().Status)

	sess := env.session(t)
	assert.Equal(t, model.SessionError, sess.Status)
	assert.Equal(t, "dataset unreadable", sess.LastError)

	assert.True(t, hasEntry(env.entries(t), func(e transcript.Entry) bool {
		return e.Kind == transcript.KindError &&
			strings.Contains(e.Text, "Session setup failed")
	}))
	assert.Zero(t, env.svc.totalCalls())
}

func TestRun_FinalPhaseProducesChartsAndConsistencyVerdict(t *testing.T) {
	def := taskDef(
		workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha", Charts: []string{"chart_units_by_year"}},
		workflow.Task{ID: "t2", Title: "Actions", AuthorID: "w_beta", Charts: []string{"chart_action_closure"}},
	)
	env := newTestEnv(t, def)
	env.svc.queue("w_rev", "PASS. Sections are consistent.")

	require.NoError(t, env.orch.Run(context.Background()))

	id := env.orch.Status().SessionID
	specs, err := env.st.ListChartSpecs(id)
	require.NoError(t, err)
	chartIDs := make([]string, 0, len(specs))
	for _, spec := range specs {
		chartIDs = append(chartIDs, spec.ChartID)
	}
	assert.ElementsMatch(t, []string{"chart_units_by_year", "chart_action_closure"}, chartIDs)

	snap, err := env.st.LoadSnapshot(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"chart_units_by_year", "chart_action_closure"}, snap.ChartIDs)

	assert.True(t, hasEntry(env.entries(t), func(e transcript.Entry) bool {
		return e.From == "w_rev" && e.To == transcript.Broadcast &&
			e.Kind == transcript.KindSuccess &&
			e.Text == "PASS. Sections are consistent."
	}))
}

func TestRun_ChartFailureWarnsAndContinues(t *testing.T) {
	def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha", Charts: []string{"chart_bogus"}})
	env := newTestEnv(t, def)
	env.svc.queue("w_rev", "PASS. Fine.")

	require.NoError(t, env.orch.Run(context.Background()))

	assert.Equal(t, model.SessionComplete, env.orch.Status().Status)
	assert.True(t, hasEntry(env.entries(t), func(e transcript.Entry) bool {
		return e.Kind == transcript.KindWarning &&
			strings.Contains(e.Text, "Could not produce chart_bogus")
	}))
}

func TestRun_ResumesInterruptedSessionFromStore(t *testing.T) {
	def := taskDef(
		workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"},
		workflow.Task{ID: "t2", Title: "Detail", AuthorID: "w_beta", DependsOn: []string{"t1"}},
	)
	env := newTestEnv(t, def)
	env.svc.queue("w_rev", "PASS. Fine.")

	var once sync.Once
	env.svc.onCall = func(workerID string) {
		if workerID == "w_alpha" {
			once.Do(func() { env.orch.Pause() })
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		st := env.orch.Status()
		return st.Status == model.SessionPaused && st.TasksCompleted == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	id := env.orch.Status().SessionID
	stored, err := env.st.LoadSession(id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionPaused, stored.Status)
	assert.Equal(t, []string{"t1"}, stored.CompletedIDs)

	// A fresh orchestrator picks the session up where it stopped.
	svc2 := newFakeService()
	svc2.queue("w_rev", "PASS. Fine.")
	prompts, err := prompt.NewBuilder("")
	require.NoError(t, err)
	orch2, err := New(Deps{
		Workflow:  def,
		Roster:    testRoster(),
		Generate:  svc2,
		Store:     env.st,
		Source:    sourcedata.Static{Snap: testSnapshot()},
		Prompts:   prompts,
		Logger:    log.New(io.Discard, "", 0),
		SessionID: id,
	})
	require.NoError(t, err)
	require.NoError(t, orch2.Run(context.Background()))

	final, err := env.st.LoadSession(id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionComplete, final.Status)
	assert.Equal(t, []string{"t1", "t2"}, final.CompletedIDs)

	assert.Zero(t, svc2.callCount("w_alpha"))
	assert.Contains(t, svc2.userPrompt("w_beta"), "--- Overview ---")

	entries, err := transcript.ReadAll(env.st.TranscriptPath(id))
	require.NoError(t, err)
	assert.True(t, hasEntry(entries, func(e transcript.Entry) bool {
		return strings.Contains(e.Text, "Session resumed with 1 of 2 sections done.")
	}))
}

func TestRun_InterventionsAnsweredWhilePaused(t *testing.T) {
	def := taskDef(
		workflow.Task{ID: "t1", Title: "One", AuthorID: "w_alpha"},
		workflow.Task{ID: "t2", Title: "Two", AuthorID: "w_beta"},
	)
	dir := t.TempDir()
	watcher := inbox.New(dir)
	env := newTestEnv(t, def, func(d *Deps) { d.Inbox = watcher })
	env.svc.queue("w_rev", "PASS. Fine.")
	env.svc.queue("w_gamma", "The closure rate stands at 80 percent of corrective actions.")

	var once sync.Once
	env.svc.onCall = func(workerID string) {
		if workerID == "w_alpha" {
			once.Do(func() { env.orch.Pause() })
		}
	}

	done := make(chan error, 1)
	go func() { done <- env.orch.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return env.orch.Status().Status == model.SessionPaused
	}, 5*time.Second, 10*time.Millisecond)

	id := env.orch.Status().SessionID
	logPath := env.st.TranscriptPath(id)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "01-question.txt"),
		[]byte("@w_gamma What is the closure rate?"), 0644))
	require.NoError(t, watcher.Scan())

	require.Eventually(t, func() bool {
		entries, err := transcript.ReadAll(logPath)
		if err != nil {
			return false
		}
		return hasEntry(entries, func(e transcript.Entry) bool {
			return e.From == "w_gamma" && e.To == "operator" &&
				strings.Contains(e.Text, "closure rate stands at 80 percent")
		})
	}, 5*time.Second, 20*time.Millisecond)

	// No mention routes to the coordinator.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02-note.txt"),
		[]byte("Please keep the remaining sections short."), 0644))
	require.NoError(t, watcher.Scan())

	require.Eventually(t, func() bool {
		entries, err := transcript.ReadAll(logPath)
		if err != nil {
			return false
		}
		return hasEntry(entries, func(e transcript.Entry) bool {
			return e.From == "chair" && e.To == "operator"
		})
	}, 5*time.Second, 20*time.Millisecond)

	require.True(t, env.orch.Resume())
	require.NoError(t, <-done)
	assert.Equal(t, model.SessionComplete, env.orch.Status().Status)
}

func TestAskWorker(t *testing.T) {
	def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"})
	env := newTestEnv(t, def)

	_, err := env.orch.AskWorker(context.Background(), "w_gamma", "What is the denominator?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active session")

	env.svc.queue("w_rev", "PASS. Fine.")
	env.svc.queue("w_gamma", "All rates use 16380 units as the denominator.")
	require.NoError(t, env.orch.Run(context.Background()))

	answer, err := env.orch.AskWorker(context.Background(), "w_gamma", "What is the denominator?")
	require.NoError(t, err)
	assert.Equal(t, "All rates use 16380 units as the denominator.", answer)

	entries := env.entries(t)
	assert.True(t, hasEntry(entries, func(e transcript.Entry) bool {
		return e.From == "operator" && e.To == "w_gamma"
	}))
	assert.True(t, hasEntry(entries, func(e transcript.Entry) bool {
		return e.From == "w_gamma" && e.To == "operator"
	}))

	_, err = env.orch.AskWorker(context.Background(), "w_nobody", "Anyone there?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown worker "w_nobody"`)

	_, err = env.orch.AskWorker(context.Background(), "w_gamma", "   ")
	require.Error(t, err)
}

func TestGate_PauseResume(t *testing.T) {
	g := newGate()
	assert.False(t, g.Paused())
	assert.False(t, g.Resume())

	assert.True(t, g.Pause())
	assert.False(t, g.Pause())
	assert.True(t, g.Paused())

	assert.True(t, g.Resume())
	assert.False(t, g.Paused())
	assert.False(t, g.Resume())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	prompts, err := prompt.NewBuilder("")
	require.NoError(t, err)
	st := store.NewFileStore(t.TempDir(), nil)
	t.Cleanup(func() { _ = st.Close() })

	base := func() Deps {
		return Deps{
			Workflow: taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"}),
			Roster:   testRoster(),
			Generate: newFakeService(),
			Store:    st,
			Source:   sourcedata.Static{Snap: testSnapshot()},
			Prompts:  prompts,
		}
	}

	cases := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"missing workflow", func(d *Deps) { d.Workflow = nil }},
		{"missing roster", func(d *Deps) { d.Roster = nil }},
		{"missing generation service", func(d *Deps) { d.Generate = nil }},
		{"missing store", func(d *Deps) { d.Store = nil }},
		{"missing snapshot provider", func(d *Deps) { d.Source = nil }},
		{"missing prompt builder", func(d *Deps) { d.Prompts = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := base()
			tc.mutate(&deps)
			_, err := New(deps)
			require.Error(t, err)
		})
	}

	t.Run("roster without reviewer", func(t *testing.T) {
		deps := base()
		reg := testRoster()
		reg.ReviewerID = ""
		deps.Roster = reg
		_, err := New(deps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no reviewer")
	})
}

func TestStatus_BeforeRun(t *testing.T) {
	def := taskDef(workflow.Task{ID: "t1", Title: "Overview", AuthorID: "w_alpha"})
	env := newTestEnv(t, def)

	st := env.orch.Status()
	assert.Equal(t, model.SessionIdle, st.Status)
	assert.Empty(t, st.SessionID)
	assert.Equal(t, 1, st.TotalTasks)
	assert.False(t, st.Paused)
}

func TestWordCount(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"two words", 2},
		{"  spaced   out  words  ", 3},
		{"line\nbreaks\tcount too", 4},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, wordCount(tc.in), "input %q", tc.in)
	}
}

func TestExcerpt(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"zero limit returns everything", "hello", 0, "hello"},
		{"under limit", "hello", 10, "hello"},
		{"exact limit", "hello", 5, "hello"},
		{"truncates", "hello world", 5, "hello"},
		{"multibyte safe", "héllo wörld", 7, "héllo w"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, excerpt(tc.in, tc.limit))
		})
	}
}
