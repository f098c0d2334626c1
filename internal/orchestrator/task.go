package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scriptorium-ai/scriptorium/internal/events"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/prompt"
	"github.com/scriptorium-ai/scriptorium/internal/review"
	"github.com/scriptorium-ai/scriptorium/internal/transcript"
	"github.com/scriptorium-ai/scriptorium/internal/workflow"
)

// runTask carries one task from PENDING to a terminal state. Failures
// mark the record ERRORED and the session keeps going; only the context
// snapshot is load-bearing for the rest of the run.
func (o *Orchestrator) runTask(ctx context.Context, task workflow.Task) *model.TaskRecord {
	rec := &model.TaskRecord{
		SchemaVersion: model.SchemaVersion,
		FileType:      model.FileTypeTaskRecord,
		TaskID:        task.ID,
		SessionID:     o.sessionID(),
		AuthorID:      task.AuthorID,
		State:         model.TaskPending,
		CreatedAt:     time.Now().UTC(),
	}
	o.mu.Lock()
	o.records[task.ID] = rec
	o.sess.CurrentTaskID = task.ID
	o.sess.Phase = task.ID
	o.mu.Unlock()
	o.persistSession()
	o.persistRecord(rec)
	o.log(LogLevelInfo, "task_started id=%s author=%s", task.ID, task.AuthorID)

	if missing := o.unmetDependencies(task); len(missing) > 0 {
		o.setTaskState(rec, model.TaskErrored)
		o.persistRecord(rec)
		o.say(o.reg.Coordinator.ID, transcript.Broadcast,
			fmt.Sprintf("Skipping %q: dependency %s was not approved.", task.Title, strings.Join(missing, ", ")),
			transcript.KindWarning)
		o.log(LogLevelWarn, "task_dependency_unmet id=%s missing=%s", task.ID, strings.Join(missing, ","))
		o.completeTaskEvent(rec)
		return rec
	}

	o.setTaskState(rec, model.TaskPreConsult)
	o.persistRecord(rec)
	o.publish(events.EventTaskStarted, map[string]interface{}{
		"session_id": rec.SessionID,
		"task_id":    task.ID,
		"author_id":  task.AuthorID,
	})
	notes := o.runConsultations(ctx, task, task.PreConsult)

	o.setTaskState(rec, model.TaskDrafting)
	o.persistRecord(rec)
	draft, err := o.draft(ctx, task, notes)
	if err != nil {
		o.setTaskState(rec, model.TaskErrored)
		o.persistRecord(rec)
		o.say(o.reg.Coordinator.ID, transcript.Broadcast,
			fmt.Sprintf("Section %q could not be drafted; continuing with the next section.", task.Title),
			transcript.KindWarning)
		o.log(LogLevelWarn, "task_draft_failed id=%s err=%v", task.ID, err)
		o.completeTaskEvent(rec)
		return rec
	}
	o.log(LogLevelInfo, "task_drafted id=%s words=%d", task.ID, wordCount(draft))

	o.setTaskState(rec, model.TaskLengthCheck)
	rec.Content = o.conformLength(ctx, task, draft)
	o.persistRecord(rec)

	o.reviewLoop(ctx, task, rec)
	o.completeTaskEvent(rec)

	if rec.State == model.TaskApproved {
		o.runConsultations(ctx, task, task.PostConsult)
	}
	return rec
}

// unmetDependencies returns the declared dependencies that did not end
// in APPROVED, in declared order.
func (o *Orchestrator) unmetDependencies(task workflow.Task) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var missing []string
	for _, dep := range task.DependsOn {
		if !o.sess.Completed(dep) {
			missing = append(missing, dep)
		}
	}
	return missing
}

// runConsultations executes each consultation in order and collects the
// answers as notes for the draft prompt. A failed consultation
// contributes nothing; the engine has already posted the warning.
func (o *Orchestrator) runConsultations(ctx context.Context, task workflow.Task, specs []workflow.Consultation) []prompt.Note {
	var notes []prompt.Note
	for _, spec := range specs {
		ex, ok := o.engine.Run(ctx, o.sessionID(), task, spec, o.snapshot())
		if !ok {
			o.log(LogLevelWarn, "consultation_skipped task=%s responder=%s", task.ID, spec.Responder)
			continue
		}
		notes = append(notes, prompt.Note{
			Speaker: o.reg.DisplayName(ex.Responder),
			Text:    ex.Answer,
		})
	}
	return notes
}

func (o *Orchestrator) draft(ctx context.Context, task workflow.Task, notes []prompt.Note) (string, error) {
	system, ok := o.engine.System(task.AuthorID)
	if !ok {
		return "", fmt.Errorf("unknown author %q", task.AuthorID)
	}
	snap := o.snapshot()
	user, err := o.prompts.Draft(prompt.DraftData{
		Task:          task,
		TargetWords:   o.targetWords(task),
		Snapshot:      snap,
		Constraints:   snap.Constraints,
		Dependencies:  o.dependencyExcerpts(task),
		Consultations: notes,
	})
	if err != nil {
		return "", fmt.Errorf("build draft prompt: %w", err)
	}
	out, err := o.svc.Generate(ctx, task.AuthorID, system, user)
	if err != nil {
		return "", fmt.Errorf("draft generation: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("draft generation returned nothing")
	}
	return out, nil
}

// dependencyExcerpts hands the author the full text of every approved
// dependency so the new section stays consistent with what is already
// written.
func (o *Orchestrator) dependencyExcerpts(task workflow.Task) []prompt.Excerpt {
	o.mu.Lock()
	defer o.mu.Unlock()
	var deps []prompt.Excerpt
	for _, dep := range task.DependsOn {
		rec, ok := o.records[dep]
		if !ok || rec.Content == "" {
			continue
		}
		title := dep
		if t, found := o.def.Task(dep); found {
			title = t.Title
		}
		deps = append(deps, prompt.Excerpt{Title: title, Text: rec.Content})
	}
	return deps
}

func (o *Orchestrator) targetWords(task workflow.Task) int {
	if task.TargetWords > 0 {
		return task.TargetWords
	}
	return o.cfg.Session.DefaultTargetWords
}

// conformLength condenses a draft that overshoots the tolerance band.
// One attempt only, and the condensed text is kept only when it is
// non-empty and strictly shorter than the original.
func (o *Orchestrator) conformLength(ctx context.Context, task workflow.Task, draft string) string {
	target := o.targetWords(task)
	words := wordCount(draft)
	if float64(words) <= o.cfg.Session.LengthTolerance*float64(target) {
		return draft
	}

	system, _ := o.engine.System(task.AuthorID)
	user, err := o.prompts.Condense(prompt.CondenseData{
		Task:        task,
		Content:     draft,
		WordCount:   words,
		TargetWords: target,
	})
	if err != nil {
		o.log(LogLevelWarn, "condense_prompt_failed id=%s err=%v", task.ID, err)
		return draft
	}
	condensed, err := o.svc.Generate(ctx, task.AuthorID, system, user)
	condensed = strings.TrimSpace(condensed)
	if err == nil && condensed != "" && wordCount(condensed) < words {
		o.log(LogLevelInfo, "task_condensed id=%s from=%d to=%d", task.ID, words, wordCount(condensed))
		return condensed
	}
	o.log(LogLevelInfo, "task_condense_rejected id=%s words=%d", task.ID, words)
	return draft
}

// reviewLoop cycles QC_REVIEW and REVISING until the reviewer passes
// the draft or the attempt budget runs out, at which point the draft is
// force-approved with a broadcast warning.
func (o *Orchestrator) reviewLoop(ctx context.Context, task workflow.Task, rec *model.TaskRecord) {
	o.setTaskState(rec, model.TaskReview)
	o.persistRecord(rec)
	persona := o.reviewer.Persona()
	max := o.cfg.Session.MaxReviewIterations

	for attempt := 1; attempt <= max; attempt++ {
		res, err := o.reviewer.Review(ctx, task, rec.Content, o.snapshot().Constraints)
		if err != nil {
			o.log(LogLevelError, "review_failed id=%s attempt=%d err=%v", task.ID, attempt, err)
			res = review.Result{Verdict: review.VerdictPass, Feedback: "review unavailable"}
		}
		rec.ReviewFeedback = res.Feedback
		o.log(LogLevelInfo, "review_verdict id=%s attempt=%d verdict=%s", task.ID, attempt, res.Verdict)

		if res.Passed() {
			o.setTaskState(rec, model.TaskApproved)
			o.persistRecord(rec)
			var text string
			switch rec.RevisionCount {
			case 0:
				text = fmt.Sprintf("Approved %q.", task.Title)
			case 1:
				text = fmt.Sprintf("Approved %q after 1 revision.", task.Title)
			default:
				text = fmt.Sprintf("Approved %q after %d revisions.", task.Title, rec.RevisionCount)
			}
			o.say(persona.ID, transcript.Broadcast, text, transcript.KindSuccess)
			o.log(LogLevelInfo, "task_approved id=%s revisions=%d", task.ID, rec.RevisionCount)
			return
		}

		if attempt == max {
			rec.ForceApproved = true
			o.setTaskState(rec, model.TaskApproved)
			o.persistRecord(rec)
			o.say(o.reg.Coordinator.ID, transcript.Broadcast,
				fmt.Sprintf("Accepting %q after %d reviews without a passing verdict.", task.Title, max),
				transcript.KindWarning)
			o.log(LogLevelWarn, "task_force_approved id=%s reviews=%d", task.ID, max)
			return
		}

		o.say(persona.ID, task.AuthorID, res.Feedback, transcript.KindNormal)
		o.setTaskState(rec, model.TaskRevising)
		o.persistRecord(rec)
		o.revise(ctx, task, rec, res.Feedback)
		o.setTaskState(rec, model.TaskReview)
		o.persistRecord(rec)
	}
}

// revise asks the author to rework the draft against the reviewer's
// feedback. On failure the draft stands unchanged and the next review
// round sees the same text.
func (o *Orchestrator) revise(ctx context.Context, task workflow.Task, rec *model.TaskRecord, feedback string) {
	system, _ := o.engine.System(task.AuthorID)
	user, err := o.prompts.Revise(prompt.ReviseData{
		Task:        task,
		Content:     rec.Content,
		Feedback:    feedback,
		TargetWords: o.targetWords(task),
	})
	if err != nil {
		o.log(LogLevelWarn, "revise_prompt_failed id=%s err=%v", task.ID, err)
		return
	}
	out, err := o.svc.Generate(ctx, task.AuthorID, system, user)
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		o.log(LogLevelWarn, "task_revision_failed id=%s err=%v", task.ID, err)
		return
	}
	rec.Content = out
	rec.RevisionCount++
	o.log(LogLevelInfo, "task_revised id=%s revision=%d words=%d", task.ID, rec.RevisionCount, wordCount(out))
}

func (o *Orchestrator) setTaskState(rec *model.TaskRecord, to model.TaskState) {
	if err := model.ValidateTaskTransition(rec.State, to); err != nil {
		o.log(LogLevelError, "task_transition_rejected id=%s err=%v", rec.TaskID, err)
		return
	}
	rec.State = to
}

func (o *Orchestrator) completeTaskEvent(rec *model.TaskRecord) {
	o.publish(events.EventTaskCompleted, map[string]interface{}{
		"session_id":     rec.SessionID,
		"task_id":        rec.TaskID,
		"state":          string(rec.State),
		"revisions":      rec.RevisionCount,
		"force_approved": rec.ForceApproved,
	})
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// excerpt truncates on rune boundaries so multibyte text never splits
// mid-character.
func excerpt(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
