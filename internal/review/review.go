// Package review evaluates drafted sections through the reviewer persona
// and turns the model's prose into a structured verdict.
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/scriptorium-ai/scriptorium/internal/generate"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/prompt"
	"github.com/scriptorium-ai/scriptorium/internal/roster"
	"github.com/scriptorium-ai/scriptorium/internal/workflow"
)

// Verdict is the outcome of one review.
type Verdict string

const (
	VerdictPass        Verdict = "pass"
	VerdictConditional Verdict = "conditional"
	VerdictFail        Verdict = "fail"
)

// Result pairs the verdict with the reviewer's feedback text.
type Result struct {
	Verdict  Verdict
	Feedback string
}

// Passed reports whether the section cleared review outright.
func (r Result) Passed() bool {
	return r.Verdict == VerdictPass
}

// ParseVerdict derives a verdict from free-text reviewer output. The match
// is deliberately simple and case sensitive: the review prompt instructs an
// uppercase verdict word, and anything unrecognizable reads as FAIL.
func ParseVerdict(text string) Result {
	feedback := strings.TrimSpace(text)
	switch {
	case strings.Contains(feedback, "PASS") && !strings.Contains(feedback, "FAIL"):
		return Result{Verdict: VerdictPass, Feedback: feedback}
	case strings.Contains(feedback, "CONDITIONAL"):
		return Result{Verdict: VerdictConditional, Feedback: feedback}
	default:
		return Result{Verdict: VerdictFail, Feedback: feedback}
	}
}

// Reviewer runs quality reviews as the reviewer persona. Stateless between
// calls; every review sees only the section and the session constraints.
type Reviewer struct {
	svc     generate.Service
	prompts *prompt.Builder
	persona roster.Worker
	system  string
}

// New builds a Reviewer around the given persona. The system prompt is
// rendered once here.
func New(svc generate.Service, prompts *prompt.Builder, persona roster.Worker) (*Reviewer, error) {
	system, err := prompts.System(persona)
	if err != nil {
		return nil, fmt.Errorf("build reviewer system prompt: %w", err)
	}
	return &Reviewer{svc: svc, prompts: prompts, persona: persona, system: system}, nil
}

// Persona returns the reviewer's registry entry.
func (r *Reviewer) Persona() roster.Worker {
	return r.persona
}

// Review evaluates one drafted section. A failed or empty review call
// yields a PASS with explanatory feedback: an unavailable reviewer must
// never block production.
func (r *Reviewer) Review(ctx context.Context, task workflow.Task, content string, constraints model.Constraints) (Result, error) {
	userPrompt, err := r.prompts.Review(prompt.ReviewData{
		Task:        task,
		Content:     content,
		Constraints: constraints,
	})
	if err != nil {
		return Result{}, fmt.Errorf("build review prompt: %w", err)
	}

	answer, err := r.svc.Generate(ctx, r.persona.ID, r.system, userPrompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		return Result{Verdict: VerdictPass, Feedback: "review unavailable"}, nil
	}
	return ParseVerdict(answer), nil
}

// Consistency runs the final cross-section check over excerpts of every
// approved task. Degrades the same way Review does.
func (r *Reviewer) Consistency(ctx context.Context, excerpts []prompt.Excerpt, constraints model.Constraints) (Result, error) {
	userPrompt, err := r.prompts.Consistency(prompt.ConsistencyData{
		Excerpts:    excerpts,
		Constraints: constraints,
	})
	if err != nil {
		return Result{}, fmt.Errorf("build consistency prompt: %w", err)
	}

	answer, err := r.svc.Generate(ctx, r.persona.ID, r.system, userPrompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		return Result{Verdict: VerdictPass, Feedback: "review unavailable"}, nil
	}
	return ParseVerdict(answer), nil
}
