package consult

import (
	"context"
	"fmt"
	"strings"

	"github.com/scriptorium-ai/scriptorium/internal/charts"
	"github.com/scriptorium-ai/scriptorium/internal/generate"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/prompt"
	"github.com/scriptorium-ai/scriptorium/internal/roster"
	"github.com/scriptorium-ai/scriptorium/internal/workflow"
)

// Request carries one consultation into a responder.
type Request struct {
	SessionID string
	Requester roster.Worker
	Responder roster.Worker
	Question  string
	Task      workflow.Task
	Snapshot  model.Snapshot
}

// Responder produces the answer half of a consultation. Returning empty
// text (or an error) means the consultation contributes nothing.
type Responder interface {
	Answer(ctx context.Context, req Request) (string, error)
}

// genericResponder answers in persona through one generation call.
type genericResponder struct {
	svc     generate.Service
	prompts *prompt.Builder
	worker  roster.Worker
	system  string
}

func (g *genericResponder) Answer(ctx context.Context, req Request) (string, error) {
	userPrompt, err := g.prompts.ConsultAnswer(prompt.AnswerData{
		Requester: req.Requester,
		Question:  req.Question,
		Snapshot:  req.Snapshot,
	})
	if err != nil {
		return "", err
	}
	return g.svc.Generate(ctx, g.worker.ID, g.system, userPrompt)
}

const calculatorUnavailable = "The calculation could not be completed; no result is available. The input figures remain in the session data digest."

// calculatorResponder must show formula, inputs, result and verification.
// When generation yields nothing it answers with a fixed
// could-not-calculate line instead of staying silent.
type calculatorResponder struct {
	svc     generate.Service
	prompts *prompt.Builder
	worker  roster.Worker
	system  string
}

func (c *calculatorResponder) Answer(ctx context.Context, req Request) (string, error) {
	userPrompt, err := c.prompts.CalculatorAnswer(prompt.ToolData{
		Question: req.Question,
		Digest:   prompt.Digest(req.Snapshot),
	})
	if err != nil {
		return calculatorUnavailable, nil
	}

	answer, err := c.svc.Generate(ctx, c.worker.ID, c.system, userPrompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		return calculatorUnavailable, nil
	}
	return answer, nil
}

// auditorResponder reports on data quality. When generation yields
// nothing it falls back to a deterministic report computed from the
// snapshot, so an audit always produces findings.
type auditorResponder struct {
	svc     generate.Service
	prompts *prompt.Builder
	worker  roster.Worker
	system  string
}

func (a *auditorResponder) Answer(ctx context.Context, req Request) (string, error) {
	userPrompt, err := a.prompts.AuditReport(prompt.ToolData{
		Question: req.Question,
		Digest:   prompt.Digest(req.Snapshot),
	})
	if err != nil {
		return fallbackAuditReport(req.Snapshot), nil
	}

	answer, err := a.svc.Generate(ctx, a.worker.ID, a.system, userPrompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		return fallbackAuditReport(req.Snapshot), nil
	}
	return answer, nil
}

func fallbackAuditReport(snap model.Snapshot) string {
	c := snap.DeriveConstraints()
	var b strings.Builder
	b.WriteString("Automated data quality report.\n")
	fmt.Fprintf(&b, "Coverage: %s to %s across %d source files.\n",
		snap.Period.Start, snap.Period.End, snap.SourceFileCount)
	b.WriteString(prompt.Digest(snap))
	fmt.Fprintf(&b, "\nCompleteness score: %d/100. Evidence level: %s (action closure %.0f%%).",
		c.CompletenessScore, c.EvidenceLevel, c.ClosureRate)
	return b.String()
}

// visualizerResponder materializes the charts a task declares and answers
// with the produced asset list. No generation call is involved; a backend
// or store failure for one chart degrades to a line in the answer, never
// an error.
type visualizerResponder struct {
	backend charts.Backend
	rec     Recorder
}

func (v *visualizerResponder) Answer(ctx context.Context, req Request) (string, error) {
	if len(req.Task.Charts) == 0 {
		return "No charts are declared for this section.", nil
	}

	var lines []string
	for _, chartID := range req.Task.Charts {
		spec, err := v.backend.Build(&req.Snapshot, chartID)
		if err != nil {
			lines = append(lines, fmt.Sprintf("Could not produce %s: %v.", chartID, err))
			continue
		}
		if err := v.rec.SaveChartSpec(req.SessionID, spec); err != nil {
			lines = append(lines, fmt.Sprintf("Could not save %s: %v.", chartID, err))
			continue
		}
		lines = append(lines, fmt.Sprintf("Produced %q (%s chart, asset %s).", spec.Title, spec.Type, spec.AssetID))
	}
	return strings.Join(lines, "\n"), nil
}
