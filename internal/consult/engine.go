// Package consult runs the two-step worker consultations that enrich a
// task's drafting context. Responder behavior is selected by the worker's
// registry kind, resolved once when the engine is built.
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
	"github.com/scriptorium-ai/scriptorium/internal/transcript"
	"github.com/scriptorium-ai/scriptorium/internal/workflow"
)

// Exchange is one completed consultation.
type Exchange struct {
	Requester string
	Responder string
	Question  string
	Answer    string
}

// Recorder is the slice of the store the engine writes through.
type Recorder interface {
	AppendMessage(sessionID, from, to, text string, kind transcript.Kind) (transcript.Entry, error)
	SaveChartSpec(sessionID string, spec *charts.Spec) error
}

// Engine executes consultations against a fixed roster. Dispatch to
// specialized responders is decided per worker at construction, never
// re-checked by name on a call.
type Engine struct {
	svc        generate.Service
	prompts    *prompt.Builder
	reg        *roster.Roster
	rec        Recorder
	responders map[string]Responder
	systems    map[string]string
}

// NewEngine renders every worker's system prompt and builds the responder
// registry from the roster kinds.
func NewEngine(svc generate.Service, prompts *prompt.Builder, reg *roster.Roster, backend charts.Backend, rec Recorder) (*Engine, error) {
	e := &Engine{
		svc:        svc,
		prompts:    prompts,
		reg:        reg,
		rec:        rec,
		responders: make(map[string]Responder, len(reg.Workers)+1),
		systems:    make(map[string]string, len(reg.Workers)+1),
	}

	workers := append([]roster.Worker{reg.Coordinator}, reg.Workers...)
	for _, w := range workers {
		system, err := prompts.System(w)
		if err != nil {
			return nil, fmt.Errorf("build system prompt for %s: %w", w.ID, err)
		}
		e.systems[w.ID] = system

		switch w.Kind {
		case roster.KindCalculator:
			e.responders[w.ID] = &calculatorResponder{svc: svc, prompts: prompts, worker: w, system: system}
		case roster.KindAuditor:
			e.responders[w.ID] = &auditorResponder{svc: svc, prompts: prompts, worker: w, system: system}
		case roster.KindVisualizer:
			e.responders[w.ID] = &visualizerResponder{backend: backend, rec: rec}
		default:
			e.responders[w.ID] = &genericResponder{svc: svc, prompts: prompts, worker: w, system: system}
		}
	}

	return e, nil
}

// System returns the rendered system prompt for a worker.
func (e *Engine) System(workerID string) (string, bool) {
	s, ok := e.systems[workerID]
	return s, ok
}

// Run executes one consultation for a task. The returned flag reports
// whether the exchange produced an answer. Failures never propagate to the
// task loop: the transcript gets a warning and the task drafts without
// this input.
func (e *Engine) Run(ctx context.Context, sessionID string, task workflow.Task, spec workflow.Consultation, snap model.Snapshot) (Exchange, bool) {
	requester, ok := e.reg.Worker(spec.Requester)
	if !ok {
		e.warn(sessionID, fmt.Sprintf("consultation skipped: unknown requester %q", spec.Requester))
		return Exchange{}, false
	}
	responder, ok := e.reg.Worker(spec.Responder)
	if !ok {
		e.warn(sessionID, fmt.Sprintf("consultation skipped: unknown responder %q", spec.Responder))
		return Exchange{}, false
	}

	question := e.question(ctx, requester, responder, spec.Instruction, snap)

	// Transcript failures never block a consultation.
	_, _ = e.rec.AppendMessage(sessionID, requester.ID, responder.ID, question, transcript.KindNormal)

	handler := e.responders[responder.ID]
	answer, err := handler.Answer(ctx, Request{
		SessionID: sessionID,
		Requester: requester,
		Responder: responder,
		Question:  question,
		Task:      task,
		Snapshot:  snap,
	})
	if err != nil || strings.TrimSpace(answer) == "" {
		e.warn(sessionID, fmt.Sprintf("no answer from %s; continuing without this consultation", e.reg.DisplayName(responder.ID)))
		return Exchange{}, false
	}
	answer = strings.TrimSpace(answer)

	_, _ = e.rec.AppendMessage(sessionID, responder.ID, requester.ID, answer, transcript.KindNormal)

	return Exchange{
		Requester: requester.ID,
		Responder: responder.ID,
		Question:  question,
		Answer:    answer,
	}, true
}

// question runs the first half of the exchange. Empty generation falls
// back to the literal instruction addressed to the responder.
func (e *Engine) question(ctx context.Context, requester, responder roster.Worker, instruction string, snap model.Snapshot) string {
	userPrompt, err := e.prompts.ConsultQuestion(prompt.QuestionData{
		Responder:   responder,
		Instruction: instruction,
		Snapshot:    snap,
	})
	if err == nil {
		q, genErr := e.svc.Generate(ctx, requester.ID, e.systems[requester.ID], userPrompt)
		if genErr == nil && strings.TrimSpace(q) != "" {
			return strings.TrimSpace(q)
		}
	}
	return fmt.Sprintf("%s: %s", responder.Name, instruction)
}

func (e *Engine) warn(sessionID, text string) {
	_, _ = e.rec.AppendMessage(sessionID, e.reg.Coordinator.ID, transcript.Broadcast, text, transcript.KindWarning)
}
