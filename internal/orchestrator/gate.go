package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/scriptorium-ai/scriptorium/internal/events"
	"github.com/scriptorium-ai/scriptorium/internal/inbox"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/prompt"
	"github.com/scriptorium-ai/scriptorium/internal/roster"
	"github.com/scriptorium-ai/scriptorium/internal/transcript"
)

// Gate is the continuation gate between tasks. Pause arms it; the run
// loop blocks at the next checkpoint until Resume closes the channel.
// No polling is involved.
type Gate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newGate() *Gate {
	return &Gate{}
}

// Pause arms the gate. Returns false when it was already armed.
func (g *Gate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return false
	}
	g.paused = true
	g.resume = make(chan struct{})
	return true
}

// Resume releases anyone parked at the gate. Returns false when the
// gate was not armed.
func (g *Gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	close(g.resume)
	g.resume = nil
	return true
}

func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// resumeChannel returns the channel to wait on, or nil when the gate is
// open.
func (g *Gate) resumeChannel() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return nil
	}
	return g.resume
}

// Pause requests a stop at the next task boundary. The current task
// always finishes first.
func (o *Orchestrator) Pause() bool {
	ok := o.gate.Pause()
	if ok {
		o.log(LogLevelInfo, "pause_requested id=%s", o.sessionID())
	}
	return ok
}

// Resume releases a paused session.
func (o *Orchestrator) Resume() bool {
	ok := o.gate.Resume()
	if ok {
		o.log(LogLevelInfo, "resume_requested id=%s", o.sessionID())
	}
	return ok
}

// checkpoint runs between tasks. It delivers any queued interventions,
// then parks on the gate when a pause was requested. While parked,
// operator messages keep being answered. Cancellation leaves the
// session PAUSED in the store.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	o.drainInbox(ctx)

	ch := o.gate.resumeChannel()
	if ch == nil {
		if err := ctx.Err(); err != nil {
			o.park(err)
			return err
		}
		return nil
	}

	o.setStatus(model.SessionPaused)
	for {
		select {
		case <-ctx.Done():
			o.log(LogLevelInfo, "session_interrupted id=%s err=%v", o.sessionID(), ctx.Err())
			return ctx.Err()
		case <-ch:
			o.setStatus(model.SessionRunning)
			return nil
		case msg := <-o.inboxMessages():
			o.answerIntervention(ctx, msg)
		}
	}
}

// park records an interrupted session as PAUSED so it can be resumed by
// a later run.
func (o *Orchestrator) park(err error) {
	o.setStatus(model.SessionPaused)
	o.log(LogLevelInfo, "session_interrupted id=%s err=%v", o.sessionID(), err)
}

// inboxMessages returns a nil channel when no inbox is wired, which
// blocks forever in a select.
func (o *Orchestrator) inboxMessages() <-chan inbox.Message {
	if o.inbox == nil {
		return nil
	}
	return o.inbox.Messages()
}

// drainInbox answers everything already queued without blocking.
func (o *Orchestrator) drainInbox(ctx context.Context) {
	if o.inbox == nil {
		return
	}
	for {
		select {
		case msg := <-o.inbox.Messages():
			o.answerIntervention(ctx, msg)
		default:
			return
		}
	}
}

// answerIntervention routes an operator message to the mentioned worker
// or, absent a mention, to the coordinator, and posts the answer back.
func (o *Orchestrator) answerIntervention(ctx context.Context, msg inbox.Message) {
	target := o.reg.Coordinator
	if msg.Mention != "" {
		if w, ok := o.reg.Worker(msg.Mention); ok {
			target = w
		}
	}

	o.say(operatorID, target.ID, msg.Text, transcript.KindNormal)
	o.publish(events.EventIntervention, map[string]interface{}{
		"session_id": o.sessionID(),
		"file":       msg.File,
		"worker_id":  target.ID,
	})

	answer, err := o.askGeneration(ctx, target, msg.Text)
	if err != nil {
		o.say(o.reg.Coordinator.ID, transcript.Broadcast,
			fmt.Sprintf("No answer for the intervention from %s.", msg.File), transcript.KindWarning)
		o.log(LogLevelWarn, "intervention_unanswered file=%s err=%v", msg.File, err)
		return
	}
	o.say(target.ID, operatorID, answer, transcript.KindNormal)
	o.log(LogLevelInfo, "intervention_answered file=%s worker=%s", msg.File, target.ID)
}

func (o *Orchestrator) askGeneration(ctx context.Context, w roster.Worker, question string) (string, error) {
	system, _ := o.engine.System(w.ID)
	user, err := o.prompts.Ask(prompt.AskData{Question: question})
	if err != nil {
		return "", fmt.Errorf("build ask prompt: %w", err)
	}
	answer, err := o.svc.Generate(ctx, w.ID, system, user)
	if err != nil {
		return "", fmt.Errorf("ask %s: %w", w.ID, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("no answer from %s", w.ID)
	}
	return answer, nil
}

// AskWorker puts a one-off question to a worker and returns the answer.
// Both sides of the exchange land in the transcript. Callable while a
// session runs; the exchange does not touch task state.
func (o *Orchestrator) AskWorker(ctx context.Context, workerID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("empty question")
	}
	if o.sessionID() == "" {
		return "", errors.New("no active session")
	}
	w, ok := o.reg.Worker(workerID)
	if !ok {
		return "", fmt.Errorf("unknown worker %q", workerID)
	}

	o.say(operatorID, w.ID, question, transcript.KindNormal)
	answer, err := o.askGeneration(ctx, w, question)
	if err != nil {
		return "", err
	}
	o.say(w.ID, operatorID, answer, transcript.KindNormal)
	o.log(LogLevelInfo, "ask_answered worker=%s", w.ID)
	return answer, nil
}
