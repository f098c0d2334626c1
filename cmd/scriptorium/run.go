package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scriptorium-ai/scriptorium/internal/control"
	"github.com/scriptorium-ai/scriptorium/internal/events"
	"github.com/scriptorium-ai/scriptorium/internal/generate"
	"github.com/scriptorium-ai/scriptorium/internal/inbox"
	"github.com/scriptorium-ai/scriptorium/internal/lock"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/notify"
	"github.com/scriptorium-ai/scriptorium/internal/orchestrator"
	"github.com/scriptorium-ai/scriptorium/internal/prompt"
	"github.com/scriptorium-ai/scriptorium/internal/render"
	"github.com/scriptorium-ai/scriptorium/internal/roster"
	"github.com/scriptorium-ai/scriptorium/internal/sourcedata"
	"github.com/scriptorium-ai/scriptorium/internal/store"
	"github.com/scriptorium-ai/scriptorium/internal/transcript"
	"github.com/scriptorium-ai/scriptorium/internal/workflow"
)

func newRunCommand(app *App) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a document production session to completion",
		Long: "Load workflow.yaml, roster.yaml and dataset.yaml from the project\n" +
			"directory and drive every section through drafting, review and\n" +
			"approval. The session streams its transcript to stdout and accepts\n" +
			"pause, resume and ask commands on a unix socket while it runs.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cfg, err := project()
			if err != nil {
				return err
			}
			return runSession(cmd, dir, cfg, sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume a stored session by id")
	return cmd
}

func runSession(cmd *cobra.Command, dir string, cfg model.Config, sessionID string) error {
	out := cmd.OutOrStdout()

	guard := lock.NewFileLock(filepath.Join(dir, "session.lock"))
	if err := guard.TryLock(); err != nil {
		return err
	}
	defer guard.Unlock()

	def, err := workflow.Load(filepath.Join(dir, "workflow.yaml"))
	if err != nil {
		return err
	}
	reg, err := roster.Load(filepath.Join(dir, "roster.yaml"))
	if err != nil {
		return err
	}
	if err := reg.Validate(); err != nil {
		return err
	}
	if verrs := def.Validate(reg.IDs()); verrs.HasErrors() {
		fmt.Fprint(cmd.ErrOrStderr(), verrs.FormatStderr())
		return errors.New("workflow.yaml failed validation")
	}

	prompts, err := prompt.NewBuilder(filepath.Join(dir, "prompts"))
	if err != nil {
		return err
	}

	logger, closeLog, err := openSessionLog(dir)
	if err != nil {
		return err
	}
	defer closeLog()

	bus := events.NewBus(256)
	defer bus.Close()

	st := store.NewFileStore(storeRoot(dir, cfg), bus)
	defer st.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var watcher *inbox.Watcher
	if cfg.Inbox.Enabled {
		watcher = inbox.New(inboxDir(dir, cfg))
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start intervention inbox: %w", err)
		}
		defer watcher.Close()
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Workflow:  def,
		Roster:    reg,
		Generate:  generate.NewClient(cfg.Generation),
		Store:     st,
		Source:    sourcedata.NewFileProvider(filepath.Join(dir, "dataset.yaml")),
		Prompts:   prompts,
		Bus:       bus,
		Inbox:     watcher,
		Logger:    logger,
		SessionID: sessionID,
	})
	if err != nil {
		return err
	}

	stopEcho := echoProgress(bus, reg, out, cfg.Notifications.Enabled)
	defer stopEcho()

	server := control.NewServer(socketPath(dir, cfg))
	registerControlHandlers(server, orch, reg, cfg)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	defer server.Stop()

	stopSignals := watchSignals(cancel, orch, out)
	defer stopSignals()

	err = orch.Run(ctx)
	summary := orch.Status()
	switch {
	case err == nil:
		fmt.Fprintf(out, "\nSession %s complete: %d/%d sections approved", summary.SessionID, summary.TasksCompleted, summary.TotalTasks)
		if summary.TasksErrored > 0 {
			fmt.Fprintf(out, ", %d errored", summary.TasksErrored)
		}
		fmt.Fprintln(out, ".")
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(out, "\nSession %s paused at %d/%d sections. Resume with: scriptorium run --session %s\n",
			summary.SessionID, summary.TasksCompleted, summary.TotalTasks, summary.SessionID)
		return nil
	default:
		return err
	}
}

// openSessionLog appends to logs/session.log inside the project
// directory. One file across sessions; entries carry the session id.
func openSessionLog(dir string) (*log.Logger, func(), error) {
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "session.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open session log: %w", err)
	}
	// No flags: orchestrator log lines carry their own timestamps.
	return log.New(f, "", 0), func() { f.Close() }, nil
}

// echoProgress mirrors transcript entries onto the terminal and raises
// desktop notifications on session milestones.
func echoProgress(bus *events.Bus, reg *roster.Roster, out io.Writer, notifyEnabled bool) func() {
	str := func(data map[string]interface{}, key string) string {
		s, _ := data[key].(string)
		return s
	}

	unsubTranscript := bus.Subscribe(events.EventTranscript, func(e events.Event) {
		entry := transcript.Entry{
			From:      str(e.Data, "from"),
			To:        str(e.Data, "to"),
			Text:      str(e.Data, "text"),
			Kind:      transcript.Kind(str(e.Data, "kind")),
			Timestamp: e.Timestamp,
		}
		fmt.Fprint(out, render.Entry(entry, reg))
	})
	unsubStatus := bus.Subscribe(events.EventSessionStatus, func(e events.Event) {
		if !notifyEnabled {
			return
		}
		switch model.SessionStatus(str(e.Data, "status")) {
		case model.SessionComplete:
			_ = notify.Send("Scriptorium", "Session complete.")
		case model.SessionPaused:
			_ = notify.Send("Scriptorium", "Session paused.")
		case model.SessionError:
			_ = notify.Send("Scriptorium", "Session failed.")
		}
	})
	return func() {
		unsubTranscript()
		unsubStatus()
	}
}

// registerControlHandlers wires the live orchestrator behind the unix
// socket API. Ask blocks on a generation round trip, so the connection
// timeout must outlive one.
func registerControlHandlers(server *control.Server, orch *orchestrator.Orchestrator, reg *roster.Roster, cfg model.Config) {
	askTimeout := askClientTimeout(cfg)
	server.SetConnTimeout(askTimeout)

	server.Handle(control.CommandStatus, func(req *control.Request) *control.Response {
		return control.SuccessResponse(orch.Status())
	})
	server.Handle(control.CommandPause, func(req *control.Request) *control.Response {
		if !orch.Pause() {
			return control.ErrorResponse(control.ErrCodeConflict, "session is already paused")
		}
		return control.SuccessResponse(map[string]string{"status": "pause_requested"})
	})
	server.Handle(control.CommandResume, func(req *control.Request) *control.Response {
		if !orch.Resume() {
			return control.ErrorResponse(control.ErrCodeConflict, "session is not paused")
		}
		return control.SuccessResponse(map[string]string{"status": "resumed"})
	})
	server.Handle(control.CommandAsk, func(req *control.Request) *control.Response {
		var params control.AskParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return control.ErrorResponse(control.ErrCodeValidation, "malformed ask params: "+err.Error())
			}
		}
		if params.WorkerID == "" || strings.TrimSpace(params.Question) == "" {
			return control.ErrorResponse(control.ErrCodeValidation, "worker_id and question are required")
		}
		if _, ok := reg.Worker(params.WorkerID); !ok {
			return control.ErrorResponse(control.ErrCodeNotFound, fmt.Sprintf("unknown worker %q", params.WorkerID))
		}
		ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
		defer cancel()
		answer, err := orch.AskWorker(ctx, params.WorkerID, params.Question)
		if err != nil {
			return control.ErrorResponse(control.ErrCodeInternal, err.Error())
		}
		return control.SuccessResponse(control.AskResult{WorkerID: params.WorkerID, Answer: answer})
	})
}

// watchSignals pauses the session on the first interrupt and cancels
// outright on the second.
func watchSignals(cancel context.CancelFunc, orch *orchestrator.Orchestrator, out io.Writer) func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if _, ok := <-ch; !ok {
			return
		}
		fmt.Fprintln(out, "\nInterrupt: pausing after the current step. Interrupt again to stop now.")
		orch.Pause()
		if _, ok := <-ch; !ok {
			return
		}
		cancel()
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
	}
}
