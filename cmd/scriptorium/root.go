package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/scriptorium-ai/scriptorium/internal/control"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/roster"
	"github.com/scriptorium-ai/scriptorium/internal/setup"
)

// App holds state shared by every subcommand.
type App struct {
	Version string
}

// NewRootCommand builds the scriptorium command tree.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:          "scriptorium",
		Short:        "Coordinate document production sessions run by LLM content workers",
		Version:      app.Version,
		SilenceUsage: true,
	}
	root.AddCommand(
		newInitCommand(app),
		newRunCommand(app),
		newStatusCommand(app),
		newPauseCommand(app),
		newResumeCommand(app),
		newAskCommand(app),
		newTranscriptCommand(app),
		newWorkersCommand(app),
		newVersionCommand(app),
	)
	return root
}

var errNoProject = errors.New("no " + setup.Dir + " directory found; run 'scriptorium init' first")

// project locates the nearest project directory, walking up from the
// working directory, and loads its config.
func project() (string, model.Config, error) {
	dir := setup.Find()
	if dir == "" {
		return "", model.Config{}, errNoProject
	}
	cfg, err := setup.LoadConfig(dir)
	if err != nil {
		return "", model.Config{}, err
	}
	return dir, cfg, nil
}

func socketPath(dir string, cfg model.Config) string {
	name := cfg.Control.SocketName
	if name == "" {
		name = control.DefaultSocketName
	}
	return filepath.Join(dir, name)
}

// storeRoot resolves where session state lives. Empty store.dir keeps
// it inside the project directory.
func storeRoot(dir string, cfg model.Config) string {
	if cfg.Store.Dir != "" {
		return cfg.Store.Dir
	}
	return dir
}

func inboxDir(dir string, cfg model.Config) string {
	if cfg.Inbox.Dir != "" {
		return cfg.Inbox.Dir
	}
	return filepath.Join(dir, "inbox")
}

// askClientTimeout covers a full generation round trip plus slack for
// queueing behind the current step.
func askClientTimeout(cfg model.Config) time.Duration {
	return time.Duration(cfg.Generation.TimeoutSec+30) * time.Second
}

// loadRosterQuiet returns nil when the roster cannot be read; callers
// fall back to raw worker ids.
func loadRosterQuiet(dir string) *roster.Roster {
	reg, err := roster.Load(filepath.Join(dir, "roster.yaml"))
	if err != nil {
		return nil
	}
	return reg
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), buf.String())
	return nil
}
