package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scriptorium-ai/scriptorium/internal/control"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/orchestrator"
	"github.com/scriptorium-ai/scriptorium/internal/render"
	"github.com/scriptorium-ai/scriptorium/internal/store"
)

func newStatusCommand(app *App) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session progress",
		Long: "Query the running session over its control socket. Falls back to\n" +
			"the most recent stored session when nothing is running.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cfg, err := project()
			if err != nil {
				return err
			}

			client := control.NewClient(socketPath(dir, cfg))
			resp, err := client.SendCommand(control.CommandStatus, nil)
			if err != nil {
				if errors.Is(err, control.ErrNotRunning) {
					return storedStatus(cmd, dir, cfg, jsonOut)
				}
				return err
			}
			if !resp.Success {
				return fmt.Errorf("status: %s", resp.Error.Message)
			}
			if jsonOut {
				return printJSON(cmd, resp.Data)
			}
			var st orchestrator.Status
			if err := json.Unmarshal(resp.Data, &st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), render.Status(st, loadRosterQuiet(dir)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw status JSON")
	return cmd
}

// storedStatus reports the latest stored session when no control
// socket answers.
func storedStatus(cmd *cobra.Command, dir string, cfg model.Config, jsonOut bool) error {
	st := store.NewFileStore(storeRoot(dir, cfg), nil)
	defer st.Close()

	ids, err := st.ListSessions()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found. Start one with: scriptorium run")
		return nil
	}
	sess, err := st.LoadSession(ids[0])
	if err != nil {
		return err
	}
	status := orchestrator.Status{
		SessionID:      sess.SessionID,
		WorkflowName:   sess.WorkflowName,
		Status:         sess.Status,
		Phase:          sess.Phase,
		CurrentTaskID:  sess.CurrentTaskID,
		TasksCompleted: len(sess.CompletedIDs),
		TasksErrored:   len(sess.ErroredIDs),
		TotalTasks:     len(sess.TaskOrder),
		Paused:         sess.Status == model.SessionPaused,
	}
	if jsonOut {
		raw, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return printJSON(cmd, raw)
	}
	fmt.Fprint(cmd.OutOrStdout(), render.Status(status, loadRosterQuiet(dir)))
	fmt.Fprintln(cmd.OutOrStdout(), "(no session is running; showing stored state)")
	return nil
}
