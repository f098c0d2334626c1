package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scriptorium-ai/scriptorium/internal/control"
)

func newPauseCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the running session after the current step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cfg, err := project()
			if err != nil {
				return err
			}
			client := control.NewClient(socketPath(dir, cfg))
			resp, err := client.SendCommand(control.CommandPause, nil)
			if err != nil {
				return err
			}
			if !resp.Success {
				return errors.New(resp.Error.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Pause requested. The session parks once the current step finishes.")
			return nil
		},
	}
}
