package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scriptorium-ai/scriptorium/internal/control"
)

func newResumeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cfg, err := project()
			if err != nil {
				return err
			}
			client := control.NewClient(socketPath(dir, cfg))
			resp, err := client.SendCommand(control.CommandResume, nil)
			if err != nil {
				return err
			}
			if !resp.Success {
				return errors.New(resp.Error.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session resumed.")
			return nil
		},
	}
}
