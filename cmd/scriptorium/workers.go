package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scriptorium-ai/scriptorium/internal/render"
	"github.com/scriptorium-ai/scriptorium/internal/roster"
)

func newWorkersCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List the roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _, err := project()
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
			fmt.Fprint(cmd.OutOrStdout(), render.Workers(reg))
			return nil
		},
	}
}
