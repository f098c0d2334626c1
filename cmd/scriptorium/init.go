package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scriptorium-ai/scriptorium/internal/setup"
)

func newInitCommand(app *App) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a " + setup.Dir + " project directory",
		Long: "Create a " + setup.Dir + " directory with a starter config, workflow,\n" +
			"roster, dataset and prompt templates. Edit those files, then start\n" +
			"a session with 'scriptorium run'.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := setup.Run(dir, name); err != nil {
				return err
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				abs = dir
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s in %s\n", setup.Dir, abs)
			fmt.Fprintln(cmd.OutOrStdout(), "Review workflow.yaml and roster.yaml, then run: scriptorium run")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (defaults to the directory name)")
	return cmd
}
