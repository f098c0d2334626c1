package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scriptorium-ai/scriptorium/internal/control"
)

func newAskCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <worker-id> <question>",
		Short: "Ask a roster worker a question mid-session",
		Long: "Send a synchronous question to one worker of the running session.\n" +
			"The exchange lands in the session transcript. Everything after the\n" +
			"worker id is taken as the question, so no quoting is needed.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cfg, err := project()
			if err != nil {
				return err
			}
			workerID := args[0]
			question := strings.Join(args[1:], " ")

			client := control.NewClient(socketPath(dir, cfg))
			client.SetTimeout(askClientTimeout(cfg))
			resp, err := client.SendCommand(control.CommandAsk, control.AskParams{WorkerID: workerID, Question: question})
			if err != nil {
				return err
			}
			if !resp.Success {
				return errors.New(resp.Error.Message)
			}
			var result control.AskResult
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return fmt.Errorf("decode answer: %w", err)
			}
			name := result.WorkerID
			if reg := loadRosterQuiet(dir); reg != nil {
				name = reg.DisplayName(result.WorkerID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:\n%s\n", name, result.Answer)
			return nil
		},
	}
}
