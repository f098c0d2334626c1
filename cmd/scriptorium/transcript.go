package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scriptorium-ai/scriptorium/internal/render"
	"github.com/scriptorium-ai/scriptorium/internal/store"
	"github.com/scriptorium-ai/scriptorium/internal/transcript"
)

func newTranscriptCommand(app *App) *cobra.Command {
	var (
		sessionID string
		tail      int
		verify    bool
	)

	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Print a session transcript",
		Long: "Read the stored transcript for a session (most recent by default)\n" +
			"and render it with speaker names from the roster.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cfg, err := project()
			if err != nil {
				return err
			}
			st := store.NewFileStore(storeRoot(dir, cfg), nil)
			defer st.Close()

			id := sessionID
			if id == "" {
				ids, err := st.ListSessions()
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					return errors.New("no sessions found")
				}
				id = ids[0]
			}

			path := st.TranscriptPath(id)
			if verify {
				total, valid, err := transcript.Verify(path)
				if err != nil {
					if errors.Is(err, os.ErrNotExist) {
						return fmt.Errorf("no transcript for session %s", id)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d entries verified\n", valid, total)
				if valid != total {
					return fmt.Errorf("transcript for session %s has altered entries", id)
				}
				return nil
			}

			entries, err := transcript.ReadAll(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("no transcript for session %s", id)
				}
				return err
			}
			if tail > 0 && len(entries) > tail {
				entries = entries[len(entries)-tail:]
			}
			fmt.Fprint(cmd.OutOrStdout(), render.Transcript(entries, loadRosterQuiet(dir)))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (defaults to the most recent)")
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "only print the last n entries")
	cmd.Flags().BoolVar(&verify, "verify", false, "check entry checksums instead of printing")
	return cmd
}
