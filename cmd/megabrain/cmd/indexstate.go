package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/olexmal/megabrain/internal/indexstate"
)

func newIndexStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index-state",
		Short: "Inspect and update per-repository indexing progress",
	}

	cmd.AddCommand(newIndexStateFindCmd())
	cmd.AddCommand(newIndexStateSaveCmd())
	cmd.AddCommand(newIndexStateDeleteCmd())

	return cmd
}

func newIndexStateFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <repository-url>",
		Short: "Print the last-indexed commit and timestamp for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackends()
			if err != nil {
				return err
			}
			defer b.Close()

			state, ok, err := b.State.Find(args[0])
			if err != nil {
				return printSearchError(cmd, err)
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "no index state for %s\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "repository: %s\ncommit:     %s\nindexed_at: %s\n",
				state.RepositoryURL, state.LastIndexedCommitSHA, state.LastIndexedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newIndexStateSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <repository-url> <commit-sha>",
		Short: "Record that a repository has been indexed at a given commit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackends()
			if err != nil {
				return err
			}
			defer b.Close()

			_, err = b.State.Save(indexstate.State{
				RepositoryURL:        args[0],
				LastIndexedCommitSHA: args[1],
				LastIndexedAt:        time.Now(),
			})
			if err != nil {
				return printSearchError(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "saved")
			return nil
		},
	}
}

func newIndexStateDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <repository-url>",
		Short: "Remove indexing progress for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackends()
			if err != nil {
				return err
			}
			defer b.Close()

			existed, err := b.State.Delete(args[0])
			if err != nil {
				return printSearchError(cmd, err)
			}
			if existed {
				fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to delete")
			}
			return nil
		},
	}
}
