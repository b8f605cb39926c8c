package cmd

import (
	"github.com/spf13/cobra"
)

// newRequeueCmd creates the 'requeue' subcommand for manual queue repair.
func newRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue",
		Short: "Return stuck processing jobs to the pending queue",
		Long: `Moves every job stuck in processing back to pending. The run command
does this automatically at startup; use this when a crashed instance left
jobs behind while others are still running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			requeued, err := store.RequeueStuckJobs(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Requeued %d jobs\n", requeued)
			return nil
		},
	}
}
