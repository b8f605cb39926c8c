package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/newsharvest/crawld/internal/crawler"
)

// newStatusCmd creates the 'status' subcommand for inspecting the queue.
func newStatusCmd() *cobra.Command {
	var sourceURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show crawl queue statistics",
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

			var counts crawler.StatusCounts
			if sourceURL != "" {
				counts, err = store.SourceStatusCounts(cmd.Context(), sourceURL)
			} else {
				counts, err = store.StatusCounts(cmd.Context())
			}
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			if sourceURL != "" {
				t.SetTitle(sourceURL)
			}
			t.AppendHeader(table.Row{"Status", "Jobs"})
			t.AppendRows([]table.Row{
				{"pending", counts.Pending},
				{"processing", counts.Processing},
				{"done", counts.Done},
				{"failed", counts.Failed},
			})
			t.AppendFooter(table.Row{"total", counts.Total()})
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceURL, "source", "", "limit counts to one source URL")
	return cmd
}
