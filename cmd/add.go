package cmd

import (
	"github.com/spf13/cobra"

	"github.com/newsharvest/crawld/internal/admission"
)

// newAddCmd creates the 'add' subcommand for registering a crawl source.
func newAddCmd() *cobra.Command {
	var (
		selectors []string
		category  string
	)

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Register a news source and seed its first crawl job",
		Long: `Registers a source site and queues its front page. The content
selectors tell the extractor where article text lives on that site, for
example "div.article-body". Every page discovered from the source inherits
the same selectors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			admitter := admission.New(store, store, logger)
			if err := admitter.AddSource(cmd.Context(), args[0], selectors, category); err != nil {
				return err
			}
			cmd.Printf("Source %s registered\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&selectors, "selectors", "s", nil,
		"CSS selectors for article content (required, repeatable)")
	cmd.Flags().StringVarP(&category, "category", "c", "",
		"source category (default \"general\")")
	_ = cmd.MarkFlagRequired("selectors")

	return cmd
}
