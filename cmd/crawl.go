// Package cmd defines and implements the CLI commands for the taped executable.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand: one full crawl, persisted to
// the configured snapshot backend.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the upstream once and persist the catalog snapshot",
		Long: `Runs the category and feed crawls once, classifies every cassette,
writes the snapshot to the configured backend and prints the cassette count.
A later "taped serve" starts from this snapshot without crawling.`,
		Annotations: map[string]string{annotationNeedsApp: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := app.Crawl(cmd.Context())
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			app.Logger().Info("crawl command finished", zap.Int("cassettes", n))
			fmt.Fprintf(cmd.OutOrStdout(), "%d cassettes\n", n)
			return nil
		},
	}
}
