package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/tixrag/internal/ingestion"
	"github.com/54b3r/tixrag/internal/logging"
	"github.com/54b3r/tixrag/internal/rag"
)

// NewUpsertCmd constructs the `tixrag upsert` command, which creates or
// replaces a single ticket.
func NewUpsertCmd() *cobra.Command {
	var ticket rag.Ticket
	var contributors []string

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or replace one ticket",
		Long: `Embed one ticket and write it to the record store, replacing any existing
ticket with the same id. Running it twice with the same values leaves a
single record.

Examples:
  tixrag upsert --id T1 --title "VPN drops" --description "VPN disconnects every 5 minutes" \
      --status resolved --contributor "Alice=Reset adapter"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			for _, raw := range contributors {
				c, err := ingestion.ParseContributor(raw)
				if err != nil {
					return fmt.Errorf("upsert: %w", err)
				}
				ticket.Contributors = append(ticket.Contributors, c)
			}

			c, err := openCorpus(ctx, log)
			if err != nil {
				return fmt.Errorf("upsert: %w", err)
			}
			defer func() { _ = c.Close() }()

			pipeline, err := c.pipeline(nil)
			if err != nil {
				return fmt.Errorf("upsert: %w", err)
			}
			if err := pipeline.Upsert(ctx, ticket); err != nil {
				return fmt.Errorf("upsert: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Ticket %s upserted.\n", ticket.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&ticket.ID, "id", "", "Ticket id")
	cmd.Flags().StringVar(&ticket.Title, "title", "", "Ticket title")
	cmd.Flags().StringVar(&ticket.Description, "description", "", "Ticket description")
	cmd.Flags().StringVar(&ticket.Status, "status", "", "Ticket status (free text)")
	cmd.Flags().StringArrayVar(&contributors, "contributor", nil, `Contributor as "Name=Action" (repeatable, order kept)`)
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("description")

	return cmd
}
