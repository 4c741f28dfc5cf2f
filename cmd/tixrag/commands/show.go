package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/tixrag/internal/logging"
	"github.com/54b3r/tixrag/internal/rag"
)

// NewShowCmd constructs the `tixrag show` command, which prints one stored
// ticket by id.
func NewShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Print a stored ticket by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			st, _, err := buildStore(ctx, log)
			if err != nil {
				return fmt.Errorf("show: %w", err)
			}
			defer func() { _ = st.Close() }()

			rec, err := st.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("show: %w", err)
			}
			m := rag.Match{ID: rec.ID, Document: rec.Document, Metadata: rec.Metadata}
			if asJSON {
				return printMatches(cmd.OutOrStdout(), []rag.Match{m}, true)
			}
			fmt.Fprint(cmd.OutOrStdout(), rag.FormatMatch(m))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the ticket as JSON")

	return cmd
}
