package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewHistoryCmd constructs the `tixrag history` command, which lists the most
// recently generated guides.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently generated guides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hs, err := openHistory()
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if hs == nil {
				return errors.New("history: disabled via TIXRAG_HISTORY_DB=disabled")
			}
			defer func() { _ = hs.Close() }()

			guides, err := hs.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(guides) == 0 {
				fmt.Fprintln(out, "No guides recorded yet.")
				return nil
			}
			for _, g := range guides {
				fmt.Fprintf(out, "[%s] %s\n%s\n\n", g.CreatedAt.Format(time.RFC3339), g.Query, g.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Number of guides to list")

	return cmd
}
