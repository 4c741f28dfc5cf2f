package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/tixrag/internal/logging"
	"github.com/54b3r/tixrag/internal/tracing"
)

// NewAskCmd constructs the `tixrag ask` command, which retrieves similar
// tickets for a problem description and streams a troubleshooting guide to
// stdout.
func NewAskCmd() *cobra.Command {
	var showTickets bool

	cmd := &cobra.Command{
		Use:   "ask [problem description]",
		Short: "Generate a troubleshooting guide from similar tickets",
		Long: `Retrieve the tickets most similar to the problem description, format them as
case blocks, and ask the configured chat model for a troubleshooting guide:
a short summary, prioritised steps, and when to escalate.

The guide is streamed to stdout and appended to the guide history unless
TIXRAG_HISTORY_DB=disabled.

Examples:
  tixrag ask "my VPN disconnects every few minutes"
  MODEL_PROVIDER=anthropic tixrag ask --tickets "Outlook crashes on start"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			flush := tracing.Install(tracing.ConfigFromEnv(), log)
			defer flush()

			c, err := openCorpus(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = c.Close() }()

			history, closeHistory := buildHistory(log)
			defer closeHistory()

			helpdesk, _, err := buildAgent(ctx, c.retriever, history, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			guide, err := helpdesk.Stream(ctx, strings.Join(args, " "), out)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out)

			if showTickets {
				fmt.Fprintln(out, "\nTickets consulted:")
				return printMatches(out, guide.Matches, false)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTickets, "tickets", false, "Also print the tickets the guide was based on")

	return cmd
}
