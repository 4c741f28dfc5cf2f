// Package commands defines all Cobra CLI commands for the tixrag binary.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/tixrag/internal/audit"
	"github.com/54b3r/tixrag/internal/config"
	"github.com/54b3r/tixrag/internal/logging"
)

// noActionMessage is printed when tixrag runs without a trigger flag.
const noActionMessage = "No action specified"

// noActionPolicy decides what a bare `tixrag` invocation does.
type noActionPolicy string

const (
	// noActionInfo prints noActionMessage and exits 0.
	noActionInfo noActionPolicy = "info"
	// noActionError fails with a usage error.
	noActionError noActionPolicy = "error"
)

// parseNoActionPolicy validates a TIXRAG_NO_ACTION or --no-action value.
// The empty string selects noActionInfo.
func parseNoActionPolicy(s string) (noActionPolicy, error) {
	switch p := noActionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return noActionInfo, nil
	case noActionInfo, noActionError:
		return p, nil
	default:
		return "", fmt.Errorf("invalid no-action policy %q: want info or error", s)
	}
}

// rootOptions holds the root command's flags.
type rootOptions struct {
	// configPath is the --config flag value for YAML config file override.
	configPath string
	// loadedConfigPath is the config file actually read, for audit logging.
	loadedConfigPath string
	// ingestFile is the legacy --ingest trigger.
	ingestFile string
	// searchQuery is the legacy --search trigger.
	searchQuery string
	// noAction overrides TIXRAG_NO_ACTION.
	noAction string
}

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "tixrag",
		Short: "tixrag: troubleshooting guides from similar helpdesk tickets",
		Long: `tixrag indexes historical IT helpdesk tickets by the embedding of their
title and description, retrieves the tickets most similar to a new problem
report, and asks a language model for a troubleshooting guide grounded in
how those tickets were resolved.

The embedding, chat model and record store backends are selected through
environment variables or a YAML config file (~/.tixrag/config.yaml).

Examples:
  tixrag --ingest tickets.json
  tixrag --search "VPN keeps disconnecting"
  tixrag ask "Outlook will not open after the update"
  tixrag serve --port 8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			boot := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(opts.configPath, boot)
			if err != nil {
				return err
			}
			opts.loadedConfigPath = path

			// LOG_* may have come from the file.
			log := logging.New()
			slog.SetDefault(log)
			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), opts.loadedConfigPath)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case opts.ingestFile != "":
				return runIngest(cmd, &ingestOptions{file: opts.ingestFile})
			case opts.searchQuery != "":
				return runSearch(cmd, &searchOptions{query: opts.searchQuery})
			}
			return runNoAction(cmd, opts.noAction)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to YAML config file (default: ~/.tixrag/config.yaml)")
	root.Flags().StringVar(&opts.ingestFile, "ingest", "", "Ingest the tickets in this JSON file")
	root.Flags().StringVar(&opts.searchQuery, "search", "", "Print the tickets most similar to this query")
	root.Flags().StringVar(&opts.noAction, "no-action", "", "Behaviour when no action is given: info or error (default: $TIXRAG_NO_ACTION or info)")
	root.MarkFlagsMutuallyExclusive("ingest", "search")

	root.AddCommand(
		NewIngestCmd(),
		NewUpsertCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewShowCmd(),
		NewHistoryCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}

// runNoAction applies the no-action policy. flag wins over TIXRAG_NO_ACTION.
func runNoAction(cmd *cobra.Command, flag string) error {
	raw := flag
	if raw == "" {
		raw = os.Getenv("TIXRAG_NO_ACTION")
	}
	policy, err := parseNoActionPolicy(raw)
	if err != nil {
		return err
	}
	if policy == noActionError {
		return fmt.Errorf("%s: use --ingest <file>, --search <query> or a subcommand (see tixrag --help)", strings.ToLower(noActionMessage))
	}
	fmt.Fprintln(cmd.OutOrStdout(), noActionMessage)
	return nil
}
