package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/tixrag/internal/ingestion"
	"github.com/54b3r/tixrag/internal/logging"
)

// ingestOptions holds the flags of `tixrag ingest` and the root --ingest trigger.
type ingestOptions struct {
	// file is the JSON ticket array to read.
	file string
	// strict rejects ticket ids that are already stored.
	strict bool
	// workers bounds concurrent embedding calls.
	workers int
	// asJSON prints the report as JSON.
	asJSON bool
}

// NewIngestCmd constructs the `tixrag ingest` command, which embeds a JSON
// array of tickets and writes them to the record store.
func NewIngestCmd() *cobra.Command {
	opts := &ingestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed and store a JSON file of tickets",
		Long: `Read a JSON array of tickets and write each one to the record store keyed
by its id, with the embedding of "<title>: <description>".

Each entry needs id, title, description and status; contributors is an
optional list of {contributor_name, action_taken}. A malformed entry fails
the whole run before anything is written. Embedding or store failures are
reported per ticket and the command exits non-zero if any ticket failed.

By default re-ingesting an id overwrites it. --strict rejects ids that are
already stored instead. On the qdrant backend the check and the write are
separate calls, so two concurrent ingests (or API writes) of the same new id
can both succeed; the sqlite and postgres backends enforce it atomically.

Examples:
  tixrag ingest --file tickets.json
  tixrag ingest --file tickets.json --workers 4
  TIXRAG_STORE=qdrant tixrag ingest --file tickets.json --strict`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON file holding an array of tickets")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail tickets whose id is already stored instead of overwriting them (not atomic on qdrant under concurrent writers)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", ingestion.DefaultWorkers, "Concurrent embedding calls")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the ingestion report as JSON")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// runIngest loads opts.file and ingests it into the configured store.
func runIngest(cmd *cobra.Command, opts *ingestOptions) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)

	tickets, err := ingestion.LoadFile(opts.file)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	c, err := openCorpus(ctx, log)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	defer func() { _ = c.Close() }()

	pipeline, err := c.pipeline(&ingestion.Config{Workers: opts.workers, Strict: opts.strict})
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	log.Info("starting ingestion",
		slog.String("file", opts.file),
		slog.Int("tickets", len(tickets)),
		slog.String("store", c.backend),
		slog.Bool("strict", opts.strict),
	)
	report, ingestErr := pipeline.Ingest(ctx, tickets, func(msg string) {
		log.Debug(msg)
	})
	if report != nil {
		if err := printReport(cmd.OutOrStdout(), report, opts.asJSON); err != nil {
			return err
		}
	}
	if ingestErr != nil {
		return fmt.Errorf("ingest: %w", ingestErr)
	}
	return nil
}

// printReport writes report as JSON or as a human-readable summary.
func printReport(w io.Writer, report *ingestion.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("ingest: encode report: %w", err)
		}
		return nil
	}
	fmt.Fprintf(w, "Ingested %d of %d tickets.\n", report.Succeeded, report.Total)
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  %s failed at %s stage: %s\n", f.ID, f.Stage, f.Error)
	}
	return nil
}
