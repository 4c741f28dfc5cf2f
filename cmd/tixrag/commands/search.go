package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/tixrag/internal/logging"
	"github.com/54b3r/tixrag/internal/rag"
)

// searchOptions holds the flags of `tixrag search` and the root --search trigger.
type searchOptions struct {
	// query is the free-text problem description.
	query string
	// n is the number of matches; zero uses TIXRAG_TOP_K.
	n int
	// asJSON prints the matches as JSON.
	asJSON bool
}

// searchHit is the JSON rendering of one match.
type searchHit struct {
	ID           string            `json:"id"`
	Distance     float32           `json:"distance"`
	Document     string            `json:"document"`
	Metadata     map[string]string `json:"metadata"`
	Contributors []rag.Contributor `json:"contributors"`
}

// NewSearchCmd constructs the `tixrag search` command, which prints the stored
// tickets most similar to a query.
func NewSearchCmd() *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Print the tickets most similar to a query",
		Long: `Embed the query and print the nearest stored tickets, most similar first,
with their cosine distance (lower is more similar). An empty store prints
"No relevant tickets found." and is not an error.

Examples:
  tixrag search "VPN keeps disconnecting"
  tixrag search -n 5 --json "printer offline on floor 3"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.query = strings.Join(args, " ")
			return runSearch(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.n, "results", "n", 0, "Number of tickets to return (default: $TIXRAG_TOP_K or 3)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print matches as JSON")

	return cmd
}

// runSearch retrieves and prints the matches for opts.query.
func runSearch(cmd *cobra.Command, opts *searchOptions) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)

	c, err := openCorpus(ctx, log)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	defer func() { _ = c.Close() }()

	matches, err := c.retriever.Search(ctx, opts.query, opts.n)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return printMatches(cmd.OutOrStdout(), matches, opts.asJSON)
}

// printMatches writes matches as JSON or as ranked case blocks.
func printMatches(w io.Writer, matches []rag.Match, asJSON bool) error {
	if asJSON {
		hits := make([]searchHit, 0, len(matches))
		for _, m := range matches {
			hits = append(hits, searchHit{
				ID:           m.ID,
				Distance:     m.Distance,
				Document:     m.Document,
				Metadata:     m.Metadata,
				Contributors: rag.DecodeContributors(m.Metadata[rag.MetaContributors]),
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(hits); err != nil {
			return fmt.Errorf("search: encode matches: %w", err)
		}
		return nil
	}

	if len(matches) == 0 {
		fmt.Fprintln(w, rag.NoMatchesContext)
		return nil
	}
	for i, m := range matches {
		fmt.Fprintf(w, "#%d distance=%.4f\n%s", i+1, m.Distance, rag.FormatMatch(m))
	}
	return nil
}
