package rag

import (
	"fmt"
	"strings"
)

// NoMatchesContext is returned by FormatContext for an empty result so the
// generation step always receives non-empty guidance.
const NoMatchesContext = "No relevant tickets found."

// FormatMatch renders one case block for m.
func FormatMatch(m Match) string {
	contributors := DecodeContributors(m.Metadata[MetaContributors])
	pairs := make([]string, 0, len(contributors))
	for _, c := range contributors {
		pairs = append(pairs, c.Name+": "+c.Action)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ID: %s\n", m.ID)
	fmt.Fprintf(&sb, "Title: %s\n", m.Metadata[MetaTitle])
	fmt.Fprintf(&sb, "Description: %s\n", m.Document)
	fmt.Fprintf(&sb, "Contributors: [%s]\n", strings.Join(pairs, ", "))
	fmt.Fprintf(&sb, "Status: %s\n", m.Metadata[MetaStatus])
	sb.WriteString("----\n")
	return sb.String()
}

// FormatContext renders the ranked matches as consecutive case blocks, or
// NoMatchesContext when there are none.
func FormatContext(matches []Match) string {
	if len(matches) == 0 {
		return NoMatchesContext
	}
	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(FormatMatch(m))
	}
	return sb.String()
}
