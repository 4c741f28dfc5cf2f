package rag

import (
	"encoding/json"
	"fmt"
)

// Metadata keys written for every ticket record.
const (
	MetaTitle        = "title"
	MetaDescription  = "description"
	MetaStatus       = "status"
	MetaContributors = "contributors"
)

// Contributor is one support engineer's involvement in a ticket.
type Contributor struct {
	// Name is the contributor's display name.
	Name string `json:"contributor_name"`
	// Action is what the contributor did on the ticket.
	Action string `json:"action_taken"`
}

// Ticket is an IT support case as supplied to ingestion.
type Ticket struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Status       string        `json:"status"`
	Contributors []Contributor `json:"contributors"`
}

// EmbeddingText is the canonical text embedded for a ticket, used by both the
// batch ingest and the single-record upsert paths.
func (t Ticket) EmbeddingText() string {
	return t.Title + ": " + t.Description
}

// EncodeContributors serialises contributors for storage as a metadata value.
// A nil slice encodes as "[]" so the field is always present.
func EncodeContributors(cs []Contributor) (string, error) {
	if cs == nil {
		cs = []Contributor{}
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return "", fmt.Errorf("rag: encode contributors: %w", err)
	}
	return string(b), nil
}

// DecodeContributors parses the stored contributors string. Empty or
// unparseable input yields an empty slice rather than an error.
func DecodeContributors(s string) []Contributor {
	if s == "" {
		return []Contributor{}
	}
	var cs []Contributor
	if err := json.Unmarshal([]byte(s), &cs); err != nil || cs == nil {
		return []Contributor{}
	}
	return cs
}

// ToRecord builds the store record for t from its embedding.
func (t Ticket) ToRecord(embedding []float32) (Record, error) {
	contributors, err := EncodeContributors(t.Contributors)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:       t.ID,
		Document: t.EmbeddingText(),
		Metadata: map[string]string{
			MetaTitle:        t.Title,
			MetaDescription:  t.Description,
			MetaStatus:       t.Status,
			MetaContributors: contributors,
		},
		Embedding: embedding,
	}, nil
}
