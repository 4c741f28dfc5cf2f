package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/54b3r/tixrag/internal/rag"
)

// rawTicket mirrors the ingestion input format with pointer fields so a
// missing key can be told apart from an empty value.
type rawTicket struct {
	ID           *string         `json:"id"`
	Title        *string         `json:"title"`
	Description  *string         `json:"description"`
	Status       *string         `json:"status"`
	Contributors json.RawMessage `json:"contributors"`
}

// Decode parses a JSON array of tickets. Every entry is checked before any
// is returned: if one or more entries are malformed the whole batch is
// rejected with an error matching rag.ErrMalformedInput that lists each bad
// entry.
func Decode(r io.Reader) ([]rag.Ticket, error) {
	var raws []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raws); err != nil {
		return nil, rag.NewStageError(rag.StageInput, "", fmt.Errorf("decode ticket array: %w", err))
	}

	tickets := make([]rag.Ticket, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		t, err := decodeOne(raw)
		if err != nil {
			errs = append(errs, rag.NewStageError(rag.StageInput, t.ID, fmt.Errorf("entry %d: %w", i, err)))
			continue
		}
		tickets = append(tickets, t)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return tickets, nil
}

// LoadFile reads and decodes a ticket file.
func LoadFile(path string) ([]rag.Ticket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: open %s: %w", path, err)
	}
	defer f.Close()

	tickets, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %s: %w", path, err)
	}
	return tickets, nil
}

// decodeOne converts one raw entry, returning whatever id it could read
// alongside any error so failures can be attributed.
func decodeOne(raw json.RawMessage) (rag.Ticket, error) {
	var rt rawTicket
	if err := json.Unmarshal(raw, &rt); err != nil {
		return rag.Ticket{}, fmt.Errorf("not a ticket object: %w", err)
	}

	var t rag.Ticket
	if rt.ID != nil {
		t.ID = *rt.ID
	}

	var missing []string
	for _, f := range []struct {
		name string
		val  *string
		dst  *string
	}{
		{"id", rt.ID, &t.ID},
		{"title", rt.Title, &t.Title},
		{"description", rt.Description, &t.Description},
		{"status", rt.Status, &t.Status},
	} {
		if f.val == nil {
			missing = append(missing, f.name)
			continue
		}
		*f.dst = *f.val
	}
	if len(missing) > 0 {
		return t, fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}

	cs, err := decodeContributors(rt.Contributors)
	if err != nil {
		return t, err
	}
	t.Contributors = cs

	if err := Validate(t); err != nil {
		return t, err
	}
	return t, nil
}

// decodeContributors accepts an absent or null field as no contributors.
func decodeContributors(raw json.RawMessage) ([]rag.Contributor, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return []rag.Contributor{}, nil
	}
	var cs []rag.Contributor
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("contributors: not a list of {contributor_name, action_taken}: %w", err)
	}
	if cs == nil {
		cs = []rag.Contributor{}
	}
	return cs, nil
}

// Validate checks the fields the pipeline depends on: a non-blank id to key
// the record and a non-blank description to embed.
func Validate(t rag.Ticket) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("id must not be blank")
	}
	if strings.TrimSpace(t.Description) == "" {
		return errors.New("description must not be blank")
	}
	return nil
}

// ParseContributor parses a "Name=Action" pair as accepted by the upsert
// command's --contributor flag.
func ParseContributor(s string) (rag.Contributor, error) {
	name, action, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return rag.Contributor{}, rag.NewStageError(rag.StageInput, "", fmt.Errorf("contributor %q: want Name=Action", s))
	}
	return rag.Contributor{Name: name, Action: strings.TrimSpace(action)}, nil
}
