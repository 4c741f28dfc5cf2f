package ingestion

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/tixrag/internal/rag"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantIDs   []string
		wantErr   string
		malformed bool
	}{
		{
			name: "valid batch",
			input: `[
				{"id":"T1","title":"VPN drops","description":"VPN disconnects every 10 minutes","status":"closed",
				 "contributors":[{"contributor_name":"Alice","action_taken":"Reset adapter"}]},
				{"id":"T2","title":"Printer offline","description":"Office printer shows offline","status":"open"}
			]`,
			wantIDs: []string{"T1", "T2"},
		},
		{
			name:    "empty array",
			input:   `[]`,
			wantIDs: []string{},
		},
		{
			name: "missing description rejects whole batch",
			input: `[
				{"id":"T1","title":"a","description":"b","status":"open"},
				{"id":"T2","title":"c","status":"open"}
			]`,
			wantErr:   "description",
			malformed: true,
		},
		{
			name:      "blank id",
			input:     `[{"id":" ","title":"a","description":"b","status":"open"}]`,
			wantErr:   "id must not be blank",
			malformed: true,
		},
		{
			name:      "contributors not a list",
			input:     `[{"id":"T1","title":"a","description":"b","status":"open","contributors":"Alice"}]`,
			wantErr:   "contributors",
			malformed: true,
		},
		{
			name:      "not an array",
			input:     `{"id":"T1"}`,
			wantErr:   "decode ticket array",
			malformed: true,
		},
		{
			name:      "entry not an object",
			input:     `[42]`,
			wantErr:   "not a ticket object",
			malformed: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode(strings.NewReader(tc.input))
			if tc.wantErr != "" {
				if err == nil {
					t.Fatalf("Decode() expected error containing %q, got nil", tc.wantErr)
				}
				if !strings.Contains(err.Error(), tc.wantErr) {
					t.Errorf("Decode() error = %q, want substring %q", err.Error(), tc.wantErr)
				}
				if tc.malformed && !errors.Is(err, rag.ErrMalformedInput) {
					t.Errorf("Decode() error does not match ErrMalformedInput: %v", err)
				}
				if got != nil {
					t.Errorf("Decode() returned %d tickets alongside an error", len(got))
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() unexpected error: %v", err)
			}
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("Decode() returned %d tickets, want %d", len(got), len(tc.wantIDs))
			}
			for i, id := range tc.wantIDs {
				if got[i].ID != id {
					t.Errorf("ticket[%d].ID = %q, want %q", i, got[i].ID, id)
				}
				if got[i].Contributors == nil {
					t.Errorf("ticket[%d].Contributors is nil, want empty slice", i)
				}
			}
		})
	}
}

func TestDecode_KeepsContributorOrder(t *testing.T) {
	t.Parallel()
	got, err := Decode(strings.NewReader(`[{"id":"T1","title":"a","description":"b","status":"open",
		"contributors":[{"contributor_name":"Bob","action_taken":"Escalated"},{"contributor_name":"Alice","action_taken":"Fixed"}]}]`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	cs := got[0].Contributors
	if len(cs) != 2 || cs[0].Name != "Bob" || cs[1].Action != "Fixed" {
		t.Errorf("Contributors = %+v, want Bob then Alice", cs)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tickets.json")
	if err := os.WriteFile(path, []byte(`[{"id":"T9","title":"t","description":"d","status":"open"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "T9" {
		t.Errorf("LoadFile() = %+v", got)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadFile() expected error for missing file, got nil")
	}
}

func TestParseContributor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    rag.Contributor
		wantErr bool
	}{
		{in: "Alice=Reset adapter", want: rag.Contributor{Name: "Alice", Action: "Reset adapter"}},
		{in: " Bob = Replaced cable ", want: rag.Contributor{Name: "Bob", Action: "Replaced cable"}},
		{in: "Carol=", want: rag.Contributor{Name: "Carol"}},
		{in: "no separator", wantErr: true},
		{in: "=orphan action", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseContributor(tc.in)
			if tc.wantErr {
				if !errors.Is(err, rag.ErrMalformedInput) {
					t.Errorf("ParseContributor(%q) error = %v, want ErrMalformedInput", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseContributor(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseContributor(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}
