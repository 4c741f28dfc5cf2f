package store

import (
	"context"
	"errors"
	"testing"

	"github.com/54b3r/tixrag/internal/rag"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(id string, emb ...float32) rag.Record {
	return rag.Record{
		ID:       id,
		Document: "doc " + id,
		Metadata: map[string]string{
			rag.MetaTitle:        "title " + id,
			rag.MetaStatus:       "Resolved",
			rag.MetaContributors: "[]",
		},
		Embedding: emb,
	}
}

func Test_SQLiteStore_AddAndGet(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, testRecord("T1", 1, 0, 0.5)); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := s.Get(ctx, "T1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Document != "doc T1" {
		t.Errorf("document: want %q, got %q", "doc T1", got.Document)
	}
	if got.Metadata[rag.MetaTitle] != "title T1" {
		t.Errorf("title: want %q, got %q", "title T1", got.Metadata[rag.MetaTitle])
	}
	want := []float32{1, 0, 0.5}
	if len(got.Embedding) != len(want) {
		t.Fatalf("embedding length: want %d, got %d", len(want), len(got.Embedding))
	}
	for i := range want {
		if got.Embedding[i] != want[i] {
			t.Errorf("embedding[%d]: want %v, got %v", i, want[i], got.Embedding[i])
		}
	}
}

func Test_SQLiteStore_AddDuplicateFails(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, testRecord("T1", 1, 0)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := s.Add(ctx, testRecord("T1", 0, 1))
	if !errors.Is(err, rag.ErrDuplicateID) {
		t.Fatalf("second add: want ErrDuplicateID, got %v", err)
	}

	got, err := s.Get(ctx, "T1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Embedding[0] != 1 {
		t.Errorf("duplicate add must not overwrite: got embedding %v", got.Embedding)
	}
}

func Test_SQLiteStore_UpsertIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for range 3 {
		if err := s.Upsert(ctx, testRecord("T1", 1, 0)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count: want 1, got %d", n)
	}

	updated := testRecord("T1", 0, 1)
	updated.Document = "changed"
	if err := s.Upsert(ctx, updated); err != nil {
		t.Fatalf("upsert changed: %v", err)
	}
	got, err := s.Get(ctx, "T1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Document != "changed" {
		t.Errorf("document: want %q, got %q", "changed", got.Document)
	}
}

func Test_SQLiteStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, rag.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func Test_SQLiteStore_QueryOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	recs := []rag.Record{
		testRecord("far", 0, 1),
		testRecord("near", 1, 0.1),
		testRecord("tieA", 1, 1),
		testRecord("tieB", 1, 1),
	}
	for _, r := range recs {
		if err := s.Add(ctx, r); err != nil {
			t.Fatalf("add %s: %v", r.ID, err)
		}
	}

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{name: "all", n: 10, want: []string{"near", "tieA", "tieB", "far"}},
		{name: "top two", n: 2, want: []string{"near", "tieA"}},
		{name: "one", n: 1, want: []string{"near"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, []float32{1, 0}, tt.n)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("want %d matches, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("match[%d]: want %s, got %s", i, id, got[i].ID)
				}
			}
			for i := 1; i < len(got); i++ {
				if got[i].Distance < got[i-1].Distance {
					t.Errorf("distances not ascending at %d: %v < %v", i, got[i].Distance, got[i-1].Distance)
				}
			}
		})
	}
}

func Test_SQLiteStore_QueryEmptyStore(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	got, err := s.Query(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("want no matches, got %d", len(got))
	}
}

func Test_SQLiteStore_GuideHistory(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, q := range []string{"first", "second", "third"} {
		if err := s.Append(ctx, q, "guide for "+q); err != nil {
			t.Fatalf("append %s: %v", q, err)
		}
	}

	guides, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(guides) != 2 {
		t.Fatalf("want 2 guides, got %d", len(guides))
	}
	if guides[0].Query != "third" || guides[1].Query != "second" {
		t.Errorf("want newest first [third second], got [%s %s]", guides[0].Query, guides[1].Query)
	}
	if guides[0].Text != "guide for third" {
		t.Errorf("text: want %q, got %q", "guide for third", guides[0].Text)
	}
}

func Test_SQLiteStore_RecentEmpty(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	guides, err := s.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if guides != nil {
		t.Errorf("want nil slice for empty history, got %v", guides)
	}
}

func Test_VectorCodecRoundTrip(t *testing.T) {
	t.Parallel()
	in := []float32{0, -1.5, 3.25, 1e-7}
	out := decodeVector(encodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("length: want %d, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("[%d]: want %v, got %v", i, in[i], out[i])
		}
	}
}

type failingCloser struct{ err error }

func (f failingCloser) Close() error { return f.err }

func Test_CloseDB_WrapsError(t *testing.T) {
	t.Parallel()

	if err := closeDB(failingCloser{}); err != nil {
		t.Errorf("closeDB() = %v, want nil", err)
	}

	cause := errors.New("connection reset")
	err := closeDB(failingCloser{err: cause})
	if !errors.Is(err, cause) {
		t.Fatalf("closeDB() = %v, want it to wrap %v", err, cause)
	}
	if want := "store: close: connection reset"; err.Error() != want {
		t.Errorf("closeDB() = %q, want %q", err.Error(), want)
	}
}
