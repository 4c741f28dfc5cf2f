package rag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/54b3r/tixrag/internal/rag"
	"github.com/54b3r/tixrag/internal/rag/ragtest"
)

// seed writes tickets into a fresh MemStore using the HashEmbedder.
func seed(t *testing.T, emb *ragtest.HashEmbedder, tickets ...rag.Ticket) *ragtest.MemStore {
	t.Helper()
	s := &ragtest.MemStore{}
	for _, tk := range tickets {
		rec, err := tk.ToRecord(ragtest.Vector(tk.EmbeddingText()))
		if err != nil {
			t.Fatalf("ToRecord(%s): %v", tk.ID, err)
		}
		if err := s.Add(context.Background(), rec); err != nil {
			t.Fatalf("Add(%s): %v", tk.ID, err)
		}
	}
	return s
}

func TestNewRetriever_NilDependencies(t *testing.T) {
	t.Parallel()
	if _, err := rag.NewRetriever(nil, &ragtest.MemStore{}, 0); err == nil {
		t.Error("NewRetriever(nil embedder) expected error")
	}
	if _, err := rag.NewRetriever(&ragtest.HashEmbedder{}, nil, 0); err == nil {
		t.Error("NewRetriever(nil store) expected error")
	}
}

func TestSearch_VPNQueryFindsVPNTicket(t *testing.T) {
	t.Parallel()
	emb := &ragtest.HashEmbedder{}
	r, err := rag.NewRetriever(emb, seed(t, emb, ragtest.VPNTicket, ragtest.PrinterTicket), 0)
	if err != nil {
		t.Fatal(err)
	}

	matches, err := r.Search(context.Background(), "VPN keeps disconnecting", 1)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "T1" {
		t.Fatalf("Search() = %+v, want [T1]", matches)
	}
}

func TestSearch_ResultCount(t *testing.T) {
	t.Parallel()
	emb := &ragtest.HashEmbedder{}
	extra := rag.Ticket{ID: "T3", Title: "Laptop slow", Description: "Laptop boots slowly", Status: "open"}
	extra2 := rag.Ticket{ID: "T4", Title: "Email bounce", Description: "Outbound mail bounces", Status: "closed"}
	store := seed(t, emb, ragtest.VPNTicket, ragtest.PrinterTicket, extra, extra2)

	tests := []struct {
		name     string
		defaultN int
		n        int
		want     int
	}{
		{name: "explicit n", n: 2, want: 2},
		{name: "zero uses package default", n: 0, want: rag.DefaultNResults},
		{name: "negative uses configured default", defaultN: 1, n: -5, want: 1},
		{name: "n larger than store", n: 10, want: 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, err := rag.NewRetriever(emb, store, tc.defaultN)
			if err != nil {
				t.Fatal(err)
			}
			matches, err := r.Search(context.Background(), "printer offline", tc.n)
			if err != nil {
				t.Fatalf("Search() error: %v", err)
			}
			if len(matches) != tc.want {
				t.Errorf("Search() returned %d matches, want %d", len(matches), tc.want)
			}
			for i := 1; i < len(matches); i++ {
				if matches[i].Distance < matches[i-1].Distance {
					t.Errorf("matches not ordered by distance at %d: %v < %v", i, matches[i].Distance, matches[i-1].Distance)
				}
			}
		})
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	t.Parallel()
	r, err := rag.NewRetriever(&ragtest.HashEmbedder{}, &ragtest.MemStore{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	matches, err := r.Search(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("Search() on empty store error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Search() on empty store = %+v, want none", matches)
	}
}

func TestSearch_Failures(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		ctx       context.Context
		emb       rag.Embedder
		store     rag.VectorStore
		wantKind  error
		wantStage rag.Stage
	}{
		{
			name:      "embedding failure is not an empty result",
			ctx:       context.Background(),
			emb:       &ragtest.HashEmbedder{FailOn: []string{"VPN"}},
			store:     &ragtest.MemStore{},
			wantKind:  rag.ErrEmbedding,
			wantStage: rag.StageEmbedding,
		},
		{
			name:      "store failure",
			ctx:       context.Background(),
			emb:       &ragtest.HashEmbedder{},
			store:     &ragtest.MemStore{QueryErr: errors.New("connection refused")},
			wantKind:  rag.ErrStore,
			wantStage: rag.StageStore,
		},
		{
			name:      "canceled context",
			ctx:       canceled,
			emb:       &ragtest.HashEmbedder{},
			store:     &ragtest.MemStore{},
			wantKind:  rag.ErrCanceled,
			wantStage: rag.StageEmbedding,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, err := rag.NewRetriever(tc.emb, tc.store, 0)
			if err != nil {
				t.Fatal(err)
			}
			matches, err := r.Search(tc.ctx, "VPN keeps disconnecting", 1)
			if !errors.Is(err, tc.wantKind) {
				t.Fatalf("Search() error = %v, want %v", err, tc.wantKind)
			}
			if got := rag.StageOf(err); got != tc.wantStage {
				t.Errorf("StageOf() = %q, want %q", got, tc.wantStage)
			}
			if matches != nil {
				t.Errorf("Search() returned matches alongside error: %+v", matches)
			}
		})
	}
}
