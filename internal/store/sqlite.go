// Package store provides SQL-backed ticket record stores (SQLite for local,
// single-host use and Postgres with pgvector for shared deployments) and the
// SQLite guide history used by the CLI and HTTP server.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/tixrag/internal/rag"
)

// Guide is a previously generated troubleshooting guide.
type Guide struct {
	// Query is the operator's question.
	Query string
	// Text is the generated guide.
	Text string
	// CreatedAt is when the guide was persisted.
	CreatedAt time.Time
}

// GuideHistory persists generated guides on behalf of callers.
// Implementations must be safe for concurrent use.
type GuideHistory interface {
	// Append persists a single guide.
	Append(ctx context.Context, query, text string) error
	// Recent returns up to n guides, newest first.
	Recent(ctx context.Context, n int) ([]Guide, error)
	// Close releases any resources held by the history.
	Close() error
}

// SQLiteStore is a rag.VectorStore and GuideHistory backed by a local SQLite
// database. Similarity search is exact: every stored embedding is scored
// against the query in Go.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns ~/.tixrag/<name>, creating the directory if needed.
func DefaultDBPath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".tixrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, name), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tickets (
    id         TEXT    PRIMARY KEY,
    document   TEXT    NOT NULL,
    metadata   TEXT    NOT NULL,  -- JSON object of string values
    embedding  BLOB    NOT NULL,  -- little-endian float32
    updated_at INTEGER NOT NULL   -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS guides (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    query      TEXT    NOT NULL,
    guide      TEXT    NOT NULL,
    created_at INTEGER NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Add inserts rec, failing with rag.ErrDuplicateID if the id exists.
func (s *SQLiteStore) Add(ctx context.Context, rec rag.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("store: add %q: encode metadata: %w", rec.ID, err)
	}
	const q = `INSERT INTO tickets (id, document, metadata, embedding, updated_at)
VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, rec.ID, rec.Document, string(meta), encodeVector(rec.Embedding), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: add %q: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: add %q: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("store: add %q: %w", rec.ID, rag.ErrDuplicateID)
	}
	return nil
}

// Upsert inserts rec or replaces the stored row with the same id. The row
// keeps its original position for tie-breaking in Query.
func (s *SQLiteStore) Upsert(ctx context.Context, rec rag.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("store: upsert %q: encode metadata: %w", rec.ID, err)
	}
	const q = `INSERT INTO tickets (id, document, metadata, embedding, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    document   = excluded.document,
    metadata   = excluded.metadata,
    embedding  = excluded.embedding,
    updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, rec.ID, rec.Document, string(meta), encodeVector(rec.Embedding), time.Now().Unix()); err != nil {
		return fmt.Errorf("store: upsert %q: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*rag.Record, error) {
	const q = `SELECT document, metadata, embedding FROM tickets WHERE id = ?`
	var doc, meta string
	var blob []byte
	err := s.db.QueryRowContext(ctx, q, id).Scan(&doc, &meta, &blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: get %q: %w", id, rag.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", id, err)
	}
	rec := &rag.Record{ID: id, Document: doc, Embedding: decodeVector(blob)}
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("store: get %q: decode metadata: %w", id, err)
	}
	return rec, nil
}

// Query scores every stored record against embedding and returns the n
// nearest by cosine distance. Ties keep insertion order.
func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, n int) ([]rag.Match, error) {
	const q = `SELECT id, document, metadata, embedding FROM tickets ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var matches []rag.Match
	for rows.Next() {
		var m rag.Match
		var meta string
		var blob []byte
		if err := rows.Scan(&m.ID, &m.Document, &meta, &blob); err != nil {
			return nil, fmt.Errorf("store: query scan: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("store: query: decode metadata of %q: %w", m.ID, err)
		}
		m.Distance = rag.CosineDistance(embedding, decodeVector(blob))
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query rows: %w", err)
	}
	return rag.RankMatches(matches, n), nil
}

// Count returns the number of stored tickets.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Append persists a generated guide.
func (s *SQLiteStore) Append(ctx context.Context, query, text string) error {
	const q = `INSERT INTO guides (query, guide, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, query, text, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append guide: %w", err)
	}
	return nil
}

// Recent returns the most recent n guides, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Guide, error) {
	const q = `SELECT query, guide, created_at FROM guides ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var guides []Guide
	for rows.Next() {
		var g Guide
		var ts int64
		if err := rows.Scan(&g.Query, &g.Text, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		g.CreatedAt = time.Unix(ts, 0)
		guides = append(guides, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return guides, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	return closeDB(s.db)
}

// closeDB closes a store's database handle.
func closeDB(db io.Closer) error {
	if err := db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
