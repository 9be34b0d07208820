package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

// embedParallelism bounds concurrent embedding calls during Sync so a large
// backfill does not saturate the backend.
const embedParallelism = 4

const schema = `
CREATE TABLE IF NOT EXISTS vectors (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	embedding  TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vectors_kind ON vectors(kind);
`

// sqliteIndex persists vectors in a single sqlite database and answers
// queries with a brute-force cosine scan. Collection sizes here are small
// enough that a scan beats maintaining an ANN structure.
type sqliteIndex struct {
	eng    Engine
	db     *sql.DB
	logger *slog.Logger
}

// Open probes the engine, opens <dir>/vectors.db, and returns the index.
// Any failure logs one warning and returns the disabled index; the caller
// never has to handle an error.
func Open(ctx context.Context, dir string, eng Engine, logger *slog.Logger) Index {
	if eng == nil {
		return Disabled()
	}

	if hc, ok := eng.(HealthChecker); ok {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := hc.HealthCheck(probeCtx)
		cancel()
		if err != nil {
			logger.Warn("embedding backend unavailable, semantic search disabled",
				"engine", eng.Name(), "error", err)
			return Disabled()
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("cannot create vectors directory, semantic search disabled",
			"dir", dir, "error", err)
		return Disabled()
	}

	path := filepath.Join(dir, "vectors.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		logger.Warn("cannot open vector database, semantic search disabled",
			"path", path, "error", err)
		return Disabled()
	}
	for _, stmt := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			logger.Warn("cannot initialize vector database, semantic search disabled",
				"path", path, "error", err)
			return Disabled()
		}
	}

	logger.Info("vector index ready", "engine", eng.Name(), "path", path, "dimensions", eng.Dimensions())
	return &sqliteIndex{eng: eng, db: db, logger: logger}
}

func (s *sqliteIndex) Available() bool { return true }

func (s *sqliteIndex) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.eng.Embed(ctx, text)
}

func (s *sqliteIndex) Upsert(ctx context.Context, kind Kind, id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("refusing to store empty vector for %s", id)
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshaling vector for %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vectors (id, kind, embedding, updated_at) VALUES (?, ?, ?, ?)",
		id, string(kind), string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing vector for %s: %w", id, err)
	}
	return nil
}

func (s *sqliteIndex) Query(ctx context.Context, kind Kind, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding FROM vectors WHERE kind = ?", string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		var stored []float32
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			s.logger.Warn("skipping unreadable vector", "id", id, "error", err)
			continue
		}
		if c := Cosine(vec, stored); c > 0 {
			matches = append(matches, Match{ID: id, Cosine: c})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading vector rows: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Cosine != matches[j].Cosine {
			return matches[i].Cosine > matches[j].Cosine
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *sqliteIndex) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vectors WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting vector for %s: %w", id, err)
	}
	return nil
}

// Sync embeds entries the index has not seen and drops rows whose entity is
// gone. Embedding runs bounded-parallel; a backend failure aborts the sweep
// but keeps whatever was already stored.
func (s *sqliteIndex) Sync(ctx context.Context, entries []Entry) error {
	existing, err := s.ids(ctx)
	if err != nil {
		return err
	}

	want := make(map[string]struct{}, len(entries))
	var missing []Entry
	for _, e := range entries {
		want[e.ID] = struct{}{}
		if _, ok := existing[e.ID]; !ok {
			missing = append(missing, e)
		}
	}

	for id := range existing {
		if _, ok := want[id]; !ok {
			if err := s.Delete(ctx, id); err != nil {
				s.logger.Warn("vector orphan removal failed", "id", id, "error", err)
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)
	for _, e := range missing {
		e := e // per-iteration copy: go.mod targets go 1.21, before per-iteration loop vars
		g.Go(func() error {
			vec, err := s.eng.Embed(gctx, e.Text)
			if err != nil {
				return fmt.Errorf("embedding %s: %w", e.ID, err)
			}
			return s.Upsert(gctx, e.Kind, e.ID, vec)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("vector index synced", "embedded", len(missing), "total", len(entries))
	return nil
}

func (s *sqliteIndex) ids(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM vectors")
	if err != nil {
		return nil, fmt.Errorf("listing vector ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning vector id: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (s *sqliteIndex) Close() error { return s.db.Close() }
