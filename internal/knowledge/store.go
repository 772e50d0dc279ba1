package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"terrasite/internal/embedding"
	"terrasite/internal/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Hit pairs an entry with its cosine distance to a query embedding.
type Hit struct {
	Entry    Entry
	Distance float64
}

// Store is the queryable knowledge store consumed by retrieval.
type Store interface {
	// Query returns up to limit entries from the given categories, ordered
	// by ascending cosine distance to the query embedding.
	Query(ctx context.Context, queryEmbedding []float32, scope []Category, limit int) ([]Hit, error)

	// Units returns the distinct unit names present in entry metadata.
	Units(ctx context.Context) ([]string, error)
}

// SQLiteStore persists entries and their embeddings in a single SQLite
// database, one row per entry with the embedding serialized as JSON.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB

	// maxExecutionEntries caps the executions category; the oldest entry is
	// evicted when the cap is reached.
	maxExecutionEntries int
}

// StoreConfig holds SQLiteStore configuration.
type StoreConfig struct {
	DatabasePath        string
	MaxExecutionEntries int
}

// OpenStore opens (creating if needed) the knowledge database.
func OpenStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "terrasite.db"
	}
	if cfg.MaxExecutionEntries <= 0 {
		cfg.MaxExecutionEntries = 30
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge db: %w", err)
	}

	s := &SQLiteStore{db: db, maxExecutionEntries: cfg.MaxExecutionEntries}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Get(logging.CategoryStore).Info("knowledge store opened",
		zap.String("path", cfg.DatabasePath))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id         TEXT PRIMARY KEY,
			category   TEXT NOT NULL,
			text       TEXT NOT NULL,
			metadata   TEXT,
			embedding  TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate knowledge db: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Add stores one entry. The caller supplies the embedding (already computed
// with the passage prefix). An empty ID is filled with a fresh UUID.
func (s *SQLiteStore) Add(ctx context.Context, e Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.Category == CategoryExecutions {
		if err := s.evictOldestLocked(ctx, CategoryExecutions, s.maxExecutionEntries); err != nil {
			return "", err
		}
	}

	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to serialize metadata: %w", err)
	}
	embJSON, err := json.Marshal(e.Embedding)
	if err != nil {
		return "", fmt.Errorf("failed to serialize embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (id, category, text, metadata, embedding) VALUES (?, ?, ?, ?, ?)",
		e.ID, string(e.Category), e.Text, string(metaJSON), string(embJSON),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert entry: %w", err)
	}
	return e.ID, nil
}

// evictOldestLocked keeps a category under max entries by deleting the
// oldest rows first.
func (s *SQLiteStore) evictOldestLocked(ctx context.Context, cat Category, max int) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE category = ?", string(cat)).Scan(&count); err != nil {
		return err
	}
	if count < max {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM entries WHERE id IN (
			SELECT id FROM entries WHERE category = ?
			ORDER BY created_at ASC, id ASC LIMIT ?
		)`, string(cat), count-max+1)
	return err
}

// Replace atomically swaps the contents of a category for a new entry set.
// Used by bulk re-ingestion and seeding.
func (s *SQLiteStore) Replace(ctx context.Context, cat Category, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE category = ?", string(cat)); err != nil {
		return err
	}

	for i, e := range entries {
		if e.ID == "" {
			e.ID = fmt.Sprintf("%s_%d", cat, i)
		}
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to serialize metadata: %w", err)
		}
		embJSON, err := json.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entries (id, category, text, metadata, embedding) VALUES (?, ?, ?, ?, ?)",
			e.ID, string(cat), e.Text, string(metaJSON), string(embJSON)); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// Query scans the in-scope categories, computes cosine distance in process
// and returns the closest entries. Results reflect a snapshot taken at
// query time; concurrent ingestion is tolerated.
func (s *SQLiteStore) Query(ctx context.Context, queryEmbedding []float32, scope []Category, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	if len(scope) == 0 {
		scope = AllCategories
	}

	query := "SELECT id, category, text, metadata, embedding FROM entries WHERE embedding IS NOT NULL AND category IN (?" +
		repeatPlaceholder(len(scope)-1) + ") ORDER BY created_at ASC, id ASC"
	args := make([]any, len(scope))
	for i, c := range scope {
		args[i] = string(c)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge query failed: %w", err)
	}
	defer rows.Close()

	log := logging.Get(logging.CategoryStore)

	var hits []Hit
	var vecBuf []float32
	for rows.Next() {
		var e Entry
		var cat, metaJSON, embJSON string
		if err := rows.Scan(&e.ID, &cat, &e.Text, &metaJSON, &embJSON); err != nil {
			log.Warn("skipping unreadable entry", zap.Error(err))
			continue
		}
		e.Category = Category(cat)

		vecBuf, err = parseVectorJSON([]byte(embJSON), vecBuf)
		if err != nil || len(vecBuf) == 0 {
			continue
		}

		dist, err := embedding.CosineDistance(queryEmbedding, vecBuf)
		if err != nil {
			// Dimension mismatch, likely from a model change mid-corpus.
			continue
		}

		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		}

		hits = append(hits, Hit{Entry: e, Distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge scan failed: %w", err)
	}

	sortHitsByDistance(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Units returns the distinct unit names present in entry metadata.
func (s *SQLiteStore) Units(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT json_extract(metadata, '$.unit') FROM entries WHERE json_extract(metadata, '$.unit') IS NOT NULL ORDER BY 1")
	if err != nil {
		return nil, fmt.Errorf("units query failed: %w", err)
	}
	defer rows.Close()

	var units []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			continue
		}
		if u != "" {
			units = append(units, u)
		}
	}
	return units, rows.Err()
}

// Count returns the number of entries in a category.
func (s *SQLiteStore) Count(ctx context.Context, cat Category) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE category = ?", string(cat)).Scan(&n)
	return n, err
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
