// Package vectorstore implements the semantic memory layer on SQLite with the
// sqlite-vec extension. Each document's text is embedded on write; a search
// on the "semantic" field returns the nearest documents by cosine distance
// with a "score" of 1 - distance.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/harun/recall/pkg/embedding"
	"github.com/harun/recall/pkg/memory"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	sqlite_vec.Auto()
}

// DefaultLimit bounds a semantic search without an explicit limit.
const DefaultLimit = 10

// Config configures the vector store.
type Config struct {
	DBPath   string
	Embedder embedding.Provider
	Logger   zerolog.Logger
}

// Store is a semantic memory layer backed by sqlite-vec.
type Store struct {
	db       *sql.DB
	path     string
	embedder embedding.Provider
	logger   zerolog.Logger

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

var (
	_ memory.Layer         = (*Store)(nil)
	_ memory.Searcher      = (*Store)(nil)
	_ memory.StatsReporter = (*Store)(nil)
)

// New opens the database and creates the document, cache and vector tables.
func New(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedding provider is required")
	}

	dsn := cfg.DBPath
	if dsn != ":memory:" {
		dsn += "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:       db,
		path:     cfg.DBPath,
		embedder: cfg.Embedder,
		logger:   cfg.Logger,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().
		Str("path", cfg.DBPath).
		Int("dimension", cfg.Embedder.Dimension()).
		Msg("Vector store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS documents (
			key TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			stored_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
			key TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.embedder.Dimension())
	_, err := s.db.Exec(schema)
	return err
}

// embeddingText returns the text a document is indexed by.
func embeddingText(doc memory.Document) string {
	for _, field := range []string{memory.FieldContent, memory.FieldText, memory.SemanticField} {
		if text := strings.TrimSpace(doc.String(field)); text != "" {
			return text
		}
	}
	return ""
}

// Store writes the document and its embedding. The ttl is ignored; the
// vector layer keeps documents until deleted.
func (s *Store) Store(ctx context.Context, key string, doc memory.Document, ttl time.Duration) error {
	if key == "" {
		return memory.ErrInvalidKey
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.write(ctx, tx, key, doc); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) write(ctx context.Context, tx *sql.Tx, key string, doc memory.Document) error {
	body, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (key, body, stored_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, stored_at = excluded.stored_at
	`, key, string(body), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	// vec0 tables do not support upserts.
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to replace embedding: %w", err)
	}

	text := embeddingText(doc)
	if text == "" {
		return nil
	}
	vector, err := s.embed(ctx, tx, text)
	if err != nil {
		return err
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO embeddings (key, embedding) VALUES (?, ?)", key, blob); err != nil {
		return fmt.Errorf("failed to store embedding in vector table: %w", err)
	}
	return nil
}

// embed returns the vector for text, consulting the content-hash cache first.
func (s *Store) embed(ctx context.Context, tx *sql.Tx, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])

	var cached []byte
	err := tx.QueryRowContext(ctx, "SELECT embedding FROM embedding_cache WHERE content_hash = ?", hash).Scan(&cached)
	if err == nil {
		var vector []float32
		if err := json.Unmarshal(cached, &vector); err == nil && len(vector) == s.embedder.Dimension() {
			s.cacheHits.Add(1)
			return vector, nil
		}
	}
	s.cacheMisses.Add(1)

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if len(vector) != s.embedder.Dimension() {
		return nil, fmt.Errorf("embedding has dimension %d, want %d", len(vector), s.embedder.Dimension())
	}

	encoded, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, created_at) VALUES (?, ?, ?, ?)",
		hash, encoded, len(vector), time.Now().Unix(),
	); err != nil {
		return nil, fmt.Errorf("failed to cache embedding: %w", err)
	}
	return vector, nil
}

func (s *Store) Retrieve(ctx context.Context, key string) (memory.Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE key = ?", key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s: %w", key, err)
	}
	return memory.UnmarshalDocument([]byte(body))
}

func (s *Store) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE key = ?", key).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// Update merges partial into the document and re-embeds it when its text
// changed.
func (s *Store) Update(ctx context.Context, key string, partial memory.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx, "SELECT body FROM documents WHERE key = ?", key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	doc, err := memory.UnmarshalDocument([]byte(body))
	if err != nil {
		return err
	}

	merged := doc.Merge(partial)
	if embeddingText(merged) == embeddingText(doc) {
		encoded, err := merged.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE documents SET body = ? WHERE key = ?", string(encoded), key); err != nil {
			return fmt.Errorf("failed to update %s: %w", key, err)
		}
		return tx.Commit()
	}

	if err := s.write(ctx, tx, key, merged); err != nil {
		return err
	}
	return tx.Commit()
}

// Clear removes documents and vectors. The embedding cache is kept since it
// is keyed by content, not by document.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return tx.Commit()
}

// Search runs a nearest-neighbour query for the "semantic" field and a JSON
// field match for any other field.
func (s *Store) Search(ctx context.Context, q memory.Query) ([]memory.Document, error) {
	if q.Field == memory.SemanticField {
		return s.semanticSearch(ctx, fmt.Sprint(q.Value), q.Limit)
	}
	return s.fieldSearch(ctx, q)
}

func (s *Store) semanticSearch(ctx context.Context, query string, limit int) ([]memory.Document, error) {
	if strings.TrimSpace(query) == "" {
		return []memory.Document{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	// KNN through the vec0 index; distance uses the table's cosine metric.
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.body, knn.distance
		FROM (
			SELECT key, distance FROM embeddings
			WHERE embedding MATCH ? AND k = ?
		) knn
		JOIN documents d ON d.key = knn.key
		ORDER BY knn.distance ASC, knn.key ASC
	`, blob, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []memory.Document{}
	for rows.Next() {
		var body string
		var distance float64
		if err := rows.Scan(&body, &distance); err != nil {
			return nil, err
		}
		doc, err := memory.UnmarshalDocument([]byte(body))
		if err != nil {
			s.logger.Warn().Err(err).Msg("Skipping undecodable document")
			continue
		}
		// Cosine distance is in [0, 2]; similarity 1 - distance is in [-1, 1].
		doc[memory.FieldScore] = 1.0 - distance
		results = append(results, doc)
	}
	return results, rows.Err()
}

func (s *Store) fieldSearch(ctx context.Context, q memory.Query) ([]memory.Document, error) {
	if strings.ContainsAny(q.Field, `"\`) {
		return []memory.Document{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM documents
		WHERE json_type(body, ?) IS NOT NULL
		ORDER BY key
	`, `$."`+q.Field+`"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []memory.Document{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		doc, err := memory.UnmarshalDocument([]byte(body))
		if err != nil {
			continue
		}
		if !memory.Match(doc[q.Field], q.Operator, q.Value) {
			continue
		}
		results = append(results, doc)
		if q.Limit > 0 && len(results) >= q.Limit {
			break
		}
	}
	return results, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (map[string]any, error) {
	var docs, vectors, cached int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&docs); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&vectors); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&cached); err != nil {
		return nil, err
	}

	stats := map[string]any{
		"backend":      "sqlite-vec",
		"path":         s.path,
		"items":        docs,
		"vectors":      vectors,
		"cached":       cached,
		"dimension":    s.embedder.Dimension(),
		"cache_hits":   s.cacheHits.Load(),
		"cache_misses": s.cacheMisses.Load(),
	}
	if total := s.cacheHits.Load() + s.cacheMisses.Load(); total > 0 {
		stats["cache_hit_rate"] = float64(s.cacheHits.Load()) / float64(total)
	}
	return stats, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing vector store")
	return s.db.Close()
}
