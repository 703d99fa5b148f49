// Package docstore implements a memory layer on SQLite. Documents are kept as
// JSON in a single table shared by any number of named layers, and expired
// rows are purged on a cron schedule.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/recall/pkg/memory"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultPurgeSchedule removes expired rows once a minute.
const DefaultPurgeSchedule = "@every 1m"

// Config configures a document store layer.
type Config struct {
	// DBPath is the SQLite file. ":memory:" keeps everything in process.
	DBPath string

	// Layer namespaces the rows of this layer so several layers can share
	// one database file.
	Layer string

	// PurgeSchedule is a cron spec for deleting expired rows. Empty uses
	// DefaultPurgeSchedule; "off" disables the purge job.
	PurgeSchedule string

	Logger zerolog.Logger
}

// Store is a SQLite-backed memory layer.
type Store struct {
	db     *sql.DB
	layer  string
	path   string
	logger zerolog.Logger
	cron   *cron.Cron
	now    func() time.Time
}

var (
	_ memory.Layer         = (*Store)(nil)
	_ memory.Searcher      = (*Store)(nil)
	_ memory.Expirer       = (*Store)(nil)
	_ memory.TTLReporter   = (*Store)(nil)
	_ memory.StatsReporter = (*Store)(nil)
)

// New opens the database, creates the schema and starts the purge job.
func New(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Layer == "" {
		return nil, errors.New("layer name is required")
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
		// Every connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		layer:  cfg.Layer,
		path:   cfg.DBPath,
		logger: cfg.Logger.With().Str("layer", cfg.Layer).Logger(),
		now:    time.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	schedule := cfg.PurgeSchedule
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}
	if schedule != "off" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(schedule, s.purgeJob); err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
		}
		s.cron.Start()
	}

	s.logger.Info().Str("path", cfg.DBPath).Str("purge", schedule).Msg("Document store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			layer TEXT NOT NULL,
			key TEXT NOT NULL,
			body TEXT NOT NULL,
			stored_at INTEGER NOT NULL,
			expires_at INTEGER,
			PRIMARY KEY (layer, key)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_expires ON documents(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) expiry(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return s.now().Add(ttl).UnixNano()
}

// Store inserts or replaces the document for key.
func (s *Store) Store(ctx context.Context, key string, doc memory.Document, ttl time.Duration) error {
	if key == "" {
		return memory.ErrInvalidKey
	}
	body, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (layer, key, body, stored_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(layer, key) DO UPDATE SET
			body = excluded.body,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at
	`, s.layer, key, string(body), s.now().UnixNano(), s.expiry(ttl))
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *Store) Retrieve(ctx context.Context, key string) (memory.Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM documents
		WHERE layer = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, s.layer, key, s.now().UnixNano()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s: %w", key, err)
	}
	return memory.UnmarshalDocument([]byte(body))
}

func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE layer = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, s.layer, key, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return affected(res)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents
		WHERE layer = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, s.layer, key, s.now().UnixNano()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// Update merges partial into the stored document inside a transaction.
func (s *Store) Update(ctx context.Context, key string, partial memory.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx, `
		SELECT body FROM documents
		WHERE layer = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, s.layer, key, s.now().UnixNano()).Scan(&body)
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
	merged, err := doc.Merge(partial).Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET body = ? WHERE layer = ? AND key = ?",
		string(merged), s.layer, key,
	); err != nil {
		return fmt.Errorf("failed to update %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE layer = ?", s.layer); err != nil {
		return fmt.Errorf("failed to clear layer: %w", err)
	}
	return nil
}

// Search narrows candidates to rows where the field exists with json_type,
// then applies memory.Match so every layer compares values the same way.
func (s *Store) Search(ctx context.Context, q memory.Query) ([]memory.Document, error) {
	if strings.ContainsAny(q.Field, `"\`) {
		return []memory.Document{}, nil
	}
	path := `$."` + q.Field + `"`

	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM documents
		WHERE layer = ?
			AND (expires_at IS NULL OR expires_at > ?)
			AND json_type(body, ?) IS NOT NULL
		ORDER BY key
	`, s.layer, s.now().UnixNano(), path)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
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
			s.logger.Warn().Err(err).Msg("Skipping undecodable document")
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

// Expire sets ttl on a live key; a non-positive ttl removes the expiry.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET expires_at = ?
		WHERE layer = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, s.expiry(ttl), s.layer, key, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set ttl on %s: %w", key, err)
	}
	return affected(res)
}

// RemainingTTL returns the time left on a live key, or zero without expiry.
func (s *Store) RemainingTTL(ctx context.Context, key string) (time.Duration, error) {
	var expiresAt sql.NullInt64
	now := s.now().UnixNano()
	err := s.db.QueryRowContext(ctx, `
		SELECT expires_at FROM documents
		WHERE layer = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, s.layer, key, now).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, memory.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}
	if !expiresAt.Valid {
		return 0, nil
	}
	return time.Duration(expiresAt.Int64 - now), nil
}

func (s *Store) Stats(ctx context.Context) (map[string]any, error) {
	var live, expired int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 ELSE 0 END), 0)
		FROM documents WHERE layer = ?
	`, s.now().UnixNano(), s.now().UnixNano(), s.layer).Scan(&live, &expired)
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}
	return map[string]any{
		"backend": "sqlite",
		"path":    s.path,
		"items":   live,
		"expired": expired,
	}, nil
}

// Purge deletes expired rows of this layer and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE layer = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		s.layer, s.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired documents: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) purgeJob() {
	n, err := s.Purge(context.Background())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Purge failed")
		return
	}
	if n > 0 {
		s.logger.Debug().Int64("removed", n).Msg("Purged expired documents")
	}
}

// Close stops the purge job and closes the database.
func (s *Store) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Info().Msg("Closing document store")
	return s.db.Close()
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}
