package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed lookaside cache for converted attachments.
// Platform file identifiers are stable, so a re-sent photo can reuse its
// data URL instead of repeating the download and encode round trip.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open cache database: %w", err)
	}

	// Single connection: SQLite writer model.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache migration failed: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attachments (
		channel     TEXT NOT NULL,
		file_id     TEXT NOT NULL,
		name        TEXT NOT NULL,
		data_url    TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (channel, file_id)
	);
	CREATE INDEX IF NOT EXISTS idx_attachments_created ON attachments(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the cached data URL for a file identifier. Database errors are
// logged and treated as a miss; the pipeline then falls back to conversion.
func (s *Store) Get(ctx context.Context, channel, fileID string) (name, dataURL string, ok bool) {
	err := s.db.QueryRowContext(ctx,
		`SELECT name, data_url FROM attachments WHERE channel = ? AND file_id = ?`,
		channel, fileID,
	).Scan(&name, &dataURL)
	if err == sql.ErrNoRows {
		return "", "", false
	}
	if err != nil {
		s.logger.Warn("attachment cache read failed", "file_id", fileID, "err", err)
		return "", "", false
	}
	return name, dataURL, true
}

// Put records a converted attachment, replacing any previous entry for the
// same file identifier.
func (s *Store) Put(ctx context.Context, channel, fileID, name, dataURL string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attachments (channel, file_id, name, data_url, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		channel, fileID, name, dataURL, time.Now(),
	)
	return err
}

// Sweep removes entries older than maxAge and returns the number deleted.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attachments WHERE created_at < ?`,
		time.Now().Add(-maxAge),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("attachment cache swept", "removed", n)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
