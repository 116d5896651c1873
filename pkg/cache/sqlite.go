package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ZhangHanDong/urlpreview/pkg/extract"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed preview cache with TTL expiry. It survives
// process restarts, unlike Memory.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore opens (or creates) the database at path. A non-positive ttl
// means entries never expire.
func NewStore(path string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}

	return &Store{
		db:     db,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "cache")),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*extract.Preview, bool, error) {
	var payload []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM previews WHERE url = ?`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get: %w", err)
	}

	if expiresAt.Valid && time.Now().Unix() >= expiresAt.Int64 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM previews WHERE url = ?`, key); err != nil {
			s.logger.Warn("failed to delete expired entry", "key", key, "error", err)
		}
		return nil, false, nil
	}

	var preview extract.Preview
	if err := json.Unmarshal(payload, &preview); err != nil {
		return nil, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	return &preview, true, nil
}

func (s *Store) Set(ctx context.Context, key string, preview *extract.Preview) error {
	payload, err := json.Marshal(preview)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}

	now := time.Now().Unix()
	var expiresAt sql.NullInt64
	if s.ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now + int64(s.ttl.Seconds()), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO previews (url, payload, created_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
		   payload = excluded.payload,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at`,
		key, payload, now, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}
	return nil
}

// DeleteExpired removes all entries past their expiry and returns how many.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM previews WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("cache: delete expired: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
