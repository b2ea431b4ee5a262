// Package sqlite implements build state, settings and the content view on
// an embedded SQLite database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/djlord-it/buildhook/internal/domain"
	"github.com/djlord-it/buildhook/internal/hasher"
	"github.com/djlord-it/buildhook/internal/pipeline"
	"github.com/djlord-it/buildhook/internal/settings"
	"github.com/djlord-it/buildhook/internal/status"
)

const webhookConfigKey = "webhook_config"

// Times are stored as unix nanoseconds; zero means unset.
const schema = `
CREATE TABLE IF NOT EXISTS build_state (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	last_hash     TEXT NOT NULL DEFAULT '',
	version       INTEGER NOT NULL DEFAULT 0,
	last_build_at INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO build_state (id) VALUES (1);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS content_items (
	id           TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	modified_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_items_status ON content_items(status);
`

const (
	queryGetBuildState = `SELECT last_hash, version, last_build_at, updated_at FROM build_state WHERE id = 1`

	queryCompareAndUpdate = `
UPDATE build_state
SET last_hash = ?1, version = version + 1, last_build_at = MAX(last_build_at, ?2), updated_at = ?2
WHERE id = 1 AND last_hash <> ?1
RETURNING last_hash, version, last_build_at, updated_at`

	queryForceUpdate = `
UPDATE build_state
SET last_hash = ?1, version = version + 1, last_build_at = MAX(last_build_at, ?2), updated_at = ?2
WHERE id = 1
RETURNING last_hash, version, last_build_at, updated_at`

	queryListPublishable  = `SELECT id, content_type, title, body, status, modified_at FROM content_items WHERE status = 'publish'`
	queryCountPublishable = `SELECT content_type, COUNT(*) FROM content_items WHERE status = 'publish' GROUP BY content_type`

	queryUpsertContent = `
INSERT INTO content_items (id, content_type, title, body, status, modified_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	content_type = excluded.content_type, title = excluded.title, body = excluded.body,
	status = excluded.status, modified_at = excluded.modified_at`

	queryGetSetting    = `SELECT value FROM settings WHERE key = ?`
	queryUpsertSetting = `
INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
)

type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// from being split across connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, clock: time.Now}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PingContext reports whether the database is reachable.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetBuildState(ctx context.Context) (domain.BuildState, error) {
	return scanBuildState(s.db.QueryRowContext(ctx, queryGetBuildState))
}

func (s *Store) CompareAndUpdate(ctx context.Context, fp domain.Fingerprint) (bool, domain.BuildState, error) {
	state, err := scanBuildState(s.db.QueryRowContext(ctx, queryCompareAndUpdate, fp.Hash, s.clock().UnixNano()))
	if errors.Is(err, sql.ErrNoRows) {
		current, err := s.GetBuildState(ctx)
		if err != nil {
			return false, domain.BuildState{}, err
		}
		return false, current, nil
	}
	if err != nil {
		return false, domain.BuildState{}, err
	}
	return true, state, nil
}

func (s *Store) ForceUpdate(ctx context.Context, fp domain.Fingerprint) (domain.BuildState, error) {
	return scanBuildState(s.db.QueryRowContext(ctx, queryForceUpdate, fp.Hash, s.clock().UnixNano()))
}

func scanBuildState(row *sql.Row) (domain.BuildState, error) {
	var st domain.BuildState
	var lastBuild, updated int64
	if err := row.Scan(&st.LastHash, &st.Version, &lastBuild, &updated); err != nil {
		return domain.BuildState{}, err
	}
	st.LastBuildAt = fromNanos(lastBuild)
	st.UpdatedAt = fromNanos(updated)
	return st, nil
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// PutContent inserts or replaces a content item. Used by the import command
// to load a content export into a standalone database.
func (s *Store) PutContent(ctx context.Context, item domain.ContentItem) error {
	_, err := s.db.ExecContext(ctx, queryUpsertContent,
		item.ID, item.Type, item.Title, item.Body, string(item.Status), item.ModifiedAt.UnixNano())
	return err
}

func (s *Store) ListPublishable(ctx context.Context) ([]domain.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, queryListPublishable)
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	defer rows.Close()

	var result []domain.ContentItem
	for rows.Next() {
		var item domain.ContentItem
		var st string
		var modified int64
		if err := rows.Scan(&item.ID, &item.Type, &item.Title, &item.Body, &st, &modified); err != nil {
			return nil, err
		}
		item.Status = domain.ContentStatus(st)
		item.ModifiedAt = time.Unix(0, modified).UTC()
		result = append(result, item)
	}
	return result, rows.Err()
}

func (s *Store) CountPublishable(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, queryCountPublishable)
	if err != nil {
		return nil, fmt.Errorf("count content: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var contentType string
		var n int
		if err := rows.Scan(&contentType, &n); err != nil {
			return nil, err
		}
		counts[contentType] = n
	}
	return counts, rows.Err()
}

func (s *Store) LoadWebhookConfig(ctx context.Context) (domain.WebhookConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, queryGetSetting, webhookConfigKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WebhookConfig{}, settings.ErrNotConfigured
	}
	if err != nil {
		return domain.WebhookConfig{}, err
	}

	var cfg domain.WebhookConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return domain.WebhookConfig{}, fmt.Errorf("decode %s: %w", webhookConfigKey, err)
	}
	return cfg, nil
}

func (s *Store) SaveWebhookConfig(ctx context.Context, cfg domain.WebhookConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, queryUpsertSetting, webhookConfigKey, string(raw), s.clock().UnixNano())
	return err
}

// Compile-time interface assertions
var (
	_ hasher.ContentSource = (*Store)(nil)
	_ pipeline.StateStore  = (*Store)(nil)
	_ status.Store         = (*Store)(nil)
	_ settings.Store       = (*Store)(nil)
)
