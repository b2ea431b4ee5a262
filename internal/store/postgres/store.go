// Package postgres implements build state, settings and the CMS content
// view on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
	"github.com/djlord-it/buildhook/internal/hasher"
	"github.com/djlord-it/buildhook/internal/pipeline"
	"github.com/djlord-it/buildhook/internal/settings"
	"github.com/djlord-it/buildhook/internal/status"
)

const webhookConfigKey = "webhook_config"

// Store implements build state, settings and content access using PostgreSQL.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// EnsureSchema creates the tables buildhook needs if they are missing and
// seeds the single build_state row.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, querySchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) GetBuildState(ctx context.Context) (domain.BuildState, error) {
	return scanBuildState(s.db.QueryRowContext(ctx, queryGetBuildState))
}

// CompareAndUpdate records fp as a new build only if its hash differs from
// the stored one. A caller that loses the race observes changed=false and
// the winner's state.
func (s *Store) CompareAndUpdate(ctx context.Context, fp domain.Fingerprint) (bool, domain.BuildState, error) {
	state, err := scanBuildState(s.db.QueryRowContext(ctx, queryCompareAndUpdate, fp.Hash, s.clock().UTC()))
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

// ForceUpdate records fp as a new build unconditionally.
func (s *Store) ForceUpdate(ctx context.Context, fp domain.Fingerprint) (domain.BuildState, error) {
	return scanBuildState(s.db.QueryRowContext(ctx, queryForceUpdate, fp.Hash, s.clock().UTC()))
}

func scanBuildState(row *sql.Row) (domain.BuildState, error) {
	var st domain.BuildState
	var lastBuild, updated sql.NullTime
	if err := row.Scan(&st.LastHash, &st.Version, &lastBuild, &updated); err != nil {
		return domain.BuildState{}, err
	}
	if lastBuild.Valid {
		st.LastBuildAt = lastBuild.Time.UTC()
	}
	if updated.Valid {
		st.UpdatedAt = updated.Time.UTC()
	}
	return st, nil
}

// PutContent inserts or replaces a content item in the development content
// table.
func (s *Store) PutContent(ctx context.Context, item domain.ContentItem) error {
	_, err := s.db.ExecContext(ctx, queryUpsertContent,
		item.ID, item.Type, item.Title, item.Body, string(item.Status), item.ModifiedAt.UTC())
	return err
}

// ListPublishable returns every published item from the CMS content table.
func (s *Store) ListPublishable(ctx context.Context) ([]domain.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, queryListPublishable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ContentItem
	for rows.Next() {
		var item domain.ContentItem
		var st string
		if err := rows.Scan(&item.ID, &item.Type, &item.Title, &item.Body, &st, &item.ModifiedAt); err != nil {
			return nil, err
		}
		item.Status = domain.ContentStatus(st)
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CountPublishable(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, queryCountPublishable)
	if err != nil {
		return nil, err
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
	var raw []byte
	err := s.db.QueryRowContext(ctx, queryGetSetting, webhookConfigKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WebhookConfig{}, settings.ErrNotConfigured
	}
	if err != nil {
		return domain.WebhookConfig{}, err
	}

	var cfg domain.WebhookConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.WebhookConfig{}, fmt.Errorf("decode %s: %w", webhookConfigKey, err)
	}
	return cfg, nil
}

func (s *Store) SaveWebhookConfig(ctx context.Context, cfg domain.WebhookConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, queryUpsertSetting, webhookConfigKey, raw, s.clock().UTC())
	return err
}

// Compile-time interface assertions
var (
	_ hasher.ContentSource = (*Store)(nil)
	_ pipeline.StateStore  = (*Store)(nil)
	_ status.Store         = (*Store)(nil)
	_ settings.Store       = (*Store)(nil)
)
