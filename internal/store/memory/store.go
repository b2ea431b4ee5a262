// Package memory provides an in-process store used for local development
// and tests. State does not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
	"github.com/djlord-it/buildhook/internal/hasher"
	"github.com/djlord-it/buildhook/internal/pipeline"
	"github.com/djlord-it/buildhook/internal/settings"
	"github.com/djlord-it/buildhook/internal/status"
)

type Store struct {
	mu      sync.Mutex
	state   domain.BuildState
	content map[string]domain.ContentItem
	webhook *domain.WebhookConfig
	clock   func() time.Time
}

func New() *Store {
	return &Store{
		content: make(map[string]domain.ContentItem),
		clock:   time.Now,
	}
}

// WithClock overrides the time source used for state timestamps.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// PutContent inserts or replaces a content item.
func (s *Store) PutContent(item domain.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[item.ID] = item
}

// DeleteContent removes a content item.
func (s *Store) DeleteContent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.content, id)
}

func (s *Store) ListPublishable(ctx context.Context) ([]domain.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]domain.ContentItem, 0, len(s.content))
	for _, item := range s.content {
		if item.Status.Public() {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *Store) CountPublishable(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, item := range s.content {
		if item.Status.Public() {
			counts[item.Type]++
		}
	}
	return counts, nil
}

func (s *Store) GetBuildState(ctx context.Context) (domain.BuildState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// CompareAndUpdate stores fp and bumps the version only if the hash differs
// from the stored one. The whole comparison happens under the store mutex.
func (s *Store) CompareAndUpdate(ctx context.Context, fp domain.Fingerprint) (bool, domain.BuildState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.LastHash == fp.Hash {
		return false, s.state, nil
	}
	s.advance(fp.Hash)
	return true, s.state, nil
}

// ForceUpdate stores fp and bumps the version unconditionally.
func (s *Store) ForceUpdate(ctx context.Context, fp domain.Fingerprint) (domain.BuildState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance(fp.Hash)
	return s.state, nil
}

func (s *Store) advance(hash string) {
	now := s.clock().UTC()
	s.state.LastHash = hash
	s.state.Version++
	if now.After(s.state.LastBuildAt) {
		s.state.LastBuildAt = now
	}
	s.state.UpdatedAt = now
}

func (s *Store) LoadWebhookConfig(ctx context.Context) (domain.WebhookConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.webhook == nil {
		return domain.WebhookConfig{}, settings.ErrNotConfigured
	}
	return *s.webhook, nil
}

func (s *Store) SaveWebhookConfig(ctx context.Context, cfg domain.WebhookConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhook = &cfg
	return nil
}

// Compile-time interface assertions
var (
	_ hasher.ContentSource = (*Store)(nil)
	_ pipeline.StateStore  = (*Store)(nil)
	_ status.Store         = (*Store)(nil)
	_ settings.Store       = (*Store)(nil)
)
