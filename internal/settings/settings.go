// Package settings owns the operator-supplied webhook configuration.
//
// The configuration is loaded once at startup and held as an immutable
// snapshot. Saving swaps the snapshot atomically, so a dispatch already in
// progress keeps the values it started with.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/djlord-it/buildhook/internal/domain"
)

// ErrNotConfigured is returned by a Store that has no saved configuration.
var ErrNotConfigured = errors.New("webhook config not configured")

// ErrSecretWithoutURL rejects a signing secret that has no destination.
var ErrSecretWithoutURL = errors.New("webhook secret is set but webhook url is empty")

// Warnings surfaced to the operator on save.
const (
	WarningUnsigned  = "webhook url is set without a secret: deliveries will be unsigned"
	WarningPartialCI = "CI workflow dispatch is partially configured (repo, workflow file and token are all required): CI dispatch disabled"
	WarningNoTarget  = "no webhook url or CI target configured: content changes will not trigger builds"
)

type Store interface {
	LoadWebhookConfig(ctx context.Context) (domain.WebhookConfig, error)
	SaveWebhookConfig(ctx context.Context, cfg domain.WebhookConfig) error
}

// Validate checks cfg and returns operator-facing warnings.
// Values are otherwise treated as opaque strings.
func Validate(cfg domain.WebhookConfig) ([]string, error) {
	if cfg.Secret != "" && cfg.URL == "" {
		return nil, ErrSecretWithoutURL
	}

	var warnings []string
	if cfg.URL != "" && cfg.Secret == "" {
		warnings = append(warnings, WarningUnsigned)
	}

	anyCI := cfg.CIRepo != "" || cfg.CIWorkflowFile != "" || cfg.CIToken != ""
	if anyCI && !cfg.HasCI() {
		warnings = append(warnings, WarningPartialCI)
	}
	if !cfg.HasWebhook() && !cfg.HasCI() {
		warnings = append(warnings, WarningNoTarget)
	}
	return warnings, nil
}

type Service struct {
	store   Store
	current atomic.Pointer[domain.WebhookConfig]
}

func NewService(store Store) *Service {
	s := &Service{store: store}
	s.current.Store(&domain.WebhookConfig{})
	return s
}

// Load reads the stored configuration into the snapshot. When nothing is
// stored yet and seed is non-empty, seed is validated and persisted.
func (s *Service) Load(ctx context.Context, seed domain.WebhookConfig) (domain.WebhookConfig, error) {
	cfg, err := s.store.LoadWebhookConfig(ctx)
	if errors.Is(err, ErrNotConfigured) {
		if seed == (domain.WebhookConfig{}) {
			log.Println("settings: no webhook config stored")
			return domain.WebhookConfig{}, nil
		}
		log.Println("settings: no webhook config stored; seeding from environment")
		if _, err := s.Save(ctx, seed); err != nil {
			return domain.WebhookConfig{}, fmt.Errorf("seed webhook config: %w", err)
		}
		return seed, nil
	}
	if err != nil {
		return domain.WebhookConfig{}, fmt.Errorf("load webhook config: %w", err)
	}

	warnings, err := Validate(cfg)
	if err != nil {
		// Stored values predate validation; keep serving but make it visible.
		log.Printf("settings: stored webhook config invalid: %v", err)
	}
	logWarnings(warnings)

	s.current.Store(&cfg)
	log.Printf("settings: webhook config loaded (webhook=%t, ci=%t, signed=%t)",
		cfg.HasWebhook(), cfg.HasCI(), cfg.Secret != "")
	return cfg, nil
}

// Save validates and persists cfg, then replaces the snapshot.
func (s *Service) Save(ctx context.Context, cfg domain.WebhookConfig) ([]string, error) {
	warnings, err := Validate(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveWebhookConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save webhook config: %w", err)
	}

	s.current.Store(&cfg)
	logWarnings(warnings)
	log.Printf("settings: webhook config saved (webhook=%t, ci=%t, signed=%t)",
		cfg.HasWebhook(), cfg.HasCI(), cfg.Secret != "")
	return warnings, nil
}

// Current returns the active snapshot.
func (s *Service) Current() domain.WebhookConfig {
	return *s.current.Load()
}

func logWarnings(warnings []string) {
	for _, w := range warnings {
		log.Printf("settings: WARNING: %s", w)
	}
}
