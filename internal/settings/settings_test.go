package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/djlord-it/buildhook/internal/domain"
)

type mockStore struct {
	cfg     *domain.WebhookConfig
	loadErr error
	saveErr error
	saves   int
}

func (s *mockStore) LoadWebhookConfig(ctx context.Context) (domain.WebhookConfig, error) {
	if s.loadErr != nil {
		return domain.WebhookConfig{}, s.loadErr
	}
	if s.cfg == nil {
		return domain.WebhookConfig{}, ErrNotConfigured
	}
	return *s.cfg, nil
}

func (s *mockStore) SaveWebhookConfig(ctx context.Context, cfg domain.WebhookConfig) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.cfg = &cfg
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         domain.WebhookConfig
		wantErr     error
		wantWarning string
	}{
		{
			name:    "secret without url",
			cfg:     domain.WebhookConfig{Secret: "s"},
			wantErr: ErrSecretWithoutURL,
		},
		{
			name:        "url without secret",
			cfg:         domain.WebhookConfig{URL: "https://hooks.example.com"},
			wantWarning: WarningUnsigned,
		},
		{
			name:        "partial CI",
			cfg:         domain.WebhookConfig{URL: "https://h", Secret: "s", CIRepo: "org/site"},
			wantWarning: WarningPartialCI,
		},
		{
			name:        "empty",
			cfg:         domain.WebhookConfig{},
			wantWarning: WarningNoTarget,
		},
		{
			name: "complete",
			cfg: domain.WebhookConfig{
				URL: "https://h", Secret: "s",
				CIRepo: "org/site", CIWorkflowFile: "build.yml", CIToken: "t",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings, err := Validate(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantWarning != "" && !contains(warnings, tt.wantWarning) {
				t.Errorf("warnings = %v, want to contain %q", warnings, tt.wantWarning)
			}
			if tt.wantWarning == "" && tt.wantErr == nil && len(warnings) != 0 {
				t.Errorf("unexpected warnings: %v", warnings)
			}
		})
	}
}

func TestService_SaveRejectsInvalid(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store)

	_, err := svc.Save(context.Background(), domain.WebhookConfig{Secret: "s"})
	if !errors.Is(err, ErrSecretWithoutURL) {
		t.Fatalf("expected ErrSecretWithoutURL, got %v", err)
	}
	if store.saves != 0 {
		t.Error("invalid config must not be persisted")
	}
	if svc.Current() != (domain.WebhookConfig{}) {
		t.Error("snapshot must not change on rejected save")
	}
}

func TestService_SaveSwapsSnapshot(t *testing.T) {
	svc := NewService(&mockStore{})
	before := svc.Current()

	cfg := domain.WebhookConfig{URL: "https://h", Secret: "s"}
	if _, err := svc.Save(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if before != (domain.WebhookConfig{}) {
		t.Error("earlier snapshot must be unaffected by save")
	}
	if svc.Current() != cfg {
		t.Errorf("Current() = %+v, want %+v", svc.Current(), cfg)
	}
}

func TestService_LoadSeedsWhenEmpty(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store)
	seed := domain.WebhookConfig{URL: "https://seed", Secret: "s"}

	got, err := svc.Load(context.Background(), seed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != seed || svc.Current() != seed {
		t.Errorf("loaded %+v, want seed", got)
	}
	if store.saves != 1 {
		t.Errorf("expected seed to be persisted once, got %d saves", store.saves)
	}
}

func TestService_LoadPrefersStored(t *testing.T) {
	stored := domain.WebhookConfig{URL: "https://stored"}
	store := &mockStore{cfg: &stored}
	svc := NewService(store)

	got, err := svc.Load(context.Background(), domain.WebhookConfig{URL: "https://seed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.URL != "https://stored" {
		t.Errorf("URL = %q, want stored value", got.URL)
	}
	if store.saves != 0 {
		t.Error("stored config must not be overwritten by seed")
	}
}

func TestService_LoadError(t *testing.T) {
	svc := NewService(&mockStore{loadErr: errors.New("db down")})
	if _, err := svc.Load(context.Background(), domain.WebhookConfig{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestService_LoadEmptyNoSeed(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store)
	if _, err := svc.Load(context.Background(), domain.WebhookConfig{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.saves != 0 {
		t.Error("empty seed must not be persisted")
	}
}
