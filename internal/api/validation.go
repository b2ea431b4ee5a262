package api

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
)

const maxEntityIDLength = 64

// hookAliases lets CMS integrations post their native hook names.
var hookAliases = map[string]domain.ChangeKind{
	domain.EventSavePost:      domain.ChangeKindContentSaved,
	domain.EventDeletePost:    domain.ChangeKindContentDeleted,
	domain.EventUpdateNavMenu: domain.ChangeKindMenuUpdated,
	domain.EventEditedTerm:    domain.ChangeKindTaxonomyChanged,
	"created_term":            domain.ChangeKindTaxonomyChanged,
	"delete_term":             domain.ChangeKindTaxonomyChanged,
}

func parseChangeKind(raw string) (domain.ChangeKind, error) {
	if raw == "" {
		return "", fmt.Errorf("kind is required")
	}
	if k, ok := hookAliases[raw]; ok {
		return k, nil
	}
	k := domain.ChangeKind(raw)
	if !k.Valid() || k == domain.ChangeKindScheduledResync {
		return "", fmt.Errorf("unknown kind %q", raw)
	}
	return k, nil
}

// parseChangeEvent validates req and converts it to a domain event.
// An absent occurred_at is replaced with now.
func parseChangeEvent(req ChangeEventRequest, now time.Time) (domain.ChangeEvent, error) {
	kind, err := parseChangeKind(req.Kind)
	if err != nil {
		return domain.ChangeEvent{}, err
	}

	if len(req.EntityID) > maxEntityIDLength {
		return domain.ChangeEvent{}, fmt.Errorf("entity_id exceeds %d characters", maxEntityIDLength)
	}

	occurred := now
	if req.OccurredAt != "" {
		occurred, err = time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("invalid occurred_at: %w", err)
		}
	}

	return domain.ChangeEvent{
		Kind:            kind,
		EntityID:        req.EntityID,
		ContentType:     strings.ToLower(req.ContentType),
		OccurredAt:      occurred.UTC(),
		IsTransient:     req.IsTransient,
		PreviousStatus:  domain.ContentStatus(strings.ToLower(req.PreviousStatus)),
		ResultingStatus: domain.ContentStatus(strings.ToLower(req.ResultingStatus)),
	}, nil
}

// mergeWebhookSettings builds the config to save. Masked secrets in req keep
// the value from current.
func mergeWebhookSettings(req WebhookSettingsRequest, current domain.WebhookConfig) domain.WebhookConfig {
	cfg := domain.WebhookConfig{
		URL:            strings.TrimSpace(req.URL),
		Secret:         req.Secret,
		SiteURL:        strings.TrimSpace(req.SiteURL),
		CIRepo:         strings.TrimSpace(req.CIRepo),
		CIWorkflowFile: strings.TrimSpace(req.CIWorkflowFile),
		CIToken:        req.CIToken,
		CIRef:          strings.TrimSpace(req.CIRef),
		CIAPIBaseURL:   strings.TrimSpace(req.CIAPIBaseURL),
	}
	if cfg.Secret == maskPlaceholder {
		cfg.Secret = current.Secret
	}
	if cfg.CIToken == maskPlaceholder {
		cfg.CIToken = current.CIToken
	}
	return cfg
}

const maskPlaceholder = "***"

func validateWebhookSettings(cfg domain.WebhookConfig) error {
	for _, f := range []struct{ name, value string }{
		{"url", cfg.URL},
		{"site_url", cfg.SiteURL},
		{"ci_api_base_url", cfg.CIAPIBaseURL},
	} {
		if f.value == "" {
			continue
		}
		if err := validateWebhookURL(f.value); err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
	}
	if cfg.CIRepo != "" && strings.Count(cfg.CIRepo, "/") != 1 {
		return fmt.Errorf("invalid ci_repo: expected owner/name")
	}
	return nil
}

func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
