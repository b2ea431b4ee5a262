package api

import (
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
)

// ChangeEventRequest is posted by the CMS integration for every content mutation.
type ChangeEventRequest struct {
	Kind            string `json:"kind"`
	EntityID        string `json:"entity_id,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	OccurredAt      string `json:"occurred_at,omitempty"` // RFC3339, defaults to receipt time
	IsTransient     bool   `json:"is_transient,omitempty"`
	PreviousStatus  string `json:"previous_status,omitempty"`
	ResultingStatus string `json:"resulting_status,omitempty"`
}

type ChangeEventResponse struct {
	Accepted bool `json:"accepted"`
}

type BuildStatusResponse struct {
	LastBuild    *string `json:"lastBuild"` // null until the first build
	BuildVersion string  `json:"buildVersion"`
	ContentHash  string  `json:"contentHash"`
	PostsCount   int     `json:"postsCount"`
	PagesCount   int     `json:"pagesCount"`
}

type ContentHashResponse struct {
	Hash      string `json:"hash"`
	ItemCount int    `json:"itemCount"`
	Timestamp string `json:"timestamp"`
}

type TriggerBuildResponse struct {
	Success      bool               `json:"success"`
	Message      string             `json:"message"`
	BuildVersion string             `json:"buildVersion,omitempty"`
	Deliveries   []DeliveryResponse `json:"deliveries,omitempty"`
}

type DeliveryResponse struct {
	Sink       string `json:"sink"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// WebhookSettingsRequest replaces the stored webhook configuration.
// Secrets equal to the mask placeholder keep their stored value.
type WebhookSettingsRequest struct {
	URL            string `json:"url"`
	Secret         string `json:"secret"`
	SiteURL        string `json:"site_url"`
	CIRepo         string `json:"ci_repo"`
	CIWorkflowFile string `json:"ci_workflow_file"`
	CIToken        string `json:"ci_token"`
	CIRef          string `json:"ci_ref"`
	CIAPIBaseURL   string `json:"ci_api_base_url"`
}

type WebhookSettingsResponse struct {
	Settings domain.WebhookConfig `json:"settings"`
	Warnings []string             `json:"warnings"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toDeliveryResponses(results []domain.DeliveryResult) []DeliveryResponse {
	if len(results) == 0 {
		return nil
	}
	out := make([]DeliveryResponse, len(results))
	for i, r := range results {
		out[i] = DeliveryResponse{
			Sink:       r.Sink,
			StatusCode: r.StatusCode,
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Error != nil {
			out[i].Error = r.Error.Error()
		}
	}
	return out
}
