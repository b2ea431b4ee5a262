package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/djlord-it/buildhook/internal/dispatcher"
	"github.com/djlord-it/buildhook/internal/domain"
	"github.com/djlord-it/buildhook/internal/hasher"
	"github.com/djlord-it/buildhook/internal/metrics"
	"github.com/djlord-it/buildhook/internal/settings"
	"github.com/djlord-it/buildhook/internal/status"
	"github.com/djlord-it/buildhook/internal/transport/channel"
)

// EventEmitter queues change events for the observer.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.ChangeEvent) error
}

type StatusService interface {
	GetStatus(ctx context.Context) (status.Status, error)
	ContentHash(ctx context.Context) (status.ContentHash, error)
	TriggerBuild(ctx context.Context) (status.TriggerResult, error)
}

type SettingsService interface {
	Current() domain.WebhookConfig
	Save(ctx context.Context, cfg domain.WebhookConfig) ([]string, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// BreakerStatus reports sinks currently skipped by the circuit breaker.
type BreakerStatus interface {
	OpenEndpoints() []string
}

// DispatchCounter reads hourly dispatch outcome counters.
type DispatchCounter interface {
	Counts(ctx context.Context, t time.Time, outcomes ...string) (map[string]int64, error)
}

type Handler struct {
	events   EventEmitter
	status   StatusService
	settings SettingsService

	adminToken  string
	ingestToken string

	db        HealthChecker
	breaker   BreakerStatus
	analytics DispatchCounter
	clock     func() time.Time
}

func NewHandler(events EventEmitter, status StatusService, settings SettingsService) *Handler {
	return &Handler{
		events:   events,
		status:   status,
		settings: settings,
		clock:    time.Now,
	}
}

// WithAuth sets the bearer tokens. An empty admin token disables the admin
// endpoints; an empty ingest token leaves /events open.
func (h *Handler) WithAuth(adminToken, ingestToken string) *Handler {
	h.adminToken = adminToken
	h.ingestToken = ingestToken
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) WithBreakerStatus(b BreakerStatus) *Handler {
	h.breaker = b
	return h
}

// WithAnalytics adds the current hour's dispatch outcomes to verbose /health.
func (h *Handler) WithAnalytics(c DispatchCounter) *Handler {
	h.analytics = c
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/events" && r.Method == http.MethodPost:
		if !h.authorize(w, r, h.ingestToken, false) {
			return
		}
		h.ingestEvent(w, r)

	case path == "/build-status" && r.Method == http.MethodGet:
		h.buildStatus(w, r)

	case path == "/content-hash" && r.Method == http.MethodGet:
		h.contentHash(w, r)

	case path == "/trigger-build" && r.Method == http.MethodPost:
		if !h.authorize(w, r, h.adminToken, true) {
			return
		}
		h.triggerBuild(w, r)

	case path == "/settings/webhook" && r.Method == http.MethodGet:
		if !h.authorize(w, r, h.adminToken, true) {
			return
		}
		h.getWebhookSettings(w, r)

	case path == "/settings/webhook" && r.Method == http.MethodPut:
		if !h.authorize(w, r, h.adminToken, true) {
			return
		}
		h.putWebhookSettings(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// authorize checks the bearer token. With required set, an unconfigured
// token rejects every request.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, token string, required bool) bool {
	if token == "" {
		if required {
			writeError(w, http.StatusForbidden, "endpoint disabled: no token configured")
			return false
		}
		return true
	}

	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
		w.Header().Set("WWW-Authenticate", `Bearer realm="buildhook"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || (h.db == nil && h.breaker == nil && h.analytics == nil) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := h.db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components["database"] = "unhealthy: " + err.Error()
		} else {
			resp.Components["database"] = "healthy"
		}
	}

	// Open circuits are reported but do not degrade the service.
	if h.breaker != nil {
		if open := h.breaker.OpenEndpoints(); len(open) > 0 {
			resp.Components["sinks"] = "circuit open: " + strings.Join(open, ", ")
		} else {
			resp.Components["sinks"] = "healthy"
		}
	}

	// Analytics is informational only.
	if h.analytics != nil {
		resp.Components["dispatches"] = h.dispatchSummary(r.Context())
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

var dispatchOutcomes = []string{
	metrics.OutcomeSuccess,
	metrics.OutcomePartial,
	metrics.OutcomeFailed,
	metrics.OutcomeSkipped,
}

func (h *Handler) dispatchSummary(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	counts, err := h.analytics.Counts(ctx, h.clock(), dispatchOutcomes...)
	if err != nil {
		return "unavailable: " + err.Error()
	}
	parts := make([]string, len(dispatchOutcomes))
	for i, o := range dispatchOutcomes {
		parts[i] = fmt.Sprintf("%s=%d", o, counts[o])
	}
	return "this hour: " + strings.Join(parts, " ")
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req ChangeEventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	event, err := parseChangeEvent(req, h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.events.Emit(r.Context(), event); err != nil {
		log.Printf("api: emit change event kind=%s entity=%s: %v", event.Kind, event.EntityID, err)
		if errors.Is(err, channel.ErrBufferFull) {
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusServiceUnavailable, "event queue full")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to queue event")
		return
	}

	writeJSON(w, http.StatusAccepted, ChangeEventResponse{Accepted: true})
}

func (h *Handler) buildStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.GetStatus(r.Context())
	if err != nil {
		log.Printf("api: get build status error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read build status")
		return
	}

	resp := BuildStatusResponse{
		BuildVersion: st.BuildVersion,
		ContentHash:  st.ContentHash,
		PostsCount:   st.PostsCount,
		PagesCount:   st.PagesCount,
	}
	if !st.LastBuild.IsZero() {
		lastBuild := formatTime(st.LastBuild)
		resp.LastBuild = &lastBuild
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) contentHash(w http.ResponseWriter, r *http.Request) {
	ch, err := h.status.ContentHash(r.Context())
	if err != nil {
		log.Printf("api: content hash error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to compute content hash")
		return
	}

	writeJSON(w, http.StatusOK, ContentHashResponse{
		Hash:      ch.Hash,
		ItemCount: ch.ItemCount,
		Timestamp: formatTime(ch.Timestamp),
	})
}

func (h *Handler) triggerBuild(w http.ResponseWriter, r *http.Request) {
	result, err := h.status.TriggerBuild(r.Context())

	resp := TriggerBuildResponse{
		Success:      result.Success,
		Message:      result.Message,
		BuildVersion: result.BuildVersion,
		Deliveries:   toDeliveryResponses(result.Deliveries),
	}
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	log.Printf("api: trigger build error: %v", err)
	var deliveryErr *dispatcher.DeliveryError
	switch {
	case errors.Is(err, hasher.ErrEnumeration):
		writeJSON(w, http.StatusInternalServerError, resp)
	case errors.Is(err, dispatcher.ErrNoDestination):
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &deliveryErr):
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		if resp.Message == "" {
			resp.Message = "build trigger failed"
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (h *Handler) getWebhookSettings(w http.ResponseWriter, _ *http.Request) {
	cfg := h.settings.Current()
	warnings, err := settings.Validate(cfg)
	if err != nil {
		warnings = append(warnings, err.Error())
	}
	writeJSON(w, http.StatusOK, WebhookSettingsResponse{
		Settings: cfg.Masked(),
		Warnings: nonNil(warnings),
	})
}

func (h *Handler) putWebhookSettings(w http.ResponseWriter, r *http.Request) {
	var req WebhookSettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cfg := mergeWebhookSettings(req, h.settings.Current())
	if err := validateWebhookSettings(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	warnings, err := h.settings.Save(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, settings.ErrSecretWithoutURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("api: save webhook settings error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	writeJSON(w, http.StatusOK, WebhookSettingsResponse{
		Settings: cfg.Masked(),
		Warnings: nonNil(warnings),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
