package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/buildhook/internal/domain"
)

const defaultSinkTimeout = 10 * time.Second

// WebhookSink posts the payload to a generic build webhook.
type WebhookSink struct {
	client  *http.Client
	url     string
	secret  string
	timeout time.Duration
}

// NewWebhookSink creates a sink for url. An empty secret disables signing.
func NewWebhookSink(client *http.Client, url, secret string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &WebhookSink{client: client, url: url, secret: secret, timeout: timeout}
}

func (s *WebhookSink) Name() string     { return "webhook" }
func (s *WebhookSink) Endpoint() string { return s.url }

// Deliver posts the payload once.
// Headers: X-Buildhook-Event, -Timestamp, -Build-Version, -Delivery-ID and,
// when a secret is configured, -Signature over url + timestamp.
func (s *WebhookSink) Deliver(ctx context.Context, payload Payload) domain.DeliveryResult {
	start := time.Now()
	result := domain.DeliveryResult{Sink: s.Name()}

	body, err := json.Marshal(payload)
	if err != nil {
		result.Error = fmt.Errorf("marshal: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("create request: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, payload.Event)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(payload.Timestamp, 10))
	req.Header.Set(HeaderBuildVersion, payload.BuildVersion)
	req.Header.Set(HeaderDeliveryID, uuid.NewString())
	if s.secret != "" {
		req.Header.Set(HeaderSignature, computeSignature(s.secret, s.url, payload.Timestamp))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("send: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result.StatusCode = resp.StatusCode
	result.Duration = time.Since(start)
	return result
}
