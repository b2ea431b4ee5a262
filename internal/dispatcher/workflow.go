package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
)

// WorkflowDispatchSink triggers a CI workflow through the GitHub
// workflow_dispatch API.
type WorkflowDispatchSink struct {
	client   *http.Client
	endpoint string
	ref      string
	token    string
	timeout  time.Duration
}

type workflowDispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs"`
}

// NewWorkflowDispatchSink builds a sink from the CI fields of cfg.
// cfg.HasCI() must be true.
func NewWorkflowDispatchSink(client *http.Client, cfg domain.WebhookConfig, timeout time.Duration) *WorkflowDispatchSink {
	base := cfg.CIAPIBaseURL
	if base == "" {
		base = domain.DefaultCIAPIBaseURL
	}
	ref := cfg.CIRef
	if ref == "" {
		ref = domain.DefaultCIRef
	}
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}

	endpoint := fmt.Sprintf("%s/repos/%s/actions/workflows/%s/dispatches",
		strings.TrimRight(base, "/"),
		strings.Trim(cfg.CIRepo, "/"),
		url.PathEscape(cfg.CIWorkflowFile),
	)

	return &WorkflowDispatchSink{
		client:   client,
		endpoint: endpoint,
		ref:      ref,
		token:    cfg.CIToken,
		timeout:  timeout,
	}
}

func (s *WorkflowDispatchSink) Name() string     { return "ci" }
func (s *WorkflowDispatchSink) Endpoint() string { return s.endpoint }

func (s *WorkflowDispatchSink) Deliver(ctx context.Context, payload Payload) domain.DeliveryResult {
	start := time.Now()
	result := domain.DeliveryResult{Sink: s.Name()}

	body, err := json.Marshal(workflowDispatchRequest{
		Ref: s.ref,
		Inputs: map[string]string{
			"wordpress_event": payload.Event,
			"post_id":         payload.PostID,
			"timestamp":       strconv.FormatInt(payload.Timestamp, 10),
		},
	})
	if err != nil {
		result.Error = fmt.Errorf("marshal: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("create request: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := s.client.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("send: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result.StatusCode = resp.StatusCode
	result.Duration = time.Since(start)
	return result
}
