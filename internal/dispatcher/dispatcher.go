package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
	"github.com/djlord-it/buildhook/internal/metrics"
)

// ErrNoDestination is returned when no sink is configured. Dispatch is
// skipped; this is not a delivery failure.
var ErrNoDestination = errors.New("no build destination configured")

// DeliveryError reports sinks that failed or answered non-2xx.
// Deliveries are not retried.
type DeliveryError struct {
	Event        string
	BuildVersion string
	Failures     []domain.DeliveryResult
}

func (e *DeliveryError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		if f.Error != nil {
			parts[i] = fmt.Sprintf("%s: %v", f.Sink, f.Error)
		} else {
			parts[i] = fmt.Sprintf("%s: status %d", f.Sink, f.StatusCode)
		}
	}
	return fmt.Sprintf("delivery failed (event=%s, build_version=%s): %s",
		e.Event, e.BuildVersion, strings.Join(parts, "; "))
}

// ConfigProvider returns the webhook configuration snapshot to use for one dispatch.
type ConfigProvider interface {
	Current() domain.WebhookConfig
}

type AnalyticsSink interface {
	Record(ctx context.Context, trigger domain.TriggerEvent, outcome string)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(sink, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

// Breaker guards sinks whose endpoint keeps failing.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

type Dispatcher struct {
	config       ConfigProvider
	client       *http.Client
	extra        []Sink
	sinkTimeout  time.Duration
	drainTimeout time.Duration

	breaker   Breaker       // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
}

// DefaultDrainTimeout is the maximum time to wait for queued triggers during shutdown.
const DefaultDrainTimeout = 30 * time.Second

func New(config ConfigProvider, client *http.Client) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		config:       config,
		client:       client,
		sinkTimeout:  defaultSinkTimeout,
		drainTimeout: DefaultDrainTimeout,
	}
}

// WithSink adds a sink that is used on every dispatch in addition to the
// sinks derived from the webhook configuration.
func (d *Dispatcher) WithSink(s Sink) *Dispatcher {
	d.extra = append(d.extra, s)
	return d
}

// WithSinkTimeout sets the per-request timeout for HTTP sinks.
func (d *Dispatcher) WithSinkTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.sinkTimeout = timeout
	}
	return d
}

func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.drainTimeout = timeout
	}
	return d
}

func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Run processes triggers from the channel until context is cancelled.
// After cancellation, it drains remaining buffered triggers with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case trigger, ok := <-ch:
			if !ok {
				return
			}
			d.handle(ctx, trigger)
		}
	}
}

// drain processes remaining triggers in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.TriggerEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("dispatcher: drain timeout, processed %d triggers", count)
			}
			return
		case trigger, ok := <-ch:
			if !ok {
				log.Printf("dispatcher: drain complete, processed %d triggers", count)
				return
			}
			d.handle(drainCtx, trigger)
			count++
		default:
			if count > 0 {
				log.Printf("dispatcher: drain complete, processed %d triggers", count)
			}
			return
		}
	}
}

// handle dispatches a queued trigger; all errors end here.
func (d *Dispatcher) handle(ctx context.Context, trigger domain.TriggerEvent) {
	_, err := d.Dispatch(ctx, trigger)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoDestination):
		log.Printf("dispatcher: event=%s build_version=%s skipped: %v",
			trigger.Event, trigger.State.BuildVersion(), err)
	default:
		log.Printf("dispatcher: error: %v", err)
	}
}

// Dispatch delivers trigger once to every configured sink. Sinks run
// concurrently so a slow or failing sink never holds up another.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger domain.TriggerEvent) ([]domain.DeliveryResult, error) {
	if d.metrics != nil {
		d.metrics.EventsInFlightIncr()
		defer d.metrics.EventsInFlightDecr()
	}

	cfg := d.config.Current()
	sinks := d.sinksFor(cfg)
	if len(sinks) == 0 {
		if d.metrics != nil {
			d.metrics.DeliveryOutcome(metrics.OutcomeSkipped)
		}
		d.recordAnalytics(ctx, trigger, metrics.OutcomeSkipped)
		return nil, ErrNoDestination
	}

	payload := Payload{
		Event:        trigger.Event,
		Timestamp:    trigger.CreatedAt.Unix(),
		SiteURL:      cfg.SiteURL,
		PostID:       trigger.EntityID,
		BuildVersion: trigger.State.BuildVersion(),
	}

	results := make([]domain.DeliveryResult, len(sinks))
	var wg sync.WaitGroup
	for i, sink := range sinks {
		wg.Add(1)
		go func(i int, sink Sink) {
			defer wg.Done()
			results[i] = d.deliver(ctx, sink, payload)
		}(i, sink)
	}
	wg.Wait()

	var failures []domain.DeliveryResult
	for _, r := range results {
		if !r.OK() {
			failures = append(failures, r)
		}
	}

	outcome := metrics.OutcomeSuccess
	switch {
	case len(failures) == len(results):
		outcome = metrics.OutcomeFailed
	case len(failures) > 0:
		outcome = metrics.OutcomePartial
	}
	if d.metrics != nil {
		d.metrics.DeliveryOutcome(outcome)
	}
	d.recordAnalytics(ctx, trigger, outcome)

	if len(failures) > 0 {
		return results, &DeliveryError{
			Event:        trigger.Event,
			BuildVersion: payload.BuildVersion,
			Failures:     failures,
		}
	}
	return results, nil
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, payload Payload) domain.DeliveryResult {
	key := sink.Endpoint()

	if d.breaker != nil {
		if err := d.breaker.Allow(key); err != nil {
			log.Printf("dispatcher: sink=%s event=%s build_version=%s skipped: %v",
				sink.Name(), payload.Event, payload.BuildVersion, err)
			return domain.DeliveryResult{Sink: sink.Name(), Error: err}
		}
	}

	result := sink.Deliver(ctx, payload)

	if d.metrics != nil {
		d.metrics.DeliveryAttemptCompleted(sink.Name(), metrics.ClassifyStatus(result.StatusCode, result.Error), result.Duration)
	}

	if result.OK() {
		if d.breaker != nil {
			d.breaker.RecordSuccess(key)
		}
		log.Printf("dispatcher: sink=%s event=%s build_version=%s delivered status=%d duration=%s",
			sink.Name(), payload.Event, payload.BuildVersion, result.StatusCode, result.Duration.Round(time.Millisecond))
		return result
	}

	if d.breaker != nil {
		d.breaker.RecordFailure(key)
	}
	// Enough context to replay by hand; deliveries are not retried.
	log.Printf("dispatcher: sink=%s endpoint=%s event=%s post_id=%s timestamp=%d build_version=%s failed status=%d err=%v",
		sink.Name(), redactEndpoint(key), payload.Event, payload.PostID, payload.Timestamp, payload.BuildVersion,
		result.StatusCode, result.Error)
	return result
}

// HasDestination reports whether the current config plus the static sinks
// would deliver anywhere.
func (d *Dispatcher) HasDestination() bool {
	return len(d.sinksFor(d.config.Current())) > 0
}

// sinksFor derives the sinks for one dispatch from a config snapshot.
func (d *Dispatcher) sinksFor(cfg domain.WebhookConfig) []Sink {
	var sinks []Sink
	if cfg.HasWebhook() {
		sinks = append(sinks, NewWebhookSink(d.client, cfg.URL, cfg.Secret, d.sinkTimeout))
	}
	if cfg.HasCI() {
		sinks = append(sinks, NewWorkflowDispatchSink(d.client, cfg, d.sinkTimeout))
	}
	return append(sinks, d.extra...)
}

func (d *Dispatcher) recordAnalytics(ctx context.Context, trigger domain.TriggerEvent, outcome string) {
	if d.analytics == nil {
		return
	}
	d.analytics.Record(ctx, trigger, outcome)
}

// redactEndpoint strips the query string, which commonly carries tokens.
func redactEndpoint(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i] + "?***"
	}
	return endpoint
}
