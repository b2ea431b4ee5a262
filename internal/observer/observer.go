// Package observer consumes CMS change notifications, drops the ones that
// cannot affect the published site, and hands the rest to the pipeline.
package observer

import (
	"context"
	"log"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
)

// Processor runs a forwarded change through fingerprinting and state comparison.
type Processor interface {
	Process(ctx context.Context, event domain.ChangeEvent) (bool, error)
}

// MetricsSink records observer metrics. Methods must be non-blocking.
type MetricsSink interface {
	EventReceived(kind string)
	EventFiltered(kind string)
}

// DefaultDrainTimeout is the maximum time to wait for buffered events during shutdown.
const DefaultDrainTimeout = 30 * time.Second

type Observer struct {
	processor    Processor
	drainTimeout time.Duration
	metrics      MetricsSink // optional, nil = disabled
}

func New(processor Processor) *Observer {
	return &Observer{
		processor:    processor,
		drainTimeout: DefaultDrainTimeout,
	}
}

func (o *Observer) WithDrainTimeout(timeout time.Duration) *Observer {
	if timeout > 0 {
		o.drainTimeout = timeout
	}
	return o
}

func (o *Observer) WithMetrics(sink MetricsSink) *Observer {
	o.metrics = sink
	return o
}

// ShouldForward reports whether event may change the published content set.
// Autosaves and revisions never do. A save is dropped only when both statuses
// are known and neither is public; a delete only when the content is known to
// have been non-public. Missing statuses forward and the fingerprint compare
// absorbs any no-op.
func ShouldForward(event domain.ChangeEvent) bool {
	if event.IsTransient {
		return false
	}
	switch event.Kind {
	case domain.ChangeKindContentSaved:
		return !knownNonPublic(event.PreviousStatus) || !knownNonPublic(event.ResultingStatus)
	case domain.ChangeKindContentDeleted:
		return !knownNonPublic(event.PreviousStatus)
	default:
		return true
	}
}

func knownNonPublic(s domain.ContentStatus) bool {
	return s != "" && !s.Public()
}

// Run handles events until ctx is cancelled, then drains what is still buffered.
func (o *Observer) Run(ctx context.Context, ch <-chan domain.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			o.drain(ch)
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			o.Handle(ctx, event)
		}
	}
}

func (o *Observer) drain(ch <-chan domain.ChangeEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), o.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("observer: drain timeout, processed %d events", count)
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("observer: drain complete, processed %d events", count)
				return
			}
			o.Handle(drainCtx, event)
			count++
		default:
			if count > 0 {
				log.Printf("observer: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Handle filters a single event and forwards it. Errors are logged only;
// the CMS request that produced the event has already returned.
func (o *Observer) Handle(ctx context.Context, event domain.ChangeEvent) {
	if o.metrics != nil {
		o.metrics.EventReceived(string(event.Kind))
	}

	if !ShouldForward(event) {
		if o.metrics != nil {
			o.metrics.EventFiltered(string(event.Kind))
		}
		return
	}

	if _, err := o.processor.Process(ctx, event); err != nil {
		log.Printf("observer: event=%s entity=%s error: %v", event.Kind, event.EntityID, err)
	}
}
