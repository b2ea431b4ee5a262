// Package pipeline turns a forwarded change event into at most one queued
// build trigger.
//
// The build state is advanced before the trigger is queued. A crash between
// the two loses that trigger instead of sending it twice.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/buildhook/internal/domain"
)

type Fingerprinter interface {
	ComputeFingerprint(ctx context.Context) (domain.Fingerprint, error)
}

// StateStore is the single serialization point for build state.
// CompareAndUpdate MUST be atomic at the storage level: of N concurrent calls
// carrying the same new hash exactly one observes changed=true.
type StateStore interface {
	CompareAndUpdate(ctx context.Context, fp domain.Fingerprint) (changed bool, state domain.BuildState, err error)
}

type TriggerEmitter interface {
	Emit(ctx context.Context, trigger domain.TriggerEvent) error
}

// MetricsSink records pipeline metrics. Methods must be non-blocking.
type MetricsSink interface {
	FingerprintComputed(duration time.Duration, err error)
	StateCompared(changed bool)
}

type Pipeline struct {
	hasher  Fingerprinter
	store   StateStore
	emitter TriggerEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(hasher Fingerprinter, store StateStore, emitter TriggerEmitter) *Pipeline {
	return &Pipeline{
		hasher:  hasher,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the pipeline.
func (p *Pipeline) WithMetrics(sink MetricsSink) *Pipeline {
	p.metrics = sink
	return p
}

// Process fingerprints the current content and, if it differs from the last
// recorded build, queues a trigger. It reports whether the state moved.
func (p *Pipeline) Process(ctx context.Context, event domain.ChangeEvent) (bool, error) {
	start := p.clock()
	fp, err := p.hasher.ComputeFingerprint(ctx)
	if p.metrics != nil {
		p.metrics.FingerprintComputed(p.clock().Sub(start), err)
	}
	if err != nil {
		return false, fmt.Errorf("fingerprint: %w", err)
	}

	changed, state, err := p.store.CompareAndUpdate(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("compare and update: %w", err)
	}
	if p.metrics != nil {
		p.metrics.StateCompared(changed)
	}

	if !changed {
		log.Printf("pipeline: event=%s entity=%s content unchanged (hash=%s)", event.Kind, event.EntityID, shortHash(fp.Hash))
		return false, nil
	}

	trigger := domain.TriggerEvent{
		ID:        uuid.New(),
		Event:     event.Kind.EventName(),
		EntityID:  event.EntityID,
		State:     state,
		CreatedAt: p.clock().UTC(),
	}

	log.Printf("pipeline: event=%s entity=%s content changed (hash=%s, build_version=%s)",
		event.Kind, event.EntityID, shortHash(fp.Hash), state.BuildVersion())

	if err := p.emitter.Emit(ctx, trigger); err != nil {
		// State already advanced; this trigger is dropped rather than replayed.
		return true, fmt.Errorf("queue trigger build_version=%s: %w", state.BuildVersion(), err)
	}
	return true, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
