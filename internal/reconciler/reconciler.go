// Package reconciler periodically re-checks the published content set
// against the recorded build state.
//
// CMS notifications can be lost (the service was down, a bulk import
// bypassed hooks, someone edited the database directly). On every scheduled
// run the reconciler emits a scheduled_resync change event; the pipeline
// fingerprints the content as usual, so a resync only produces a build when
// the content actually differs from the last recorded build.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/djlord-it/buildhook/internal/domain"
)

// Schedule yields the next run time after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// EventEmitter enqueues change events for the observer.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.ChangeEvent) error
}

// MetricsSink records reconciler metrics. Methods must be non-blocking.
type MetricsSink interface {
	ResyncTriggered()
}

// Reconciler emits a resync event on every schedule tick.
type Reconciler struct {
	schedule Schedule
	emitter  EventEmitter
	clock    func() time.Time
	metrics  MetricsSink // optional, nil = disabled
}

// New creates a new Reconciler.
func New(schedule Schedule, emitter EventEmitter) *Reconciler {
	return &Reconciler{
		schedule: schedule,
		emitter:  emitter,
		clock:    time.Now,
	}
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run waits for each scheduled tick and emits a resync. It blocks until ctx
// is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	log.Printf("reconciler: started (next=%s)", r.schedule.Next(r.clock()).UTC().Format(time.RFC3339))

	for {
		now := r.clock()
		wait := r.schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("reconciler: stopped")
			return
		case <-timer.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle emits one resync event. Emit failures are logged; the next
// scheduled run covers them.
func (r *Reconciler) RunCycle(ctx context.Context) {
	event := domain.ChangeEvent{
		Kind:       domain.ChangeKindScheduledResync,
		OccurredAt: r.clock().UTC(),
	}

	if err := r.emitter.Emit(ctx, event); err != nil {
		log.Printf("reconciler: failed to emit resync: %v", err)
		return
	}
	if r.metrics != nil {
		r.metrics.ResyncTriggered()
	}
	log.Printf("reconciler: resync emitted at %s", event.OccurredAt.Format(time.RFC3339))
}
