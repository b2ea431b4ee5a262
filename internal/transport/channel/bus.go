// Package channel provides bounded in-process queues between the API,
// the change observer and the dispatcher.
package channel

import (
	"context"
	"errors"
	"time"
)

// ErrBufferFull is returned when the buffer stays full for the whole emit timeout.
var ErrBufferFull = errors.New("event bus buffer full")

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

// MetricsSink records event bus metrics. Methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(bus string, size int)
	EmitError(bus string)
}

// EventBus is a named, bounded FIFO of T.
type EventBus[T any] struct {
	name        string
	ch          chan T
	emitTimeout time.Duration
	nonBlocking bool
	metrics     MetricsSink
}

type Option func(*options)

type options struct {
	emitTimeout time.Duration
	nonBlocking bool
	metrics     MetricsSink
}

func WithEmitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.emitTimeout = d
		}
	}
}

// NonBlocking makes Emit fail with ErrBufferFull as soon as the buffer is
// full instead of waiting for space.
func NonBlocking() Option {
	return func(o *options) {
		o.nonBlocking = true
	}
}

func WithMetrics(m MetricsSink) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func NewEventBus[T any](name string, buffer int, opts ...Option) *EventBus[T] {
	o := options{emitTimeout: DefaultEmitTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &EventBus[T]{
		name:        name,
		ch:          make(chan T, buffer),
		emitTimeout: o.emitTimeout,
		nonBlocking: o.nonBlocking,
		metrics:     o.metrics,
	}
}

// Emit enqueues event. It returns ErrBufferFull if no space frees up within
// the emit timeout (immediately for a non-blocking bus), or ctx.Err() if ctx
// ends first.
func (b *EventBus[T]) Emit(ctx context.Context, event T) error {
	select {
	case b.ch <- event:
		b.recordSize()
		return nil
	default:
	}

	if b.nonBlocking {
		b.recordEmitError()
		return ErrBufferFull
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.recordSize()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		b.recordEmitError()
		return ErrBufferFull
	}
}

func (b *EventBus[T]) Channel() <-chan T {
	return b.ch
}

// Len reports the number of buffered events.
func (b *EventBus[T]) Len() int {
	return len(b.ch)
}

func (b *EventBus[T]) Name() string {
	return b.name
}

func (b *EventBus[T]) recordSize() {
	if b.metrics != nil {
		b.metrics.BufferSizeUpdate(b.name, len(b.ch))
	}
}

func (b *EventBus[T]) recordEmitError() {
	if b.metrics != nil {
		b.metrics.EmitError(b.name)
	}
}
