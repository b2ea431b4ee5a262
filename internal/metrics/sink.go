package metrics

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/djlord-it/buildhook/internal/circuitbreaker"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Observer metrics
	EventReceived(kind string)
	EventFiltered(kind string)

	// Pipeline metrics
	FingerprintComputed(duration time.Duration, err error)
	StateCompared(changed bool)

	// Dispatcher metrics
	DeliveryAttemptCompleted(sink, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()
	BreakerStateChanged(endpoint, state string)

	// EventBus metrics
	BufferSizeUpdate(bus string, size int)
	EmitError(bus string)

	// Resync metrics
	ResyncTriggered()
	LeaderStatusChanged(isLeader bool)
}

// Outcome constants for DeliveryOutcome metric.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomePartial = "partial"
	OutcomeSkipped = "skipped"
)

// StatusClass constants for DeliveryAttemptCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassCircuitOpen     = "circuit_open"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class. Typed
// errors are matched first; message matching covers errors from clients
// that do not wrap their causes.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		return classifyError(err)
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}

func classifyError(err error) string {
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError

	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return StatusClassCircuitOpen
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return StatusClassTimeout
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return StatusClassConnectionError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return StatusClassTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "nats: no servers"), strings.Contains(msg, "nats: connection closed"):
		return StatusClassConnectionError
	}
	return StatusClassOtherError
}
