// Package circuitbreaker tracks consecutive delivery failures per sink
// endpoint and short-circuits endpoints that keep failing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type endpointState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// StateObserver is notified whenever an endpoint changes state.
type StateObserver func(endpoint string, from, to State)

type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	observer  StateObserver
}

// New returns a breaker that opens after threshold consecutive failures and
// lets a single probe through once cooldown has elapsed.
func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		endpoints: make(map[string]*endpointState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

func (cb *CircuitBreaker) WithObserver(fn StateObserver) *CircuitBreaker {
	cb.observer = fn
	return cb
}

// Allow reports whether a delivery to endpoint may proceed.
func (cb *CircuitBreaker) Allow(endpoint string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.endpoints[endpoint]
	if !ok {
		return nil
	}

	switch s.state {
	case StateOpen:
		if cb.now().Sub(s.openedAt) >= cb.cooldown {
			cb.transition(endpoint, s, StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		// one probe at a time
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.endpoints[endpoint]
	if !ok {
		return
	}
	s.consecutiveFailures = 0
	cb.transition(endpoint, s, StateClosed)
}

func (cb *CircuitBreaker) RecordFailure(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.endpoints[endpoint]
	if !ok {
		s = &endpointState{}
		cb.endpoints[endpoint] = s
	}

	s.consecutiveFailures++
	if s.state == StateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.openedAt = cb.now()
		cb.transition(endpoint, s, StateOpen)
	}
}

// State returns the current state of endpoint. Unknown endpoints are closed.
func (cb *CircuitBreaker) State(endpoint string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.endpoints[endpoint]; ok {
		return s.state
	}
	return StateClosed
}

// OpenEndpoints lists endpoints that are currently open or half-open.
func (cb *CircuitBreaker) OpenEndpoints() []string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var out []string
	for endpoint, s := range cb.endpoints {
		if s.state != StateClosed {
			out = append(out, endpoint)
		}
	}
	return out
}

func (cb *CircuitBreaker) transition(endpoint string, s *endpointState, to State) {
	from := s.state
	s.state = to
	if from != to && cb.observer != nil {
		cb.observer(endpoint, from, to)
	}
}
