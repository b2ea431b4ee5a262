package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Observer metrics
	eventsReceivedTotal *prometheus.CounterVec
	eventsFilteredTotal *prometheus.CounterVec

	// Pipeline metrics
	fingerprintDuration    prometheus.Histogram
	fingerprintErrorsTotal prometheus.Counter
	stateComparisonsTotal  *prometheus.CounterVec

	// Dispatcher metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	deliveryDuration      *prometheus.HistogramVec
	eventsInFlight        prometheus.Gauge
	breakerTransitions    *prometheus.CounterVec

	// EventBus metrics
	bufferSize      *prometheus.GaugeVec
	emitErrorsTotal *prometheus.CounterVec

	// Resync metrics
	resyncsTotal prometheus.Counter
	isLeader     prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initObserverMetrics(reg)
	s.initPipelineMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initResyncMetrics(reg)
	return s
}

func (s *PrometheusSink) initObserverMetrics(reg prometheus.Registerer) {
	s.eventsReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildhook_observer_events_received_total",
		Help: "Total number of change events received, by kind.",
	}, []string{"kind"})
	s.eventsFilteredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildhook_observer_events_filtered_total",
		Help: "Total number of change events dropped as noise, by kind.",
	}, []string{"kind"})

	s.register(reg, s.eventsReceivedTotal, "buildhook_observer_events_received_total")
	s.register(reg, s.eventsFilteredTotal, "buildhook_observer_events_filtered_total")
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.fingerprintDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "buildhook_pipeline_fingerprint_duration_seconds",
		Help:    "Time spent enumerating and hashing publishable content.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
	s.fingerprintErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "buildhook_pipeline_fingerprint_errors_total",
		Help: "Total number of failed content enumerations.",
	})
	s.stateComparisonsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildhook_pipeline_state_comparisons_total",
		Help: "Total number of build state comparisons, by result.",
	}, []string{"result"})

	s.register(reg, s.fingerprintDuration, "buildhook_pipeline_fingerprint_duration_seconds")
	s.register(reg, s.fingerprintErrorsTotal, "buildhook_pipeline_fingerprint_errors_total")
	s.register(reg, s.stateComparisonsTotal, "buildhook_pipeline_state_comparisons_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildhook_dispatcher_delivery_attempts_total",
		Help: "Total number of sink delivery attempts.",
	}, []string{"sink", "status_class"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildhook_dispatcher_delivery_outcomes_total",
		Help: "Total number of dispatch outcomes per trigger.",
	}, []string{"outcome"})

	s.deliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buildhook_dispatcher_delivery_duration_seconds",
		Help:    "Sink delivery latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"sink"})

	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "buildhook_dispatcher_events_in_flight",
		Help: "Number of triggers currently being dispatched.",
	})

	s.breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildhook_dispatcher_breaker_transitions_total",
		Help: "Total number of circuit breaker state transitions, by new state.",
	}, []string{"state"})

	s.register(reg, s.deliveryAttemptsTotal, "buildhook_dispatcher_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "buildhook_dispatcher_delivery_outcomes_total")
	s.register(reg, s.deliveryDuration, "buildhook_dispatcher_delivery_duration_seconds")
	s.register(reg, s.eventsInFlight, "buildhook_dispatcher_events_in_flight")
	s.register(reg, s.breakerTransitions, "buildhook_dispatcher_breaker_transitions_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "buildhook_eventbus_buffer_size",
		Help: "Current number of events in an event bus buffer.",
	}, []string{"bus"})
	s.emitErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildhook_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	}, []string{"bus"})

	s.register(reg, s.bufferSize, "buildhook_eventbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "buildhook_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initResyncMetrics(reg prometheus.Registerer) {
	s.resyncsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "buildhook_resync_triggered_total",
		Help: "Total number of scheduled resync events emitted.",
	})
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "buildhook_resync_is_leader",
		Help: "1 if this instance holds the resync leader lock.",
	})

	s.register(reg, s.resyncsTotal, "buildhook_resync_triggered_total")
	s.register(reg, s.isLeader, "buildhook_resync_is_leader")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) EventReceived(kind string) {
	s.eventsReceivedTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) EventFiltered(kind string) {
	s.eventsFilteredTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) FingerprintComputed(duration time.Duration, err error) {
	s.fingerprintDuration.Observe(duration.Seconds())
	if err != nil {
		s.fingerprintErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) StateCompared(changed bool) {
	result := "unchanged"
	if changed {
		result = "changed"
	}
	s.stateComparisonsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) DeliveryAttemptCompleted(sink, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(sink, statusClass).Inc()
	s.deliveryDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// BreakerStateChanged counts transitions by state only; endpoints are
// unbounded and may embed credentials.
func (s *PrometheusSink) BreakerStateChanged(endpoint, state string) {
	s.breakerTransitions.WithLabelValues(state).Inc()
}

func (s *PrometheusSink) BufferSizeUpdate(bus string, size int) {
	s.bufferSize.WithLabelValues(bus).Set(float64(size))
}

func (s *PrometheusSink) EmitError(bus string) {
	s.emitErrorsTotal.WithLabelValues(bus).Inc()
}

func (s *PrometheusSink) ResyncTriggered() {
	s.resyncsTotal.Inc()
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}
