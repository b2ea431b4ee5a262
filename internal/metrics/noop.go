package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EventReceived(kind string)                                          {}
func (n *NoopSink) EventFiltered(kind string)                                          {}
func (n *NoopSink) FingerprintComputed(duration time.Duration, err error)              {}
func (n *NoopSink) StateCompared(changed bool)                                         {}
func (n *NoopSink) DeliveryAttemptCompleted(sink, statusClass string, d time.Duration) {}
func (n *NoopSink) DeliveryOutcome(outcome string)                                     {}
func (n *NoopSink) EventsInFlightIncr()                                                {}
func (n *NoopSink) EventsInFlightDecr()                                                {}
func (n *NoopSink) BreakerStateChanged(endpoint, state string)                         {}
func (n *NoopSink) BufferSizeUpdate(bus string, size int)                              {}
func (n *NoopSink) EmitError(bus string)                                               {}
func (n *NoopSink) ResyncTriggered()                                                   {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                  {}
