package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) BatchStarted()                                                   {}
func (n *NoopSink) BatchCompleted(duration time.Duration, evaluated int, err error) {}
func (n *NoopSink) SubscriptionEvaluated(outcome string, duration time.Duration)    {}
func (n *NoopSink) QueryCompleted(duration time.Duration, err error)                {}
func (n *NoopSink) RecordsMatched(count int)                                        {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, ok bool, d time.Duration)  {}
func (n *NoopSink) ConnectionReset()                                                {}
func (n *NoopSink) EventDropped()                                                   {}
