// Package metrics records batch, query and delivery metrics.
package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Batch metrics
	BatchStarted()
	BatchCompleted(duration time.Duration, evaluated int, err error)
	SubscriptionEvaluated(outcome string, duration time.Duration)

	// Search metrics
	QueryCompleted(duration time.Duration, err error)
	RecordsMatched(n int)

	// Delivery metrics
	DeliveryAttemptCompleted(attempt int, ok bool, duration time.Duration)
	ConnectionReset()

	// EventBus metrics
	EventDropped()
}
