package alert

import (
	"errors"
	"fmt"
	"time"

	"searchalert/internal/eventbus"
)

// Outcome is the result of evaluating one subscription.
type Outcome string

const (
	OutcomeNoChange       Outcome = "no_change"
	OutcomeSent           Outcome = "sent"
	OutcomeQueryError     Outcome = "query_error"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeSkipped        Outcome = "skipped"
	// OutcomeError covers render failures and recovered panics.
	OutcomeError Outcome = "error"
)

func (o Outcome) eventType() string {
	switch o {
	case OutcomeSent:
		return eventbus.TypeDigestSent
	case OutcomeDeliveryFailed:
		return eventbus.TypeDeliveryFailed
	case OutcomeQueryError:
		return eventbus.TypeQueryFailed
	default:
		return eventbus.TypeSubscriptionChecked
	}
}

type Result struct {
	SubscriptionID string
	Outcome        Outcome
	Records        int
	Attempts       int
	Err            error
	Took           time.Duration
}

// Report summarizes one batch. Results holds one entry per subscription,
// including the ones that were not due.
type Report struct {
	RunID    string
	Disabled bool
	Started  time.Time
	Took     time.Duration
	Results  []Result
}

func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failed is the number of subscriptions whose evaluation reported an error.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Err joins every per-subscription failure, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", res.SubscriptionID, res.Err))
		}
	}
	return errors.Join(errs...)
}

// BatchEvent is the payload of batch lifecycle events.
type BatchEvent struct {
	RunID     string
	Started   time.Time
	Took      time.Duration
	Evaluated int
	Sent      int
	Failed    int
}

// CheckedEvent is the payload of per-subscription events.
type CheckedEvent struct {
	RunID  string
	Result Result
}
