// Package delivery sends digest emails.
//
// Delivery is best-effort within a fixed envelope: one attempt, and after a
// failure exactly one retry on a freshly reset transport connection. There is
// no backoff, no queueing and no redelivery later; a failure after the retry
// is returned to the caller as *FailedError.
package delivery
