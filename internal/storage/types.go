package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("subscription not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot of subscriptions + JSON Lines audit log
//   - "sqlite": SQLite database file (pure Go driver)
//   - "postgres": PostgreSQL, connected through DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscription is a saved search with scheduled notification enabled.
//
// Frequency is the notification interval in whole days; 0 disables the
// subscription. Query is the saved search in URL query form.
type Subscription struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Query        string    `json:"query"`
	Frequency    int       `json:"frequency"`
	LastNotified time.Time `json:"last_notified"`
	Created      time.Time `json:"created"`
}

// Due reports whether at least Frequency whole days have passed since the
// subscription was last notified (or created, if it never was).
func (s Subscription) Due(now time.Time) bool {
	if s.Frequency <= 0 {
		return false
	}
	last := s.LastNotified
	if last.IsZero() {
		last = s.Created
	}
	if last.IsZero() {
		return true
	}
	return !now.Before(last.AddDate(0, 0, s.Frequency))
}

func (s Subscription) validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("subscription id is required")
	}
	if strings.TrimSpace(s.Email) == "" {
		return errors.New("subscription " + s.ID + ": email is required")
	}
	if s.Frequency < 0 {
		return errors.New("subscription " + s.ID + ": frequency must be >= 0")
	}
	return nil
}

// AuditEntry records one subscription evaluation.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At             time.Time `json:"at"`
	RunID          string    `json:"run_id"`
	SubscriptionID string    `json:"subscription_id"`
	Action         string    `json:"action"`
	Outcome        string    `json:"outcome"`
	Records        int       `json:"records"`
	Error          string    `json:"error,omitempty"`
	TookMS         int64     `json:"took_ms"`
}
