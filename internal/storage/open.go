package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "searchalert/pkg/logx"
)

// Store persists subscriptions and the audit log.
type Store interface {
	// ListSubscriptions returns every subscription ordered by ID.
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	// PutSubscription inserts or replaces a subscription.
	PutSubscription(ctx context.Context, s Subscription) error
	// MarkNotified records a successful notification at the given time.
	// It returns ErrNotFound for an unknown id.
	MarkNotified(ctx context.Context, id string, at time.Time) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "":
		return nil, errors.New("storage.driver is required")
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
