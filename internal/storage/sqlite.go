package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "searchalert/pkg/logx"
)

//go:embed migrations.sql
var sqliteMigrations string

const sqliteTimeLayout = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, email, name, query, frequency, last_notified, created
		 FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var (
			sub          Subscription
			lastNotified sql.NullString
			created      string
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Email, &sub.Name, &sub.Query,
			&sub.Frequency, &lastNotified, &created); err != nil {
			return nil, err
		}
		if lastNotified.Valid && lastNotified.String != "" {
			if sub.LastNotified, err = time.Parse(sqliteTimeLayout, lastNotified.String); err != nil {
				return nil, fmt.Errorf("subscription %s: last_notified: %w", sub.ID, err)
			}
		}
		if sub.Created, err = time.Parse(sqliteTimeLayout, created); err != nil {
			return nil, fmt.Errorf("subscription %s: created: %w", sub.ID, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSubscription(ctx context.Context, sub Subscription) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if err := sub.validate(); err != nil {
		return err
	}
	if sub.Created.IsZero() {
		sub.Created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(id, user_id, email, name, query, frequency, last_notified, created)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id=excluded.user_id, email=excluded.email, name=excluded.name,
		   query=excluded.query, frequency=excluded.frequency,
		   last_notified=excluded.last_notified, created=excluded.created`,
		sub.ID, sub.UserID, sub.Email, sub.Name, sub.Query, sub.Frequency,
		nullTime(sub.LastNotified), sub.Created.UTC().Format(sqliteTimeLayout),
	)
	return err
}

func (s *sqliteStore) MarkNotified(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_notified = ? WHERE id = ?`,
		at.UTC().Format(sqliteTimeLayout), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, run_id, subscription_id, action, outcome, records, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(sqliteTimeLayout), e.RunID, e.SubscriptionID, e.Action, e.Outcome,
		e.Records, nullStr(e.Error), e.TookMS,
	)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
