package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	logx "searchalert/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened")
	return newPostgresStore(db, log), nil
}

func newPostgresStore(db *sql.DB, log logx.Logger) *postgresStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &postgresStore{db: db, log: log}
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, queryPGListSubscriptions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var (
			sub          Subscription
			lastNotified sql.NullTime
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Email, &sub.Name, &sub.Query,
			&sub.Frequency, &lastNotified, &sub.Created); err != nil {
			return nil, err
		}
		if lastNotified.Valid {
			sub.LastNotified = lastNotified.Time.UTC()
		}
		sub.Created = sub.Created.UTC()
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *postgresStore) PutSubscription(ctx context.Context, sub Subscription) error {
	if err := sub.validate(); err != nil {
		return err
	}
	if sub.Created.IsZero() {
		sub.Created = time.Now()
	}
	last := sql.NullTime{Time: sub.LastNotified, Valid: !sub.LastNotified.IsZero()}
	_, err := s.db.ExecContext(ctx, queryPGUpsertSubscription,
		sub.ID, sub.UserID, sub.Email, sub.Name, sub.Query, sub.Frequency, last, sub.Created,
	)
	return err
}

func (s *postgresStore) MarkNotified(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, queryPGMarkNotified, at.UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, queryPGInsertAudit,
		e.At.UTC(), e.RunID, e.SubscriptionID, e.Action, e.Outcome, e.Records, nullStr(e.Error), e.TookMS,
	)
	return err
}
