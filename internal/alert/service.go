// Package alert runs scheduled saved-search alert batches.
//
// A batch lists the subscriptions, evaluates those that are due against the
// search backend, mails a digest for every subscription with new records and
// advances the subscription's last-notification time only when the digest
// was delivered.
package alert

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"searchalert/internal/delivery"
	"searchalert/internal/eventbus"
	"searchalert/internal/metrics"
	"searchalert/internal/search"
	"searchalert/internal/storage"
	"searchalert/internal/window"
	logx "searchalert/pkg/logx"
)

// Config is the live part of the batch driver configuration. It can be
// swapped with Apply between batches.
type Config struct {
	// Enabled is the feature gate.
	Enabled bool
	Cursor  window.CursorPolicy
	Limit   int
	Workers int
	From    delivery.Mailbox

	SiteTitle string
	SiteURL   string
	// Renderer defaults to a TextRenderer.
	Renderer Renderer
	// Policy replaces the delivery policy. Nil keeps the current one.
	Policy delivery.Policy
}

// Resolver computes the notification window of one subscription.
type Resolver interface {
	Resolve(ctx context.Context, run window.Run, q search.Query) (window.Outcome, error)
}

// Deps are the collaborators of a Service. Store and Resolver are required;
// Policy is required unless Config.Policy is set.
type Deps struct {
	Store    storage.Store
	Resolver Resolver
	Policy   delivery.Policy
	Bus      eventbus.Bus
	Metrics  metrics.Sink
	Logger   logx.Logger

	// Now is used for the batch start time; defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	mu  sync.RWMutex
	cfg Config

	log      logx.Logger
	store    storage.Store
	resolver Resolver
	bus      eventbus.Bus
	metrics  metrics.Sink
	now      func() time.Time

	running sync.Mutex
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("alert: store is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("alert: resolver is required")
	}
	if cfg.Policy == nil {
		cfg.Policy = deps.Policy
	}
	if cfg.Policy == nil {
		return nil, errors.New("alert: delivery policy is required")
	}
	s := &Service{
		log:      deps.Logger,
		store:    deps.Store,
		resolver: deps.Resolver,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		now:      deps.Now,
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoopSink()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.Apply(cfg)
	return s, nil
}

// Apply replaces the configuration. A batch already running keeps the
// configuration it started with.
func (s *Service) Apply(cfg Config) {
	if cfg.Cursor == nil {
		cfg.Cursor = window.DefaultCursor{}
	}
	if cfg.Renderer == nil {
		cfg.Renderer = TextRenderer{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	s.mu.Lock()
	if cfg.Policy == nil {
		cfg.Policy = s.cfg.Policy
	}
	s.cfg = cfg
	s.mu.Unlock()
}

// Policy returns the delivery policy the next batch will use.
func (s *Service) Policy() delivery.Policy {
	return s.config().Policy
}

func (s *Service) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Enabled
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// RunBatch evaluates every due subscription once.
//
// The returned error is non-nil only when the batch could not run at all
// (for example the store could not be read). Per-subscription failures are
// reported in the Report; use Report.Err to join them.
//
// Cancelling ctx stops new evaluations from starting. Evaluations that have
// already started run to completion.
func (s *Service) RunBatch(ctx context.Context) (Report, error) {
	cfg := s.config()
	if !cfg.Enabled {
		s.log.Warn("alerts.enabled is false; set it to true to use the email alert system")
		return Report{Disabled: true}, nil
	}

	s.running.Lock()
	defer s.running.Unlock()

	start := s.now()
	runID := uuid.NewString()
	log := s.log.With(logx.String("run_id", runID))
	rep := Report{RunID: runID, Started: start}

	s.metrics.BatchStarted()
	s.publish(eventbus.TypeBatchStarted, BatchEvent{RunID: runID, Started: start})

	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		err = fmt.Errorf("list subscriptions: %w", err)
		s.metrics.BatchCompleted(time.Since(start), 0, err)
		log.Error("batch aborted", logx.Err(err))
		return rep, err
	}

	due := make([]storage.Subscription, 0, len(subs))
	for _, sub := range subs {
		if !sub.Due(start) {
			rep.Results = append(rep.Results, Result{SubscriptionID: sub.ID, Outcome: OutcomeSkipped})
			continue
		}
		due = append(due, sub)
	}
	log.Info("batch started", logx.Int("subscriptions", len(subs)), logx.Int("due", len(due)), logx.Int("workers", cfg.Workers))

	rep.Results = append(rep.Results, s.evaluateAll(ctx, cfg, runID, start, due)...)
	rep.Took = time.Since(start)

	batchErr := rep.Err()
	s.metrics.BatchCompleted(rep.Took, len(due), batchErr)
	s.publish(eventbus.TypeBatchFinished, BatchEvent{
		RunID:     runID,
		Started:   start,
		Took:      rep.Took,
		Evaluated: len(due),
		Sent:      rep.Count(OutcomeSent),
		Failed:    rep.Failed(),
	})

	fields := []logx.Field{
		logx.Int("evaluated", len(due)),
		logx.Int("sent", rep.Count(OutcomeSent)),
		logx.Int("no_change", rep.Count(OutcomeNoChange)),
		logx.Int("failed", rep.Failed()),
		logx.Duration("took", rep.Took),
	}
	if batchErr != nil {
		log.Warn("batch finished with failures", append(fields, logx.Err(batchErr))...)
	} else {
		log.Info("batch finished", fields...)
	}
	return rep, nil
}

// evaluateAll fans due subscriptions out to cfg.Workers workers and returns
// one result per subscription, in input order.
func (s *Service) evaluateAll(ctx context.Context, cfg Config, runID string, start time.Time, due []storage.Subscription) []Result {
	results := make([]Result, len(due))
	if len(due) == 0 {
		return results
	}

	// Started evaluations must finish even if the batch is cancelled.
	workCtx := context.WithoutCancel(ctx)

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := min(cfg.Workers, len(due))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.evaluate(workCtx, cfg, runID, start, due[i])
			}
		}()
	}

	next := 0
feed:
	for ; next < len(due); next++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(due); i++ {
		results[i] = Result{SubscriptionID: due[i].ID, Outcome: OutcomeSkipped, Err: ctx.Err()}
	}
	if next < len(due) {
		s.log.Warn("batch cancelled; remaining subscriptions skipped",
			logx.String("run_id", runID), logx.Int("skipped", len(due)-next))
	}
	return results
}

// evaluate processes one subscription. Panics are confined to its result.
func (s *Service) evaluate(ctx context.Context, cfg Config, runID string, start time.Time, sub storage.Subscription) (res Result) {
	began := time.Now()
	log := s.log.With(logx.String("run_id", runID), logx.String("subscription", sub.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("subscription evaluation panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = Result{SubscriptionID: sub.ID, Outcome: OutcomeError, Err: fmt.Errorf("panic: %v", r)}
		}
		res.Took = time.Since(began)
		s.metrics.SubscriptionEvaluated(string(res.Outcome), res.Took)
		s.publish(res.Outcome.eventType(), CheckedEvent{RunID: runID, Result: res})
	}()

	res = s.check(ctx, cfg, start, sub, log)
	return res
}

func (s *Service) check(ctx context.Context, cfg Config, start time.Time, sub storage.Subscription, log logx.Logger) Result {
	res := Result{SubscriptionID: sub.ID}

	q, err := search.ParseQuery(sub.Query)
	if err != nil {
		res.Outcome, res.Err = OutcomeQueryError, &window.QueryError{SearchID: sub.ID, Err: err}
		log.Warn("saved search is invalid", logx.Err(err))
		return res
	}

	last := sub.LastNotified
	if last.IsZero() {
		last = sub.Created
	}
	run := window.Run{
		SearchID:      sub.ID,
		CursorField:   cfg.Cursor.Field(),
		LastExecution: last,
		Limit:         cfg.Limit,
	}

	qStart := time.Now()
	out, err := s.resolver.Resolve(ctx, run, q)
	s.metrics.QueryCompleted(time.Since(qStart), err)
	if err != nil {
		res.Outcome, res.Err = OutcomeQueryError, err
		log.Warn("search failed; subscription left unchanged", logx.Err(err))
		return res
	}
	if out.Kind == window.NoChange {
		res.Outcome = OutcomeNoChange
		log.Debug("no new records", logx.Time("last_execution", last))
		return res
	}

	res.Records = len(out.Records)
	s.metrics.RecordsMatched(res.Records)

	to, err := delivery.ParseMailbox(sub.Email)
	if err != nil {
		res.Outcome, res.Err = OutcomeDeliveryFailed, err
		log.Warn("subscription has an invalid email address", logx.Err(err))
		return res
	}

	subject, body, err := cfg.Renderer.Render(Digest{
		SiteTitle:  cfg.SiteTitle,
		SearchName: sub.Name,
		Recipient:  to,
		Records:    out.Records,
		Window:     out.Window,
		Link:       resultsLink(cfg.SiteURL, out.Query),
	})
	if err != nil {
		res.Outcome, res.Err = OutcomeError, fmt.Errorf("render digest: %w", err)
		log.Error("failed to render digest", logx.Err(err))
		return res
	}

	rc, err := cfg.Policy.Deliver(ctx, delivery.Message{From: cfg.From, To: to, Subject: subject, Body: body})
	for _, a := range rc.Attempts {
		s.metrics.DeliveryAttemptCompleted(a.Ordinal, a.Outcome == delivery.Sent, a.Took)
	}
	for i := 0; i < rc.Resets(); i++ {
		s.metrics.ConnectionReset()
	}
	res.Attempts = len(rc.Attempts)
	if err != nil {
		res.Outcome, res.Err = OutcomeDeliveryFailed, err
		return res
	}

	res.Outcome = OutcomeSent
	if err := s.store.MarkNotified(ctx, sub.ID, start); err != nil {
		res.Err = fmt.Errorf("record notification: %w", err)
		log.Error("digest sent but last notification time was not saved", logx.Err(err))
		return res
	}
	log.Info("digest sent", logx.Int("records", res.Records), logx.String("window", out.Window.Filter()))
	return res
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// resultsLink points at the site's result page for q. q already carries the
// window as a hidden filter.
func resultsLink(siteURL string, q search.Query) string {
	base := strings.TrimRight(strings.TrimSpace(siteURL), "/")
	return base + "/Search/Results?" + q.Encode()
}
