package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "searchalert/pkg/logx"
)

type Config struct {
	Schedule   string
	Timezone   string
	RunOnStart bool
}

// Job is one triggered unit of work. ctx is cancelled when the service stops.
type Job func(ctx context.Context) error

type Service struct {
	log logx.Logger
	job Job

	mu      sync.Mutex
	cfg     Config
	spec    ParsedSpec
	loc     *time.Location
	c       *cron.Cron
	entry   cron.EntryID
	wrapped cron.Job
	cancel  context.CancelFunc

	inflight sync.WaitGroup
}

func New(cfg Config, job Job, log logx.Logger) (*Service, error) {
	if job == nil {
		return nil, errors.New("scheduler: job is nil")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if _, err := spec.Schedule(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return &Service{log: log, job: job, cfg: cfg, spec: spec, loc: loc}, nil
}

// Start registers the job and starts triggering. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	sched, err := s.spec.Schedule()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	s.wrapped = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		s.fire(runCtx)
	}))
	s.c = cron.New(cron.WithLocation(s.loc), cron.WithLogger(cl))
	s.entry = s.c.Schedule(sched, s.wrapped)
	s.cancel = cancel
	s.c.Start()

	s.log.Info("service started",
		logx.String("schedule", strings.TrimSpace(s.cfg.Schedule)),
		logx.String("source", s.spec.Source),
		logx.String("tz", s.loc.String()),
		logx.Time("next", s.c.Entry(s.entry).Next),
	)
	if s.cfg.RunOnStart {
		// cron only tracks its own invocations; Stop waits for this one via inflight.
		s.inflight.Add(1)
		go func(j cron.Job) {
			defer s.inflight.Done()
			j.Run()
		}(s.wrapped)
	}
	return nil
}

// Next returns the next trigger time, or zero if the service is not running.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Stop stops triggering and waits for a running job, or until ctx is done.
// The job's context is cancelled only if ctx expires first.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out; cancelling running job")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.log.Debug("trigger fired")
	if err := s.job(ctx); err != nil {
		s.log.Warn("job finished with errors", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Debug("job finished", logx.Duration("took", time.Since(start)))
}

// cronLogger adapts logx to cron.Logger. cron's Info chatter goes to trace level.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.log.Info("previous batch still running; trigger skipped")
		return
	}
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
