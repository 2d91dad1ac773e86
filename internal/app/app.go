package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"searchalert/internal/alert"
	"searchalert/internal/config"
	"searchalert/internal/delivery"
	"searchalert/internal/eventbus"
	"searchalert/internal/metrics"
	"searchalert/internal/runtime/supervisor"
	"searchalert/internal/scheduler"
	"searchalert/internal/search"
	"searchalert/internal/storage"
	"searchalert/internal/window"
	logx "searchalert/pkg/logx"
)

// auditBuffer bounds the events queued for the audit recorder.
const auditBuffer = 1024

type App struct {
	cfgm *config.ConfigManager

	root logx.Logger
	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	smtp     *delivery.SMTPTransport
	bus      eventbus.Bus
	metrics  metrics.Sink
	registry *prometheus.Registry
	alerts   *alert.Service
	audit    *alert.AuditRecorder

	sup   *supervisor.Supervisor
	sched *scheduler.Service
}

// New loads the config and wires every component. Nothing is started.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	root := log
	log = log.With(logx.String("comp", "app"))

	var (
		sink     metrics.Sink = metrics.NewNoopSink()
		registry *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink = metrics.NewPrometheusSink(registry, root.With(logx.String("comp", "metrics")))
	}

	bus := eventbus.New(eventbus.WithDropHook(func(eventbus.Event) { sink.EventDropped() }))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	// Close the store if any later step fails.
	ok := false
	defer func() {
		if !ok {
			_ = store.Close()
		}
	}()

	solrCfg, err := mapSearchConfig(cfg)
	if err != nil {
		return nil, err
	}
	exec, err := search.NewSolrExecutor(solrCfg)
	if err != nil {
		return nil, err
	}

	smtpCfg, err := mapSMTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	transport, err := delivery.NewSMTPTransport(smtpCfg)
	if err != nil {
		return nil, err
	}
	policy, err := newPolicy(cfg, transport, root.With(logx.String("comp", "delivery")))
	if err != nil {
		return nil, err
	}

	acfg, err := mapAlertConfig(cfg)
	if err != nil {
		return nil, err
	}
	acfg.Renderer = mapRenderer(cfg)
	alerts, err := alert.New(acfg, alert.Deps{
		Store:    store,
		Resolver: window.NewResolver(exec, window.UTC()),
		Policy:   policy,
		Bus:      bus,
		Metrics:  sink,
		Logger:   root.With(logx.String("comp", "alert")),
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return &App{
		cfgm:     cfgm,
		root:     root,
		log:      log,
		logs:     logSvc,
		store:    store,
		smtp:     transport,
		bus:      bus,
		metrics:  sink,
		registry: registry,
		alerts:   alerts,
		audit:    alert.NewAuditRecorder(store, root.With(logx.String("comp", "audit"))),
	}, nil
}

// RunOnce runs a single batch and waits until its audit entries are written.
func (a *App) RunOnce(ctx context.Context) (alert.Report, error) {
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log))
	events, unsub := a.bus.Subscribe(auditBuffer)
	sup.Go0("audit", func(c context.Context) {
		// Drain until unsubscribed, even if ctx is cancelled mid-batch.
		a.audit.Run(context.WithoutCancel(c), events)
	})

	rep, err := a.alerts.RunBatch(ctx)
	unsub()

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if werr := sup.Wait(waitCtx); werr != nil {
		a.log.Warn("audit recorder did not finish", logx.Err(werr))
	}
	return rep, err
}

// ImportSubscriptions reads a JSON array of subscriptions from path and
// upserts each into the store. Unknown fields are rejected.
func (a *App) ImportSubscriptions(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var subs []storage.Subscription
	if err := dec.Decode(&subs); err != nil {
		return 0, fmt.Errorf("import %s: %w", path, err)
	}

	now := time.Now().UTC()
	for i, s := range subs {
		if s.Created.IsZero() {
			s.Created = now
		}
		if err := a.store.PutSubscription(ctx, s); err != nil {
			return i, fmt.Errorf("import %s: subscription %d: %w", path, i, err)
		}
	}
	a.log.Info("subscriptions imported", logx.String("path", path), logx.Int("count", len(subs)))
	return len(subs), nil
}

// Done is closed when the daemon supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the daemon supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs daemon mode: scheduled batches, config hot reload, audit
// recording and, when enabled, the metrics endpoint.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))

	sched, err := scheduler.New(mapSchedulerConfig(cfg), a.runScheduled, a.log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return err
	}
	a.sched = sched

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := mapAlertConfig(c); err != nil {
			return err
		}
		_, err := newPolicy(c, a.smtp, logx.Nop())
		return err
	})

	events, unsub := a.bus.Subscribe(auditBuffer)
	a.sup.Go0("audit", func(c context.Context) {
		defer unsub()
		a.audit.Run(c, events)
	})

	if cfg.Metrics.Enabled && a.registry != nil {
		addr, path := metricsAddr(cfg)
		handler := a.metricsHandler(path, cfg.Metrics.Pprof)
		a.sup.GoRestart("metrics.http", time.Second, 30*time.Second, func(c context.Context) error {
			return a.serveMetrics(c, addr, handler)
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("daemon started",
		logx.Bool("alerts_enabled", a.alerts.Enabled()),
		logx.Time("next_batch", a.sched.Next()),
	)
	return nil
}

func (a *App) runScheduled(ctx context.Context) error {
	rep, err := a.alerts.RunBatch(ctx)
	if err != nil {
		return err
	}
	// Per-subscription failures are logged and audited by the batch; they
	// must not stop the daemon.
	if rep.Disabled {
		a.log.Debug("scheduled batch skipped: alerts disabled")
	}
	return nil
}

// metricsHandler serves the registry at path plus /healthz and, when
// withPprof is set, the runtime profiles under /debug/pprof/.
func (a *App) metricsHandler(path string, withPprof bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if withPprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

func (a *App) serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.log.Info("metrics server listening", logx.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// reloadLoop applies published configs. Logging and the alerts/site
// sections take effect immediately; other sections need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	acfg, err := mapAlertConfig(newCfg)
	if err == nil {
		acfg.Policy, err = newPolicy(newCfg, a.smtp, a.root.With(logx.String("comp", "delivery")))
	}
	if err != nil {
		a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
	} else {
		acfg.Renderer = mapRenderer(newCfg)
		wasEnabled := a.alerts.Enabled()
		a.alerts.Apply(acfg)
		if wasEnabled != acfg.Enabled {
			a.log.Info("alerts feature gate changed", logx.Bool("enabled", acfg.Enabled))
		}
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts the daemon down. A batch in progress finishes the
// subscriptions it has started unless ctx expires first.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// The scheduler goes first so a running batch can finish before the
	// supervisor context is cancelled.
	if a.sched != nil {
		step("scheduler", 30*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	}
	if a.sup != nil {
		step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	}
	step("smtp", 5*time.Second, func(context.Context) error { return a.smtp.Close() })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Close releases resources after RunOnce or ImportSubscriptions.
func (a *App) Close() error {
	err := errors.Join(a.smtp.Close(), a.store.Close())
	if cerr := a.logs.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}
