package app

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"searchalert/internal/alert"
	"searchalert/internal/config"
	"searchalert/internal/delivery"
	"searchalert/internal/scheduler"
	"searchalert/internal/search"
	"searchalert/internal/storage"
	"searchalert/internal/window"
	logx "searchalert/pkg/logx"
)

const (
	defaultMetricsAddr = "127.0.0.1:9310"
	defaultMetricsPath = "/metrics"
	defaultSchedule    = "@daily"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapSearchConfig(cfg *config.Config) (search.SolrConfig, error) {
	timeout, err := config.ParseDurationOrDefault("search.timeout", cfg.Search.Timeout, 30*time.Second)
	if err != nil {
		return search.SolrConfig{}, err
	}
	return search.SolrConfig{
		URL:     cfg.Search.URL,
		Timeout: timeout,
		IDField: strings.TrimSpace(cfg.Search.IDField),
	}, nil
}

func mapSMTPConfig(cfg *config.Config) (delivery.SMTPConfig, error) {
	mc := cfg.Mail
	timeout, err := config.ParseDurationOrDefault("mail.timeout", mc.Timeout, 30*time.Second)
	if err != nil {
		return delivery.SMTPConfig{}, err
	}
	return delivery.SMTPConfig{
		Host:               mc.Host,
		Port:               mc.Port,
		Username:           mc.Username,
		Password:           mc.Password,
		TLS:                delivery.TLSMode(strings.ToLower(strings.TrimSpace(mc.TLS))),
		HELO:               mc.HELO,
		Timeout:            timeout,
		InsecureSkipVerify: mc.InsecureSkipVerify,
	}, nil
}

// newPolicy builds the configured delivery policy over t.
func newPolicy(cfg *config.Config, t delivery.Transport, log logx.Logger) (delivery.Policy, error) {
	opts := []delivery.Option{delivery.WithLogger(log)}
	if r := cfg.Mail.RatePerSec; r > 0 {
		// Burst of one keeps the configured spacing between sends.
		opts = append(opts, delivery.WithLimiter(rate.NewLimiter(rate.Limit(r), 1)))
	}

	switch strings.TrimSpace(cfg.Alerts.Delivery) {
	case "", "bounded_retry":
		return delivery.NewBoundedRetry(t, opts...), nil
	case "single_attempt":
		return delivery.NewSingleAttempt(t, opts...), nil
	default:
		return nil, fmt.Errorf("alerts.delivery: unknown policy %q", cfg.Alerts.Delivery)
	}
}

// mapAlertConfig returns the live part of the alert configuration.
func mapAlertConfig(cfg *config.Config) (alert.Config, error) {
	from := strings.TrimSpace(cfg.Alerts.EmailFrom)
	if from == "" {
		from = strings.TrimSpace(cfg.Site.Email)
	}
	var sender delivery.Mailbox
	if from != "" {
		mb, err := delivery.ParseMailbox(from)
		if err != nil {
			return alert.Config{}, fmt.Errorf("alerts.email_from: %w", err)
		}
		sender = mb
		if sender.Name == "" {
			sender.Name = strings.TrimSpace(cfg.Site.Title)
		}
	}
	return alert.Config{
		Enabled:   cfg.Alerts.Enabled,
		Cursor:    window.ConfiguredCursor(cfg.Alerts.DateField),
		Limit:     cfg.Alerts.Limit,
		Workers:   cfg.Alerts.Workers,
		From:      sender,
		SiteTitle: strings.TrimSpace(cfg.Site.Title),
		SiteURL:   strings.TrimSpace(cfg.Site.URL),
	}, nil
}

func mapRenderer(cfg *config.Config) alert.TextRenderer {
	return alert.NewTextRenderer(strings.TrimSpace(cfg.Alerts.TitleField), cfg.Site.Locale)
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	schedule := strings.TrimSpace(cfg.Scheduler.Schedule)
	if schedule == "" {
		schedule = defaultSchedule
	}
	return scheduler.Config{
		Schedule:   schedule,
		Timezone:   cfg.Scheduler.Timezone,
		RunOnStart: cfg.Scheduler.RunOnStart,
	}
}

func metricsAddr(cfg *config.Config) (addr, path string) {
	addr = strings.TrimSpace(cfg.Metrics.Addr)
	if addr == "" {
		addr = defaultMetricsAddr
	}
	path = strings.TrimSpace(cfg.Metrics.Path)
	if path == "" {
		path = defaultMetricsPath
	}
	return addr, path
}
