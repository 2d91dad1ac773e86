package config

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"strings"

	"golang.org/x/text/language"

	"searchalert/internal/scheduler"
	logx "searchalert/pkg/logx"
)

// Validate checks cfg for values that would fail at runtime.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}

	if strings.TrimSpace(cfg.Site.Title) == "" {
		add("site.title is required")
	}
	if v := strings.TrimSpace(cfg.Site.Email); v != "" {
		if _, err := mail.ParseAddress(v); err != nil {
			add("site.email: %v", err)
		}
	}
	if v := strings.TrimSpace(cfg.Site.URL); v != "" {
		if u, err := url.Parse(v); err != nil || u.Scheme == "" || u.Host == "" {
			add("site.url: must be an absolute URL")
		}
	}
	if v := strings.TrimSpace(cfg.Site.Locale); v != "" {
		if _, err := language.Parse(v); err != nil {
			add("site.locale: %v", err)
		}
	}

	if cfg.Alerts.Limit < 0 {
		add("alerts.limit must be >= 0")
	}
	if cfg.Alerts.Workers < 0 {
		add("alerts.workers must be >= 0")
	}
	switch strings.TrimSpace(cfg.Alerts.Delivery) {
	case "", "bounded_retry", "single_attempt":
	default:
		add("alerts.delivery: unknown policy %q (use bounded_retry or single_attempt)", cfg.Alerts.Delivery)
	}
	if v := strings.TrimSpace(cfg.Alerts.EmailFrom); v != "" {
		if _, err := mail.ParseAddress(v); err != nil {
			add("alerts.email_from: %v", err)
		}
	} else if cfg.Alerts.Enabled && strings.TrimSpace(cfg.Site.Email) == "" {
		add("alerts.email_from or site.email is required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Search.Driver)) {
	case "", "solr":
		if strings.TrimSpace(cfg.Search.URL) == "" {
			add("search.url is required")
		}
	default:
		add("search.driver: unknown driver %q", cfg.Search.Driver)
	}
	if _, err := ParseDurationField("search.timeout", cfg.Search.Timeout); err != nil {
		errs = append(errs, err)
	}

	if strings.TrimSpace(cfg.Mail.Host) == "" {
		add("mail.host is required")
	}
	if cfg.Mail.Port < 0 || cfg.Mail.Port > 65535 {
		add("mail.port out of range")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mail.TLS)) {
	case "", "none", "starttls", "tls":
	default:
		add("mail.tls: unknown mode %q (use none, starttls or tls)", cfg.Mail.TLS)
	}
	if cfg.Mail.RatePerSec < 0 {
		add("mail.rate_per_sec must be >= 0")
	}
	if _, err := ParseDurationField("mail.timeout", cfg.Mail.Timeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path is required for driver %q", cfg.Storage.Driver)
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.dsn is required for driver %q", cfg.Storage.Driver)
		}
	case "":
		add("storage.driver is required")
	default:
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if cfg.Metrics.Enabled {
		if v := strings.TrimSpace(cfg.Metrics.Addr); v != "" {
			if _, _, err := net.SplitHostPort(v); err != nil {
				add("metrics.addr: %v", err)
			}
		}
		if v := strings.TrimSpace(cfg.Metrics.Path); v != "" && !strings.HasPrefix(v, "/") {
			add("metrics.path must start with /")
		}
	}

	if v := strings.TrimSpace(cfg.Scheduler.Schedule); v != "" {
		if err := scheduler.Validate(v, cfg.Scheduler.Timezone); err != nil {
			add("scheduler.schedule: %v", err)
		}
	}

	return errors.Join(errs...)
}
