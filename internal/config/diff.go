package config

import (
	"sort"
	"strings"

	logx "searchalert/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (mail password, postgres DSN) are
// never included; only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Site != newCfg.Site {
		changed = append(changed, "site")
		attrs = append(attrs,
			logx.String("site.title", newCfg.Site.Title),
			logx.String("site.url", strings.TrimSpace(newCfg.Site.URL)),
			logx.String("site.locale", newCfg.Site.Locale),
		)
	}

	if oldCfg.Alerts != newCfg.Alerts {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.enabled", newCfg.Alerts.Enabled),
			logx.String("alerts.date_field", newCfg.Alerts.DateField),
			logx.Int("alerts.limit", newCfg.Alerts.Limit),
			logx.Int("alerts.workers", newCfg.Alerts.Workers),
			logx.String("alerts.delivery", newCfg.Alerts.Delivery),
		)
	}

	if oldCfg.Search != newCfg.Search {
		changed = append(changed, "search")
		attrs = append(attrs,
			logx.String("search.driver", newCfg.Search.Driver),
			logx.String("search.url", strings.TrimSpace(newCfg.Search.URL)),
			logx.String("search.timeout", strings.TrimSpace(newCfg.Search.Timeout)),
		)
	}

	// Mail (never log password)
	if oldCfg.Mail != newCfg.Mail {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.String("mail.host", strings.TrimSpace(newCfg.Mail.Host)),
			logx.Int("mail.port", newCfg.Mail.Port),
			logx.String("mail.tls", newCfg.Mail.TLS),
			logx.Bool("mail.auth_set", strings.TrimSpace(newCfg.Mail.Username) != ""),
			logx.Bool("mail.password_set", newCfg.Mail.Password != ""),
			logx.Any("mail.rate_per_sec", newCfg.Mail.RatePerSec),
		)
	}

	// Storage (never log DSN)
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.schedule", strings.TrimSpace(newCfg.Scheduler.Schedule)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
// Logging and the alerts section are applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "alerts", "site":
		default:
			out = append(out, s)
		}
	}
	return out
}
