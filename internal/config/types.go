package config

// Config is the on-disk configuration of searchalert.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Site      SiteConfig      `json:"site"`
	Alerts    AlertsConfig    `json:"alerts"`
	Search    SearchConfig    `json:"search"`
	Mail      MailConfig      `json:"mail"`
	Storage   StorageConfig   `json:"storage"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SiteConfig describes the catalog the alerts link back to.
type SiteConfig struct {
	Title string `json:"title"`
	// Email is the fallback sender when alerts.email_from is empty.
	Email string `json:"email"`
	// URL is the public base URL; result links are <url>/Search/Results?<query>.
	URL    string `json:"url"`
	Locale string `json:"locale,omitempty"`
}

// AlertsConfig controls the batch driver.
//
// Defaults (when fields are omitted/zero):
//   - date_field: "first_indexed"
//   - title_field: "title"
//   - limit: 50
//   - workers: 1
//   - delivery: "bounded_retry"
type AlertsConfig struct {
	// Enabled is the feature gate. When false a batch logs a notice and does nothing.
	Enabled    bool   `json:"enabled"`
	DateField  string `json:"date_field,omitempty"`
	TitleField string `json:"title_field,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	EmailFrom  string `json:"email_from,omitempty"`
	Workers    int    `json:"workers,omitempty"`
	// Delivery selects the delivery policy: "bounded_retry" or "single_attempt".
	Delivery string `json:"delivery,omitempty"`
}

type SearchConfig struct {
	Driver  string `json:"driver"`
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"`
	IDField string `json:"id_field,omitempty"`
}

// MailConfig configures the SMTP transport.
//
// Security note:
//   - Password is never logged; config change summaries only report whether it is set.
type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	TLS      string `json:"tls,omitempty"` // none | starttls | tls
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	HELO     string `json:"helo,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	// RatePerSec throttles sends; 0 disables throttling.
	RatePerSec         float64 `json:"rate_per_sec,omitempty"`
	InsecureSkipVerify bool    `json:"insecure_skip_verify,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/searchalert.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres; may contain credentials (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// MetricsConfig controls the Prometheus endpoint served in daemon mode.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9310"
	Path    string `json:"path,omitempty"` // default: "/metrics"
	// Pprof also mounts /debug/pprof/ on the metrics listener. Keep addr on loopback.
	Pprof bool `json:"pprof,omitempty"`
}

// SchedulerConfig controls daemon-mode triggering.
type SchedulerConfig struct {
	// Schedule is a cron spec ("@daily", "0 6 * * *"), an HH:MM interval or a Go duration.
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	// RunOnStart triggers one batch immediately after the daemon starts.
	RunOnStart bool `json:"run_on_start,omitempty"`
}
