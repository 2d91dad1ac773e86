package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
logging:
  level: info
  console: true
site:
  title: Library
  email: noreply@example.org
  url: https://example.org
  locale: de
alerts:
  enabled: true
  limit: 50
search:
  driver: solr
  url: http://localhost:8983/solr/biblio
  timeout: 30s
mail:
  host: localhost
  port: 25
  password: hunter2
storage:
  driver: sqlite
  path: ./data/searchalert.db
scheduler:
  schedule: "@daily"
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Site.Title != "Library" || cfg.Alerts.Limit != 50 || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		data string
	}{
		{name: "yaml unknown section", file: "c.yml", data: "telegram:\n  token: x\n"},
		{name: "json unknown field", file: "c.json", data: `{"alerts":{"enabled":true,"frequency":3}}`},
		{name: "json trailing data", file: "c.json", data: `{"alerts":{}} {"alerts":{}}`},
		{name: "yaml syntax", file: "c.yaml", data: "alerts: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.data)); err == nil {
				t.Fatalf("expected error for %q", tt.data)
			}
		})
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Decode("config.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return cfg
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Logging.Level = "loud"
	cfg.Mail.TLS = "ssl"
	cfg.Storage.Driver = "postgres"
	cfg.Scheduler.Schedule = "whenever"
	cfg.Alerts.Delivery = "carrier-pigeon"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"logging.level", "mail.tls", "storage.dsn", "scheduler.schedule", "alerts.delivery"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateSenderFallback(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Site.Email = ""
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "email_from") {
		t.Fatalf("expected sender error, got %v", err)
	}
	cfg.Alerts.EmailFrom = "Alerts <alerts@example.org>"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := validConfig(t)
	newCfg := validConfig(t)
	newCfg.Mail.Password = "correct horse"
	newCfg.Alerts.Enabled = false
	newCfg.Storage.DSN = "postgres://user:secret@db/alerts"

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"alerts", "mail", "storage"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(changed); strings.Join(got, ",") != "mail,storage" {
		t.Fatalf("RestartRequired = %v", got)
	}

	unchanged, _ := SummarizeConfigChange(oldCfg, validConfig(t))
	if len(unchanged) != 0 {
		t.Fatalf("expected no changes, got %v", unchanged)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("default: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)

	// An invalid edit is never published.
	bad := strings.Replace(validYAML, "level: info", "level: loud", 1)
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Logging)
	case <-time.After(time.Second):
	}

	good := strings.Replace(validYAML, "enabled: true", "enabled: false", 1)
	if err := os.WriteFile(path, []byte(good), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.Alerts.Enabled {
			t.Fatal("expected alerts.enabled=false after reload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if m.Get().Alerts.Enabled {
		t.Fatal("Get() did not return the committed config")
	}

	cancel()
	<-done
}
