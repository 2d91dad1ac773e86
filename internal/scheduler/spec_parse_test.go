package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		cron     string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron", cron: "*/5 * * * *"},
		{name: "descriptor", raw: "@daily", kind: SpecCron, source: "cron", cron: "@daily"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", cron: "0 0 * * *"},
		{name: "daily at", raw: "at:06:30", kind: SpecCron, source: "daily", cron: "30 6 * * *"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "prefixed every hhmm", raw: "every:12:00", kind: SpecInterval, source: "hhmm", duration: 12 * time.Hour},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecCron && got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if _, err := got.Schedule(); err != nil {
				t.Fatalf("Schedule() error: %v", err)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "-5m", "at:25:00", "every:", "00:00"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate("0 6 * * *", "Europe/Vienna"); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if err := Validate("61 * * * *", ""); err == nil {
		t.Fatal("expected error for out-of-range minute")
	}
	if err := Validate("@daily", "Mars/Olympus"); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	if _, _, err := parseHHMM("24:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
}
