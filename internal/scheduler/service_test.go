package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "searchalert/pkg/logx"
)

func TestServiceRunsOnStartAndSkipsOverlap(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	release := make(chan struct{})
	job := func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	s, err := New(Config{Schedule: "@every 1s", RunOnStart: true}, job, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if s.Next().IsZero() {
		t.Fatal("expected a next trigger time")
	}

	// Several triggers fire while the first run is blocked; all are skipped.
	time.Sleep(1500 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d while blocked, want 1", got)
	}

	close(release)
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatal("expected another run after the first finished")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if !s.Next().IsZero() {
		t.Fatal("expected zero Next after Stop")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()
	noop := func(context.Context) error { return nil }
	if _, err := New(Config{Schedule: "nope"}, noop, logx.Nop()); err == nil {
		t.Fatal("expected error for bad schedule")
	}
	if _, err := New(Config{Schedule: "@daily", Timezone: "Nowhere/Land"}, noop, logx.Nop()); err == nil {
		t.Fatal("expected error for bad timezone")
	}
	if _, err := New(Config{Schedule: "@daily"}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for nil job")
	}
}
