package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	logx "searchalert/pkg/logx"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg, logx.Nop()), reg
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m.GetLabel(), labels) {
				return m
			}
		}
	}
	return nil
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	m := findMetric(t, reg, name, labels)
	if m == nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func TestPrometheusSinkBatch(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.BatchStarted()
	sink.BatchCompleted(2*time.Second, 3, nil)
	sink.BatchStarted()
	sink.BatchCompleted(time.Second, 1, errors.New("delivery failed"))

	if got := counterValue(t, reg, "searchalert_batches_total", nil); got != 2 {
		t.Fatalf("batches_total = %v, want 2", got)
	}
	if got := counterValue(t, reg, "searchalert_batch_errors_total", nil); got != 1 {
		t.Fatalf("batch_errors_total = %v, want 1", got)
	}
	m := findMetric(t, reg, "searchalert_last_batch_success_timestamp_seconds", nil)
	if m == nil || m.GetGauge().GetValue() <= 0 {
		t.Fatal("expected last success timestamp to be set")
	}
	h := findMetric(t, reg, "searchalert_batch_duration_seconds", nil)
	if h == nil || h.GetHistogram().GetSampleCount() != 2 {
		t.Fatal("expected two batch duration samples")
	}
}

func TestPrometheusSinkEvaluationsAndDelivery(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SubscriptionEvaluated("sent", 100*time.Millisecond)
	sink.SubscriptionEvaluated("sent", 100*time.Millisecond)
	sink.SubscriptionEvaluated("no_change", 10*time.Millisecond)
	sink.QueryCompleted(50*time.Millisecond, nil)
	sink.QueryCompleted(50*time.Millisecond, errors.New("solr down"))
	sink.RecordsMatched(4)
	sink.RecordsMatched(0)
	sink.DeliveryAttemptCompleted(1, false, time.Second)
	sink.ConnectionReset()
	sink.DeliveryAttemptCompleted(2, true, time.Second)
	sink.EventDropped()

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"searchalert_subscription_evaluations_total", map[string]string{"outcome": "sent"}, 2},
		{"searchalert_subscription_evaluations_total", map[string]string{"outcome": "no_change"}, 1},
		{"searchalert_search_queries_total", map[string]string{"result": "ok"}, 1},
		{"searchalert_search_queries_total", map[string]string{"result": "error"}, 1},
		{"searchalert_records_matched_total", nil, 4},
		{"searchalert_delivery_attempts_total", map[string]string{"attempt": "1", "result": "failed"}, 1},
		{"searchalert_delivery_attempts_total", map[string]string{"attempt": "2", "result": "sent"}, 1},
		{"searchalert_transport_resets_total", nil, 1},
		{"searchalert_eventbus_dropped_total", nil, 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, reg, tt.name, tt.labels); got != tt.want {
			t.Fatalf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg, logx.Nop())
	// Second registration fails per collector but must still yield a usable sink.
	s := NewPrometheusSink(reg, logx.Nop())
	s.BatchStarted()
	s.SubscriptionEvaluated("sent", time.Millisecond)
}

func TestNoopSinkAllMethods(t *testing.T) {
	var s Sink = NewNoopSink()
	s.BatchStarted()
	s.BatchCompleted(time.Second, 1, nil)
	s.SubscriptionEvaluated("sent", time.Second)
	s.QueryCompleted(time.Second, nil)
	s.RecordsMatched(1)
	s.DeliveryAttemptCompleted(1, true, time.Second)
	s.ConnectionReset()
	s.EventDropped()
}

var (
	_ Sink = (*NoopSink)(nil)
	_ Sink = (*PrometheusSink)(nil)
)
