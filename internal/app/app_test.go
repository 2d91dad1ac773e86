package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"searchalert/internal/alert"
	"searchalert/internal/config"
	"searchalert/internal/delivery"
	"searchalert/internal/metrics"
	logx "searchalert/pkg/logx"
)

// sink is an SMTP server that accepts every message.
type sink struct {
	ln net.Listener

	mu       sync.Mutex
	messages []string
}

func startSink(t *testing.T) *sink {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &sink{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(c)
		}
	}()
	return s
}

func (s *sink) serve(c net.Conn) {
	defer c.Close()
	tp := textproto.NewConn(c)
	_ = tp.PrintfLine("220 sink ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		switch strings.ToUpper(strings.Fields(line + " x")[0]) {
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, string(body))
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 ok")
		}
	}
}

func (s *sink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func solrStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/solr/biblio/select" || q.Get("sort") != "first_indexed desc" {
			http.Error(w, `{"error":{"msg":"unexpected request","code":400}}`, http.StatusBadRequest)
			return
		}
		docs := []map[string]any{}
		if q.Get("q") == "maps" {
			docs = []map[string]any{
				{"id": "r2", "title": "Atlas of Europe", "first_indexed": []any{"2021-04-18T09:00:00Z", "2019-01-01T00:00:00Z"}},
				{"id": "r1", "title": "Old map", "first_indexed": "2021-04-01T00:00:00Z"},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"responseHeader": map[string]any{"status": 0},
			"response":       map[string]any{"numFound": len(docs), "docs": docs},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, dir, solrURL string, smtpPort int) string {
	t.Helper()
	cfg := fmt.Sprintf(`
logging:
  level: error
  console: true
site:
  title: City Library
  email: noreply@example.org
  url: https://catalog.example.org
alerts:
  enabled: true
  workers: 2
search:
  url: %s/solr/biblio
  timeout: 5s
mail:
  host: 127.0.0.1
  port: %d
  timeout: 5s
storage:
  driver: file
  path: %s
`, solrURL, smtpPort, filepath.Join(dir, "data", "alerts.db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func writeSubscriptions(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "subscriptions.json")
	data := `[
  {"id": "s1", "user_id": "u1", "email": "reader@example.org", "name": "Maps", "query": "lookfor=maps", "frequency": 1, "last_notified": "2021-04-16T14:00:00Z"},
  {"id": "s2", "user_id": "u2", "email": "other@example.org", "query": "lookfor=poetry", "frequency": 1, "last_notified": "2021-04-16T14:00:00Z"}
]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestRunOnceEndToEnd(t *testing.T) {
	dir := t.TempDir()
	mail := startSink(t)
	solr := solrStub(t)
	cfgPath := writeConfig(t, dir, solr.URL, mail.ln.Addr().(*net.TCPAddr).Port)

	a, err := New(cfgPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	n, err := a.ImportSubscriptions(context.Background(), writeSubscriptions(t, dir))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	require.Equal(t, 1, rep.Count(alert.OutcomeSent))
	require.Equal(t, 1, rep.Count(alert.OutcomeNoChange))

	msgs := mail.received()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0], "To: <reader@example.org>")
	require.Contains(t, msgs[0], "Subject: City Library: Scheduled Alert Results")
	require.Contains(t, msgs[0], "Atlas of Europe")

	// The cursor advanced, so the next batch finds nothing due.
	rep, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Count(alert.OutcomeSkipped))
	require.Len(t, mail.received(), 1)

	f, err := os.Open(filepath.Join(dir, "data", "alerts.audit.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	var actions []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e struct {
			SubscriptionID string `json:"subscription_id"`
			Action         string `json:"action"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		actions = append(actions, e.SubscriptionID+":"+e.Action)
	}
	// s2 stays due because nothing was sent to it.
	require.ElementsMatch(t, []string{"s1:digest_sent", "s2:subscription_checked", "s2:subscription_checked"}, actions)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"site":{"title":"x"},"storage":{"driver":"file"}}`), 0o600))

	_, err := New(path)
	require.Error(t, err)
	require.ErrorContains(t, err, "storage.path is required")
}

func TestMapAlertConfigSenderFallback(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Site:   config.SiteConfig{Title: "City Library", Email: "noreply@example.org"},
		Alerts: config.AlertsConfig{Enabled: true, DateField: "last_indexed"},
	}
	ac, err := mapAlertConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, "noreply@example.org", ac.From.Address)
	require.Equal(t, "City Library", ac.From.Name)
	require.Equal(t, "last_indexed", ac.Cursor.Field())

	cfg.Alerts.EmailFrom = "Alerts <alerts@example.org>"
	ac, err = mapAlertConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, "alerts@example.org", ac.From.Address)
	require.Equal(t, "Alerts", ac.From.Name)
}

func TestNewPolicySelection(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	p, err := newPolicy(cfg, nil, logx.Nop())
	require.NoError(t, err)
	require.IsType(t, &delivery.BoundedRetry{}, p)

	cfg.Alerts.Delivery = "single_attempt"
	p, err = newPolicy(cfg, nil, logx.Nop())
	require.NoError(t, err)
	require.IsType(t, &delivery.SingleAttempt{}, p)

	cfg.Alerts.Delivery = "carrier_pigeon"
	_, err = newPolicy(cfg, nil, logx.Nop())
	require.Error(t, err)
}

func TestSchedulerConfigDefaults(t *testing.T) {
	t.Parallel()
	sc := mapSchedulerConfig(&config.Config{})
	require.Equal(t, "@daily", sc.Schedule)

	addr, path := metricsAddr(&config.Config{})
	require.Equal(t, "127.0.0.1:9310", addr)
	require.Equal(t, "/metrics", path)
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(reg, logx.Nop())
	sink.BatchStarted()
	a := &App{registry: reg}

	get := func(h http.Handler, path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	h := a.metricsHandler("/metrics", false)
	rr := get(h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "searchalert_batches_total 1")
	require.Equal(t, "ok\n", get(h, "/healthz").Body.String())
	require.Equal(t, http.StatusNotFound, get(h, "/debug/pprof/").Code)

	h = a.metricsHandler("/metrics", true)
	require.Equal(t, http.StatusOK, get(h, "/debug/pprof/").Code)
}

func TestApplyConfigSwapsDeliveryPolicy(t *testing.T) {
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, "http://127.0.0.1:1", 2525))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.IsType(t, &delivery.BoundedRetry{}, a.alerts.Policy())

	old := a.cfgm.Get()
	next := *old
	next.Alerts.Delivery = "single_attempt"
	a.applyConfig(old, &next)
	require.IsType(t, &delivery.SingleAttempt{}, a.alerts.Policy())

	// An unknown policy keeps the one in use.
	bad := next
	bad.Alerts.Delivery = "carrier_pigeon"
	a.applyConfig(&next, &bad)
	require.IsType(t, &delivery.SingleAttempt{}, a.alerts.Policy())
}
