package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "searchalert/pkg/logx"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log logx.Logger

	batchesTotal      prometheus.Counter
	batchErrorsTotal  prometheus.Counter
	batchDuration     prometheus.Histogram
	lastBatchSuccess  prometheus.Gauge
	evaluationsTotal  *prometheus.CounterVec
	evaluationSeconds prometheus.Histogram

	queriesTotal   *prometheus.CounterVec
	querySeconds   prometheus.Histogram
	recordsMatched prometheus.Counter

	deliveryAttemptsTotal *prometheus.CounterVec
	deliverySeconds       prometheus.Histogram
	connectionResetsTotal prometheus.Counter

	eventsDroppedTotal prometheus.Counter
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &PrometheusSink{log: log}
	s.initBatchMetrics(reg)
	s.initSearchMetrics(reg)
	s.initDeliveryMetrics(reg)
	return s
}

func (s *PrometheusSink) initBatchMetrics(reg prometheus.Registerer) {
	s.batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchalert_batches_total",
		Help: "Total number of alert batches run.",
	})
	s.batchErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchalert_batch_errors_total",
		Help: "Total number of batches that finished with at least one failure.",
	})
	s.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchalert_batch_duration_seconds",
		Help:    "Duration of each batch in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
	})
	s.lastBatchSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "searchalert_last_batch_success_timestamp_seconds",
		Help: "Unix time of the last batch that finished without failures.",
	})
	s.evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchalert_subscription_evaluations_total",
		Help: "Total number of subscription evaluations by outcome.",
	}, []string{"outcome"})
	s.evaluationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchalert_subscription_evaluation_seconds",
		Help:    "Time to evaluate one subscription, including delivery.",
		Buckets: prometheus.DefBuckets,
	})

	s.register(reg, s.batchesTotal, "searchalert_batches_total")
	s.register(reg, s.batchErrorsTotal, "searchalert_batch_errors_total")
	s.register(reg, s.batchDuration, "searchalert_batch_duration_seconds")
	s.register(reg, s.lastBatchSuccess, "searchalert_last_batch_success_timestamp_seconds")
	s.register(reg, s.evaluationsTotal, "searchalert_subscription_evaluations_total")
	s.register(reg, s.evaluationSeconds, "searchalert_subscription_evaluation_seconds")
}

func (s *PrometheusSink) initSearchMetrics(reg prometheus.Registerer) {
	s.queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchalert_search_queries_total",
		Help: "Total number of search backend queries by result.",
	}, []string{"result"})
	s.querySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchalert_search_query_seconds",
		Help:    "Search backend query latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.recordsMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchalert_records_matched_total",
		Help: "Total number of new records included in digests.",
	})

	s.register(reg, s.queriesTotal, "searchalert_search_queries_total")
	s.register(reg, s.querySeconds, "searchalert_search_query_seconds")
	s.register(reg, s.recordsMatched, "searchalert_records_matched_total")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchalert_delivery_attempts_total",
		Help: "Total number of mail send attempts by ordinal and result.",
	}, []string{"attempt", "result"})
	s.deliverySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchalert_delivery_attempt_seconds",
		Help:    "Mail send latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.connectionResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchalert_transport_resets_total",
		Help: "Total number of mail transport connection resets before a retry.",
	})
	s.eventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchalert_eventbus_dropped_total",
		Help: "Total number of lifecycle events dropped because a subscriber was full.",
	})

	s.register(reg, s.deliveryAttemptsTotal, "searchalert_delivery_attempts_total")
	s.register(reg, s.deliverySeconds, "searchalert_delivery_attempt_seconds")
	s.register(reg, s.connectionResetsTotal, "searchalert_transport_resets_total")
	s.register(reg, s.eventsDroppedTotal, "searchalert_eventbus_dropped_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn("failed to register metric", logx.String("metric", name), logx.Err(err))
	}
}

func (s *PrometheusSink) BatchStarted() {
	s.batchesTotal.Inc()
}

func (s *PrometheusSink) BatchCompleted(duration time.Duration, evaluated int, err error) {
	s.batchDuration.Observe(duration.Seconds())
	if err != nil {
		s.batchErrorsTotal.Inc()
		return
	}
	s.lastBatchSuccess.SetToCurrentTime()
}

func (s *PrometheusSink) SubscriptionEvaluated(outcome string, duration time.Duration) {
	s.evaluationsTotal.WithLabelValues(outcome).Inc()
	s.evaluationSeconds.Observe(duration.Seconds())
}

func (s *PrometheusSink) QueryCompleted(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.queriesTotal.WithLabelValues(result).Inc()
	s.querySeconds.Observe(duration.Seconds())
}

func (s *PrometheusSink) RecordsMatched(n int) {
	if n > 0 {
		s.recordsMatched.Add(float64(n))
	}
}

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, ok bool, duration time.Duration) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), result).Inc()
	s.deliverySeconds.Observe(duration.Seconds())
}

func (s *PrometheusSink) ConnectionReset() {
	s.connectionResetsTotal.Inc()
}

func (s *PrometheusSink) EventDropped() {
	s.eventsDroppedTotal.Inc()
}
