package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	ledgerImbalanceCounter *prometheus.CounterVec
	idempotencyCounter     *prometheus.CounterVec
	ledgerOpCounter        *prometheus.CounterVec
	webhookCounter         *prometheus.CounterVec
	withdrawalCounter      *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
)

// Webhook outcomes.
const (
	WebhookApplied = "applied"
	WebhookReplay  = "replay"
	WebhookIgnored = "ignored"
	WebhookFailed  = "failed"
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Number of times a venue balance diverged from its transaction sum",
		}, []string{"venue"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		ledgerOpCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger credits and debits by transaction type and result",
		}, []string{"op", "type", "result"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_webhooks_total",
			Help: "Gateway webhook deliveries by kind and outcome",
		}, []string{"kind", "outcome"})

		withdrawalCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_transitions_total",
			Help: "Withdrawal status transitions",
		}, []string{"status"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			idempotencyCounter,
			ledgerOpCounter,
			webhookCounter,
			withdrawalCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(venue string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(venue).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementLedgerOp(op, txType, result string) {
	if ledgerOpCounter == nil {
		return
	}
	ledgerOpCounter.WithLabelValues(op, txType, result).Inc()
}

func IncrementWebhook(kind, outcome string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(kind, outcome).Inc()
}

func IncrementWithdrawalTransition(status string) {
	if withdrawalCounter == nil {
		return
	}
	withdrawalCounter.WithLabelValues(status).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
