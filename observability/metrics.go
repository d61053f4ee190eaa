package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/ledger"
)

// Metrics holds the Prometheus collectors for the ledger engine.
type Metrics struct {
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	VersionConflicts *prometheus.CounterVec
	CashMovedTotal   *prometheus.CounterVec
	ReceiptLines     *prometheus.CounterVec
	AdjustmentRuns   *prometheus.CounterVec
}

var _ ledger.Recorder = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rentledger_operations_total",
			Help: "Engine operations by outcome (ok or error kind)",
		}, []string{"op", "outcome"}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rentledger_operation_duration_seconds",
			Help:    "Engine operation latency including retries",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"op"}),

		VersionConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rentledger_version_conflicts_total",
			Help: "Optimistic concurrency conflicts that triggered a retry",
		}, []string{"op"}),

		CashMovedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rentledger_cash_moved_total",
			Help: "Cash moved through cash accounts, in currency units",
		}, []string{"direction"}),

		ReceiptLines: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rentledger_receipt_lines_total",
			Help: "Receipt lines processed by kind and outcome",
		}, []string{"kind", "outcome"}),

		AdjustmentRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rentledger_adjustment_entries_total",
			Help: "Entries visited by the index adjustment job",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveOperation(op, outcome string, d time.Duration) {
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) VersionConflict(op string) {
	m.VersionConflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) CashMoved(dir ledger.Direction, amount decimal.Decimal) {
	m.CashMovedTotal.WithLabelValues(string(dir)).Add(amount.InexactFloat64())
}

func (m *Metrics) ReceiptLine(kind, outcome string) {
	m.ReceiptLines.WithLabelValues(kind, outcome).Inc()
}

// AdjustmentResult counts one entry handled by the adjustment job
// ("applied", "skipped" or "failed").
func (m *Metrics) AdjustmentResult(result string) {
	m.AdjustmentRuns.WithLabelValues(result).Inc()
}
