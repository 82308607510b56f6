package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// Transaction outcomes recorded by the reconciler.
const (
	OutcomeRecorded  = "recorded"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
	OutcomeConflict  = "conflict"
)

// Payout results.
const (
	PayoutPaid    = "paid"
	PayoutFailed  = "failed"
	PayoutSkipped = "skipped"
)

// Settlement holds the job collectors. A nil *Settlement is valid and records nothing.
type Settlement struct {
	transactions *prometheus.CounterVec
	balance      prometheus.Gauge
	lotteries    prometheus.Counter
	payouts      *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
}

func NewSettlement(reg prometheus.Registerer) *Settlement {
	m := &Settlement{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_transactions_processed_total",
			Help: "Operator wallet transactions walked by the reconciler, by outcome.",
		}, []string{"outcome"}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_operator_balance_nano",
			Help: "Operator wallet balance in nanotons, as seen at the start of the last reconcile.",
		}),
		lotteries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_lotteries_drawn_total",
			Help: "Lottery giveaways drawn and finished.",
		}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_payouts_total",
			Help: "Participant payouts, by result.",
		}, []string{"result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_job_duration_seconds",
			Help:    "Duration of one job invocation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job", "status"}),
	}
	reg.MustRegister(m.transactions, m.balance, m.lotteries, m.payouts, m.jobDuration)
	return m
}

func (m *Settlement) TransactionProcessed(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

func (m *Settlement) OperatorBalance(nano *big.Int) {
	if m == nil || nano == nil {
		return
	}
	f, _ := new(big.Float).SetInt(nano).Float64()
	m.balance.Set(f)
}

func (m *Settlement) LotteryDrawn() {
	if m == nil {
		return
	}
	m.lotteries.Inc()
}

func (m *Settlement) Payouts(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.payouts.WithLabelValues(result).Add(float64(n))
}

func (m *Settlement) ObserveJob(job string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobDuration.WithLabelValues(job, status).Observe(seconds)
}
