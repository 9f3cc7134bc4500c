// Package metrics holds the Prometheus instruments of the settlement engine.
// A nil *Settlement is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Settlement groups every instrument the services touch.
type Settlement struct {
	BetsSettledTotal     *prometheus.CounterVec
	PayoutAmountTotal    prometheus.Counter
	RebateCreditedTotal  *prometheus.CounterVec
	RebateAmountTotal    prometheus.Counter
	RunsTotal            *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	ChainCyclesTotal     prometheus.Counter
	LockContentionTotal  prometheus.Counter
	TasksRetriedTotal    prometheus.Counter
	TasksFailedTotal     *prometheus.CounterVec
	DataIntegrityTotal   prometheus.Counter
	EventsPublishedTotal *prometheus.CounterVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Settlement {
	f := promauto.With(reg)
	return &Settlement{
		BetsSettledTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pk10_bets_settled_total",
				Help: "Bets settled, by outcome",
			},
			[]string{"outcome"},
		),
		PayoutAmountTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pk10_payout_amount_total",
			Help: "Sum of win amounts credited to members",
		}),
		RebateCreditedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pk10_rebate_credits_total",
				Help: "Rebate ledger entries, by agent rebate mode",
			},
			[]string{"mode"},
		),
		RebateAmountTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pk10_rebate_amount_total",
			Help: "Sum of rebate amounts credited to agents",
		}),
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pk10_settlement_runs_total",
				Help: "Settlement orchestrator runs, by result status",
			},
			[]string{"status"},
		),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pk10_settlement_run_duration_seconds",
			Help:    "Wall-clock time of one settlement run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms … ~20s
		}),
		ChainCyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pk10_agent_chain_cycles_total",
			Help: "Agent chains aborted because of a parent cycle",
		}),
		LockContentionTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pk10_lock_contention_total",
			Help: "Settlement runs that found the period lock held",
		}),
		TasksRetriedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pk10_compensation_retries_total",
			Help: "Compensation task attempts that did not finish the period",
		}),
		TasksFailedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pk10_compensation_failed_total",
				Help: "Compensation tasks moved to failed, by reason",
			},
			[]string{"reason"},
		),
		DataIntegrityTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pk10_data_integrity_errors_total",
			Help: "Periods refused because of malformed input",
		}),
		EventsPublishedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pk10_events_published_total",
				Help: "Downstream events, by result",
			},
			[]string{"result"},
		),
	}
}

// ObserveBet records one settled bet.
func (m *Settlement) ObserveBet(win bool, amount decimal.Decimal) {
	if m == nil {
		return
	}
	outcome := "lose"
	if win {
		outcome = "win"
		m.PayoutAmountTotal.Add(amount.InexactFloat64())
	}
	m.BetsSettledTotal.WithLabelValues(outcome).Inc()
}

// ObserveRebate records one rebate credit.
func (m *Settlement) ObserveRebate(mode string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.RebateCreditedTotal.WithLabelValues(mode).Inc()
	m.RebateAmountTotal.Add(amount.InexactFloat64())
}

// ObserveRun records the outcome and duration of one orchestrator run.
func (m *Settlement) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// IncCycle counts an aborted agent chain.
func (m *Settlement) IncCycle() {
	if m == nil {
		return
	}
	m.ChainCyclesTotal.Inc()
}

// IncLockContention counts a run that lost the lock race.
func (m *Settlement) IncLockContention() {
	if m == nil {
		return
	}
	m.LockContentionTotal.Inc()
}

// IncRetry counts a compensation attempt that left work behind.
func (m *Settlement) IncRetry() {
	if m == nil {
		return
	}
	m.TasksRetriedTotal.Inc()
}

// IncTaskFailed counts a task moved to failed.
func (m *Settlement) IncTaskFailed(reason string) {
	if m == nil {
		return
	}
	m.TasksFailedTotal.WithLabelValues(reason).Inc()
}

// IncDataIntegrity counts a period refused for malformed input.
func (m *Settlement) IncDataIntegrity() {
	if m == nil {
		return
	}
	m.DataIntegrityTotal.Inc()
}

// ObservePublish records a downstream publish attempt.
func (m *Settlement) ObservePublish(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublishedTotal.WithLabelValues(result).Inc()
}
