package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters exported by the purchase and webhook paths.
type Metrics struct {
	Purchases     *prometheus.CounterVec
	WebhookEvents *prometheus.CounterVec
	DebitFailures prometheus.Counter
	CreditTotal   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "didport",
			Name:      "purchases_total",
			Help:      "Phone number purchase attempts by result.",
		}, []string{"result"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "didport",
			Name:      "webhook_events_total",
			Help:      "Inbound payment webhook events by type and result.",
		}, []string{"type", "result"}),
		DebitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "didport",
			Name:      "ledger_debit_failures_total",
			Help:      "Failed external ledger debit attempts.",
		}),
		CreditTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "didport",
			Name:      "ledger_credits_total",
			Help:      "Successful external ledger credit operations.",
		}),
	}

	reg.MustRegister(m.Purchases, m.WebhookEvents, m.DebitFailures, m.CreditTotal)
	return m
}
