package experiment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts registry activity per experiment and arm.
type Metrics struct {
	Suggestions *prometheus.CounterVec
	Pulls       *prometheus.CounterVec
	Rewards     *prometheus.CounterVec
	Saves       *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Suggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mab",
			Name:      "suggestions_total",
			Help:      "Arms suggested, by experiment and arm.",
		}, []string{"experiment", "arm"}),
		Pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mab",
			Name:      "pulls_total",
			Help:      "Arm pulls, by experiment and arm.",
		}, []string{"experiment", "arm"}),
		Rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mab",
			Name:      "reward_total",
			Help:      "Cumulative reward, by experiment and arm.",
		}, []string{"experiment", "arm"}),
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mab",
			Name:      "saves_total",
			Help:      "Store saves, by status.",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(m.Suggestions, m.Pulls, m.Rewards, m.Saves)
	}

	return m
}

func (m *Metrics) suggested(name, arm string) {
	m.Suggestions.WithLabelValues(name, arm).Inc()
}

func (m *Metrics) pulled(name, arm string) {
	m.Pulls.WithLabelValues(name, arm).Inc()
}

func (m *Metrics) rewarded(name, arm string, amount float64) {
	m.Rewards.WithLabelValues(name, arm).Add(amount)
}

func (m *Metrics) saved(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Saves.WithLabelValues(status).Inc()
}
