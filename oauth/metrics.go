package oauth

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts issued grants and reported authorization errors. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	grants *prometheus.CounterVec
	errors *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authorizer",
			Name:      "grants_issued_total",
			Help:      "Authorization codes and access tokens issued, by grant type.",
		}, []string{"grant_type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authorizer",
			Name:      "authorization_errors_total",
			Help:      "OAuth errors reported to clients, by error code.",
		}, []string{"error"}),
	}
	reg.MustRegister(m.grants, m.errors)
	return m
}

func (m *Metrics) grantIssued(grantType string) {
	if m != nil {
		m.grants.WithLabelValues(grantType).Inc()
	}
}

func (m *Metrics) errorReported(code string) {
	if m != nil {
		m.errors.WithLabelValues(code).Inc()
	}
}
