package apiclient

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports session events as Prometheus counters. It implements
// Observer and is attached with WithMetrics.
type Metrics struct {
	NopObserver

	refreshExchanges *prometheus.CounterVec
	refreshWaiters   prometheus.Counter
	unauthorized     prometheus.Counter
	requests         *prometheus.CounterVec
	terminations     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_refresh_exchanges_total",
			Help: "Refresh-token exchanges issued, by result.",
		}, []string{"result"}),
		refreshWaiters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verigate_refresh_waiters_total",
			Help: "Requests that joined an in-flight refresh instead of starting one.",
		}),
		unauthorized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verigate_unauthorized_responses_total",
			Help: "Responses rejected with 401 outside of login.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_requests_total",
			Help: "Completed logical requests, by classification code.",
		}, []string{"code"}),
		terminations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verigate_session_terminations_total",
			Help: "Sessions ended because re-authentication is required.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.refreshExchanges,
			m.refreshWaiters,
			m.unauthorized,
			m.requests,
			m.terminations,
		)
	}
	return m
}

func (m *Metrics) AccessTokenRejected(_, _ string) {
	m.unauthorized.Inc()
}

func (m *Metrics) RefreshJoined() {
	m.refreshWaiters.Inc()
}

func (m *Metrics) RefreshSucceeded(_ int) {
	m.refreshExchanges.WithLabelValues("success").Inc()
}

func (m *Metrics) RefreshFailed(_ error, _ int) {
	m.refreshExchanges.WithLabelValues("failure").Inc()
}

func (m *Metrics) SessionTerminated() {
	m.terminations.Inc()
}

func (m *Metrics) RequestFinished(_, _ string, err error) {
	code := "ok"
	if err != nil {
		code = string(CodeOf(err))
	}
	m.requests.WithLabelValues(code).Inc()
}
