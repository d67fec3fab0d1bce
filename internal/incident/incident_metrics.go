package incident

import "github.com/prometheus/client_golang/prometheus"

// Hooks are optional callbacks the Service invokes at lifecycle points.
// Nil fields are skipped.
type Hooks struct {
	OnSubmit     func(result string)
	OnTransition func(from, to State)
	OnDispatch   func(category Category, outcome string, seconds float64)
	OnReport     func(ok bool)
	OnNotify     func(event NotifyEvent, ok bool)
	OnFinish     func(category Category, final State, seconds float64)
}

// Metrics holds Prometheus metrics for the incident lifecycle.
type Metrics struct {
	SubmitsTotal      *prometheus.CounterVec
	TransitionsTotal  *prometheus.CounterVec
	DispatchTotal     *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	ReportsTotal      *prometheus.CounterVec
	NotifyTotal       *prometheus.CounterVec
	IncidentsFinished *prometheus.CounterVec
	IncidentDuration  *prometheus.HistogramVec
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faultline_submits_total",
			Help: "Total signal submissions by result.",
		}, []string{"result"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faultline_transitions_total",
			Help: "Total incident state transitions.",
		}, []string{"from", "to"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faultline_dispatch_total",
			Help: "Total remediation dispatches by category and outcome.",
		}, []string{"category", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faultline_dispatch_duration_seconds",
			Help:    "Duration of remediation dispatches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~204s
		}, []string{"category"}),
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faultline_reports_total",
			Help: "Total retrospective builds by status.",
		}, []string{"status"}),
		NotifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faultline_notifications_total",
			Help: "Total lifecycle notifications by event and status.",
		}, []string{"event", "status"}),
		IncidentsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faultline_incidents_finished_total",
			Help: "Total incidents reaching a terminal state.",
		}, []string{"category", "state"}),
		IncidentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faultline_incident_duration_seconds",
			Help:    "Time from detection to terminal state in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2.3h
		}, []string{"category", "state"}),
	}

	reg.MustRegister(
		m.SubmitsTotal,
		m.TransitionsTotal,
		m.DispatchTotal,
		m.DispatchDuration,
		m.ReportsTotal,
		m.NotifyTotal,
		m.IncidentsFinished,
		m.IncidentDuration,
	)

	return m
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// Hooks returns Service hooks that record into m.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnSubmit: func(result string) {
			m.SubmitsTotal.WithLabelValues(result).Inc()
		},
		OnTransition: func(from, to State) {
			m.TransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
		},
		OnDispatch: func(category Category, outcome string, seconds float64) {
			m.DispatchTotal.WithLabelValues(string(category), outcome).Inc()
			m.DispatchDuration.WithLabelValues(string(category)).Observe(seconds)
		},
		OnReport: func(ok bool) {
			m.ReportsTotal.WithLabelValues(status(ok)).Inc()
		},
		OnNotify: func(event NotifyEvent, ok bool) {
			m.NotifyTotal.WithLabelValues(string(event), status(ok)).Inc()
		},
		OnFinish: func(category Category, final State, seconds float64) {
			m.IncidentsFinished.WithLabelValues(string(category), string(final)).Inc()
			m.IncidentDuration.WithLabelValues(string(category), string(final)).Observe(seconds)
		},
	}
}
