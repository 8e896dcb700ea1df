package locker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for Locker metrics.
const (
	LabelAxis   = "axis"   // hard, file, dn
	LabelState  = "state"  // destination state of a transition
	LabelStatus = "status" // ready, suspended
	LabelAction = "action" // lock message action
)

// Status constants for acquisition outcomes.
const (
	StatusReady     = "ready"
	StatusSuspended = "suspended"
)

// Axis constants identifying which lock cell a metric concerns.
const (
	AxisHard = "hard"
	AxisFile = "file"
	AxisDN   = "dn"
)

// Metrics provides Prometheus metrics for the Locker subsystem.
type Metrics struct {
	acquireTotal   *prometheus.CounterVec
	gatherDuration *prometheus.HistogramVec
	evalTotal      *prometheus.CounterVec
	waitersGauge   *prometheus.GaugeVec

	capGrantTotal   *prometheus.CounterVec
	capRevokeTotal  *prometheus.CounterVec
	fileDataVersion prometheus.Gauge

	messagesSentTotal *prometheus.CounterVec
	messagesRecvTotal *prometheus.CounterVec

	structuralViolations prometheus.Counter

	registered bool
}

// NewMetrics creates and registers Locker metrics under namespace (falling
// back to "lockerd" if empty). If registry is nil, metrics are created but
// not registered, matching the pattern used for unit tests that construct a
// Locker without a live registry.
func NewMetrics(namespace string, registry prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "lockerd"
	}
	m := &Metrics{
		acquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "acquisition",
				Name:      "attempts_total",
				Help:      "Total number of acquireLocks attempts by outcome",
			},
			[]string{LabelStatus},
		),

		gatherDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "gather_duration_seconds",
				Help:      "Time a cell spent in a gathering state before committing",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
			},
			[]string{LabelAxis},
		),

		evalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "eval_total",
				Help:      "Total number of FILE lock commits by resulting state",
			},
			[]string{LabelState},
		),

		waitersGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "waiters",
				Help:      "Number of closures currently parked per wait channel",
			},
			[]string{"channel"},
		),

		capGrantTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "caps",
				Name:      "grant_total",
				Help:      "Total number of capability grants issued",
			},
			[]string{LabelAxis},
		),

		capRevokeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "caps",
				Name:      "revoke_total",
				Help:      "Total number of capability revocations issued",
			},
			[]string{LabelAxis},
		),

		fileDataVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "caps",
				Name:      "file_data_version_max",
				Help:      "Highest file_data_version observed across all inodes",
			},
		),

		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Total number of inter-MDS lock messages sent",
			},
			[]string{LabelAction},
		),

		messagesRecvTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of inter-MDS lock messages received",
			},
			[]string{LabelAction},
		),

		structuralViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "structural_violations_total",
				Help:      "Number of structural violations observed before the process aborted",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.acquireTotal,
			m.gatherDuration,
			m.evalTotal,
			m.waitersGauge,
			m.capGrantTotal,
			m.capRevokeTotal,
			m.fileDataVersion,
			m.messagesSentTotal,
			m.messagesRecvTotal,
			m.structuralViolations,
		)
		m.registered = true
	}

	return m
}

// ObserveAcquire records an acquireLocks attempt's outcome.
func (m *Metrics) ObserveAcquire(d Disposition) {
	if m == nil {
		return
	}
	m.acquireTotal.WithLabelValues(d.String()).Inc()
}

// ObserveGatherDuration records how long a cell spent in a gathering state.
func (m *Metrics) ObserveGatherDuration(axis string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatherDuration.WithLabelValues(axis).Observe(d.Seconds())
}

// ObserveEval records a FILE lock commit and the state it committed to.
func (m *Metrics) ObserveEval(state string) {
	if m == nil {
		return
	}
	m.evalTotal.WithLabelValues(state).Inc()
}

// SetWaiters sets the number of closures parked on channel.
func (m *Metrics) SetWaiters(channel string, count float64) {
	if m == nil {
		return
	}
	m.waitersGauge.WithLabelValues(channel).Set(count)
}

// ObserveCapGrant records a capability grant on axis.
func (m *Metrics) ObserveCapGrant(axis string) {
	if m == nil {
		return
	}
	m.capGrantTotal.WithLabelValues(axis).Inc()
}

// ObserveCapRevoke records a capability revocation on axis.
func (m *Metrics) ObserveCapRevoke(axis string) {
	if m == nil {
		return
	}
	m.capRevokeTotal.WithLabelValues(axis).Inc()
}

// SetFileDataVersion updates the high-water mark for file_data_version.
func (m *Metrics) SetFileDataVersion(v uint64) {
	if m == nil {
		return
	}
	m.fileDataVersion.Set(float64(v))
}

// ObserveMessageSent records an outbound lock-message action.
func (m *Metrics) ObserveMessageSent(action string) {
	if m == nil {
		return
	}
	m.messagesSentTotal.WithLabelValues(action).Inc()
}

// ObserveMessageReceived records an inbound lock-message action.
func (m *Metrics) ObserveMessageReceived(action string) {
	if m == nil {
		return
	}
	m.messagesRecvTotal.WithLabelValues(action).Inc()
}

// ObserveStructuralViolation records a structural violation immediately
// before the process aborts.
func (m *Metrics) ObserveStructuralViolation() {
	if m == nil {
		return
	}
	m.structuralViolations.Inc()
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil || !m.registered {
		return
	}
	m.acquireTotal.Describe(ch)
	m.gatherDuration.Describe(ch)
	m.evalTotal.Describe(ch)
	m.waitersGauge.Describe(ch)
	m.capGrantTotal.Describe(ch)
	m.capRevokeTotal.Describe(ch)
	ch <- m.fileDataVersion.Desc()
	m.messagesSentTotal.Describe(ch)
	m.messagesRecvTotal.Describe(ch)
	ch <- m.structuralViolations.Desc()
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil || !m.registered {
		return
	}
	m.acquireTotal.Collect(ch)
	m.gatherDuration.Collect(ch)
	m.evalTotal.Collect(ch)
	m.waitersGauge.Collect(ch)
	m.capGrantTotal.Collect(ch)
	m.capRevokeTotal.Collect(ch)
	ch <- m.fileDataVersion
	m.messagesSentTotal.Collect(ch)
	m.messagesRecvTotal.Collect(ch)
	ch <- m.structuralViolations
}
