package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts the structural activity of sessions. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	rebuilds  prometheus.Counter
	conflicts prometheus.Counter
	added     *prometheus.CounterVec
	removed   *prometheus.CounterVec
	params    prometheus.Counter
}

// NewMetrics creates the session counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patchbay_snapshot_rebuilds_total",
			Help: "Total number of graph snapshot recompositions",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patchbay_snapshot_address_conflicts_total",
			Help: "Total number of duplicate port addresses seen while composing snapshots",
		}),
		added: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patchbay_modules_added_total",
			Help: "Total number of modules added, by module type",
		}, []string{"type"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patchbay_module_removals_total",
			Help: "Total number of module removal requests, by result",
		}, []string{"result"}),
		params: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patchbay_parameter_sets_total",
			Help: "Total number of parameter edits",
		}),
	}
	reg.MustRegister(m.rebuilds, m.conflicts, m.added, m.removed, m.params)
	return m
}

func (m *Metrics) rebuild() {
	if m != nil {
		m.rebuilds.Inc()
	}
}

func (m *Metrics) conflict(n int) {
	if m != nil {
		m.conflicts.Add(float64(n))
	}
}

func (m *Metrics) moduleAdded(typ string) {
	if m != nil {
		m.added.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) removal(r RemoveResult) {
	if m != nil {
		m.removed.WithLabelValues(r.String()).Inc()
	}
}

func (m *Metrics) parameterSet() {
	if m != nil {
		m.params.Inc()
	}
}
