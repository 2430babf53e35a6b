package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	PunishmentsCreated   *prometheus.CounterVec
	PunishmentsCancelled *prometheus.CounterVec
	PunishmentsRemoved   *prometheus.CounterVec
	Conflicts            prometheus.Counter
	ActivePunishments    prometheus.Gauge
	PersistenceFailures  prometheus.Counter
	Lookups              *prometheus.CounterVec
	MuteChecks           *prometheus.CounterVec
	Enforcements         *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PunishmentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_punishments_created_total",
			Help: "Punishments accepted by the pre-creation event",
		}, []string{"type", "retroactive"}),
		PunishmentsCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_punishments_cancelled_total",
			Help: "Punishment creations or removals cancelled by a listener",
		}, []string{"type", "action"}),
		PunishmentsRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_punishments_removed_total",
			Help: "Punishments removed from the active set",
		}, []string{"type", "automatic"}),
		Conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_punishment_conflicts_total",
			Help: "Creation batches rejected for a conflicting active punishment",
		}),
		ActivePunishments: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_active_punishments",
			Help: "Size of the active set after the last snapshot",
		}),
		PersistenceFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_persistence_failures_total",
			Help: "Statement batches that failed against the backing store",
		}),
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_resolver_lookups_total",
			Help: "Resolver lookups by chain, source and outcome",
		}, []string{"chain", "source", "outcome"}),
		MuteChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_mute_checks_total",
			Help: "Mute cache checks by result",
		}, []string{"result"}),
		Enforcements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_enforcements_total",
			Help: "Effects applied to live sessions",
		}, []string{"type", "effect"}),
	}
}

func (m *Metrics) IncrementCreated(kind string, retroactive bool) {
	if m == nil {
		return
	}
	m.PunishmentsCreated.WithLabelValues(kind, strconv.FormatBool(retroactive)).Inc()
}

func (m *Metrics) IncrementCancelled(kind, action string) {
	if m == nil {
		return
	}
	m.PunishmentsCancelled.WithLabelValues(kind, action).Inc()
}

func (m *Metrics) IncrementRemoved(kind string, automatic bool) {
	if m == nil {
		return
	}
	m.PunishmentsRemoved.WithLabelValues(kind, strconv.FormatBool(automatic)).Inc()
}

func (m *Metrics) IncrementConflicts() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.ActivePunishments.Set(float64(n))
}

func (m *Metrics) IncrementPersistenceFailures() {
	if m == nil {
		return
	}
	m.PersistenceFailures.Inc()
}

func (m *Metrics) ObserveLookup(chain, source, outcome string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(chain, source, outcome).Inc()
}

func (m *Metrics) ObserveMuteCheck(result string) {
	if m == nil {
		return
	}
	m.MuteChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEnforcement(kind, effect string) {
	if m == nil {
		return
	}
	m.Enforcements.WithLabelValues(kind, effect).Inc()
}
