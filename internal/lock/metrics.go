package lock

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK         = "ok"
	outcomeError      = "error"
	outcomeErrorState = "error_state"
)

// Metrics holds the Prometheus collectors shared by all reconcilers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	subRequests *prometheus.CounterVec
	refreshes   prometheus.Counter
	cacheHits   prometheus.Counter
	commands    *prometheus.CounterVec
	available   *prometheus.GaugeVec
}

// NewMetrics creates the reconciler collectors and registers them on reg.
// Returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		subRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nuki_refresh_subrequests_total",
			Help: "Bridge sub-requests issued during refreshes",
		}, []string{"level", "outcome"}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nuki_refreshes_total",
			Help: "Refreshes that went to the bridge",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nuki_refresh_cache_hits_total",
			Help: "Updates answered from the cached snapshot",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nuki_command_attempts_total",
			Help: "Lock command attempts by command and outcome",
		}, []string{"command", "outcome"}),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nuki_lock_available",
			Help: "1 when the lock's cached state is trusted",
		}, []string{"nuki_id"}),
	}

	reg.MustRegister(m.subRequests, m.refreshes, m.cacheHits, m.commands, m.available)
	return m
}

func (m *Metrics) observeSubRequest(level bool, outcome string) {
	if m == nil {
		return
	}
	m.subRequests.WithLabelValues(levelName(level), outcome).Inc()
}

func (m *Metrics) observeRefresh() {
	if m == nil {
		return
	}
	m.refreshes.Inc()
}

func (m *Metrics) observeCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) observeCommand(command, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) observeAvailability(s Snapshot) {
	if m == nil {
		return
	}
	v := 0.0
	if s.Available {
		v = 1
	}
	m.available.WithLabelValues(strconv.Itoa(s.NukiID)).Set(v)
}

func outcomeOf(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeOK
}
