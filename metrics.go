package lobby

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of a PageCache.
type Metrics struct {
	reads   *prometheus.CounterVec
	merges  *prometheus.CounterVec
	fetches *prometheus.CounterVec
}

// NewMetrics creates the page cache collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lobby_page_cache_reads_total",
			Help: "Page cache reads by field and result (hit, miss)",
		}, []string{"field", "result"}),
		merges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lobby_page_cache_merges_total",
			Help: "Page cache merges by field and outcome (inserted, skipped)",
		}, []string{"field", "outcome"}),
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lobby_page_cache_fetches_total",
			Help: "Upstream page fetches by field and outcome (ok, shared, error, canceled)",
		}, []string{"field", "outcome"}),
	}
}

func (m *Metrics) read(field Field, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reads.WithLabelValues(string(field), result).Inc()
}

func (m *Metrics) merge(field Field, inserted bool) {
	if m == nil {
		return
	}
	outcome := "skipped"
	if inserted {
		outcome = "inserted"
	}
	m.merges.WithLabelValues(string(field), outcome).Inc()
}

func (m *Metrics) fetch(field Field, outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(string(field), outcome).Inc()
}
