package vos

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Prometheus-backed replacement for the teacher's
// GatherStats/ValuesStoreStats ASCII dump: one registry per pool, scoped
// so multiple pools in the same process don't collide on metric names.
type Metrics struct {
	Registry *prometheus.Registry

	Updates        prometheus.Counter
	Fetches        prometheus.Counter
	Punches        prometheus.Counter
	Queries        prometheus.Counter
	HandleCacheHit prometheus.Counter
	HandleCacheMis prometheus.Counter
	BIOBytesRead   prometheus.Counter
	BIOBytesWrite  prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vos_updates_total", Help: "Total update operations.",
		}),
		Fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vos_fetches_total", Help: "Total fetch operations.",
		}),
		Punches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vos_punches_total", Help: "Total punch operations.",
		}),
		Queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vos_queries_total", Help: "Total query_key operations.",
		}),
		HandleCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vos_handle_cache_hits_total", Help: "Object handle cache hits.",
		}),
		HandleCacheMis: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vos_handle_cache_misses_total", Help: "Object handle cache misses.",
		}),
		BIOBytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vos_bio_bytes_read_total", Help: "Bytes read through the BIO bridge.",
		}),
		BIOBytesWrite: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vos_bio_bytes_written_total", Help: "Bytes written through the BIO bridge.",
		}),
	}
	reg.MustRegister(m.Updates, m.Fetches, m.Punches, m.Queries,
		m.HandleCacheHit, m.HandleCacheMis, m.BIOBytesRead, m.BIOBytesWrite)
	return m
}
