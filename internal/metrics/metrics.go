// Package metrics exposes the proxy's Prometheus counters and the
// per-request identifiers that tie an access-log line back to its
// process-log entries. Grounded on the teacher's metrics/request_info.go
// (request-scoped metadata) and storage/bucket/disk/disk.go's
// ratecounter-based rate sampling, with uuid.New in place of the
// teacher's crypto/rand-and-hex request ID (the llm-gateway proxy
// handler in the retrieval pack generates its request IDs the same
// way: uuid.New().String()).
package metrics

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulbellamy/ratecounter"
	"github.com/prometheus/client_golang/prometheus"
)

// NewRequestID returns a fresh request identifier, used as a log field
// threaded through one connection's lifetime (spec.md §4.2).
func NewRequestID() string {
	return uuid.New().String()
}

// Recorder implements internal/cache.Recorder and the pipeline/acceptor
// counters, all registered against a single prometheus.Registerer.
type Recorder struct {
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheEvictions  prometheus.Counter
	cacheAdmissions prometheus.Counter
	cacheBytesInUse prometheus.Gauge

	requestsTotal   *prometheus.CounterVec
	bytesStreamed   prometheus.Counter
	connectionsRate *ratecounter.RateCounter
}

// New registers the proxy's counters against reg and returns a
// Recorder. reg is typically prometheus.DefaultRegisterer, wrapped
// with a namespace prefix the way the teacher's main.go wraps the Go
// collector: prometheus.WrapRegistererWithPrefix.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache lookups that found a resident entry.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache lookups that found nothing.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries evicted to make room for an admission.",
		}),
		cacheAdmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_admissions_total",
			Help: "Response bodies admitted to the cache.",
		}),
		cacheBytesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_bytes_in_use",
			Help: "Current total size of resident cache entries.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Completed requests by outcome.",
		}, []string{"outcome"}),
		bytesStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_bytes_streamed_total",
			Help: "Response bytes streamed to clients.",
		}),
		connectionsRate: ratecounter.NewRateCounter(time.Second),
	}

	reg.MustRegister(
		r.cacheHits, r.cacheMisses, r.cacheEvictions, r.cacheAdmissions, r.cacheBytesInUse,
		r.requestsTotal, r.bytesStreamed,
	)
	return r
}

// CacheHit implements internal/cache.Recorder.
func (r *Recorder) CacheHit() { r.cacheHits.Inc() }

// CacheMiss implements internal/cache.Recorder.
func (r *Recorder) CacheMiss() { r.cacheMisses.Inc() }

// CacheEviction implements internal/cache.Recorder.
func (r *Recorder) CacheEviction() { r.cacheEvictions.Inc() }

// CacheAdmission implements internal/cache.Recorder.
func (r *Recorder) CacheAdmission(size int) {
	r.cacheAdmissions.Inc()
}

// CacheBytesInUse implements internal/cache.Recorder.
func (r *Recorder) CacheBytesInUse(n int) {
	r.cacheBytesInUse.Set(float64(n))
}

// RequestDone records one completed request's outcome (e.g. "ok",
// "bad_request", "upstream_error") and the bytes of response body
// streamed to the client.
func (r *Recorder) RequestDone(outcome string, bytesStreamed int64) {
	r.requestsTotal.WithLabelValues(outcome).Inc()
	r.bytesStreamed.Add(float64(bytesStreamed))
}

// ConnectionAccepted marks one accepted connection for the rolling
// connections/sec sample (spec.md §4.5).
func (r *Recorder) ConnectionAccepted() {
	r.connectionsRate.Incr(1)
}

// ConnectionsPerSecond reports the current rolling rate, the same
// per-second sampling the teacher uses for its load-metadata progress
// logging.
func (r *Recorder) ConnectionsPerSecond() int64 {
	return r.connectionsRate.Rate()
}
