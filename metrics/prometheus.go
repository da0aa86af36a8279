package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is the concrete Sink backend: every counter/gauge/timer named in
// spec §4.8 is registered eagerly at construction time, never lazily per
// call, avoiding a data race on client_golang's own collector registry.
type Prometheus struct {
	clientCreated     prometheus.Counter
	channelCreated    prometheus.Counter
	channelEvicted    *prometheus.CounterVec
	cacheHit          prometheus.Counter
	cacheMiss         prometheus.Counter
	discoveryAttempts *prometheus.CounterVec
	exceptions        *prometheus.CounterVec
	channelsActive    prometheus.Gauge
	cacheSize         prometheus.Gauge
	cacheHitRate      prometheus.Gauge
	operationDuration *prometheus.HistogramVec

	rateMu       sync.Mutex
	hits, misses float64
}

// NewPrometheus builds a Prometheus sink and registers its collectors against
// registerer. Pass prometheus.DefaultRegisterer for the global registry.
func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		clientCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynrpc_client_created_total",
			Help: "Number of client.Factory instances constructed.",
		}),
		channelCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynrpc_channel_created_total",
			Help: "Number of gRPC channels dialed by the channel cache.",
		}),
		channelEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynrpc_channel_evicted_total",
			Help: "Number of channels evicted from the cache, by reason.",
		}, []string{"reason"}),
		cacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynrpc_cache_hit_total",
			Help: "Number of channel cache hits.",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynrpc_cache_miss_total",
			Help: "Number of channel cache misses.",
		}),
		discoveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynrpc_discovery_attempts_total",
			Help: "Number of discovery resolution attempts, by result.",
		}, []string{"result"}),
		exceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynrpc_exceptions_total",
			Help: "Number of failures surfaced to callers, by exception/service/operation.",
		}, []string{"exception", "service", "operation"}),
		channelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dynrpc_channels_active",
			Help: "Current number of active cached channels.",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dynrpc_cache_size",
			Help: "Current number of entries in the channel cache.",
		}),
		cacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dynrpc_cache_hit_rate",
			Help: "Rolling hit rate of the channel cache since process start.",
		}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dynrpc_operation_duration_seconds",
			Help:    "Duration of instrumented operations, by operation name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registerer.MustRegister(
		p.clientCreated, p.channelCreated, p.channelEvicted, p.cacheHit, p.cacheMiss,
		p.discoveryAttempts, p.exceptions, p.channelsActive, p.cacheSize, p.cacheHitRate,
		p.operationDuration,
	)
	return p
}

func (p *Prometheus) ObserveChannelCreated(string) {
	p.channelCreated.Inc()
	p.channelsActive.Inc()
}

func (p *Prometheus) ObserveChannelEvicted(_, reason string) {
	p.channelEvicted.WithLabelValues(reason).Inc()
	p.channelsActive.Dec()
}

func (p *Prometheus) ObserveChannelCacheSize(n int) {
	p.cacheSize.Set(float64(n))
}

func (p *Prometheus) ObserveCacheHit(string) {
	p.cacheHit.Inc()
	p.rateMu.Lock()
	p.hits++
	p.updateHitRateLocked()
	p.rateMu.Unlock()
}

func (p *Prometheus) ObserveCacheMiss(string) {
	p.cacheMiss.Inc()
	p.rateMu.Lock()
	p.misses++
	p.updateHitRateLocked()
	p.rateMu.Unlock()
}

// updateHitRateLocked must be called with rateMu held.
func (p *Prometheus) updateHitRateLocked() {
	total := p.hits + p.misses
	if total == 0 {
		return
	}
	p.cacheHitRate.Set(p.hits / total)
}

func (p *Prometheus) ObserveClientCreated(string) {
	p.clientCreated.Inc()
}

func (p *Prometheus) ObserveDiscoveryAttempt(_, result string) {
	p.discoveryAttempts.WithLabelValues(result).Inc()
}

func (p *Prometheus) ObserveException(exception, service, operation string) {
	p.exceptions.WithLabelValues(exception, service, operation).Inc()
}

func (p *Prometheus) ObserveOperationDuration(operation string, d time.Duration) {
	p.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (p *Prometheus) ObserveActiveChannels(n int) {
	p.channelsActive.Set(float64(n))
}
