// Package metrics records counters, gauges and timers for every other
// component (C8). A nil-free no-op implementation is the default so the rest
// of the module never has to branch on whether a metrics backend is present.
package metrics

import "time"

// Sink is the full surface every component may record against. It is a
// superset of channel.MetricsSink: any Sink value can be passed wherever a
// channel.MetricsSink is expected.
type Sink interface {
	// Channel Manager (C2)
	ObserveChannelCreated(name string)
	ObserveChannelEvicted(name, reason string)
	ObserveChannelCacheSize(n int)
	ObserveCacheHit(name string)
	ObserveCacheMiss(name string)

	// Client Factory (C3)
	ObserveClientCreated(name string)
	ObserveDiscoveryAttempt(name, result string)
	ObserveException(exception, service, operation string)
	ObserveOperationDuration(operation string, d time.Duration)
	ObserveActiveChannels(n int)
}

// Time returns a small stop function, so callers can write
// `defer metrics.Time(sink, "operation")()` around one operation.
func Time(sink Sink, operation string) func() {
	start := time.Now()
	return func() {
		sink.ObserveOperationDuration(operation, time.Since(start))
	}
}
