package metrics

import "time"

type noop struct{}

// Noop returns a Sink whose every method is a no-op. Timed operations still
// execute normally; only the recording side compiles away, matching the
// spec's "zero overhead when no backend is present" requirement.
func Noop() Sink { return noop{} }

func (noop) ObserveChannelCreated(string)                   {}
func (noop) ObserveChannelEvicted(string, string)           {}
func (noop) ObserveChannelCacheSize(int)                    {}
func (noop) ObserveCacheHit(string)                         {}
func (noop) ObserveCacheMiss(string)                        {}
func (noop) ObserveClientCreated(string)                    {}
func (noop) ObserveDiscoveryAttempt(string, string)         {}
func (noop) ObserveException(string, string, string)        {}
func (noop) ObserveOperationDuration(string, time.Duration) {}
func (noop) ObserveActiveChannels(int)                      {}
