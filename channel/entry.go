package channel

import (
	"container/list"
	"time"

	"google.golang.org/grpc"
)

// ChannelEntry is the cached unit: one multiplexed *grpc.ClientConn per
// logical service name, tracked for LRU ordering and idle eviction.
type ChannelEntry struct {
	logicalName string
	conn        *grpc.ClientConn
	createdAt   time.Time
	lastUsedAt  time.Time
	element     *list.Element
}

func (e *ChannelEntry) touch() {
	e.lastUsedAt = time.Now()
}

func (e *ChannelEntry) idleSince(now time.Time) time.Duration {
	return now.Sub(e.lastUsedAt)
}
