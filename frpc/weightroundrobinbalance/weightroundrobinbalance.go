// Package weightroundrobinbalance implements the dynrpc
// "weight_round_robin_balance" channel policy: picks cycle across ready
// subconns in proportion to a per-address "weight" attribute (smooth
// weighted round robin), falling back to plain round robin when the
// resolver never attached a weight (see channel.Policy).
package weightroundrobinbalance

import (
	"sync"

	"google.golang.org/grpc/balancer"
	"google.golang.org/grpc/balancer/base"
)

// Name is the grpc-go balancer name registered for this policy; it is also
// the string channel.Policy's WeightRoundRobin constant resolves to.
const Name = "weight_round_robin_balance"

// WeightAttributeKey is the resolver.Address attribute key this balancer reads
// a float64 instance weight from. dynrpc's own resolver does not set it, so
// its addresses all weigh 1.
const WeightAttributeKey = "weight"

func init() {
	balancer.Register(newBuilder())
}

func newBuilder() balancer.Builder {
	return base.NewBalancerBuilder(Name, pickerBuilder{}, base.Config{HealthCheck: true})
}

type pickerBuilder struct{}

func (pickerBuilder) Build(info base.PickerBuildInfo) balancer.Picker {
	if len(info.ReadySCs) == 0 {
		return base.NewErrPicker(balancer.ErrNoSubConnAvailable)
	}

	entries := make([]*weightedConn, 0, len(info.ReadySCs))
	for sc, scInfo := range info.ReadySCs {
		weight := 1.0
		if scInfo.Address.Attributes != nil {
			if w, ok := scInfo.Address.Attributes.Value(WeightAttributeKey).(float64); ok && w > 0 {
				weight = w
			}
		}
		entries = append(entries, &weightedConn{conn: sc, weight: weight})
	}

	return &picker{entries: entries}
}

// weightedConn is one subconn's static weight plus its running tally in the
// smooth weighted round-robin algorithm (current += weight each pick, the
// winner's current -= sum(weight)).
type weightedConn struct {
	conn    balancer.SubConn
	weight  float64
	current float64
}

type picker struct {
	mu      sync.Mutex
	entries []*weightedConn
}

func (p *picker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *weightedConn
	var total float64
	for _, e := range p.entries {
		total += e.weight
		e.current += e.weight
		if best == nil || e.current > best.current {
			best = e
		}
	}
	if best == nil {
		return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
	}
	best.current -= total

	return balancer.PickResult{SubConn: best.conn}, nil
}
