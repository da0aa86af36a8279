// Package randombalance implements the dynrpc "random_balance" channel
// policy: each pick is drawn uniformly at random from the ready subconns of
// the cached channel. It exists for callers that want to avoid the herd
// effects of round-robin against a small, frequently-recycled instance set
// (see channel.Policy).
package randombalance

import (
	"math/rand"

	"google.golang.org/grpc/balancer"
	"google.golang.org/grpc/balancer/base"
)

// Name is the grpc-go balancer name registered for this policy; it is also
// the string channel.Policy's Random constant resolves to.
const Name = "random_balance"

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

	conns := make([]balancer.SubConn, 0, len(info.ReadySCs))
	for sc := range info.ReadySCs {
		conns = append(conns, sc)
	}
	return &picker{conns: conns}
}

// picker holds an immutable snapshot of the ready subconns taken when the
// channel's subconn set last changed. math/rand's package-level Intn is
// already safe for concurrent use, so no picker-local lock is needed.
type picker struct {
	conns []balancer.SubConn
}

func (p *picker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{SubConn: p.conns[rand.Intn(len(p.conns))]}, nil
}
