// Package leastconnbalance implements the dynrpc "least_conn_balance"
// channel policy: each pick goes to whichever ready subconn currently has
// the fewest in-flight picks from this picker. It suits fan-out RPCs whose
// cost varies enough that plain round-robin leaves some instances backed up
// while others sit idle (see channel.Policy).
package leastconnbalance

import (
	"sync"

	"google.golang.org/grpc/balancer"
	"google.golang.org/grpc/balancer/base"
)

// Name is the grpc-go balancer name registered for this policy; it is also
// the string channel.Policy's LeastConn constant resolves to.
const Name = "least_conn_balance"

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
	return &picker{
		conns:    conns,
		inFlight: make(map[balancer.SubConn]int64, len(conns)),
	}
}

// picker tracks the number of picks handed out per subconn that have not yet
// reported Done, so the next Pick can favor whichever subconn is least busy.
type picker struct {
	mu       sync.Mutex
	conns    []balancer.SubConn
	inFlight map[balancer.SubConn]int64
}

func (p *picker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	p.mu.Lock()

	var chosen balancer.SubConn
	fewest := int64(-1)
	for _, sc := range p.conns {
		n := p.inFlight[sc]
		if fewest == -1 || n < fewest {
			fewest = n
			chosen = sc
		}
	}
	p.inFlight[chosen]++
	p.mu.Unlock()

	return balancer.PickResult{
		SubConn: chosen,
		Done: func(balancer.DoneInfo) {
			p.mu.Lock()
			if p.inFlight[chosen] > 0 {
				p.inFlight[chosen]--
			}
			p.mu.Unlock()
		},
	}, nil
}
