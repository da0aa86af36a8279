package channel

import (
	"fmt"

	"google.golang.org/grpc/balancer/roundrobin"

	// Each of these registers its balancer.Builder with the grpc-go global
	// registry from its own init(); referencing their Name constants below
	// both selects the algorithm and keeps the import live.
	"github.com/source-build/go-dynrpc/frpc/leastconnbalance"
	"github.com/source-build/go-dynrpc/frpc/randombalance"
	"github.com/source-build/go-dynrpc/frpc/weightroundrobinbalance"
)

// Policy selects the load-balancing algorithm applied across the ready
// subchannels of one cached channel. RoundRobin is the default when no policy
// is given; the others are opt-in, one policy for every channel a dialer builds.
type Policy string

const (
	RoundRobin       Policy = roundrobin.Name
	Random           Policy = randombalance.Name
	WeightRoundRobin Policy = weightroundrobinbalance.Name
	LeastConn        Policy = leastconnbalance.Name
)

func (p Policy) orDefault() Policy {
	if p == "" {
		return RoundRobin
	}
	return p
}

func (p Policy) serviceConfigJSON() string {
	return fmt.Sprintf(`{"loadBalancingPolicy":"%s"}`, p.orDefault())
}
