package channel

import (
	"context"
	"time"

	"google.golang.org/grpc/resolver"

	"github.com/source-build/go-dynrpc/discovery"
)

// Scheme is the gRPC target scheme every dialed channel uses; the resolver
// registered under it bridges a discovery.Resolver into grpc-go's resolver
// machinery the way frpc's etcdBuilder/etcdResolver pair bridged a raw etcd
// watch into one.
const Scheme = "dynrpc"

type resolverBuilder struct {
	disc    *discovery.Resolver
	refresh time.Duration
}

func newResolverBuilder(disc *discovery.Resolver, refresh time.Duration) *resolverBuilder {
	if refresh <= 0 {
		refresh = 5 * time.Second
	}
	return &resolverBuilder{disc: disc, refresh: refresh}
}

func (b *resolverBuilder) Scheme() string { return Scheme }

func (b *resolverBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &dynResolver{
		disc:       b.disc,
		cc:         cc,
		name:       target.URL.Host,
		refresh:    b.refresh,
		ctx:        ctx,
		cancel:     cancel,
		resolveNow: make(chan struct{}, 1),
	}
	r.resolveOnce()
	go r.watch()
	return r, nil
}

// dynResolver polls a discovery.Resolver on an interval rather than
// consuming a watch channel: C1's Resolve is pull-only by design (no
// component beneath it caches), so this is the one place a timer stands in
// for the push notifications frpc's etcd watcher got for free.
type dynResolver struct {
	disc    *discovery.Resolver
	cc      resolver.ClientConn
	name    string
	refresh time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	resolveNow chan struct{}
}

func (r *dynResolver) ResolveNow(resolver.ResolveNowOptions) {
	select {
	case r.resolveNow <- struct{}{}:
	default:
	}
}

func (r *dynResolver) Close() {
	r.cancel()
}

func (r *dynResolver) resolveOnce() {
	instances, err := r.disc.Resolve(r.ctx, r.name)
	if err != nil {
		r.cc.ReportError(err)
		return
	}

	addrs := make([]resolver.Address, 0, len(instances))
	for _, inst := range instances {
		addrs = append(addrs, resolver.Address{Addr: inst.Address()})
	}
	if err := r.cc.UpdateState(resolver.State{Addresses: addrs}); err != nil {
		r.cc.ReportError(err)
	}
}

func (r *dynResolver) watch() {
	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.resolveOnce()
		case <-r.resolveNow:
			r.resolveOnce()
		}
	}
}
