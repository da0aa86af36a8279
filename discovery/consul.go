package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulBackend resolves instances via Consul's health-checked service
// catalog. Each Resolve issues one plain health.Service query; no blocking
// query (WaitIndex/WaitTime) and no push-to-channel watch is used.
type ConsulBackend struct {
	client        *consulapi.Client
	refreshPeriod time.Duration
	useHealthOnly bool

	mu           sync.RWMutex
	applications map[string]string
}

type ConsulConfig struct {
	Address       string
	Datacenter    string
	Token         string
	RefreshPeriod time.Duration
	UseHealthOnly bool
}

func NewConsulBackend(cfg ConsulConfig) (*ConsulBackend, error) {
	client, err := consulapi.NewClient(&consulapi.Config{
		Address:    cfg.Address,
		Datacenter: cfg.Datacenter,
		Token:      cfg.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	period := cfg.RefreshPeriod
	if period <= 0 {
		period = 10 * time.Second
	}
	return &ConsulBackend{
		client:        client,
		refreshPeriod: period,
		useHealthOnly: cfg.UseHealthOnly,
		applications:  make(map[string]string),
	}, nil
}

func (b *ConsulBackend) Kind() BackendKind { return BackendConsul }

func (b *ConsulBackend) EnsureDefined(name string, params BackendParams) error {
	app := params.ConsulApplication
	if app == "" {
		app = name
	}
	b.mu.Lock()
	b.applications[name] = app
	b.mu.Unlock()
	return nil
}

// Resolve performs a single (non-blocking) health.Service query per call;
// the refresh period named in config governs how often the channel cache's
// consumer is expected to re-resolve, not a background goroutine here — C1
// never caches, so there is nothing to refresh in the background.
func (b *ConsulBackend) Resolve(ctx context.Context, name string) ([]ServiceInstance, error) {
	b.mu.RLock()
	app, ok := b.applications[name]
	b.mu.RUnlock()
	if !ok {
		app = name
	}

	opts := (&consulapi.QueryOptions{}).WithContext(ctx)
	entries, _, err := b.client.Health().Service(app, "", b.useHealthOnly, opts)
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(entries))
	for _, e := range entries {
		host := e.Service.Address
		if host == "" {
			host = e.Node.Address
		}
		meta := make(map[string]string, len(e.Service.Meta))
		for k, v := range e.Service.Meta {
			meta[k] = v
		}
		instances = append(instances, ServiceInstance{
			Host:     host,
			Port:     e.Service.Port,
			Metadata: meta,
		})
	}
	return instances, nil
}
