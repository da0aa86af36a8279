package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdBackend resolves instances from keys under a namespace prefix, the same
// key layout frpc's etcd resolver/builder pair used:
// "/<prefix>/services/rpc/<name>/" unless BackendParams.EtcdKeyPrefix sets one.
// Unlike that resolver it does not maintain a background watcher — C1 never
// caches — every Resolve issues a fresh prefix Get.
type EtcdBackend struct {
	mu     sync.RWMutex
	client *clientv3.Client
	prefix string

	keys map[string]string
}

// etcdRegisterValue mirrors the JSON payload frpc/etcdresolver.go expects
// under each key: timestamp, address, free-form meta.
type etcdRegisterValue struct {
	Timestamp int64             `json:"timestamp"`
	IP        string            `json:"ip"`
	Port      string            `json:"port"`
	Meta      map[string]string `json:"meta"`
}

func NewEtcdBackend(client *clientv3.Client, namespacePrefix string) *EtcdBackend {
	if namespacePrefix == "" {
		namespacePrefix = "default"
	}
	return &EtcdBackend{client: client, prefix: namespacePrefix, keys: make(map[string]string)}
}

func (b *EtcdBackend) Kind() BackendKind { return BackendEtcd }

func (b *EtcdBackend) EnsureDefined(name string, params BackendParams) error {
	key := params.EtcdKeyPrefix
	if key == "" {
		key = fmt.Sprintf("/%s/services/rpc/%s/", strings.Trim(b.prefix, "/"), name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.keys[name]; !ok {
		b.keys[name] = key
	}
	return nil
}

func (b *EtcdBackend) Resolve(ctx context.Context, name string) ([]ServiceInstance, error) {
	b.mu.RLock()
	key, ok := b.keys[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("etcd backend: %s never defined", name)
	}

	resp, err := b.client.Get(ctx, key, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rv etcdRegisterValue
		if err := json.Unmarshal(kv.Value, &rv); err != nil {
			continue
		}
		port, err := strconv.Atoi(rv.Port)
		if err != nil {
			continue
		}
		instances = append(instances, ServiceInstance{Host: rv.IP, Port: port, Metadata: rv.Meta})
	}
	return instances, nil
}
