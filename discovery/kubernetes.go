package discovery

import (
	"context"
	"fmt"
	"sync"

	discoveryv1 "k8s.io/api/discovery/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// KubernetesBackend resolves instances from EndpointSlices, the way a
// client-go-based controller lists ready addresses for a Service: one
// namespace/name pair per logical service, ready endpoints only.
type KubernetesBackend struct {
	clientset *kubernetes.Clientset

	mu       sync.RWMutex
	bindings map[string]k8sBinding
}

type k8sBinding struct {
	namespace   string
	serviceName string
	portName    string
}

func NewKubernetesBackend(clientset *kubernetes.Clientset) *KubernetesBackend {
	return &KubernetesBackend{
		clientset: clientset,
		bindings:  make(map[string]k8sBinding),
	}
}

func (b *KubernetesBackend) Kind() BackendKind { return BackendKubernetes }

func (b *KubernetesBackend) EnsureDefined(name string, params BackendParams) error {
	ns := params.Namespace
	if ns == "" {
		ns = "default"
	}
	svc := params.ServiceName
	if svc == "" {
		svc = name
	}
	b.mu.Lock()
	b.bindings[name] = k8sBinding{namespace: ns, serviceName: svc, portName: params.PortName}
	b.mu.Unlock()
	return nil
}

func (b *KubernetesBackend) Resolve(ctx context.Context, name string) ([]ServiceInstance, error) {
	b.mu.RLock()
	bind, ok := b.bindings[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kubernetes backend: %s never defined", name)
	}

	selector := metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", discoveryv1.LabelServiceName, bind.serviceName),
	}
	slices, err := b.clientset.DiscoveryV1().EndpointSlices(bind.namespace).List(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("list endpointslices: %w", err)
	}

	var instances []ServiceInstance
	for _, slice := range slices.Items {
		port := findPort(slice.Ports, bind.portName)
		if port == 0 {
			continue
		}
		for _, ep := range slice.Endpoints {
			if ep.Conditions.Ready != nil && !*ep.Conditions.Ready {
				continue
			}
			for _, addr := range ep.Addresses {
				instances = append(instances, ServiceInstance{Host: addr, Port: port})
			}
		}
	}
	return instances, nil
}

func findPort(ports []discoveryv1.EndpointPort, name string) int {
	for _, p := range ports {
		if name == "" || (p.Name != nil && *p.Name == name) {
			if p.Port != nil {
				return int(*p.Port)
			}
		}
	}
	if len(ports) == 1 && ports[0].Port != nil {
		return int(*ports[0].Port)
	}
	return 0
}
