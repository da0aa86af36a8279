// Package readiness exposes a boolean readiness derived from the
// registration lifecycle's state (C6): up when registration is disabled, not
// required, or REGISTERED; down otherwise.
package readiness

import "github.com/source-build/go-dynrpc/lifecycle"

// LifecycleObserver is the narrow view Gate needs of lifecycle.Manager.
type LifecycleObserver interface {
	State() lifecycle.State
	ServiceID() string
	Enabled() bool
	Required() bool
}

// Gate is a pure observer: it holds no state of its own beyond a reference
// to the lifecycle manager it reports on.
type Gate struct {
	mgr LifecycleObserver
}

func NewGate(mgr LifecycleObserver) *Gate {
	return &Gate{mgr: mgr}
}

// Up reports whether the process should be considered ready to serve:
// registration disabled, or not required, or REGISTERED.
func (g *Gate) Up() bool {
	if !g.mgr.Enabled() || !g.mgr.Required() {
		return true
	}
	return g.mgr.State() == lifecycle.StateRegistered
}

// Status is the structured snapshot exposed to observers (e.g. the optional
// HTTP surface, or a health-check RPC interceptor).
type Status struct {
	Up        bool   `json:"up"`
	State     string `json:"state"`
	ServiceID string `json:"serviceId,omitempty"`
}

func (g *Gate) Status() Status {
	return Status{
		Up:        g.Up(),
		State:     g.mgr.State().String(),
		ServiceID: g.mgr.ServiceID(),
	}
}
