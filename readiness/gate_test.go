package readiness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/source-build/go-dynrpc/lifecycle"
)

type fakeObserver struct {
	state     lifecycle.State
	serviceID string
	enabled   bool
	required  bool
}

func (f fakeObserver) State() lifecycle.State { return f.state }
func (f fakeObserver) ServiceID() string      { return f.serviceID }
func (f fakeObserver) Enabled() bool          { return f.enabled }
func (f fakeObserver) Required() bool         { return f.required }

func TestGate_Up_DisabledAlwaysUp(t *testing.T) {
	g := NewGate(fakeObserver{enabled: false, required: true, state: lifecycle.StateUnregistered})
	assert.True(t, g.Up())
}

func TestGate_Up_NotRequiredAlwaysUp(t *testing.T) {
	g := NewGate(fakeObserver{enabled: true, required: false, state: lifecycle.StateFailed})
	assert.True(t, g.Up())
}

func TestGate_Up_RequiredFollowsState(t *testing.T) {
	g := NewGate(fakeObserver{enabled: true, required: true, state: lifecycle.StateRegistering})
	assert.False(t, g.Up())

	g = NewGate(fakeObserver{enabled: true, required: true, state: lifecycle.StateRegistered})
	assert.True(t, g.Up())

	g = NewGate(fakeObserver{enabled: true, required: true, state: lifecycle.StateFailed})
	assert.False(t, g.Up())
}

func TestGate_Status_ReflectsObserver(t *testing.T) {
	g := NewGate(fakeObserver{enabled: true, required: true, state: lifecycle.StateRegistered, serviceID: "svc-h-9000"})
	status := g.Status()
	assert.True(t, status.Up)
	assert.Equal(t, "REGISTERED", status.State)
	assert.Equal(t, "svc-h-9000", status.ServiceID)
}
