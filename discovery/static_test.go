package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticBackend_EnsureDefined_ValidatesAddresses(t *testing.T) {
	b := NewStaticBackend()

	require.NoError(t, b.EnsureDefined("svc", BackendParams{Addresses: []string{"10.0.0.1:8080", "10.0.0.2:8081"}}))

	instances, err := b.Resolve(context.Background(), "svc")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "10.0.0.1", instances[0].Host)
	assert.Equal(t, 8080, instances[0].Port)
}

func TestStaticBackend_EnsureDefined_RejectsEmptyHost(t *testing.T) {
	b := NewStaticBackend()
	err := b.EnsureDefined("svc", BackendParams{Addresses: []string{":8080"}})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestStaticBackend_EnsureDefined_RejectsOutOfRangePort(t *testing.T) {
	b := NewStaticBackend()
	err := b.EnsureDefined("svc", BackendParams{Addresses: []string{"10.0.0.1:0"}})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestStaticBackend_Resolve_UnknownNameReturnsEmpty(t *testing.T) {
	b := NewStaticBackend()
	instances, err := b.Resolve(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestStaticBackend_Resolve_ReturnsIndependentCopies(t *testing.T) {
	b := NewStaticBackend()
	require.NoError(t, b.EnsureDefined("svc", BackendParams{Addresses: []string{"10.0.0.1:8080"}}))

	first, err := b.Resolve(context.Background(), "svc")
	require.NoError(t, err)
	first[0].Host = "mutated"

	second, err := b.Resolve(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", second[0].Host)
}

func TestDirectBackend_Kind(t *testing.T) {
	b := NewDirectBackend()
	assert.Equal(t, BackendDirect, b.Kind())
}
