package registrar

import "context"

// Registrar is the contract both registration modes satisfy: drive record
// into a discovery backend and expose the resulting events, best-effort
// unregister on shutdown.
type Registrar interface {
	Register(ctx context.Context, record RegistrationRecord) (<-chan RegistrationEvent, error)
	Unregister(ctx context.Context, record RegistrationRecord) error
}

var (
	_ Registrar = (*ConsulRegistrar)(nil)
	_ Registrar = (*GRPCRegistrar)(nil)
)
