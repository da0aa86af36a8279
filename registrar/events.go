package registrar

// EventKind enumerates the platform events a Registrar emits while driving a
// registration attempt to completion. gRPC-mode registrars stream these
// verbatim from the central registry; direct-mode registrars synthesize the
// subset that applies to a Consul-only flow.
type EventKind string

const (
	EventStarted               EventKind = "STARTED"
	EventValidated             EventKind = "VALIDATED"
	EventConsulRegistered      EventKind = "CONSUL_REGISTERED"
	EventHealthCheckConfigured EventKind = "HEALTH_CHECK_CONFIGURED"
	EventConsulHealthy         EventKind = "CONSUL_HEALTHY"
	EventMetadataRetrieved     EventKind = "METADATA_RETRIEVED"
	EventSchemaValidated       EventKind = "SCHEMA_VALIDATED"
	EventDatabaseSaved         EventKind = "DATABASE_SAVED"
	EventApicurioRegistered    EventKind = "APICURIO_REGISTERED"
	EventCompleted             EventKind = "COMPLETED"
	EventFailed                EventKind = "FAILED"
)

// Terminal reports whether kind ends a registration attempt.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventFailed
}

// RegistrationEvent is one item in the lazy sequence Register returns.
// CorrelationID ties every event of one attempt back to the request that
// started it (gRPC mode only; direct mode leaves it empty since there is no
// separate request/response pair to correlate).
type RegistrationEvent struct {
	Kind      EventKind
	ServiceID string
	Reason    string // populated on EventFailed

	// Permanent marks an EventFailed that the registry itself rejected (bad
	// record, not a connectivity or health-timeout problem), and so should
	// never be retried. Ignored on every other Kind.
	Permanent bool

	CorrelationID string
}
