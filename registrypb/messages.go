// Package registrypb defines the wire types for the registration gRPC
// protocol by hand: a streaming Register call and a unary Unregister call,
// carried over a small JSON codec instead of generated protobuf code.
package registrypb

// RegisterRequest is the payload sent once at the start of a Register stream.
type RegisterRequest struct {
	CorrelationID  string
	Name           string
	Type           string
	Version        string
	AdvertisedHost string
	AdvertisedPort int32
	InternalHost   string
	InternalPort   int32
	TLSEnabled     bool
	Tags           []string
	Capabilities   []string
	Metadata       map[string]string
	HTTPEndpoints  []HTTPEndpoint
	GRPCServices   []string
}

// HTTPEndpoint mirrors registrar.HTTPEndpoint for wire transport.
type HTTPEndpoint struct {
	Scheme     string
	Host       string
	Port       int32
	BasePath   string
	HealthPath string
	TLSEnabled bool
}

// RegisterResponse is one platform event emitted by the registry while it
// drives a registration attempt to completion.
type RegisterResponse struct {
	CorrelationID string
	Event         string
	ServiceID     string
	Reason        string

	// Permanent is set on an Event == "FAILED" response the registry sent
	// because it rejected the record itself (validation, conflicting
	// service id), as opposed to a transport or timeout failure the client
	// observes on its own. Only meaningful alongside Event == "FAILED".
	Permanent bool
}

// UnregisterRequest asks the registry to drop a previously registered
// service id.
type UnregisterRequest struct {
	ServiceID string
}

// UnregisterResponse acknowledges an UnregisterRequest.
type UnregisterResponse struct {
	Acknowledged bool
}
