package registrypb

import (
	"context"

	"google.golang.org/grpc"
)

// RegistryServer is the server-side counterpart to RegistryClient: stream
// platform events for one Register call, acknowledge one Unregister call.
type RegistryServer interface {
	Register(req *RegisterRequest, stream RegisterServerStream) error
	Unregister(ctx context.Context, req *UnregisterRequest) (*UnregisterResponse, error)
}

// RegisterServerStream is the send half of the Register server stream.
type RegisterServerStream interface {
	Send(*RegisterResponse) error
	Context() context.Context
}

type registerServerStream struct {
	grpc.ServerStream
}

func (s *registerServerStream) Send(resp *RegisterResponse) error {
	return s.ServerStream.SendMsg(resp)
}

func registerHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(RegisterRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(RegistryServer).Register(req, &registerServerStream{stream})
}

func unregisterHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(UnregisterRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RegistryServer).Unregister(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: unregisterMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RegistryServer).Unregister(ctx, req.(*UnregisterRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-rolled grpc.ServiceDesc for the Registry service,
// the same shape protoc-gen-go-grpc emits, built by hand since the proto
// toolchain is out of scope for this module.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "dynrpc.registry.Registry",
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Unregister", Handler: unregisterHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Register", Handler: registerHandler, ServerStreams: true},
	},
}

// RegisterRegistryServer registers srv against s under ServiceDesc, mirroring
// the protoc-generated RegisterXxxServer helper.
func RegisterRegistryServer(s grpc.ServiceRegistrar, srv RegistryServer) {
	s.RegisterService(&ServiceDesc, srv)
}
