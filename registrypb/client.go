package registrypb

import (
	"context"

	"google.golang.org/grpc"
)

const (
	registerMethod   = "/dynrpc.registry.Registry/Register"
	unregisterMethod = "/dynrpc.registry.Registry/Unregister"
)

// RegistryClient is a hand-written stub for the Registry service: one
// server-streaming Register call, one unary Unregister call.
type RegistryClient struct {
	cc *grpc.ClientConn
}

func NewRegistryClient(cc *grpc.ClientConn) *RegistryClient {
	return &RegistryClient{cc: cc}
}

// RegisterStream receives the platform events emitted during one
// registration attempt.
type RegisterStream interface {
	Recv() (*RegisterResponse, error)
}

func (c *RegistryClient) Register(ctx context.Context, req *RegisterRequest) (RegisterStream, error) {
	stream, err := c.cc.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, registerMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &registerStream{stream}, nil
}

type registerStream struct {
	grpc.ClientStream
}

func (s *registerStream) Recv() (*RegisterResponse, error) {
	resp := new(RegisterResponse)
	if err := s.ClientStream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *RegistryClient) Unregister(ctx context.Context, req *UnregisterRequest) (*UnregisterResponse, error) {
	resp := new(UnregisterResponse)
	if err := c.cc.Invoke(ctx, unregisterMethod, req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return resp, nil
}
