// ABOUTME: Hand-declared gRPC service for the agent relay stream
// ABOUTME: One bidirectional Connect method carrying Frame values in both directions

package protocol

import (
	"context"

	"google.golang.org/grpc"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "dashblock.relay.v1.AgentRelay"
	// ConnectMethod is the full method path of the relay stream.
	ConnectMethod = "/" + ServiceName + "/Connect"
)

// RelayStream is the server side of one agent connection.
type RelayStream interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	Context() context.Context
}

// AgentRelayServer handles agent connections.
type AgentRelayServer interface {
	Connect(RelayStream) error
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(f *Frame) error { return s.ServerStream.SendMsg(f) }

func (s *serverStream) Recv() (*Frame, error) {
	f := new(Frame)
	if err := s.ServerStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(AgentRelayServer).Connect(&serverStream{stream})
}

var connectStreamDesc = grpc.StreamDesc{
	StreamName:    "Connect",
	Handler:       connectHandler,
	ServerStreams: true,
	ClientStreams: true,
}

// ServiceDesc describes the relay service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentRelayServer)(nil),
	Streams:     []grpc.StreamDesc{connectStreamDesc},
	Metadata:    "relay.proto",
}

// RegisterAgentRelayServer registers srv on s.
func RegisterAgentRelayServer(s grpc.ServiceRegistrar, srv AgentRelayServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ClientStream is the agent side of the relay stream.
type ClientStream interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	CloseSend() error
}

type clientStream struct {
	grpc.ClientStream
}

func (c *clientStream) Send(f *Frame) error { return c.ClientStream.SendMsg(f) }

func (c *clientStream) Recv() (*Frame, error) {
	f := new(Frame)
	if err := c.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenConnect opens the relay stream on conn using the JSON codec.
func OpenConnect(ctx context.Context, conn grpc.ClientConnInterface, opts ...grpc.CallOption) (ClientStream, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := conn.NewStream(ctx, &connectStreamDesc, ConnectMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &clientStream{stream}, nil
}
