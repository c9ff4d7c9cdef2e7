package rtnlremote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Hand-written stand-ins for what protoc-gen-go-grpc would generate from
// a source.proto defining one "ndb.remote.Source" service: a unary
// Request RPC (object commit -> kernel) and a server-streaming Events RPC
// (kernel -> remote caller).
// structpb.Struct is already a real proto.Message, so the wire types in
// wire.go give us real protobuf messages without a .proto/protoc step.

const serviceName = "ndb.remote.Source"

var methodRequest = serviceName + "/Request"
var methodEvents = serviceName + "/Events"

// SourceServer is implemented by Server (server.go) and registered
// against a *grpc.Server via RegisterSourceServer.
type SourceServer interface {
	Request(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Events(in *structpb.Struct, stream EventsServer) error
}

// EventsServer is the server side of the Events stream: one Send per
// rtnl.Msg the local connection observes.
type EventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type eventsServerStream struct {
	grpc.ServerStream
}

func (x *eventsServerStream) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func sourceRequestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SourceServer).Request(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + methodRequest}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SourceServer).Request(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func sourceEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SourceServer).Events(in, &eventsServerStream{stream})
}

// ServiceDesc is the grpc.ServiceDesc a generated _grpc.pb.go would carry.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SourceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Request", Handler: sourceRequestHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Events", Handler: sourceEventsHandler, ServerStreams: true},
	},
	Metadata: "ndb/rtnlremote/source.proto",
}

// RegisterSourceServer registers srv against gs the way
// proto.RegisterXServer helpers generated from a .proto file would.
func RegisterSourceServer(gs *grpc.Server, srv SourceServer) {
	gs.RegisterService(&ServiceDesc, srv)
}

// SourceClient is the client side of the service, hand-written in place
// of a generated NewSourceClient.
type SourceClient interface {
	Request(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Events(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (EventsClient, error)
}

type sourceClient struct {
	cc grpc.ClientConnInterface
}

// NewSourceClient wraps cc the way a generated proto.NewXClient would.
func NewSourceClient(cc grpc.ClientConnInterface) SourceClient {
	return &sourceClient{cc: cc}
}

func (c *sourceClient) Request(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+methodRequest, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sourceClient) Events(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (EventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+methodEvents, opts...)
	if err != nil {
		return nil, err
	}
	x := &eventsClientStream{stream}
	if err := x.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// EventsClient is the client side of the Events stream.
type EventsClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type eventsClientStream struct {
	grpc.ClientStream
}

func (x *eventsClientStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
