// Package rpc exposes the reactive store over gRPC. Messages are protobuf
// well-known types so no generated code is required: keys travel as
// StringValue, values as structpb.Value and multi-field requests as
// structpb.Struct.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "reactivekv.v1.ReactiveStore"

const (
	methodGet           = "/" + serviceName + "/Get"
	methodSet           = "/" + serviceName + "/Set"
	methodMerge         = "/" + serviceName + "/Merge"
	methodRemove        = "/" + serviceName + "/Remove"
	methodSubscribe     = "/" + serviceName + "/Subscribe"
	methodGetMemoryOnly = "/" + serviceName + "/GetMemoryOnly"
	methodSetMemoryOnly = "/" + serviceName + "/SetMemoryOnly"
)

// StoreServer is the server API for the ReactiveStore service.
type StoreServer interface {
	// Get returns the value of a key, NotFound if it is missing.
	Get(context.Context, *wrapperspb.StringValue) (*structpb.Value, error)
	// Set takes {"key": string, "value": any}.
	Set(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Merge takes {"key": string, "changes": object}.
	Merge(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Remove(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	// Subscribe streams {"key": string, "value": any, "deleted": bool} for a pattern.
	Subscribe(*wrapperspb.StringValue, SubscribeStream) error
	GetMemoryOnly(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
	SetMemoryOnly(context.Context, *wrapperspb.BoolValue) (*wrapperspb.BoolValue, error)
}

// SubscribeStream is the server side of a Subscribe call.
type SubscribeStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

type subscribeServerStream struct {
	grpc.ServerStream
}

func (s *subscribeServerStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterStoreServer registers srv on s.
func RegisterStoreServer(s grpc.ServiceRegistrar, srv StoreServer) {
	s.RegisterService(&storeServiceDesc, srv)
}

func unary[Req any, Resp any](method string, newReq func() *Req, call func(StoreServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method[len(serviceName)+2:],
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: method,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(StoreServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(StoreServer).Subscribe(m, &subscribeServerStream{stream})
}

var storeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodGet, func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, StoreServer.Get),
		unary(methodSet, func() *structpb.Struct { return new(structpb.Struct) }, StoreServer.Set),
		unary(methodMerge, func() *structpb.Struct { return new(structpb.Struct) }, StoreServer.Merge),
		unary(methodRemove, func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, StoreServer.Remove),
		unary(methodGetMemoryOnly, func() *emptypb.Empty { return new(emptypb.Empty) }, StoreServer.GetMemoryOnly),
		unary(methodSetMemoryOnly, func() *wrapperspb.BoolValue { return new(wrapperspb.BoolValue) }, StoreServer.SetMemoryOnly),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "reactivekv/v1/store.proto",
}
