// Package proto describes the famsync.v1.Authority gRPC service.
//
// Messages are google.protobuf.Struct values carrying the JSON shapes below,
// so neither side needs generated stubs. The service descriptor and client
// are written by hand in the layout protoc-gen-go-grpc would produce.
package proto

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "famsync.v1.Authority"

const (
	MethodInvoke      = "/" + ServiceName + "/Invoke"
	MethodInvokeBatch = "/" + ServiceName + "/InvokeBatch"
	MethodPing        = "/" + ServiceName + "/Ping"
)

// InvokeRequest wraps one envelope.
type InvokeRequest struct {
	Procedure string          `json:"procedure"`
	Envelope  json.RawMessage `json:"envelope"`
}

// BatchRequest wraps several envelopes; results come back in the same order.
type BatchRequest struct {
	Procedure string            `json:"procedure"`
	Envelopes []json.RawMessage `json:"envelopes"`
}

type BatchResponse struct {
	Results []json.RawMessage `json:"results"`
}

type PingResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

const StatusOK = "OK"

// AuthorityServer is the server API for the Authority service.
type AuthorityServer interface {
	Invoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InvokeBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// AuthorityClient is the client API for the Authority service.
type AuthorityClient interface {
	Invoke(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	InvokeBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Ping(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type authorityClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthorityClient(cc grpc.ClientConnInterface) AuthorityClient {
	return &authorityClient{cc}
}

func (c *authorityClient) Invoke(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodInvoke, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authorityClient) InvokeBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodInvokeBatch, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authorityClient) Ping(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodPing, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterAuthorityServer registers srv on s.
func RegisterAuthorityServer(s grpc.ServiceRegistrar, srv AuthorityServer) {
	s.RegisterService(&authorityServiceDesc, srv)
}

func unaryHandler(method string, call func(AuthorityServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthorityServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthorityServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var authorityServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthorityServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    unaryHandler(MethodInvoke, AuthorityServer.Invoke),
		},
		{
			MethodName: "InvokeBatch",
			Handler:    unaryHandler(MethodInvokeBatch, AuthorityServer.InvokeBatch),
		},
		{
			MethodName: "Ping",
			Handler:    unaryHandler(MethodPing, AuthorityServer.Ping),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "famsync/v1/authority.proto",
}
