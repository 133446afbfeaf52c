package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const pkg = "delivery.v1"

// unary builds a method descriptor around a typed handler. Requests go
// through the server's interceptor chain like generated code does.
func unary[Req, Resp any](service, method string, fn func(context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + pkg + "." + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(ctx, req.(*Req))
			})
		},
	}
}

// serverStream builds a server-streaming descriptor: one request in, a
// stream of Resp out.
func serverStream[Req, Resp any](method string, fn func(*Req, *sender[Resp]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    method,
		ServerStreams: true,
		Handler: func(_ any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return fn(in, &sender[Resp]{stream: stream})
		},
	}
}

type sender[T any] struct {
	stream grpc.ServerStream
}

func (s *sender[T]) Send(m *T) error { return s.stream.SendMsg(m) }

func (s *sender[T]) Context() context.Context { return s.stream.Context() }

// FullMethod returns the RPC path of a method, for auth allow lists and clients.
func FullMethod(service, method string) string {
	return "/" + pkg + "." + service + "/" + method
}
