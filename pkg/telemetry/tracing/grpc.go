package tracing

import (
	"context"
	"fmt"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
)

// metadataCarrier adapts gRPC metadata to propagation.TextMapCarrier.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	v := metadata.MD(c).Get(key)
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Values returns every value of a multi-valued key, so baggage sent as
// several entries is combined.
func (c metadataCarrier) Values(key string) []string {
	return metadata.MD(c).Get(key)
}

// UnaryServerInterceptor runs every unary call as a unit of work named after
// the full method. A panicking handler is captured as an unhandled error and
// answered with codes.Internal.
//
//	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(tracer.UnaryServerInterceptor()))
func (t *Tracer) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		md, _ := metadata.FromIncomingContext(ctx)
		ctx = t.propagator.Extract(ctx, metadataCarrier(md))
		ctx, tx := t.Begin(ctx, info.FullMethod,
			WithOp("grpc.server"),
			WithSource(SourceRoute),
		)

		defer func() {
			if rec := recover(); rec != nil {
				perr, ok := rec.(error)
				if !ok {
					perr = fmt.Errorf("panic: %v", rec)
				}
				t.logger.ErrorContext(ctx, "panic in grpc handler",
					"error", perr,
					"method", info.FullMethod,
					"trace_id", TraceID(ctx),
					"stack", string(debug.Stack()),
				)
				t.CaptureException(ctx, perr, WithMechanism("grpc", false))
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}

			code := status.Code(err)
			tx.Span().SetData(DataGRPCStatusCode, int(code))
			tx.EndWithStatus(span.StatusFromGRPC(code))
		}()

		return handler(ctx, req)
	}
}

// UnaryClientInterceptor records outgoing unary calls made under an active
// span as "grpc.client" child spans and propagates the trace in the outgoing
// metadata.
func (t *Tracer) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if SpanFromContext(ctx) == nil {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		ctx, sp := StartSpan(ctx, "grpc.client", method)

		target := method
		if cc != nil {
			target = cc.Target() + method
		}
		if t.propagator.ShouldPropagate(target) {
			md, ok := metadata.FromOutgoingContext(ctx)
			if ok {
				md = md.Copy()
			} else {
				md = metadata.MD{}
			}
			t.propagator.Inject(ctx, metadataCarrier(md))
			ctx = metadata.NewOutgoingContext(ctx, md)
		}

		err := invoker(ctx, method, req, reply, cc, opts...)
		code := status.Code(err)
		sp.SetData(DataGRPCStatusCode, int(code))
		sp.FinishWithStatus(span.StatusFromGRPC(code))
		return err
	}
}
