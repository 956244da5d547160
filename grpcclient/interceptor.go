package grpcclient

import (
	"context"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"

	"github.com/kroma-labs/hedge-go/hedge"
)

// HedgeIndexKey is the outgoing metadata key carrying the hedge index of
// each hedge attempt. The primary attempt is sent without it.
const HedgeIndexKey = "x-hedge-index"

// Call is one unary RPC as seen by hedge policies and listeners.
type Call struct {
	// Method is the full method name, e.g. "/users.v1.UserService/GetUser".
	Method string

	// Request is the request message.
	Request any

	CC   *grpc.ClientConn
	Opts []grpc.CallOption
}

// Service returns the service part of Method.
func (c *Call) Service() string {
	service, _ := splitMethod(c.Method)
	return service
}

// Dispatcher hedges unary calls.
type Dispatcher = hedge.Dispatcher[*Call, proto.Message]

// Policy decides how unary calls are hedged.
type Policy = hedge.Policy[*Call, proto.Message]

// UnaryClientInterceptor returns a gRPC interceptor that hedges unary calls
// through d.
//
// Every attempt decodes into its own copy of the reply. The winning copy is
// merged into the caller's reply. Calls whose reply is not a proto.Message,
// and calls the policy declines, are invoked directly.
//
// Call options are shared by all attempts. Do not hedge calls that pass
// grpc.Header or grpc.Trailer, since every attempt writes to them.
//
// Example:
//
//	policy, _ := hedge.NewPercentilePolicy(hedge.PercentileConfig[*grpcclient.Call, proto.Message]{
//	    Percentile:  0.95,
//	    MaxHedges:   1,
//	    ShouldTrack: grpcclient.Methods("/users.v1.UserService/GetUser"),
//	}, nil)
//
//	conn, err := grpc.NewClient(target,
//	    grpc.WithUnaryInterceptor(grpcclient.UnaryClientInterceptor(
//	        hedge.NewDispatcher(policy, nil, hedge.WithName("user-service")),
//	    )),
//	)
func UnaryClientInterceptor(d *Dispatcher) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		out, ok := reply.(proto.Message)
		if !ok {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		call := &Call{Method: method, Request: req, CC: cc, Opts: opts}
		if !d.Policy().ShouldHedge(call) {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		issue := func(ctx context.Context, c *Call, a hedge.Attempt) (proto.Message, error) {
			if a.IsHedge() {
				ctx = metadata.AppendToOutgoingContext(ctx, HedgeIndexKey, strconv.Itoa(a.HedgeIndex))
			}

			attemptReply := proto.Clone(out)
			proto.Reset(attemptReply)
			if err := invoker(ctx, c.Method, c.Request, attemptReply, c.CC, c.Opts...); err != nil {
				return nil, err
			}
			return attemptReply, nil
		}

		won, err := d.Dispatch(ctx, call, issue)
		if err != nil {
			return err
		}

		proto.Reset(out)
		proto.Merge(out, won)
		return nil
	}
}

// Methods returns a predicate matching calls to any of the given full
// method names. Use it as ShouldTrack to hedge only idempotent RPCs.
func Methods(methods ...string) func(*Call) bool {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return func(c *Call) bool {
		_, ok := set[c.Method]
		return ok
	}
}

// Services returns a predicate matching calls to any method of the given
// services, e.g. "users.v1.UserService".
func Services(services ...string) func(*Call) bool {
	set := make(map[string]struct{}, len(services))
	for _, s := range services {
		set[s] = struct{}{}
	}
	return func(c *Call) bool {
		_, ok := set[c.Service()]
		return ok
	}
}

// HedgeIndexFromIncoming returns the hedge index a server-side handler was
// called with, and false for primary attempts and unhedged calls.
func HedgeIndexFromIncoming(ctx context.Context) (int, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, false
	}
	vals := md.Get(HedgeIndexKey)
	if len(vals) == 0 {
		return 0, false
	}
	idx, err := strconv.Atoi(vals[0])
	if err != nil {
		return 0, false
	}
	return idx, true
}

// splitMethod splits "/package.Service/Method" into its two parts.
func splitMethod(fullMethod string) (service, method string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 {
		return fullMethod[:i], fullMethod[i+1:]
	}
	return "", fullMethod
}
