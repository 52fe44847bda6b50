package grpc

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

const realtimeServiceName = "realtime.v1.Realtime"

// PresenceSource reports who is online.
type PresenceSource interface {
	OnlineUsers() []string
}

// MessageRelay pushes a persisted message to live connections.
type MessageRelay interface {
	Deliver(ctx context.Context, msg models.Message) (int, error)
}

// MessageLoader loads a persisted message by id.
type MessageLoader interface {
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
}

// RealtimeServer exposes presence and the relay entry point to other
// services.
type RealtimeServer struct {
	presence PresenceSource
	relay    MessageRelay
	messages MessageLoader
	log      *slog.Logger
}

func NewRealtimeServer(presence PresenceSource, relay MessageRelay, messages MessageLoader, log *slog.Logger) *RealtimeServer {
	return &RealtimeServer{presence: presence, relay: relay, messages: messages, log: log.With("component", "grpc")}
}

// OnlineUsers returns the presence snapshot as a list of strings.
func (s *RealtimeServer) OnlineUsers(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	users := s.presence.OnlineUsers()
	values := make([]*structpb.Value, 0, len(users))
	for _, u := range users {
		values = append(values, structpb.NewStringValue(u))
	}
	return &structpb.ListValue{Values: values}, nil
}

// Deliver relays the stored message with the given id.
func (s *RealtimeServer) Deliver(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int32Value, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "message id is required")
	}
	msg, err := s.messages.GetMessage(ctx, req.GetValue())
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return nil, status.Error(codes.NotFound, "message not found")
	}
	if err != nil {
		s.log.Error("load message failed", "message_id", req.GetValue(), "error", err)
		return nil, status.Error(codes.Internal, "failed to load message")
	}
	n, err := s.relay.Deliver(ctx, msg)
	if err != nil {
		s.log.Error("relay failed", "message_id", msg.ID, "error", err)
		return nil, status.Error(codes.Unavailable, "relay failed")
	}
	return wrapperspb.Int32(int32(n)), nil
}

type realtimeService interface {
	OnlineUsers(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Deliver(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int32Value, error)
}

var realtimeServiceDesc = grpc.ServiceDesc{
	ServiceName: realtimeServiceName,
	HandlerType: (*realtimeService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OnlineUsers", Handler: onlineUsersHandler},
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "realtime/v1/realtime.proto",
}

func onlineUsersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(realtimeService).OnlineUsers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + realtimeServiceName + "/OnlineUsers"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(realtimeService).OnlineUsers(ctx, req.(*emptypb.Empty))
	})
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(realtimeService).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + realtimeServiceName + "/Deliver"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(realtimeService).Deliver(ctx, req.(*wrapperspb.StringValue))
	})
}

// NewServer builds a grpc.Server with metrics and tracing and registers s.
func NewServer(s *RealtimeServer) *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	srv.RegisterService(&realtimeServiceDesc, s)
	return srv
}

// RealtimeClient calls the Realtime service.
type RealtimeClient struct {
	conn grpc.ClientConnInterface
}

func NewRealtimeClient(conn grpc.ClientConnInterface) *RealtimeClient {
	return &RealtimeClient{conn: conn}
}

func (c *RealtimeClient) OnlineUsers(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, "/"+realtimeServiceName+"/OnlineUsers", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	users := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		users = append(users, v.GetStringValue())
	}
	return users, nil
}

func (c *RealtimeClient) Deliver(ctx context.Context, messageID string) (int, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.conn.Invoke(ctx, "/"+realtimeServiceName+"/Deliver", wrapperspb.String(messageID), out); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}
