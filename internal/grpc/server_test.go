package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

type staticPresence []string

func (p staticPresence) OnlineUsers() []string { return p }

type recordingRelay struct {
	delivered []string
	n         int
	err       error
}

func (r *recordingRelay) Deliver(_ context.Context, msg models.Message) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.delivered = append(r.delivered, msg.ID)
	return r.n, nil
}

type messageMap map[string]models.Message

func (m messageMap) GetMessage(_ context.Context, id string) (models.Message, error) {
	if id == "broken" {
		return models.Message{}, errors.New("connection reset")
	}
	msg, ok := m[id]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

// serve starts srv on an in-memory listener and returns a client connection.
func serve(t *testing.T, srv *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newRealtimeClient(t *testing.T, relay *recordingRelay) *RealtimeClient {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	messages := messageMap{"m1": {ID: "m1", ChatID: "chat1", SenderID: "u1"}}
	srv := NewServer(NewRealtimeServer(staticPresence{"u1", "u2"}, relay, messages, log))
	return NewRealtimeClient(serve(t, srv))
}

func TestRealtimeOnlineUsers(t *testing.T) {
	client := newRealtimeClient(t, &recordingRelay{})

	users, err := client.OnlineUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)
}

func TestRealtimeDeliver(t *testing.T) {
	relay := &recordingRelay{n: 3}
	client := newRealtimeClient(t, relay)

	n, err := client.Deliver(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"m1"}, relay.delivered)
}

func TestRealtimeDeliverErrors(t *testing.T) {
	cases := []struct {
		name      string
		messageID string
		relayErr  error
		want      codes.Code
	}{
		{"missing id", "", nil, codes.InvalidArgument},
		{"unknown message", "nope", nil, codes.NotFound},
		{"store failure", "broken", nil, codes.Internal},
		{"relay failure", "m1", errors.New("participants unavailable"), codes.Unavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newRealtimeClient(t, &recordingRelay{err: tc.relayErr})
			_, err := client.Deliver(context.Background(), tc.messageID)
			assert.Equal(t, tc.want, status.Code(err))
		})
	}
}

type tokenValidator interface {
	ValidateToken(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

type fakeAuthService map[string]string

func (f fakeAuthService) ValidateToken(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	userID, ok := f[req.GetValue()]
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "bad token")
	}
	return wrapperspb.String(userID), nil
}

var fakeAuthDesc = grpc.ServiceDesc{
	ServiceName: "auth.AuthService",
	HandlerType: (*tokenValidator)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "ValidateToken",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(wrapperspb.StringValue)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(tokenValidator).ValidateToken(ctx, in)
		},
	}},
}

func TestAuthClientAuthenticate(t *testing.T) {
	srv := grpc.NewServer()
	srv.RegisterService(&fakeAuthDesc, fakeAuthService{"good": "u1", "blank": ""})
	client := NewAuthClient(serve(t, srv))
	ctx := context.Background()

	userID, err := client.Authenticate(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	_, err = client.Authenticate(ctx, "bad")
	assert.Equal(t, codes.Unauthenticated, status.Code(errors.Unwrap(err)))

	_, err = client.Authenticate(ctx, "blank")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = client.Authenticate(ctx, "")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
