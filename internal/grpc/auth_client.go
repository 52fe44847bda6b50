package grpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"chat-realtime/internal/auth"
)

const validateTokenMethod = "/auth.AuthService/ValidateToken"

// AuthClient validates tokens against the auth service. It satisfies
// auth.Authenticator.
type AuthClient struct {
	conn grpc.ClientConnInterface
}

// NewAuthClient wraps an established connection.
func NewAuthClient(conn grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{conn: conn}
}

// DialAuth opens a connection to the auth service at addr.
func DialAuth(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
}

// Authenticate verifies token and returns the authenticated user id.
func (a *AuthClient) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	resp := new(wrapperspb.StringValue)
	if err := a.conn.Invoke(ctx, validateTokenMethod, wrapperspb.String(token), resp); err != nil {
		return "", fmt.Errorf("validate token: %w", err)
	}
	if resp.GetValue() == "" {
		return "", auth.ErrInvalidToken
	}
	return resp.GetValue(), nil
}
