package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mmynk/iouledger/internal/auth"
	"github.com/mmynk/iouledger/internal/metrics"
	"github.com/mmynk/iouledger/internal/models"
	"github.com/mmynk/iouledger/pkg/api"
	"github.com/mmynk/iouledger/pkg/api/apiconnect"
)

// whoami echoes the context user back through the AuthService surface.
type whoami struct{}

func (whoami) SignIn(ctx context.Context, req *connect.Request[api.SignInRequest]) (*connect.Response[api.SignInResponse], error) {
	return connect.NewResponse(&api.SignInResponse{User: &api.User{ID: GetUserID(ctx)}}), nil
}

func (whoami) GetCurrentUser(ctx context.Context, req *connect.Request[api.GetCurrentUserRequest]) (*connect.Response[api.GetCurrentUserResponse], error) {
	return connect.NewResponse(&api.GetCurrentUserResponse{
		User: &api.User{ID: GetUserID(ctx), Username: GetUsername(ctx)},
	}), nil
}

func setup(t *testing.T, m *metrics.Metrics, logs *bytes.Buffer) (apiconnect.AuthServiceClient, *auth.JWTManager) {
	t.Helper()
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	logger := slog.New(slog.NewTextHandler(logs, nil))
	path, handler := apiconnect.NewAuthServiceHandler(whoami{}, connect.WithInterceptors(
		LoggingInterceptor(logger, m),
		RequireAuth(jwtManager, apiconnect.AuthServiceSignInProcedure),
	))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return apiconnect.NewAuthServiceClient(http.DefaultClient, server.URL), jwtManager
}

func TestRequireAuth(t *testing.T) {
	client, jwtManager := setup(t, nil, &bytes.Buffer{})
	ctx := context.Background()

	token, err := jwtManager.Generate(&models.User{ID: "uid-1", Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	req := connect.NewRequest(&api.GetCurrentUserRequest{})
	req.Header().Set("Authorization", "Bearer "+token)
	resp, err := client.GetCurrentUser(ctx, req)
	if err != nil {
		t.Fatalf("GetCurrentUser failed: %v", err)
	}
	if resp.Msg.User.ID != "uid-1" || resp.Msg.User.Username != "alice" {
		t.Errorf("user = %+v", resp.Msg.User)
	}

	tests := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic " + token,
		"empty token":    "Bearer ",
		"bad token":      "Bearer nope",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			req := connect.NewRequest(&api.GetCurrentUserRequest{})
			if header != "" {
				req.Header().Set("Authorization", header)
			}
			_, err := client.GetCurrentUser(ctx, req)
			if connect.CodeOf(err) != connect.CodeUnauthenticated {
				t.Errorf("err = %v, want Unauthenticated", err)
			}
		})
	}
}

func TestRequireAuthPublicProcedure(t *testing.T) {
	client, _ := setup(t, nil, &bytes.Buffer{})
	resp, err := client.SignIn(context.Background(), connect.NewRequest(&api.SignInRequest{AccessToken: "x"}))
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if resp.Msg.User.ID != "" {
		t.Errorf("public procedure saw user %q", resp.Msg.User.ID)
	}
}

func TestLoggingInterceptor(t *testing.T) {
	m := metrics.New()
	var logs bytes.Buffer
	client, _ := setup(t, m, &logs)
	ctx := context.Background()

	if _, err := client.SignIn(ctx, connect.NewRequest(&api.SignInRequest{})); err != nil {
		t.Fatal(err)
	}
	if _, err := client.GetCurrentUser(ctx, connect.NewRequest(&api.GetCurrentUserRequest{})); err == nil {
		t.Fatal("expected Unauthenticated")
	}

	out := logs.String()
	if !strings.Contains(out, "RPC ok") || !strings.Contains(out, "RPC error") {
		t.Errorf("logs = %s", out)
	}
	if !strings.Contains(out, "code=unauthenticated") {
		t.Errorf("error code not logged: %s", out)
	}
	got, err := testutil.GatherAndCount(m.Registry(), "rpc_duration_seconds")
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("rpc_duration_seconds series = %d, want 2", got)
	}
}
