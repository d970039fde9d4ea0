package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"

	"github.com/mmynk/iouledger/internal/auth"
	"github.com/mmynk/iouledger/internal/ledger"
	"github.com/mmynk/iouledger/internal/middleware"
	"github.com/mmynk/iouledger/internal/provider"
	"github.com/mmynk/iouledger/internal/storage/sqlite"
	"github.com/mmynk/iouledger/pkg/api"
	"github.com/mmynk/iouledger/pkg/api/apiconnect"
)

const (
	alice = "alice-id"
	bob   = "bob-id"
)

// testUserHeader selects the acting user in tests; testAuthInterceptor
// defaults to alice.
const testUserHeader = "X-Test-User"

// testAuthInterceptor returns a Connect interceptor that sets a test user ID in the context.
func testAuthInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			user := req.Header().Get(testUserHeader)
			if user == "" {
				user = alice
			}
			ctx = context.WithValue(ctx, middleware.UserIDKey, user)
			return next(ctx, req)
		}
	}
}

type testServer struct {
	ious      apiconnect.IOUServiceClient
	callbacks apiconnect.PaymentCallbackServiceClient
	sandbox   *provider.Sandbox
}

// setupTestServer creates a test server on a temporary SQLite database.
// A nil paymentProvider selects the sandbox.
func setupTestServer(t *testing.T, paymentProvider provider.PaymentProvider) *testServer {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sandbox := provider.NewSandbox()
	if paymentProvider == nil {
		paymentProvider = sandbox
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := ledger.New(store, ledger.WithProvider(paymentProvider), ledger.WithLogger(logger))
	if _, err := l.RegisterUser(context.Background(), bob, "bob"); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}

	// Create services and handlers with test auth interceptor
	authInterceptor := connect.WithInterceptors(testAuthInterceptor())
	iouPath, iouHandler := apiconnect.NewIOUServiceHandler(NewIOUService(l, logger), authInterceptor)
	cbPath, cbHandler := apiconnect.NewPaymentCallbackServiceHandler(NewPaymentCallbackService(l, logger), authInterceptor)

	mux := http.NewServeMux()
	mux.Handle(iouPath, iouHandler)
	mux.Handle(cbPath, cbHandler)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testServer{
		ious:      apiconnect.NewIOUServiceClient(http.DefaultClient, server.URL),
		callbacks: apiconnect.NewPaymentCallbackServiceClient(http.DefaultClient, server.URL),
		sandbox:   sandbox,
	}
}

func as[T any](user string, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set(testUserHeader, user)
	return req
}

func (s *testServer) createIOU(t *testing.T, direction string, amount string) *api.IOU {
	t.Helper()
	resp, err := s.ious.CreateIOU(context.Background(), connect.NewRequest(&api.CreateIOURequest{
		Direction:    direction,
		Counterparty: "@bob",
		Amount:       decimal.RequireFromString(amount),
		Note:         "dinner",
	}))
	if err != nil {
		t.Fatalf("CreateIOU failed: %v", err)
	}
	return resp.Msg.IOU
}

func assertCode(t *testing.T, err error, want connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	if got := connect.CodeOf(err); got != want {
		t.Fatalf("code = %v, want %v (%v)", got, want, err)
	}
}

func TestCreateIOU(t *testing.T) {
	s := setupTestServer(t, nil)
	iou := s.createIOU(t, "outgoing", "10.50")

	if iou.ID == "" || iou.Status != "pending" || iou.OwnerID != alice {
		t.Errorf("iou = %+v", iou)
	}
	if !iou.Amount.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("amount = %s", iou.Amount)
	}
	if iou.Note == nil || *iou.Note != "dinner" {
		t.Errorf("note = %v", iou.Note)
	}

	got, err := s.ious.GetIOU(context.Background(), as(bob, &api.GetIOURequest{IOUID: iou.ID}))
	if err != nil {
		t.Fatalf("counterparty GetIOU failed: %v", err)
	}
	if got.Msg.IOU.ID != iou.ID {
		t.Errorf("got %s", got.Msg.IOU.ID)
	}

	_, err = s.ious.GetIOU(context.Background(), as("mallory", &api.GetIOURequest{IOUID: iou.ID}))
	assertCode(t, err, connect.CodePermissionDenied)

	_, err = s.ious.GetIOU(context.Background(), connect.NewRequest(&api.GetIOURequest{IOUID: "missing"}))
	assertCode(t, err, connect.CodeNotFound)
}

func TestCreateIOUValidation(t *testing.T) {
	s := setupTestServer(t, nil)
	tests := []struct {
		name string
		req  *api.CreateIOURequest
	}{
		{"zero amount", &api.CreateIOURequest{Direction: "outgoing", Counterparty: "bob"}},
		{"negative amount", &api.CreateIOURequest{Direction: "outgoing", Counterparty: "bob", Amount: decimal.NewFromInt(-5)}},
		{"bad direction", &api.CreateIOURequest{Direction: "sideways", Counterparty: "bob", Amount: decimal.NewFromInt(5)}},
		{"blank counterparty", &api.CreateIOURequest{Direction: "incoming", Counterparty: "  ", Amount: decimal.NewFromInt(5)}},
		{"bad due date", &api.CreateIOURequest{Direction: "incoming", Counterparty: "bob", Amount: decimal.NewFromInt(5), DueDate: "next week"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ious.CreateIOU(context.Background(), connect.NewRequest(tt.req))
			assertCode(t, err, connect.CodeInvalidArgument)
		})
	}
}

func TestAcceptAndReject(t *testing.T) {
	s := setupTestServer(t, nil)
	ctx := context.Background()
	iou := s.createIOU(t, "outgoing", "10")

	_, err := s.ious.AcceptIOU(ctx, connect.NewRequest(&api.AcceptIOURequest{IOUID: iou.ID}))
	assertCode(t, err, connect.CodePermissionDenied)

	accepted, err := s.ious.AcceptIOU(ctx, as(bob, &api.AcceptIOURequest{IOUID: iou.ID}))
	if err != nil {
		t.Fatalf("AcceptIOU failed: %v", err)
	}
	if accepted.Msg.IOU.Status != "accepted" || accepted.Msg.IOU.AcceptedAt == nil {
		t.Errorf("iou = %+v", accepted.Msg.IOU)
	}

	_, err = s.ious.RejectIOU(ctx, connect.NewRequest(&api.RejectIOURequest{IOUID: iou.ID}))
	assertCode(t, err, connect.CodeFailedPrecondition)

	pending := s.createIOU(t, "incoming", "3")
	rejected, err := s.ious.RejectIOU(ctx, as(bob, &api.RejectIOURequest{IOUID: pending.ID}))
	if err != nil {
		t.Fatalf("RejectIOU failed: %v", err)
	}
	if rejected.Msg.IOU.Status != "cancelled" || rejected.Msg.IOU.CancelledAt == nil {
		t.Errorf("iou = %+v", rejected.Msg.IOU)
	}
}

func TestSettlementFlow(t *testing.T) {
	s := setupTestServer(t, nil)
	ctx := context.Background()
	iou := s.createIOU(t, "outgoing", "10")

	begin, err := s.ious.BeginSettlement(ctx, connect.NewRequest(&api.BeginSettlementRequest{IOUID: iou.ID}))
	if err != nil {
		t.Fatalf("BeginSettlement failed: %v", err)
	}
	attempt := begin.Msg.Attempt
	if attempt.Phase != "initiated" || attempt.ProviderPaymentID == "" {
		t.Fatalf("attempt = %+v", attempt)
	}
	if attempt.Memo != "IOU payment to @bob: dinner" {
		t.Errorf("memo = %q", attempt.Memo)
	}
	if _, ok := s.sandbox.Payment(attempt.ProviderPaymentID); !ok {
		t.Error("sandbox never saw the payment")
	}

	_, err = s.ious.BeginSettlement(ctx, connect.NewRequest(&api.BeginSettlementRequest{IOUID: iou.ID}))
	assertCode(t, err, connect.CodeAborted)

	pid := attempt.ProviderPaymentID
	approved, err := s.callbacks.ApprovePayment(ctx, connect.NewRequest(&api.PaymentCallback{ProviderPaymentID: pid, IOUID: iou.ID}))
	if err != nil {
		t.Fatalf("ApprovePayment failed: %v", err)
	}
	if approved.Msg.Attempt.Phase != "approved" {
		t.Errorf("phase = %s", approved.Msg.Attempt.Phase)
	}

	amount := decimal.NewFromInt(10)
	cb := &api.PaymentCallback{ProviderPaymentID: pid, IOUID: iou.ID, Amount: &amount}
	completed, err := s.callbacks.CompletePayment(ctx, connect.NewRequest(cb))
	if err != nil {
		t.Fatalf("CompletePayment failed: %v", err)
	}
	paid := completed.Msg.IOU
	if paid == nil || paid.Status != "paid" || paid.PaidAt == nil {
		t.Fatalf("iou = %+v", paid)
	}

	again, err := s.callbacks.CompletePayment(ctx, connect.NewRequest(cb))
	if err != nil {
		t.Fatalf("repeated CompletePayment failed: %v", err)
	}
	if !again.Msg.Replayed || !again.Msg.IOU.PaidAt.Equal(*paid.PaidAt) {
		t.Errorf("replay = %+v", again.Msg)
	}

	settlement, err := s.ious.GetSettlement(ctx, connect.NewRequest(&api.GetSettlementRequest{IOUID: iou.ID}))
	if err != nil {
		t.Fatalf("GetSettlement failed: %v", err)
	}
	if settlement.Msg.Attempt.Phase != "completed" {
		t.Errorf("phase = %s", settlement.Msg.Attempt.Phase)
	}
}

func TestCompletionChecks(t *testing.T) {
	s := setupTestServer(t, nil)
	ctx := context.Background()
	iou := s.createIOU(t, "outgoing", "10")

	begin, err := s.ious.BeginSettlement(ctx, connect.NewRequest(&api.BeginSettlementRequest{IOUID: iou.ID}))
	if err != nil {
		t.Fatalf("BeginSettlement failed: %v", err)
	}
	pid := begin.Msg.Attempt.ProviderPaymentID

	_, err = s.callbacks.CompletePayment(ctx, connect.NewRequest(&api.PaymentCallback{ProviderPaymentID: pid}))
	assertCode(t, err, connect.CodeAborted)

	if _, err := s.callbacks.ApprovePayment(ctx, connect.NewRequest(&api.PaymentCallback{ProviderPaymentID: pid})); err != nil {
		t.Fatalf("ApprovePayment failed: %v", err)
	}
	short := decimal.NewFromInt(8)
	_, err = s.callbacks.CompletePayment(ctx, connect.NewRequest(&api.PaymentCallback{ProviderPaymentID: pid, Amount: &short}))
	assertCode(t, err, connect.CodeDataLoss)
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("err is %T, want *connect.Error", err)
	}
	if got := connectErr.Meta().Get(AttemptPhaseHeader); got != "errored" {
		t.Errorf("phase header = %q, want errored", got)
	}

	got, err := s.ious.GetIOU(ctx, connect.NewRequest(&api.GetIOURequest{IOUID: iou.ID}))
	if err != nil {
		t.Fatal(err)
	}
	if got.Msg.IOU.Status != "pending" || got.Msg.IOU.PaidAt != nil {
		t.Errorf("iou = %+v", got.Msg.IOU)
	}
}

func TestCancelAndErrorCallbacks(t *testing.T) {
	s := setupTestServer(t, nil)
	ctx := context.Background()
	iou := s.createIOU(t, "outgoing", "10")

	begin, err := s.ious.BeginSettlement(ctx, connect.NewRequest(&api.BeginSettlementRequest{IOUID: iou.ID}))
	if err != nil {
		t.Fatal(err)
	}
	cancelled, err := s.callbacks.CancelPayment(ctx, connect.NewRequest(&api.PaymentCallback{ProviderPaymentID: begin.Msg.Attempt.ProviderPaymentID}))
	if err != nil {
		t.Fatalf("CancelPayment failed: %v", err)
	}
	if cancelled.Msg.Attempt.Phase != "cancelled" {
		t.Errorf("phase = %s", cancelled.Msg.Attempt.Phase)
	}

	retry, err := s.ious.BeginSettlement(ctx, connect.NewRequest(&api.BeginSettlementRequest{IOUID: iou.ID}))
	if err != nil {
		t.Fatalf("BeginSettlement after cancel failed: %v", err)
	}
	errored, err := s.callbacks.ReportPaymentError(ctx, connect.NewRequest(&api.PaymentCallback{
		ProviderPaymentID: retry.Msg.Attempt.ProviderPaymentID,
		Message:           "insufficient balance",
	}))
	if err != nil {
		t.Fatalf("ReportPaymentError failed: %v", err)
	}
	if errored.Msg.Attempt.Phase != "errored" || errored.Msg.Message != "insufficient balance" {
		t.Errorf("ack = %+v", errored.Msg)
	}

	_, err = s.callbacks.ApprovePayment(ctx, connect.NewRequest(&api.PaymentCallback{}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestUserCancelSettlement(t *testing.T) {
	s := setupTestServer(t, nil)
	ctx := context.Background()
	iou := s.createIOU(t, "incoming", "4")

	_, err := s.ious.BeginSettlement(ctx, connect.NewRequest(&api.BeginSettlementRequest{IOUID: iou.ID}))
	assertCode(t, err, connect.CodePermissionDenied)

	if _, err := s.ious.BeginSettlement(ctx, as(bob, &api.BeginSettlementRequest{IOUID: iou.ID})); err != nil {
		t.Fatalf("BeginSettlement failed: %v", err)
	}
	resp, err := s.ious.CancelSettlement(ctx, as(bob, &api.CancelSettlementRequest{IOUID: iou.ID}))
	if err != nil {
		t.Fatalf("CancelSettlement failed: %v", err)
	}
	if resp.Msg.Attempt.Phase != "cancelled" {
		t.Errorf("phase = %s", resp.Msg.Attempt.Phase)
	}
}

func TestProviderUnavailable(t *testing.T) {
	s := setupTestServer(t, provider.Unavailable{})
	iou := s.createIOU(t, "outgoing", "10")

	_, err := s.ious.BeginSettlement(context.Background(), connect.NewRequest(&api.BeginSettlementRequest{IOUID: iou.ID}))
	assertCode(t, err, connect.CodeUnavailable)

	_, err = s.ious.GetSettlement(context.Background(), connect.NewRequest(&api.GetSettlementRequest{IOUID: iou.ID}))
	assertCode(t, err, connect.CodeNotFound)
}

func TestAuthFlow(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := ledger.New(store, ledger.WithLogger(logger))
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	authenticator := auth.NewProviderAuthenticator(provider.NewSandbox(), l)

	interceptors := connect.WithInterceptors(
		middleware.LoggingInterceptor(logger, nil),
		middleware.RequireAuth(jwtManager, apiconnect.AuthServiceSignInProcedure),
	)
	authPath, authHandler := apiconnect.NewAuthServiceHandler(NewAuthService(authenticator, jwtManager, store, logger), interceptors)
	iouPath, iouHandler := apiconnect.NewIOUServiceHandler(NewIOUService(l, logger), interceptors)
	mux := http.NewServeMux()
	mux.Handle(authPath, authHandler)
	mux.Handle(iouPath, iouHandler)
	server := httptest.NewServer(mux)
	defer server.Close()

	authClient := apiconnect.NewAuthServiceClient(http.DefaultClient, server.URL)
	iouClient := apiconnect.NewIOUServiceClient(http.DefaultClient, server.URL)
	ctx := context.Background()

	_, err = authClient.SignIn(ctx, connect.NewRequest(&api.SignInRequest{}))
	assertCode(t, err, connect.CodeInvalidArgument)

	signIn, err := authClient.SignIn(ctx, connect.NewRequest(&api.SignInRequest{AccessToken: "uid-9:carol"}))
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if signIn.Msg.User.ID != "uid-9" || signIn.Msg.Token == "" {
		t.Fatalf("sign in = %+v", signIn.Msg)
	}

	req := connect.NewRequest(&api.GetCurrentUserRequest{})
	req.Header().Set("Authorization", "Bearer "+signIn.Msg.Token)
	me, err := authClient.GetCurrentUser(ctx, req)
	if err != nil {
		t.Fatalf("GetCurrentUser failed: %v", err)
	}
	if me.Msg.User.Username != "carol" {
		t.Errorf("user = %+v", me.Msg.User)
	}

	_, err = iouClient.CreateIOU(ctx, connect.NewRequest(&api.CreateIOURequest{
		Direction: "incoming", Counterparty: "dave", Amount: decimal.NewFromInt(1),
	}))
	assertCode(t, err, connect.CodeUnauthenticated)

	bad := connect.NewRequest(&api.GetCurrentUserRequest{})
	bad.Header().Set("Authorization", "Token "+signIn.Msg.Token)
	_, err = authClient.GetCurrentUser(ctx, bad)
	assertCode(t, err, connect.CodeUnauthenticated)
}
