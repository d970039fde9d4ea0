package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/iouledger/pkg/api"
)

// PaymentCallbackServiceName is the fully-qualified name of the PaymentCallbackService service.
const PaymentCallbackServiceName = "iouledger.v1.PaymentCallbackService"

// These constants are the fully-qualified names of the RPCs defined in this
// service. They're exposed at runtime as Spec.Procedure and as the final two
// segments of the HTTP route.
const (
	// PaymentCallbackServiceApprovePaymentProcedure is the fully-qualified name of the PaymentCallbackService's ApprovePayment RPC.
	PaymentCallbackServiceApprovePaymentProcedure = "/iouledger.v1.PaymentCallbackService/ApprovePayment"
	// PaymentCallbackServiceCompletePaymentProcedure is the fully-qualified name of the PaymentCallbackService's CompletePayment RPC.
	PaymentCallbackServiceCompletePaymentProcedure = "/iouledger.v1.PaymentCallbackService/CompletePayment"
	// PaymentCallbackServiceCancelPaymentProcedure is the fully-qualified name of the PaymentCallbackService's CancelPayment RPC.
	PaymentCallbackServiceCancelPaymentProcedure = "/iouledger.v1.PaymentCallbackService/CancelPayment"
	// PaymentCallbackServiceReportPaymentErrorProcedure is the fully-qualified name of the PaymentCallbackService's ReportPaymentError RPC.
	PaymentCallbackServiceReportPaymentErrorProcedure = "/iouledger.v1.PaymentCallbackService/ReportPaymentError"
)

// PaymentCallbackServiceClient is a client for the iouledger.v1.PaymentCallbackService service.
type PaymentCallbackServiceClient interface {
	// ApprovePayment is called when the provider awaits server approval.
	ApprovePayment(context.Context, *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error)
	// CompletePayment is called once the payment settled.
	CompletePayment(context.Context, *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error)
	CancelPayment(context.Context, *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error)
	ReportPaymentError(context.Context, *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error)
}

// NewPaymentCallbackServiceClient constructs a client for the iouledger.v1.PaymentCallbackService service.
//
// The URL supplied here should be the base URL for the Connect server (for
// example, http://api.acme.com or https://acme.com/grpc).
func NewPaymentCallbackServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) PaymentCallbackServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &paymentCallbackServiceClient{
		approvePayment: connect.NewClient[api.PaymentCallback, api.PaymentAck](
			httpClient,
			baseURL+PaymentCallbackServiceApprovePaymentProcedure,
			opts...,
		),
		completePayment: connect.NewClient[api.PaymentCallback, api.PaymentAck](
			httpClient,
			baseURL+PaymentCallbackServiceCompletePaymentProcedure,
			opts...,
		),
		cancelPayment: connect.NewClient[api.PaymentCallback, api.PaymentAck](
			httpClient,
			baseURL+PaymentCallbackServiceCancelPaymentProcedure,
			opts...,
		),
		reportPaymentError: connect.NewClient[api.PaymentCallback, api.PaymentAck](
			httpClient,
			baseURL+PaymentCallbackServiceReportPaymentErrorProcedure,
			opts...,
		),
	}
}

type paymentCallbackServiceClient struct {
	approvePayment     *connect.Client[api.PaymentCallback, api.PaymentAck]
	completePayment    *connect.Client[api.PaymentCallback, api.PaymentAck]
	cancelPayment      *connect.Client[api.PaymentCallback, api.PaymentAck]
	reportPaymentError *connect.Client[api.PaymentCallback, api.PaymentAck]
}

// ApprovePayment calls iouledger.v1.PaymentCallbackService.ApprovePayment.
func (c *paymentCallbackServiceClient) ApprovePayment(ctx context.Context, req *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error) {
	return c.approvePayment.CallUnary(ctx, req)
}

// CompletePayment calls iouledger.v1.PaymentCallbackService.CompletePayment.
func (c *paymentCallbackServiceClient) CompletePayment(ctx context.Context, req *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error) {
	return c.completePayment.CallUnary(ctx, req)
}

// CancelPayment calls iouledger.v1.PaymentCallbackService.CancelPayment.
func (c *paymentCallbackServiceClient) CancelPayment(ctx context.Context, req *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error) {
	return c.cancelPayment.CallUnary(ctx, req)
}

// ReportPaymentError calls iouledger.v1.PaymentCallbackService.ReportPaymentError.
func (c *paymentCallbackServiceClient) ReportPaymentError(ctx context.Context, req *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error) {
	return c.reportPaymentError.CallUnary(ctx, req)
}

// PaymentCallbackServiceHandler is an implementation of the iouledger.v1.PaymentCallbackService service.
type PaymentCallbackServiceHandler interface {
	// ApprovePayment is called when the provider awaits server approval.
	ApprovePayment(context.Context, *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error)
	// CompletePayment is called once the payment settled.
	CompletePayment(context.Context, *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error)
	CancelPayment(context.Context, *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error)
	ReportPaymentError(context.Context, *connect.Request[api.PaymentCallback]) (*connect.Response[api.PaymentAck], error)
}

// NewPaymentCallbackServiceHandler builds an HTTP handler from the service implementation. It
// returns the path on which to mount the handler and the handler itself.
func NewPaymentCallbackServiceHandler(svc PaymentCallbackServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
	approvePaymentHandler := connect.NewUnaryHandler(
		PaymentCallbackServiceApprovePaymentProcedure,
		svc.ApprovePayment,
		opts...,
	)
	completePaymentHandler := connect.NewUnaryHandler(
		PaymentCallbackServiceCompletePaymentProcedure,
		svc.CompletePayment,
		opts...,
	)
	cancelPaymentHandler := connect.NewUnaryHandler(
		PaymentCallbackServiceCancelPaymentProcedure,
		svc.CancelPayment,
		opts...,
	)
	reportPaymentErrorHandler := connect.NewUnaryHandler(
		PaymentCallbackServiceReportPaymentErrorProcedure,
		svc.ReportPaymentError,
		opts...,
	)
	return "/iouledger.v1.PaymentCallbackService/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PaymentCallbackServiceApprovePaymentProcedure:
			approvePaymentHandler.ServeHTTP(w, r)
		case PaymentCallbackServiceCompletePaymentProcedure:
			completePaymentHandler.ServeHTTP(w, r)
		case PaymentCallbackServiceCancelPaymentProcedure:
			cancelPaymentHandler.ServeHTTP(w, r)
		case PaymentCallbackServiceReportPaymentErrorProcedure:
			reportPaymentErrorHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
