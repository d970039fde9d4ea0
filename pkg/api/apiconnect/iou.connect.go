package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/iouledger/pkg/api"
)

// IOUServiceName is the fully-qualified name of the IOUService service.
const IOUServiceName = "iouledger.v1.IOUService"

// These constants are the fully-qualified names of the RPCs defined in this
// service. They're exposed at runtime as Spec.Procedure and as the final two
// segments of the HTTP route.
const (
	// IOUServiceCreateIOUProcedure is the fully-qualified name of the IOUService's CreateIOU RPC.
	IOUServiceCreateIOUProcedure = "/iouledger.v1.IOUService/CreateIOU"
	// IOUServiceGetIOUProcedure is the fully-qualified name of the IOUService's GetIOU RPC.
	IOUServiceGetIOUProcedure = "/iouledger.v1.IOUService/GetIOU"
	// IOUServiceAcceptIOUProcedure is the fully-qualified name of the IOUService's AcceptIOU RPC.
	IOUServiceAcceptIOUProcedure = "/iouledger.v1.IOUService/AcceptIOU"
	// IOUServiceRejectIOUProcedure is the fully-qualified name of the IOUService's RejectIOU RPC.
	IOUServiceRejectIOUProcedure = "/iouledger.v1.IOUService/RejectIOU"
	// IOUServiceBeginSettlementProcedure is the fully-qualified name of the IOUService's BeginSettlement RPC.
	IOUServiceBeginSettlementProcedure = "/iouledger.v1.IOUService/BeginSettlement"
	// IOUServiceCancelSettlementProcedure is the fully-qualified name of the IOUService's CancelSettlement RPC.
	IOUServiceCancelSettlementProcedure = "/iouledger.v1.IOUService/CancelSettlement"
	// IOUServiceGetSettlementProcedure is the fully-qualified name of the IOUService's GetSettlement RPC.
	IOUServiceGetSettlementProcedure = "/iouledger.v1.IOUService/GetSettlement"
)

// IOUServiceClient is a client for the iouledger.v1.IOUService service.
type IOUServiceClient interface {
	// CreateIOU records a new pending IOU owned by the caller.
	CreateIOU(context.Context, *connect.Request[api.CreateIOURequest]) (*connect.Response[api.CreateIOUResponse], error)
	GetIOU(context.Context, *connect.Request[api.GetIOURequest]) (*connect.Response[api.GetIOUResponse], error)
	// AcceptIOU is called by the counterparty to acknowledge the debt.
	AcceptIOU(context.Context, *connect.Request[api.AcceptIOURequest]) (*connect.Response[api.AcceptIOUResponse], error)
	// RejectIOU cancels a pending IOU.
	RejectIOU(context.Context, *connect.Request[api.RejectIOURequest]) (*connect.Response[api.RejectIOUResponse], error)
	// BeginSettlement starts a payment through the provider.
	BeginSettlement(context.Context, *connect.Request[api.BeginSettlementRequest]) (*connect.Response[api.BeginSettlementResponse], error)
	// CancelSettlement abandons the in-flight payment.
	CancelSettlement(context.Context, *connect.Request[api.CancelSettlementRequest]) (*connect.Response[api.CancelSettlementResponse], error)
	// GetSettlement returns the latest payment attempt.
	GetSettlement(context.Context, *connect.Request[api.GetSettlementRequest]) (*connect.Response[api.GetSettlementResponse], error)
}

// NewIOUServiceClient constructs a client for the iouledger.v1.IOUService service.
//
// The URL supplied here should be the base URL for the Connect server (for
// example, http://api.acme.com or https://acme.com/grpc).
func NewIOUServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) IOUServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &iouServiceClient{
		createIOU: connect.NewClient[api.CreateIOURequest, api.CreateIOUResponse](
			httpClient,
			baseURL+IOUServiceCreateIOUProcedure,
			opts...,
		),
		getIOU: connect.NewClient[api.GetIOURequest, api.GetIOUResponse](
			httpClient,
			baseURL+IOUServiceGetIOUProcedure,
			opts...,
		),
		acceptIOU: connect.NewClient[api.AcceptIOURequest, api.AcceptIOUResponse](
			httpClient,
			baseURL+IOUServiceAcceptIOUProcedure,
			opts...,
		),
		rejectIOU: connect.NewClient[api.RejectIOURequest, api.RejectIOUResponse](
			httpClient,
			baseURL+IOUServiceRejectIOUProcedure,
			opts...,
		),
		beginSettlement: connect.NewClient[api.BeginSettlementRequest, api.BeginSettlementResponse](
			httpClient,
			baseURL+IOUServiceBeginSettlementProcedure,
			opts...,
		),
		cancelSettlement: connect.NewClient[api.CancelSettlementRequest, api.CancelSettlementResponse](
			httpClient,
			baseURL+IOUServiceCancelSettlementProcedure,
			opts...,
		),
		getSettlement: connect.NewClient[api.GetSettlementRequest, api.GetSettlementResponse](
			httpClient,
			baseURL+IOUServiceGetSettlementProcedure,
			opts...,
		),
	}
}

type iouServiceClient struct {
	createIOU        *connect.Client[api.CreateIOURequest, api.CreateIOUResponse]
	getIOU           *connect.Client[api.GetIOURequest, api.GetIOUResponse]
	acceptIOU        *connect.Client[api.AcceptIOURequest, api.AcceptIOUResponse]
	rejectIOU        *connect.Client[api.RejectIOURequest, api.RejectIOUResponse]
	beginSettlement  *connect.Client[api.BeginSettlementRequest, api.BeginSettlementResponse]
	cancelSettlement *connect.Client[api.CancelSettlementRequest, api.CancelSettlementResponse]
	getSettlement    *connect.Client[api.GetSettlementRequest, api.GetSettlementResponse]
}

// CreateIOU calls iouledger.v1.IOUService.CreateIOU.
func (c *iouServiceClient) CreateIOU(ctx context.Context, req *connect.Request[api.CreateIOURequest]) (*connect.Response[api.CreateIOUResponse], error) {
	return c.createIOU.CallUnary(ctx, req)
}

// GetIOU calls iouledger.v1.IOUService.GetIOU.
func (c *iouServiceClient) GetIOU(ctx context.Context, req *connect.Request[api.GetIOURequest]) (*connect.Response[api.GetIOUResponse], error) {
	return c.getIOU.CallUnary(ctx, req)
}

// AcceptIOU calls iouledger.v1.IOUService.AcceptIOU.
func (c *iouServiceClient) AcceptIOU(ctx context.Context, req *connect.Request[api.AcceptIOURequest]) (*connect.Response[api.AcceptIOUResponse], error) {
	return c.acceptIOU.CallUnary(ctx, req)
}

// RejectIOU calls iouledger.v1.IOUService.RejectIOU.
func (c *iouServiceClient) RejectIOU(ctx context.Context, req *connect.Request[api.RejectIOURequest]) (*connect.Response[api.RejectIOUResponse], error) {
	return c.rejectIOU.CallUnary(ctx, req)
}

// BeginSettlement calls iouledger.v1.IOUService.BeginSettlement.
func (c *iouServiceClient) BeginSettlement(ctx context.Context, req *connect.Request[api.BeginSettlementRequest]) (*connect.Response[api.BeginSettlementResponse], error) {
	return c.beginSettlement.CallUnary(ctx, req)
}

// CancelSettlement calls iouledger.v1.IOUService.CancelSettlement.
func (c *iouServiceClient) CancelSettlement(ctx context.Context, req *connect.Request[api.CancelSettlementRequest]) (*connect.Response[api.CancelSettlementResponse], error) {
	return c.cancelSettlement.CallUnary(ctx, req)
}

// GetSettlement calls iouledger.v1.IOUService.GetSettlement.
func (c *iouServiceClient) GetSettlement(ctx context.Context, req *connect.Request[api.GetSettlementRequest]) (*connect.Response[api.GetSettlementResponse], error) {
	return c.getSettlement.CallUnary(ctx, req)
}

// IOUServiceHandler is an implementation of the iouledger.v1.IOUService service.
type IOUServiceHandler interface {
	// CreateIOU records a new pending IOU owned by the caller.
	CreateIOU(context.Context, *connect.Request[api.CreateIOURequest]) (*connect.Response[api.CreateIOUResponse], error)
	GetIOU(context.Context, *connect.Request[api.GetIOURequest]) (*connect.Response[api.GetIOUResponse], error)
	// AcceptIOU is called by the counterparty to acknowledge the debt.
	AcceptIOU(context.Context, *connect.Request[api.AcceptIOURequest]) (*connect.Response[api.AcceptIOUResponse], error)
	// RejectIOU cancels a pending IOU.
	RejectIOU(context.Context, *connect.Request[api.RejectIOURequest]) (*connect.Response[api.RejectIOUResponse], error)
	// BeginSettlement starts a payment through the provider.
	BeginSettlement(context.Context, *connect.Request[api.BeginSettlementRequest]) (*connect.Response[api.BeginSettlementResponse], error)
	// CancelSettlement abandons the in-flight payment.
	CancelSettlement(context.Context, *connect.Request[api.CancelSettlementRequest]) (*connect.Response[api.CancelSettlementResponse], error)
	// GetSettlement returns the latest payment attempt.
	GetSettlement(context.Context, *connect.Request[api.GetSettlementRequest]) (*connect.Response[api.GetSettlementResponse], error)
}

// NewIOUServiceHandler builds an HTTP handler from the service implementation. It
// returns the path on which to mount the handler and the handler itself.
func NewIOUServiceHandler(svc IOUServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
	createIOUHandler := connect.NewUnaryHandler(
		IOUServiceCreateIOUProcedure,
		svc.CreateIOU,
		opts...,
	)
	getIOUHandler := connect.NewUnaryHandler(
		IOUServiceGetIOUProcedure,
		svc.GetIOU,
		opts...,
	)
	acceptIOUHandler := connect.NewUnaryHandler(
		IOUServiceAcceptIOUProcedure,
		svc.AcceptIOU,
		opts...,
	)
	rejectIOUHandler := connect.NewUnaryHandler(
		IOUServiceRejectIOUProcedure,
		svc.RejectIOU,
		opts...,
	)
	beginSettlementHandler := connect.NewUnaryHandler(
		IOUServiceBeginSettlementProcedure,
		svc.BeginSettlement,
		opts...,
	)
	cancelSettlementHandler := connect.NewUnaryHandler(
		IOUServiceCancelSettlementProcedure,
		svc.CancelSettlement,
		opts...,
	)
	getSettlementHandler := connect.NewUnaryHandler(
		IOUServiceGetSettlementProcedure,
		svc.GetSettlement,
		opts...,
	)
	return "/iouledger.v1.IOUService/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case IOUServiceCreateIOUProcedure:
			createIOUHandler.ServeHTTP(w, r)
		case IOUServiceGetIOUProcedure:
			getIOUHandler.ServeHTTP(w, r)
		case IOUServiceAcceptIOUProcedure:
			acceptIOUHandler.ServeHTTP(w, r)
		case IOUServiceRejectIOUProcedure:
			rejectIOUHandler.ServeHTTP(w, r)
		case IOUServiceBeginSettlementProcedure:
			beginSettlementHandler.ServeHTTP(w, r)
		case IOUServiceCancelSettlementProcedure:
			cancelSettlementHandler.ServeHTTP(w, r)
		case IOUServiceGetSettlementProcedure:
			getSettlementHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
