package rpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"

	"github.com/opslink/states-agent/pkg/types"
)

// ============================================================================
// ReportClient - the worker's outbound Send/Stop, satisfying worker.Manager
// ============================================================================

// ReportClient calls a remote report-receiving service and satisfies
// worker.Manager. Network errors and non-OK calls both count as "caller
// should retry" per the Manager contract's best-effort Send semantics.
type ReportClient struct {
	cc      *grpc.ClientConn
	timeout time.Duration
	log     *slog.Logger
}

// NewReportClient wraps an existing connection. Send never blocks longer
// than timeout per attempt; a timeout <= 0 defaults to 5s.
func NewReportClient(cc *grpc.ClientConn, timeout time.Duration) *ReportClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ReportClient{cc: cc, timeout: timeout, log: slog.Default().With("component", "report_client")}
}

// Send implements worker.Manager.Send.
func (r *ReportClient) Send(record types.StateLogRecord) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp := new(SendResponse)
	err := r.cc.Invoke(ctx, "/"+reportServiceName+"/Send", &SendRequest{Record: record}, resp, grpc.CallContentSubtype(codecName))
	if err != nil {
		r.log.Warn("send failed, will retry", "state_id", record.StateID, "error", err)
		return false
	}
	return resp.Accepted
}

// Stop implements worker.Manager.Stop: idempotent teardown of the
// underlying connection.
func (r *ReportClient) Stop() {
	if r.cc == nil {
		return
	}
	_ = r.cc.Close()
}

// ============================================================================
// ReportServer - the Manager-side receiving endpoint (for local testing
// and single-binary demo deployments where this agent also plays Manager)
// ============================================================================

// Sink accepts delivered state-log records; the return value matches the
// Manager contract's send(record) -> bool.
type Sink interface {
	Accept(record types.StateLogRecord) bool
}

// ReportServer adapts a Sink to the gRPC report service.
type ReportServer struct {
	Sink Sink
}

func (s *ReportServer) Send(_ context.Context, req *SendRequest) (*SendResponse, error) {
	return &SendResponse{Accepted: s.Sink.Accept(req.Record)}, nil
}

const reportServiceName = "opslink.states.Report"

func reportSendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(SendRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*ReportServer).Send(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: reportServiceName + "/Send"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*ReportServer).Send(ctx, req.(*SendRequest))
	}
	return interceptor(ctx, req, info, handler)
}

var reportServiceDesc = grpc.ServiceDesc{
	ServiceName: reportServiceName,
	HandlerType: (*ReportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: reportSendHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/rpc/report.go",
}

// RegisterReportServer registers srv against s.
func RegisterReportServer(s grpc.ServiceRegistrar, srv *ReportServer) {
	s.RegisterService(&reportServiceDesc, srv)
}
