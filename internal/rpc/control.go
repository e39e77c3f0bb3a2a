package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/opslink/states-agent/internal/worker"
	"github.com/opslink/states-agent/pkg/types"
)

// ControlServer adapts a *worker.Worker to the gRPC control surface the
// Manager calls: Load, Abort, Kill, StateDone, IsWaiting, GetVersion.
type ControlServer struct {
	Worker *worker.Worker
}

func (s *ControlServer) Load(_ context.Context, req *LoadRequest) (*Empty, error) {
	if err := s.Worker.Load(req.Version, req.States); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *ControlServer) Abort(_ context.Context, req *AbortRequest) (*Empty, error) {
	s.Worker.Abort(req.Kill, req.End)
	return &Empty{}, nil
}

func (s *ControlServer) Kill(_ context.Context, _ *Empty) (*Empty, error) {
	s.Worker.Kill()
	return &Empty{}, nil
}

func (s *ControlServer) StateDone(_ context.Context, req *StateDoneRequest) (*Empty, error) {
	s.Worker.StateDone(req.SID)
	return &Empty{}, nil
}

func (s *ControlServer) IsWaiting(_ context.Context, _ *Empty) (*IsWaitingResponse, error) {
	return &IsWaitingResponse{Waiting: s.Worker.IsWaiting()}, nil
}

func (s *ControlServer) GetVersion(_ context.Context, _ *Empty) (*types.VersionReport, error) {
	report := s.Worker.GetVersion()
	return &report, nil
}

// ============================================================================
// Hand-authored service descriptor, in the shape protoc-gen-go-grpc would
// otherwise generate from a .proto file. No .proto file exists here: the
// wire messages are plain JSON (see codec.go), so there is nothing for
// protoc to generate from.
// ============================================================================

const controlServiceName = "opslink.states.Control"

func controlLoadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(LoadRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*ControlServer).Load(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/Load"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*ControlServer).Load(ctx, req.(*LoadRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func controlAbortHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(AbortRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*ControlServer).Abort(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/Abort"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*ControlServer).Abort(ctx, req.(*AbortRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func controlKillHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(Empty)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*ControlServer).Kill(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/Kill"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*ControlServer).Kill(ctx, req.(*Empty))
	}
	return interceptor(ctx, req, info, handler)
}

func controlStateDoneHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(StateDoneRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*ControlServer).StateDone(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/StateDone"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*ControlServer).StateDone(ctx, req.(*StateDoneRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func controlIsWaitingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(Empty)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*ControlServer).IsWaiting(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/IsWaiting"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*ControlServer).IsWaiting(ctx, req.(*Empty))
	}
	return interceptor(ctx, req, info, handler)
}

func controlGetVersionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(Empty)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*ControlServer).GetVersion(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/GetVersion"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*ControlServer).GetVersion(ctx, req.(*Empty))
	}
	return interceptor(ctx, req, info, handler)
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: controlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Load", Handler: controlLoadHandler},
		{MethodName: "Abort", Handler: controlAbortHandler},
		{MethodName: "Kill", Handler: controlKillHandler},
		{MethodName: "StateDone", Handler: controlStateDoneHandler},
		{MethodName: "IsWaiting", Handler: controlIsWaitingHandler},
		{MethodName: "GetVersion", Handler: controlGetVersionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/rpc/control.go",
}

// RegisterControlServer registers srv against s, analogous to a generated
// RegisterXxxServer function.
func RegisterControlServer(s grpc.ServiceRegistrar, srv *ControlServer) {
	s.RegisterService(&controlServiceDesc, srv)
}

// ControlClient calls the control surface remotely, standing in for the
// Manager's delivery thread invoking load/abort/kill/state_done.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps an existing *grpc.ClientConn.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) Load(ctx context.Context, version string, states []types.State) error {
	return c.cc.Invoke(ctx, "/"+controlServiceName+"/Load", &LoadRequest{Version: version, States: states}, new(Empty), grpc.CallContentSubtype(codecName))
}

func (c *ControlClient) Abort(ctx context.Context, kill, end bool) error {
	return c.cc.Invoke(ctx, "/"+controlServiceName+"/Abort", &AbortRequest{Kill: kill, End: end}, new(Empty), grpc.CallContentSubtype(codecName))
}

func (c *ControlClient) Kill(ctx context.Context) error {
	return c.cc.Invoke(ctx, "/"+controlServiceName+"/Kill", new(Empty), new(Empty), grpc.CallContentSubtype(codecName))
}

func (c *ControlClient) StateDone(ctx context.Context, sid string) error {
	return c.cc.Invoke(ctx, "/"+controlServiceName+"/StateDone", &StateDoneRequest{SID: sid}, new(Empty), grpc.CallContentSubtype(codecName))
}

func (c *ControlClient) IsWaiting(ctx context.Context) (bool, error) {
	resp := new(IsWaitingResponse)
	if err := c.cc.Invoke(ctx, "/"+controlServiceName+"/IsWaiting", new(Empty), resp, grpc.CallContentSubtype(codecName)); err != nil {
		return false, err
	}
	return resp.Waiting, nil
}

func (c *ControlClient) GetVersion(ctx context.Context) (types.VersionReport, error) {
	resp := new(types.VersionReport)
	if err := c.cc.Invoke(ctx, "/"+controlServiceName+"/GetVersion", new(Empty), resp, grpc.CallContentSubtype(codecName)); err != nil {
		return types.VersionReport{}, err
	}
	return *resp, nil
}
