// Package rpc exposes the frame transformer as a unary gRPC service so
// viewers can offload processing to another host.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/pointframe/internal/dispatch"
	"github.com/banshee-data/pointframe/internal/monitoring"
	"github.com/banshee-data/pointframe/internal/pointcloud"
)

const (
	ServiceName   = "pointframe.v1.FrameProcessor"
	processMethod = "/" + ServiceName + "/Process"

	// Full-resolution frames run to several MB; the gRPC default is 4 MB.
	DefaultMaxMsgSize = 16 * 1024 * 1024
)

// FrameProcessorServer is the server API for the FrameProcessor service.
type FrameProcessorServer interface {
	Process(ctx context.Context, req *dispatch.Request) (*dispatch.Response, error)
}

// ServiceDesc describes the FrameProcessor service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FrameProcessorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Process",
			Handler:    processHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pointframe/v1/frame_processor",
}

// RegisterFrameProcessorServer registers srv on s.
func RegisterFrameProcessorServer(s grpc.ServiceRegistrar, srv FrameProcessorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func processHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(dispatch.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FrameProcessorServer).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: processMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FrameProcessorServer).Process(ctx, req.(*dispatch.Request))
	}
	return interceptor(ctx, in, info, handler)
}

// Processor is the local pipeline the service forwards to.
type Processor interface {
	Process(ctx context.Context, req dispatch.Request) (dispatch.Response, error)
}

// Service implements FrameProcessorServer on top of a Processor, normally a
// dispatch.Dispatcher.
type Service struct {
	processor Processor
	logf      func(format string, v ...interface{})
	requests  atomic.Uint64
}

var _ FrameProcessorServer = (*Service)(nil)

// NewService creates a Service.
func NewService(p Processor) *Service {
	return &Service{processor: p, logf: monitoring.Prefixed("RPC")}
}

// Process transforms one frame. Malformed input is reported in the
// response's error variant with an OK status; only transport and capacity
// problems become gRPC status errors.
func (s *Service) Process(ctx context.Context, req *dispatch.Request) (*dispatch.Response, error) {
	s.requests.Add(1)
	resp, err := s.processor.Process(ctx, *req)
	if resp.Error != nil {
		return &resp, nil
	}
	if err != nil {
		return nil, statusFor(err)
	}
	return &resp, nil
}

func statusFor(err error) error {
	switch {
	case errors.Is(err, dispatch.ErrDuplicateFrame):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, dispatch.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, dispatch.ErrStopped), errors.Is(err, dispatch.ErrNotRunning):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, pointcloud.ErrBufferMoved), errors.Is(err, pointcloud.ErrMalformedInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ServerConfig holds configuration for the RPC server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxMsgSize bounds request and response size (default: 16 MB)
	MaxMsgSize int
}

// Server owns the grpc.Server and listener for a Service.
type Server struct {
	config   ServerConfig
	service  *Service
	server   *grpc.Server
	listener net.Listener

	running atomic.Bool
	wg      sync.WaitGroup
	logf    func(format string, v ...interface{})
}

// NewServer creates a Server for service.
func NewServer(cfg ServerConfig, service *Service) *Server {
	if cfg.MaxMsgSize <= 0 {
		cfg.MaxMsgSize = DefaultMaxMsgSize
	}
	s := &Server{
		config:  cfg,
		service: service,
		logf:    monitoring.Prefixed("RPC"),
	}
	s.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxMsgSize),
	)
	RegisterFrameProcessorServer(s.server, service)
	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("rpc server already running")
	}
	s.listener = lis

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logf("gRPC server listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			s.logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.server.GracefulStop()
	s.wg.Wait()
	s.logf("gRPC server stopped (served %d request(s))", s.service.requests.Load())
}
