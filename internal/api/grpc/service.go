// Package grpcapi serves supmcu.v1.TelemetryService. Messages are
// google.protobuf.Struct so clients need no generated code beyond the
// well-known types.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSupMCU/internal/auth"
	"github.com/KevinKickass/OpenSupMCU/internal/devices"
	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "supmcu.v1.TelemetryService"

	watchBuffer = 64
)

// TelemetryServer is the server API of supmcu.v1.TelemetryService.
type TelemetryServer interface {
	Read(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Read", Handler: readHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "supmcu/v1/telemetry.proto",
}

func readHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/Read",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TelemetryServer).Read(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TelemetryServer).Watch(in, stream)
}

// Service implements TelemetryServer on top of the device manager and
// receives poll samples for Watch streams.
type Service struct {
	manager *devices.Manager
	logger  *zap.Logger

	mu       sync.RWMutex
	watchers map[chan supmcu.Sample]watchFilter
}

type watchFilter struct {
	bus    string
	module string
}

func NewService(manager *devices.Manager, logger *zap.Logger) *Service {
	return &Service{
		manager:  manager,
		logger:   logger,
		watchers: make(map[chan supmcu.Sample]watchFilter),
	}
}

// Register attaches the service to a gRPC server.
func (s *Service) Register(server *grpc.Server) {
	server.RegisterService(&ServiceDesc, s)
}

func field(req *structpb.Struct, name string) string {
	if v, ok := req.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

// Read: {bus, module, type, index} or {bus, module, name}.
func (s *Service) Read(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	bus, module := field(req, "bus"), field(req, "module")
	if bus == "" || module == "" {
		return nil, status.Error(codes.InvalidArgument, "bus and module are required")
	}
	d, err := s.manager.Dispatcher(bus)
	if err != nil {
		return nil, toStatus(err)
	}

	var (
		t   types.TelemetryType
		tel *types.Telemetry
	)
	if name := field(req, "name"); name != "" {
		t, tel, err = d.RequestTelemetryByName(ctx, module, name)
	} else {
		t, err = types.ParseTelemetryType(field(req, "type"))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		idxVal, ok := req.GetFields()["index"]
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "index is required")
		}
		index := int(idxVal.GetNumberValue())
		tel, err = d.RequestTelemetry(ctx, module, t, index)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	return toStruct(map[string]interface{}{
		"bus":       bus,
		"module":    module,
		"type":      t,
		"telemetry": tel,
	})
}

// Watch streams poll samples of {bus, module}. Empty fields match all.
func (s *Service) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	filter := watchFilter{bus: field(req, "bus"), module: field(req, "module")}
	ch := make(chan supmcu.Sample, watchBuffer)

	s.mu.Lock()
	s.watchers[ch] = filter
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.watchers, ch)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case sample := <-ch:
			msg, err := toStruct(sample)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// HandleSample feeds Watch streams. Slow watchers lose samples.
func (s *Service) HandleSample(sample supmcu.Sample) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch, f := range s.watchers {
		if f.bus != "" && f.bus != sample.Bus {
			continue
		}
		if f.module != "" && !strings.EqualFold(f.module, sample.Module) {
			continue
		}
		select {
		case ch <- sample:
		default:
		}
	}
}

// toStruct goes through JSON so the struct matches the REST payloads.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, devices.ErrUnknownBus),
		errors.Is(err, supmcu.ErrUnknownModule),
		errors.Is(err, supmcu.ErrUnknownTelemetry):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, supmcu.ErrNotReady):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, supmcu.ErrFraming), errors.Is(err, supmcu.ErrLengthMismatch):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// TokenValidator checks bearer tokens from the "authorization" metadata.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Principal, error)
}

func authorize(ctx context.Context, v TokenValidator) error {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token, ok := strings.CutPrefix(values[0], "Bearer ")
	if !ok {
		return status.Error(codes.Unauthenticated, "invalid authorization metadata")
	}
	p, err := v.ValidateToken(ctx, token)
	if err != nil {
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if !p.Has(auth.PermOperator) {
		return status.Error(codes.PermissionDenied, fmt.Sprintf("%s lacks %s", p.Subject, auth.PermOperator))
	}
	return nil
}

// ServerOptions returns interceptors that require an operator token on
// every call.
func ServerOptions(v TokenValidator) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
			if err := authorize(ctx, v); err != nil {
				return nil, err
			}
			return handler(ctx, req)
		}),
		grpc.StreamInterceptor(func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			if err := authorize(ss.Context(), v); err != nil {
				return err
			}
			return handler(srv, ss)
		}),
	}
}
