package grpcapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/auth"
	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"github.com/KevinKickass/OpenSupMCU/internal/devices"
	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type tokenValidator struct{}

func (tokenValidator) ValidateToken(_ context.Context, token string) (*auth.Principal, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &auth.Principal{Subject: "ground", Permissions: []auth.Permission{auth.PermOperator}}, nil
}

func startServer(t *testing.T) (*Service, *grpc.ClientConn) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := &config.Config{
		SupMCU: config.SupMCUConfig{
			ResponseDelay:    time.Millisecond,
			PollInterval:     time.Hour,
			DefinitionPaths:  []string{t.TempDir()},
			DefinitionFormat: "json",
		},
		Buses: []config.BusConfig{{
			Name:    "demo",
			Kind:    "sim",
			Modules: []config.ModuleConfig{{Address: 0x2A, CmdName: "BM2"}},
		}},
	}
	manager, err := devices.NewManager(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	svc := NewService(manager, logger)
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(ServerOptions(tokenValidator{})...)
	svc.Register(server)
	go server.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close()
		server.Stop()
		manager.StopAll(context.Background())
	})
	return svc, conn
}

func authed(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer good")
}

func TestRead(t *testing.T) {
	_, conn := startServer(t)

	req, _ := structpb.NewStruct(map[string]interface{}{
		"bus": "demo", "module": "BM2", "type": "module", "index": 1,
	})
	resp := new(structpb.Struct)
	if err := conn.Invoke(authed(context.Background()), "/"+ServiceName+"/Read", req, resp); err != nil {
		t.Fatal(err)
	}
	items := resp.GetFields()["telemetry"].GetStructValue().GetFields()["items"].GetListValue().GetValues()
	if len(items) != 1 || items[0].GetStructValue().GetFields()["string_value"].GetStringValue() != "-230" {
		t.Errorf("resp = %v", resp)
	}

	byName, _ := structpb.NewStruct(map[string]interface{}{"bus": "demo", "module": "BM2", "name": "Heater State"})
	if err := conn.Invoke(authed(context.Background()), "/"+ServiceName+"/Read", byName, resp); err != nil {
		t.Errorf("read by name: %v", err)
	}
}

func TestReadErrors(t *testing.T) {
	_, conn := startServer(t)

	tests := []struct {
		name string
		ctx  context.Context
		req  map[string]interface{}
		want codes.Code
	}{
		{"no token", context.Background(), map[string]interface{}{"bus": "demo", "module": "BM2", "type": "module", "index": 0}, codes.Unauthenticated},
		{"missing module", authed(context.Background()), map[string]interface{}{"bus": "demo"}, codes.InvalidArgument},
		{"unknown bus", authed(context.Background()), map[string]interface{}{"bus": "x", "module": "BM2", "type": "module", "index": 0}, codes.NotFound},
		{"unknown index", authed(context.Background()), map[string]interface{}{"bus": "demo", "module": "BM2", "type": "module", "index": 42}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := structpb.NewStruct(tt.req)
			err := conn.Invoke(tt.ctx, "/"+ServiceName+"/Read", req, new(structpb.Struct))
			if status.Code(err) != tt.want {
				t.Errorf("code = %v, want %v (%v)", status.Code(err), tt.want, err)
			}
		})
	}
}

func TestWatch(t *testing.T) {
	svc, conn := startServer(t)

	ctx, cancel := context.WithTimeout(authed(context.Background()), 5*time.Second)
	defer cancel()

	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/Watch")
	if err != nil {
		t.Fatal(err)
	}
	req, _ := structpb.NewStruct(map[string]interface{}{"bus": "demo", "module": "bm2"})
	if err := stream.SendMsg(req); err != nil {
		t.Fatal(err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatal(err)
	}

	// the watcher registers asynchronously, keep feeding until it sees one
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.HandleSample(supmcu.Sample{Bus: "other", Module: "BM2", Index: 9})
				svc.HandleSample(supmcu.Sample{Bus: "demo", Module: "BM2", Index: 3})
			}
		}
	}()

	msg := new(structpb.Struct)
	if err := stream.RecvMsg(msg); err != nil {
		t.Fatal(err)
	}
	if msg.GetFields()["bus"].GetStringValue() != "demo" || msg.GetFields()["index"].GetNumberValue() != 3 {
		t.Errorf("msg = %v", msg)
	}
}
