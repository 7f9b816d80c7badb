package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/api/websocket"
	"github.com/KevinKickass/OpenSupMCU/internal/auth"
	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"github.com/KevinKickass/OpenSupMCU/internal/devices"
	"github.com/KevinKickass/OpenSupMCU/internal/interfaces"
	"go.uber.org/zap/zaptest"
)

type testLifecycle struct {
	cfg     *config.Config
	manager *devices.Manager
}

func (l *testLifecycle) Config() *config.Config          { return l.cfg }
func (l *testLifecycle) DeviceManager() *devices.Manager { return l.manager }
func (l *testLifecycle) Shutdown(context.Context) error  { return nil }
func (l *testLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", Buses: len(l.manager.ListBuses())}
}

type testEnv struct {
	handler http.Handler
	tokens  map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	hasher := auth.NewPasswordHasherWithParams(64, 1)
	hash, err := hasher.HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Auth: config.AuthConfig{
			AccessTokenTTL: time.Minute,
			Users: []config.UserConfig{
				{Username: "op", PasswordHash: hash, Role: "operator"},
				{Username: "cmd", PasswordHash: hash, Role: "commander"},
				{Username: "admin", PasswordHash: hash, Role: "admin"},
			},
		},
		SupMCU: config.SupMCUConfig{
			ResponseDelay:    time.Millisecond,
			PollInterval:     time.Hour,
			DefinitionPaths:  []string{t.TempDir()},
			DefinitionFormat: "json",
		},
		Buses: []config.BusConfig{{
			Name:    "demo",
			Kind:    "sim",
			Modules: []config.ModuleConfig{{Address: 0x2A, CmdName: "BM2"}, {Address: 0x2B, CmdName: "EPS"}},
		}},
	}

	manager, err := devices.NewManager(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	// EPS at 0x2B sits on the sim bus but is only discovered via the API
	if err := manager.OpenBus(cfg.Buses[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.AttachModule(context.Background(), "demo", cfg.Buses[0].Modules[0]); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { manager.StopAll(context.Background()) })

	store, err := auth.NewStaticStore(cfg.Auth)
	if err != nil {
		t.Fatal(err)
	}
	authService := auth.NewAuthService(store, cfg.Auth, logger)
	hub := websocket.NewHub(logger, authService)

	srv := NewServer(&testLifecycle{cfg: cfg, manager: manager}, logger, hub, authService)
	env := &testEnv{handler: srv.Handler(), tokens: make(map[string]string)}
	for _, user := range []string{"op", "cmd", "admin"} {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: user, Password: "pw"})
		if w.Code != http.StatusOK {
			t.Fatalf("login %s: %d %s", user, w.Code, w.Body)
		}
		var resp LoginResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		env.tokens[user] = resp.AccessToken
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[user])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func TestReadTelemetry(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/buses/demo/modules/BM2/telemetry/module/0", "op", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Name      string `json:"name"`
		Telemetry struct {
			Items []struct {
				StringValue string `json:"string_value"`
			} `json:"items"`
		} `json:"telemetry"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Name != "Battery Voltage" || len(resp.Telemetry.Items) != 1 || resp.Telemetry.Items[0].StringValue != "7412" {
		t.Errorf("response = %s", w.Body)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/buses", "", nil, http.StatusUnauthorized},
		{"unknown bus", http.MethodGet, "/api/v1/buses/nope/modules", "op", nil, http.StatusNotFound},
		{"unknown module", http.MethodGet, "/api/v1/buses/demo/modules/XYZ", "op", nil, http.StatusNotFound},
		{"unknown index", http.MethodGet, "/api/v1/buses/demo/modules/BM2/telemetry/module/99", "op", nil, http.StatusNotFound},
		{"bad type", http.MethodGet, "/api/v1/buses/demo/modules/BM2/telemetry/foo/0", "op", nil, http.StatusBadRequest},
		{"bad index", http.MethodGet, "/api/v1/buses/demo/modules/BM2/telemetry/module/x", "op", nil, http.StatusBadRequest},
		{"operator cannot write", http.MethodPut, "/api/v1/buses/demo/modules/BM2/telemetry/module/0", "op", WriteTelemetryRequest{Values: []interface{}{1}}, http.StatusForbidden},
		{"wrong value count", http.MethodPut, "/api/v1/buses/demo/modules/BM2/telemetry/module/0", "cmd", WriteTelemetryRequest{Values: []interface{}{1, 2}}, http.StatusBadRequest},
		{"commander cannot discover", http.MethodPost, "/api/v1/buses/demo/modules/discover", "cmd", DiscoverRequest{Address: 0x2B}, http.StatusForbidden},
		{"address out of range", http.MethodPost, "/api/v1/buses/demo/modules/discover", "admin", DiscoverRequest{Address: 0x80}, http.StatusBadRequest},
		{"not polled", http.MethodGet, "/api/v1/buses/demo/modules/BM2/latest", "op", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.user, tt.body)
			if w.Code != tt.want {
				t.Errorf("status %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestWriteThenRead(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/buses/demo/modules/BM2/telemetry/module/0", "cmd", WriteTelemetryRequest{Values: []interface{}{7000}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("write: %d %s", w.Code, w.Body)
	}

	w = env.do(t, http.MethodGet, "/api/v1/buses/demo/modules/BM2/telemetry/by-name/battery%20voltage", "op", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read: %d %s", w.Code, w.Body)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"string_value":"7000"`)) {
		t.Errorf("value not written: %s", w.Body)
	}
}

func TestDiscoverAndCommand(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/buses/demo/modules/discover", "admin", DiscoverRequest{Address: 0x2B})
	if w.Code != http.StatusCreated {
		t.Fatalf("discover: %d %s", w.Code, w.Body)
	}

	w = env.do(t, http.MethodGet, "/api/v1/buses/demo/modules", "op", nil)
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || list.Count != 2 {
		t.Errorf("modules after discover: %s", w.Body)
	}

	w = env.do(t, http.MethodPost, "/api/v1/buses/demo/modules/EPS/commands", "cmd", CommandRequest{Command: "EPS:CHAN 1,1"})
	if w.Code != http.StatusAccepted {
		t.Errorf("command: %d %s", w.Code, w.Body)
	}
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/health", "/metrics"} {
		if w := env.do(t, http.MethodGet, path, "", nil); w.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, w.Code)
		}
	}
	if w := env.do(t, http.MethodGet, "/api/v1/system/status", "op", nil); w.Code != http.StatusOK {
		t.Errorf("status: %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "op", Password: "nope"}); w.Code != http.StatusUnauthorized {
		t.Errorf("bad login: %d", w.Code)
	}
}
