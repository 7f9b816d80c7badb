package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/auth"
	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type staticValidator struct{ token string }

func (v staticValidator) ValidateToken(_ context.Context, token string) (*auth.Principal, error) {
	if token != v.token {
		return nil, errors.New("bad token")
	}
	return &auth.Principal{Subject: "ops", Role: auth.RoleOperator, Permissions: []auth.Permission{auth.PermOperator}}, nil
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t), staticValidator{token: "good"})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", hub.GetClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuthThenSamples(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": "good"}); err != nil {
		t.Fatal(err)
	}
	var reply map[string]interface{}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	if reply["type"] != "auth_success" {
		t.Fatalf("reply = %v", reply)
	}
	waitForClients(t, hub, 1)

	hub.HandleSample(supmcu.Sample{Bus: "demo", Module: "BM2", Index: 0, Time: time.Now()})
	hub.HandleSample(supmcu.Sample{Bus: "demo", Module: "BM2", Index: 1, Err: "not ready", Time: time.Now()})

	for _, want := range []string{"telemetry_sample", "poll_error"} {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		if msg["type"] != want {
			t.Errorf("type = %v, want %s", msg["type"], want)
		}
	}
}

func TestFirstMessageMustBeAuth(t *testing.T) {
	hub, url := startHub(t)

	tests := []struct {
		name string
		msg  map[string]string
	}{
		{"not auth", map[string]string{"type": "subscribe"}},
		{"no token", map[string]string{"type": "auth"}},
		{"bad token", map[string]string{"type": "auth", "token": "bad"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, url)
			if err := conn.WriteJSON(tt.msg); err != nil {
				t.Fatal(err)
			}
			var reply map[string]interface{}
			if err := conn.ReadJSON(&reply); err != nil {
				t.Fatal(err)
			}
			if reply["type"] != "auth_failed" {
				t.Errorf("reply = %v", reply)
			}
		})
	}
	if hub.GetClientCount() != 0 {
		t.Errorf("unauthenticated clients registered")
	}
}

func TestClientSubscriptionFilter(t *testing.T) {
	c := &Client{}
	sample := NewSampleMessage(supmcu.Sample{Bus: "demo", Module: "BM2"})
	module := NewModuleMessage("lab", types.NewModuleDefinition("Power", "EPS", 0x2B))
	status := NewSystemStatusMessage(map[string]string{"state": "RUNNING"})

	if !c.wants(sample) || !c.wants(module) {
		t.Error("client without subscriptions should get everything")
	}

	c.handleMessage(clientMessage{Type: "subscribe", Module: "bm2"})
	if !c.wants(sample) || c.wants(module) || !c.wants(status) {
		t.Error("module subscription not applied")
	}

	c.handleMessage(clientMessage{Type: "subscribe", Bus: "lab"})
	if !c.wants(module) {
		t.Error("bus subscription not applied")
	}

	c.handleMessage(clientMessage{Type: "unsubscribe"})
	if !c.wants(module) {
		t.Error("unsubscribe should restore everything")
	}
}
