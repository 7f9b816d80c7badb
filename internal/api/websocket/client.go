package websocket

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is what clients send: auth first, then subscriptions.
type clientMessage struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	Bus    string `json:"bus,omitempty"`
	Module string `json:"module,omitempty"`
}

type subscription struct {
	bus    string
	module string
}

// Client represents a WebSocket client connection
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	logger    *zap.Logger
	principal *auth.Principal

	subMu sync.RWMutex
	subs  []subscription // empty = alles
}

func (c *Client) remoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// wants reports whether msg matches one of the client's subscriptions.
// System messages always go out.
func (c *Client) wants(msg Message) bool {
	if msg.bus == "" && msg.module == "" {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	for _, s := range c.subs {
		if s.bus != "" && s.bus != msg.bus {
			continue
		}
		if s.module != "" && !strings.EqualFold(s.module, msg.module) {
			continue
		}
		return true
	}
	return false
}

// authenticate reads the first message, which must carry a token.
func (c *Client) authenticate() bool {
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	var msg clientMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		c.logger.Debug("WebSocket closed before auth", zap.Error(err))
		return false
	}
	if msg.Type != "auth" {
		c.writeDirect(authFailed("First message must be authentication"))
		return false
	}
	if msg.Token == "" {
		c.writeDirect(authFailed("Missing token in auth message"))
		return false
	}

	principal, err := c.hub.validator.ValidateToken(context.Background(), msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.writeDirect(authFailed("Invalid or expired token"))
		return false
	}

	c.principal = principal
	c.writeDirect(map[string]interface{}{
		"type":        "auth_success",
		"timestamp":   time.Now(),
		"permissions": principal.Permissions,
	})
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.String("subject", principal.Subject))
	return true
}

func authFailed(reason string) map[string]interface{} {
	return map[string]interface{}{
		"type":      "auth_failed",
		"timestamp": time.Now(),
		"reason":    reason,
	}
}

// writeDirect is only used before the write pump runs.
func (c *Client) writeDirect(v interface{}) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteJSON(v)
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.subMu.Lock()
		c.subs = append(c.subs, subscription{bus: msg.Bus, module: msg.Module})
		c.subMu.Unlock()
	case "unsubscribe":
		c.subMu.Lock()
		c.subs = nil
		c.subMu.Unlock()
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr()),
			zap.String("type", msg.Type))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket upgrade requests. The client joins the hub
// only after a successful auth message.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	go func() {
		if !client.authenticate() {
			conn.Close()
			return
		}
		if !client.hub.join(client) {
			conn.Close()
			return
		}
		go client.writePump()
		client.readPump()
	}()
}
