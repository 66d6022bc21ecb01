package api

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/yuka166/chatapp-server/modules/broadcast"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxFrameSize = 16 * 1024
)

// handleWebSocket handles WebSocket connections at /ws.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl := m.newClient()
	pumpDone := make(chan struct{})
	go m.writePump(c, cl.conn, pumpDone)

	defer func() {
		m.registry.UnsubscribeAll(cl.conn)
		<-pumpDone
		m.logger.Debug("WebSocket disconnected", "conn", cl.conn.ID, "user", cl.conn.UserID())
	}()

	m.logger.Debug("WebSocket connected", "conn", cl.conn.ID)

	if token, _ := c.Locals(handshakeTokenKey).(string); token != "" {
		if err := m.authenticate(ctx, cl, token); err != nil {
			m.sendError(cl, EventAuthenticate, err)
		}
	}

	c.SetReadLimit(maxFrameSize)
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("WebSocket read error", "conn", cl.conn.ID, "error", err)
			}
			return
		}
		m.dispatch(ctx, cl, raw)
	}
}

// writePump is the only writer of c. It drains the connection's queue and
// keeps the socket alive with pings. When the registry tears the connection
// down, it closes the socket so the read loop ends too.
func (m *APIModule) writePump(c *websocket.Conn, conn *broadcast.Conn, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-conn.Outbound():
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				m.registry.UnsubscribeAll(conn)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				m.registry.UnsubscribeAll(conn)
				_ = c.Close()
				return
			}
		case <-conn.Done():
			_ = c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = c.Close()
			return
		}
	}
}
