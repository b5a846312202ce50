// ABOUTME: WebSocket endpoint for dashboard clients watching server status
// ABOUTME: Read pump feeds the client session; write pump drains the outbound queue with pings

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/dashblock/internal/auth"
	"github.com/2389/dashblock/internal/hub"
	"github.com/2389/dashblock/internal/protocol"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
)

// handleClientWS handles GET /ws/client.
func (g *Gateway) handleClientWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	out := newOutbound(uuid.NewString(), g.config.Relay.SendBuffer)
	session := g.hub.ConnectClient(out, auth.SubjectFromContext(r.Context()))

	go g.writePump(conn, out)
	g.readPump(conn, session, out)

	session.Disconnect()
	out.Close()
}

// readPump handles client frames until the connection fails.
func (g *Gateway) readPump(conn *websocket.Conn, session *hub.ClientSession, out *outbound) {
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("client websocket closed", "error", err)
			}
			return
		}

		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			_ = out.Send(protocol.MustFrame(protocol.TypeError, protocol.ErrorMessage{Message: "malformed frame"}))
			continue
		}
		session.Handle(f)
	}
}

// writePump is the only writer on conn. It closes conn when done, which
// unblocks readPump.
func (g *Gateway) writePump(conn *websocket.Conn, out *outbound) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	write := func(f protocol.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(f)
	}
	ping := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(websocket.PingMessage, nil)
	}

	err := out.run(write, ticker.C, ping)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		g.logger.Debug("client websocket write failed", "peer_id", out.ID(), "error", err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
