package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Gateway attaches external platform session clients over WebSocket. Each
// connection becomes the tenant's worker runtime: envelopes the client
// sends are worker → control IPC, and control commands are written back as
// JSON frames.
type Gateway struct {
	manager  *Manager
	upgrader websocket.Upgrader
}

// NewGateway creates the WebSocket attachment point for workers.
func NewGateway(m *Manager) *Gateway {
	return &Gateway{
		manager: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeWS upgrades the request and runs the connection as the tenant's
// worker until either side disconnects.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, tenantID string, t models.Tier) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("tenant", tenantID).Err(err).Msg("WebSocket upgrade failed")
		return
	}

	rt := &wsRuntime{tenantID: tenantID, conn: conn}
	if _, err := g.manager.Attach(r.Context(), tenantID, t, rt); err != nil {
		log.Warn().Str("tenant", tenantID).Err(err).Msg("Worker attach rejected")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(wsWriteWait))
		conn.Close()
		return
	}
}

// wsRuntime bridges one WebSocket connection into the Runtime contract.
type wsRuntime struct {
	tenantID string
	conn     *websocket.Conn
}

// Run pumps frames both ways until the client disconnects or the manager
// cancels. A normal closure is a clean exit; network failures are reported
// so the manager can mark the worker degraded.
func (r *wsRuntime) Run(ctx context.Context, side *WorkerSide) error {
	defer r.conn.Close()

	// Writer: control → client, plus keepalive pings. readDone wakes it
	// when the reader stops, so a client disconnect tears down promptly
	// instead of waiting out the next ping.
	readDone := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-readDone:
				return
			case <-ctx.Done():
				r.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
					time.Now().Add(wsWriteWait))
				return
			case <-side.Done():
				return
			case <-ticker.C:
				r.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case cmd, ok := <-side.Commands():
				if !ok {
					return
				}
				r.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := r.conn.WriteJSON(cmd); err != nil {
					log.Debug().Str("tenant", r.tenantID).Err(err).Msg("WebSocket write failed")
					return
				}
				if cmd.Type == models.MsgShutdown {
					return
				}
			}
		}
	}()

	// Reader: client → control.
	var readErr error
	for {
		var env models.Envelope
		if err := r.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				readErr = err
			}
			break
		}
		if err := side.Emit(ctx, env); err != nil {
			break
		}
	}

	close(readDone)
	r.conn.Close()
	<-writeDone
	if ctx.Err() != nil {
		return nil
	}
	return readErr
}
