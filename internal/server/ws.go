package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"worklink/internal/util"
)

const wsWriteTimeout = 10 * time.Second

// handleWS upgrades the connection and streams the user's live events until
// the client goes away or the server shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, userID string) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live channel not configured")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// CORS is enforced by the surrounding middleware for the rest of the
		// API; the upgrade itself accepts any origin.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	// CloseRead drains incoming frames (pings, client close) and cancels the
	// returned context when the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	events, subID := s.hub.Subscribe(ctx, userID)
	defer s.hub.Unsubscribe(userID, subID)

	logger := util.LoggerFromContext(r.Context()).With("user_id", userID, "sub_id", subID)
	logger.Info("live channel opened")

	for {
		select {
		case <-ctx.Done():
			logger.Info("live channel closed")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warn("live event write failed", "error", err)
				}
				return
			}
		}
	}
}
