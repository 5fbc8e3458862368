package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/townsim/internal/engine"
)

const (
	streamCatchUp   = 50
	streamHeartbeat = 15 * time.Second
	streamWriteWait = 5 * time.Second
)

// handleStream upgrades to a websocket and pushes every committed event.
// New clients first receive the most recent events as catch-up.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	limit := int32(s.MaxStreamConns)
	if limit <= 0 {
		limit = 32
	}
	if current := s.streamConns.Add(1); current > limit {
		s.streamConns.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.streamConns.Add(-1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	bus := s.World.Bus()
	subID, ch := bus.Subscribe()
	defer bus.Unsubscribe(subID)
	slog.Info("stream client connected", "sub_id", subID)

	for _, e := range s.World.RecentEvents(streamCatchUp) {
		if err := writeEvent(conn, e); err != nil {
			return
		}
	}

	// Reader: the client sends nothing we act on, but reading notices the
	// close handshake.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(conn, e); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-closed:
			slog.Info("stream client disconnected", "sub_id", subID)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, e engine.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		slog.Warn("encoding stream event", "kind", e.Kind, "err", err)
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
