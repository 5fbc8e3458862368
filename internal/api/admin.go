package api

import (
	"log/slog"
	"net/http"

	"github.com/talgya/townsim/internal/simerr"
)

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Clock == nil {
		http.Error(w, "clock not running", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := decodeBody(w, r, speedSchema, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := s.Clock.SetSpeed(req.Speed); err != nil {
			writeError(w, simerr.New(simerr.MalformedCommand, "%v", err))
			return
		}
	}
	writeJSON(w, map[string]float64{"speed": s.Clock.Speed()})
}

// handleSnapshot saves a checkpoint now.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	snap := s.World.Snapshot()
	if err := s.DB.SaveSnapshot(snap); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	digest, _ := snap.Digest()
	writeJSON(w, map[string]any{
		"tick":    snap.Tick,
		"digest":  digest,
		"message": "snapshot saved",
	})
}
