package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/talgya/townsim/internal/engine"
	"github.com/talgya/townsim/internal/simerr"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.World.Status()
	resp := struct {
		engine.Status
		Speed        *float64 `json:"speed,omitempty"`
		TreasuryText string   `json:"treasury_text"`
		LastStepText string   `json:"last_step_text"`
	}{
		Status:       st,
		TreasuryText: humanize.Comma(st.Treasury) + " crowns",
		LastStepText: st.LastStep.String(),
	}
	if s.Clock != nil {
		speed := s.Clock.Speed()
		resp.Speed = &speed
	}
	writeJSON(w, resp)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.World.MarketSnapshot())
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.World.Agents())
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	p, ok := s.World.Player(r.PathValue("player"))
	if !ok {
		http.Error(w, "player not found", http.StatusNotFound)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.World.Reputation(r.PathValue("player")))
}

func (s *Server) handleQuests(w http.ResponseWriter, r *http.Request) {
	player := r.PathValue("player")
	if r.URL.Query().Get("state") == "active" {
		writeJSON(w, s.World.ActiveQuests(player))
		return
	}
	writeJSON(w, s.World.Quests(player))
}

func (s *Server) handleDisposition(w http.ResponseWriter, r *http.Request) {
	player, agent := r.PathValue("player"), r.PathValue("agent")
	d, err := s.World.AgentDisposition(player, agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"player": player, "agent": agent, "disposition": d})
}

// handleEvents returns recent events from memory. With ?kind= and a
// database it reads the stored history instead.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	if kind := r.URL.Query().Get("kind"); kind != "" && s.DB != nil {
		var since uint64
		if v := r.URL.Query().Get("since"); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				writeError(w, simerr.New(simerr.MalformedCommand, "since must be a tick number"))
				return
			}
			since = n
		}
		events, err := s.DB.EventsOfKind(engine.EventKind(kind), since, limit)
		if err != nil {
			slog.Error("reading events", "error", err)
			http.Error(w, "event history unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
		return
	}

	events := s.World.RecentEvents(limit)
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := events[:0]
		for _, e := range events {
			if string(e.Kind) == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	writeJSON(w, events)
}
