package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/engine"
	"github.com/talgya/townsim/internal/simerr"
)

// commandResponse is returned by every command endpoint.
type commandResponse struct {
	Command engine.Command `json:"command"`
	Pending bool           `json:"pending,omitempty"` // Still waiting for its tick
	Result  *engine.Result `json:"result,omitempty"`
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Good      string `json:"good"`
		Quantity  int    `json:"quantity"`
		Direction string `json:"direction"`
	}
	if err := decodeBody(w, r, tradeSchema, &req); err != nil {
		writeError(w, err)
		return
	}
	cmd, t, err := s.World.SubmitTrade(r.PathValue("player"), economy.GoodID(req.Good), req.Quantity, economy.Direction(req.Direction))
	s.await(w, r, cmd, t, err)
}

func (s *Server) handleTalk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Agent string `json:"agent"`
	}
	if err := decodeBody(w, r, talkSchema, &req); err != nil {
		writeError(w, err)
		return
	}
	cmd, t, err := s.World.TalkTo(r.PathValue("player"), req.Agent)
	s.await(w, r, cmd, t, err)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	cmd, t, err := s.World.AcceptQuest(r.PathValue("player"), r.PathValue("quest"))
	s.await(w, r, cmd, t, err)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	cmd, t, err := s.World.AbandonQuest(r.PathValue("player"), r.PathValue("quest"))
	s.await(w, r, cmd, t, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.World.Cancel(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// await waits for the tick that settles cmd. If the tick does not come
// within CommandTimeout the command stays queued and the client gets 202
// with its id.
func (s *Server) await(w http.ResponseWriter, r *http.Request, cmd engine.Command, t *engine.Ticket, err error) {
	if err != nil {
		writeError(w, err)
		return
	}

	timeout := s.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	res, err := t.Wait(ctx)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			slog.Debug("client left before settlement", "command", cmd.ID, "err", err)
		}
		writeJSONStatus(w, http.StatusAccepted, commandResponse{Command: cmd, Pending: true})
		return
	}

	status := http.StatusOK
	switch {
	case res.Cancelled:
		status = http.StatusConflict
	case !res.Outcome.OK:
		status = statusForOutcome(res.Outcome.Kind)
	}
	writeJSONStatus(w, status, commandResponse{Command: cmd, Result: &res})
}

const defaultCommandTimeout = 5 * time.Second

// statusForOutcome maps a settled command's outcome kind to an HTTP status.
func statusForOutcome(kind string) int {
	for _, k := range []simerr.Kind{simerr.KindValidation, simerr.KindStateConflict} {
		if kind == k.String() {
			return statusFor(k)
		}
	}
	return http.StatusInternalServerError
}
