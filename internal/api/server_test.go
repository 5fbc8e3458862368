package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/content"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/engine"
	"github.com/talgya/townsim/internal/simerr"
)

type idleBrain struct{}

func (idleBrain) Decide(obs agents.Observation) agents.Proposal {
	return agents.Proposal{Agent: obs.Self.ID, Intent: agents.IntentIdle}
}

func newServer(t *testing.T) (*Server, *engine.World, http.Handler) {
	t.Helper()
	w, err := engine.New(config.Default(), content.Default(), engine.WithBrain(idleBrain{}))
	require.NoError(t, err)
	s := &Server{
		World:          w,
		Clock:          engine.NewClock(w, time.Second),
		AdminKey:       "secret",
		CommandTimeout: 2 * time.Second,
	}
	return s, w, s.Handler()
}

func request(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// settle sends a command and runs the tick it waits for.
func settle(t *testing.T, h http.Handler, w *engine.World, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
		}
		return w.Status().Queued > 0
	}, time.Second, time.Millisecond)

	select {
	case <-done:
		return rec
	default:
	}
	_, err := w.Step()
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("command was never answered")
	}
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestTradeCommand(t *testing.T) {
	_, w, h := newServer(t)

	rec := settle(t, h, w, request("POST", "/api/v1/players/p1/trade", `{"good":"grain","quantity":2,"direction":"buy"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[commandResponse](t, rec)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Outcome.OK)
	assert.Equal(t, 2, resp.Result.Trade.Quantity)
	assert.Equal(t, "p1", resp.Command.Player)

	rec = serve(h, request("GET", "/api/v1/players/p1", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[engine.PlayerView](t, rec)
	assert.Equal(t, 2, p.Inventory["grain"])
	assert.Equal(t, 100-2*resp.Result.Trade.UnitPrice, p.Wallet)
}

func TestTradeRejectedWithConflict(t *testing.T) {
	_, w, h := newServer(t)
	rec := settle(t, h, w, request("POST", "/api/v1/players/p1/trade", `{"good":"iron","quantity":1,"direction":"sell"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[commandResponse](t, rec)
	assert.Equal(t, simerr.InsufficientInventory, resp.Result.Outcome.Code)
}

func TestCommandValidation(t *testing.T) {
	_, _, h := newServer(t)
	tests := []struct {
		name string
		path string
		body string
		code simerr.Code
	}{
		{"missing direction", "/api/v1/players/p1/trade", `{"good":"grain","quantity":1}`, simerr.MalformedCommand},
		{"zero quantity", "/api/v1/players/p1/trade", `{"good":"grain","quantity":0,"direction":"buy"}`, simerr.MalformedCommand},
		{"fractional quantity", "/api/v1/players/p1/trade", `{"good":"grain","quantity":1.5,"direction":"buy"}`, simerr.MalformedCommand},
		{"extra field", "/api/v1/players/p1/trade", `{"good":"grain","quantity":1,"direction":"buy","price":1}`, simerr.MalformedCommand},
		{"not json", "/api/v1/players/p1/trade", `good=grain`, simerr.MalformedCommand},
		{"unknown good", "/api/v1/players/p1/trade", `{"good":"gold","quantity":1,"direction":"buy"}`, simerr.UnknownGood},
		{"unknown agent", "/api/v1/players/p1/talk", `{"agent":"nobody"}`, simerr.UnknownAgent},
		{"player named like an npc", "/api/v1/players/guard_ida/talk", `{"agent":"mayor_hale"}`, simerr.MalformedCommand},
		{"unknown quest", "/api/v1/players/p1/quests/dragon/accept", "", simerr.UnknownQuest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, request("POST", tt.path, tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			out := decode[simerr.Outcome](t, rec)
			assert.False(t, out.OK)
			assert.Equal(t, tt.code, out.Code)
		})
	}
}

func TestQuestCommands(t *testing.T) {
	_, w, h := newServer(t)

	rec := settle(t, h, w, request("POST", "/api/v1/players/p1/talk", `{"agent":"mayor_hale"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = settle(t, h, w, request("POST", "/api/v1/players/p1/quests/welcome/accept", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(h, request("GET", "/api/v1/players/p1/quests?state=active", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[[]map[string]any](t, rec)
	require.Len(t, active, 1)
	assert.Equal(t, "welcome", active[0]["quest"])

	rec = settle(t, h, w, request("POST", "/api/v1/players/p1/quests/welcome/abandon", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = settle(t, h, w, request("POST", "/api/v1/players/p1/quests/crown_favor/accept", ""))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(h, request("GET", "/api/v1/players/p1/reputation", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	standing := decode[[]engine.Standing](t, rec)
	assert.NotEmpty(t, standing)
}

func TestCommandPendingPastTimeout(t *testing.T) {
	s, _, _ := newServer(t)
	s.CommandTimeout = 20 * time.Millisecond
	h := s.Handler()

	rec := serve(h, request("POST", "/api/v1/players/p1/talk", `{"agent":"ann_farmer"}`))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[commandResponse](t, rec)
	assert.True(t, resp.Pending)
	require.NotEmpty(t, resp.Command.ID)

	rec = serve(h, request("DELETE", "/api/v1/commands/"+resp.Command.ID, ""))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(h, request("DELETE", "/api/v1/commands/"+resp.Command.ID, ""))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, simerr.CommandCommitted, decode[simerr.Outcome](t, rec).Code)
}

func TestReads(t *testing.T) {
	_, w, h := newServer(t)

	rec := serve(h, request("GET", "/api/v1/market", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	market := decode[engine.MarketView](t, rec)
	assert.Len(t, market.Quotes, 6)
	assert.Equal(t, int64(10000), market.Treasury)

	rec = serve(h, request("GET", "/api/v1/agents", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]engine.AgentView](t, rec), 7)

	rec = serve(h, request("GET", "/api/v1/status", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.Equal(t, "Millbrook", status["town"])
	assert.Equal(t, 1.0, status["speed"])
	assert.Equal(t, "10,000 crowns", status["treasury_text"])

	rec = serve(h, request("GET", "/api/v1/players/nobody", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, request("GET", "/api/v1/players/p1/disposition/nobody", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, request("GET", "/api/v1/players/p1/disposition/mayor_hale", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decode[map[string]any](t, rec)["disposition"])

	rec = serve(h, request("GET", "/api/v1/players/p1/reputation", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	_, _, err := w.SubmitTrade("p1", "bread", 1, economy.Buy)
	require.NoError(t, err)
	_, err = w.Step()
	require.NoError(t, err)

	rec = serve(h, request("GET", "/api/v1/events?kind=trade-settled", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]map[string]any](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, "trade-settled", events[0]["kind"])
}

func TestAdminSpeed(t *testing.T) {
	s, _, h := newServer(t)

	rec := serve(h, request("POST", "/api/v1/speed", `{"speed":5}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := request("POST", "/api/v1/speed", `{"speed":5}`)
	req.Header.Set("Authorization", "Bearer secret")
	rec = serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5.0, s.Clock.Speed())

	req = request("POST", "/api/v1/speed", `{"speed":500}`)
	req.Header.Set("Authorization", "Bearer secret")
	rec = serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 5.0, s.Clock.Speed())

	rec = serve(h, request("GET", "/api/v1/speed", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"speed":5}`, rec.Body.String())

	s.AdminKey = ""
	h = s.Handler()
	req = request("POST", "/api/v1/speed", `{"speed":1}`)
	req.Header.Set("Authorization", "Bearer ")
	assert.Equal(t, http.StatusForbidden, serve(h, req).Code)
}

func TestSnapshotWithoutDatabase(t *testing.T) {
	_, _, h := newServer(t)
	req := request("POST", "/api/v1/snapshot", "")
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, req).Code)
}

func TestCommandRateLimit(t *testing.T) {
	s, _, _ := newServer(t)
	s.CommandsPerMinute = 2
	h := s.Handler()

	for range 2 {
		rec := serve(h, request("POST", "/api/v1/players/p1/trade", `{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := serve(h, request("POST", "/api/v1/players/p1/trade", `{}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, serve(h, request("GET", "/api/v1/market", "")).Code)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 61, rl.RetryAfter("a"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))
}

func TestClientIP(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(r, nil))
	assert.Equal(t, "10.0.0.1", clientIP(r, proxies))

	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", clientIP(r, nil))
	assert.Equal(t, "1.2.3.4", clientIP(r, proxies))

	// A client can prepend anything; only the hop our proxy saw counts.
	r.Header.Set("X-Forwarded-For", "6.6.6.6, 1.2.3.4")
	assert.Equal(t, "1.2.3.4", clientIP(r, proxies))

	// Direct clients cannot pick their own bucket.
	r.RemoteAddr = "5.6.7.8:4000"
	assert.Equal(t, "5.6.7.8", clientIP(r, proxies))
}

func TestRateLimitIgnoresSpoofedForwarding(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	h := RateLimitMiddleware(rl, nil, func(w http.ResponseWriter, r *http.Request) {})
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		r := httptest.NewRequest("POST", "/", nil)
		r.RemoteAddr = "5.6.7.8:4000"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("1.1.1.%d", i))
		rec := httptest.NewRecorder()
		h(rec, r)
		assert.Equal(t, want, rec.Code)
	}
}

func TestStream(t *testing.T) {
	_, w, h := newServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return w.Bus().Subscribers() == 1 }, time.Second, time.Millisecond)

	_, _, err = w.SubmitTrade("p1", "ale", 1, economy.Buy)
	require.NoError(t, err)
	_, err = w.Step()
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var e engine.Event
		require.NoError(t, json.Unmarshal(msg, &e))
		if e.Kind == engine.EventTradeSettled {
			break
		}
	}

	conn.Close()
	require.Eventually(t, func() bool { return w.Bus().Subscribers() == 0 }, 3*time.Second, 5*time.Millisecond)
}
