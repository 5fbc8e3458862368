package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/content"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/simerr"
)

// failOnce returns a fault hook that fails the first time it sees id.
func failOnce(id, blame string) func(string) error {
	fired := false
	return func(action string) error {
		if fired || action != id {
			return nil
		}
		fired = true
		return simerr.Internal(blame, "injected fault in %s", action)
	}
}

// script submits a fixed mix of commands for tick i.
func script(t *testing.T, w *World, i int) {
	t.Helper()
	var err error
	switch i % 5 {
	case 0:
		_, _, err = w.SubmitTrade("p1", "bread", 1, economy.Buy)
	case 1:
		_, _, err = w.TalkTo("p2", "tom_barkeep")
	case 2:
		_, _, err = w.SubmitTrade("p2", "ale", 2, economy.Buy)
	case 3:
		_, _, err = w.SubmitTrade("p1", "bread", 1, economy.Sell)
	case 4:
		_, _, err = w.AcceptQuest("p2", "a_round_for_the_house")
	}
	require.NoError(t, err)
}

func TestAbortedTickRollsBackAndRetries(t *testing.T) {
	w := newWorld(t, WithBrain(idleBrain{}))
	_, good, err := w.SubmitTrade("p1", "grain", 1, economy.Buy)
	require.NoError(t, err)
	bad, badTicket, err := w.SubmitTrade("p2", "iron", 1, economy.Buy)
	require.NoError(t, err)
	w.fault = failOnce(bad.ID, bad.ID)

	before, err := w.Digest()
	require.NoError(t, err)

	report, err := w.Step()
	require.Error(t, err)
	assert.ErrorIs(t, err, simerr.ErrInvariantViolated)
	assert.True(t, report.Aborted)
	assert.True(t, hasEvent(report.Events, EventTickAborted))

	after, err := w.Digest()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(0), w.Tick())
	assert.Equal(t, 2, w.Status().Retrying)
	assert.Equal(t, uint64(1), w.Status().AbortedTicks)
	_, joined := w.Player("p1")
	assert.False(t, joined)

	report = step(t, w)
	assert.Equal(t, uint64(0), report.Tick)
	assert.Equal(t, uint64(1), w.Tick())

	assert.True(t, wait(t, good).Outcome.OK)
	res := wait(t, badTicket)
	assert.False(t, res.Outcome.OK)
	assert.Equal(t, simerr.InvariantViolated, res.Outcome.Code)

	log := w.DrainCommandLog()
	require.Len(t, log, 1)
	require.Len(t, log[0].Commands, 1)
	assert.Equal(t, "p1", log[0].Commands[0].Player)
}

func TestAgentFaultBenchesAgentForRetry(t *testing.T) {
	w := newWorld(t)
	w.fault = failOnce(agentAction+"vera_merchant", agentAction+"vera_merchant")

	_, err := w.Step()
	require.Error(t, err)
	assert.Equal(t, uint64(0), w.Tick())

	step(t, w)
	log := w.DrainCommandLog()
	require.Len(t, log, 1)
	assert.Equal(t, []string{"vera_merchant"}, log[0].Benched)

	// Benching lasts one tick.
	step(t, w)
	assert.Empty(t, w.DrainCommandLog())
}

func TestUnattributedFaultQuarantinesBatch(t *testing.T) {
	w := newWorld(t, WithBrain(idleBrain{}))
	cmd, tk, err := w.TalkTo("p1", "mayor_hale")
	require.NoError(t, err)
	w.fault = failOnce(cmd.ID, "")

	_, err = w.Step()
	require.Error(t, err)

	step(t, w)
	res := wait(t, tk)
	assert.Equal(t, simerr.InvariantViolated, res.Outcome.Code)
	_, ok := w.Player("p1")
	assert.False(t, ok)
}

func TestSameSeedSameHistory(t *testing.T) {
	a := newWorld(t)
	b := newWorld(t)
	for i := range 40 {
		script(t, a, i)
		script(t, b, i)
		step(t, a)
		step(t, b)
	}
	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)

	cfg := config.Default()
	cfg.Simulation.Seed = 7
	c, err := New(cfg, content.Default())
	require.NoError(t, err)
	assert.NotEqual(t, a.Seed(), c.Seed())
}

func TestReplayReproducesState(t *testing.T) {
	w := newWorld(t)
	for i := range 5 {
		script(t, w, i)
		step(t, w)
	}
	snap := w.Snapshot()
	w.DrainCommandLog()

	for i := 5; i < 30; i++ {
		script(t, w, i)
		if i == 12 {
			w.fault = failOnce(agentAction+"ann_farmer", agentAction+"ann_farmer")
			_, err := w.Step()
			require.Error(t, err)
			w.fault = nil
		}
		step(t, w)
	}
	log := w.DrainCommandLog()
	want, err := w.Digest()
	require.NoError(t, err)

	r, err := Replay(config.Default(), content.Default(), snap, log, w.Tick())
	require.NoError(t, err)
	assert.Equal(t, w.Tick(), r.Tick())
	got, err := r.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRestoreRejectsForeignSnapshot(t *testing.T) {
	w := newWorld(t)
	snap := w.Snapshot()

	other := snap
	other.Seed = 99
	assert.Error(t, w.Restore(other))

	other = snap
	other.Town = "Elsewhere"
	assert.Error(t, w.Restore(other))

	other = snap
	other.Version = SnapshotVersion + 1
	assert.Error(t, w.Restore(other))

	require.NoError(t, w.Restore(snap))
}

func TestResumeContinuesFromSnapshot(t *testing.T) {
	w := newWorld(t)
	for i := range 8 {
		script(t, w, i)
		step(t, w)
	}
	snap := w.Snapshot()

	cfg := config.Default()
	cfg.Simulation.Seed = 1
	r, err := Resume(cfg, content.Default(), snap)
	require.NoError(t, err)
	assert.Equal(t, snap.Seed, r.Seed())

	step(t, w)
	step(t, r)
	dw, err := w.Digest()
	require.NoError(t, err)
	dr, err := r.Digest()
	require.NoError(t, err)
	assert.Equal(t, dw, dr)
}

func TestCurrencyIsConserved(t *testing.T) {
	w := newWorld(t)
	start := w.Status().TotalCurrency
	wallet := config.Default().Economy.PlayerStartingWallet

	for i := range 60 {
		script(t, w, i)
		step(t, w)
		players := int64(w.Status().Players)
		assert.Equal(t, start+players*wallet, w.Status().TotalCurrency, "tick %d", i)
	}
}

func TestEventsReachSubscribersAfterCommit(t *testing.T) {
	w := newWorld(t, WithBrain(idleBrain{}))
	id, ch := w.Bus().Subscribe()
	defer w.Bus().Unsubscribe(id)

	_, _, err := w.SubmitTrade("p1", "grain", 1, economy.Buy)
	require.NoError(t, err)
	report := step(t, w)
	require.NotEmpty(t, report.Events)

	for _, want := range report.Events {
		got := <-ch
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, uint64(0), got.Tick)
	}
	assert.Equal(t, report.Events, w.RecentEvents(len(report.Events)))
}
