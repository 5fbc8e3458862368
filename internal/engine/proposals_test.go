package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/content"
	"github.com/talgya/townsim/internal/economy"
)

// scriptedBrain plays fixed proposals on given ticks; everyone else idles.
type scriptedBrain map[uint64]map[agents.AgentID]agents.Proposal

func (b scriptedBrain) Decide(obs agents.Observation) agents.Proposal {
	if p, ok := b[obs.Tick][obs.Self.ID]; ok {
		p.Agent = obs.Self.ID
		return p
	}
	return agents.Proposal{Agent: obs.Self.ID, Intent: agents.IntentIdle}
}

func policyEvents(events []Event) []PolicyEvent {
	var out []PolicyEvent
	for _, e := range events {
		if e.Kind == EventMayorPolicyChanged {
			out = append(out, e.Data.(PolicyEvent))
		}
	}
	return out
}

func tradeBy(t *testing.T, events []Event, actor string) economy.Trade {
	t.Helper()
	for _, e := range events {
		if e.Kind != EventTradeSettled {
			continue
		}
		if tr := e.Data.(economy.Trade); string(tr.Actor) == actor {
			return tr
		}
	}
	t.Fatalf("no trade settled for %s", actor)
	return economy.Trade{}
}

func TestMayorPolicyTakesEffectNextTick(t *testing.T) {
	rate := 0.10
	cfg := config.Default()
	cfg.Economy.PlayerStartingWallet = 1000
	w, err := New(cfg, content.Default(), WithBrain(scriptedBrain{
		1: {"mayor_hale": {
			Intent: agents.IntentPolicyChange,
			Policy: &economy.PolicyChange{TaxRate: &rate, Reason: "the wall needs mending"},
		}},
	}))
	require.NoError(t, err)
	before := w.MarketSnapshot().Policy
	require.InDelta(t, 0.05, before.TaxRate, 1e-9)

	// Tax is charged on sales; stock up first.
	_, _, err = w.SubmitTrade("p1", "iron", 6, economy.Buy)
	require.NoError(t, err)
	report := step(t, w)
	assert.Empty(t, policyEvents(report.Events))

	_, _, err = w.SubmitTrade("p1", "iron", 3, economy.Sell)
	require.NoError(t, err)
	report = step(t, w)

	staged := policyEvents(report.Events)
	require.Len(t, staged, 1)
	assert.True(t, staged[0].Staged)
	assert.Equal(t, "mayor_hale", staged[0].Mayor)
	assert.Equal(t, uint64(2), staged[0].EffectiveTick)
	assert.InDelta(t, rate, staged[0].Policy.TaxRate, 1e-9)

	// Settled under the old rate.
	tr := tradeBy(t, report.Events, "p1")
	require.GreaterOrEqual(t, tr.Gross, int64(20))
	assert.Equal(t, int64(math.Floor(float64(tr.Gross)*before.TaxRate)), tr.Tax)
	view := w.MarketSnapshot()
	assert.Equal(t, before, view.Policy)
	require.NotNil(t, view.Staged)
	assert.InDelta(t, rate, view.Staged.TaxRate, 1e-9)

	_, _, err = w.SubmitTrade("p1", "iron", 3, economy.Sell)
	require.NoError(t, err)
	report = step(t, w)

	applied := policyEvents(report.Events)
	require.Len(t, applied, 1)
	assert.False(t, applied[0].Staged)
	assert.Equal(t, uint64(2), applied[0].EffectiveTick)

	tr = tradeBy(t, report.Events, "p1")
	require.GreaterOrEqual(t, tr.Gross, int64(20))
	assert.Equal(t, int64(math.Floor(float64(tr.Gross)*rate)), tr.Tax)
	view = w.MarketSnapshot()
	assert.InDelta(t, rate, view.Policy.TaxRate, 1e-9)
	assert.Nil(t, view.Staged)
}

func TestMalformedProposalsAreDropped(t *testing.T) {
	rate := 0.10
	w := newWorld(t, WithBrain(scriptedBrain{
		0: {
			"vera_merchant": {
				Intent: agents.IntentPolicyChange,
				Policy: &economy.PolicyChange{TaxRate: &rate},
			},
			"rolf_smith": {
				Intent: agents.IntentTrade,
				Trade:  &agents.TradeIntent{Good: "unobtanium", Quantity: 1, Direction: economy.Buy},
			},
			"guard_ida": {
				Intent: agents.IntentTrade,
				Trade:  &agents.TradeIntent{Good: "bread", Quantity: 0, Direction: economy.Buy},
			},
			"bo_farmer": {
				Intent: agents.IntentTrade,
				Trade:  &agents.TradeIntent{Good: "grain", Quantity: 1, Direction: economy.Buy},
			},
		},
	}))
	_, tk, err := w.SubmitTrade("p1", "bread", 1, economy.Buy)
	require.NoError(t, err)

	report, err := w.Step()
	require.NoError(t, err)
	assert.False(t, report.Aborted)
	assert.Equal(t, 2, report.Trades)
	assert.True(t, wait(t, tk).Outcome.OK)

	tr := tradeBy(t, report.Events, "bo_farmer")
	assert.Equal(t, economy.GoodID("grain"), tr.Good)
	assert.Equal(t, 1, tr.Quantity)

	assert.Empty(t, policyEvents(report.Events))
	view := w.MarketSnapshot()
	assert.Nil(t, view.Staged)
	assert.InDelta(t, 0.05, view.Policy.TaxRate, 1e-9)
	assert.Equal(t, uint64(1), w.Tick())
}
