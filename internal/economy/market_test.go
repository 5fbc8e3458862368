package economy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/simerr"
)

func testMarket(t *testing.T, goods ...Good) *Market {
	t.Helper()
	cfg := config.Default()
	if len(goods) == 0 {
		goods = []Good{
			{ID: "bread", BasePrice: 10, Volatility: 0.1, Supply: 50, BaseSupply: 50},
			{ID: "iron", BasePrice: 20, Volatility: 0.3, Supply: 3, BaseSupply: 3},
		}
	}
	m, err := NewMarket(cfg.Economy, cfg.Policy, goods)
	require.NoError(t, err)
	return m
}

func TestBuyScenario(t *testing.T) {
	m := testMarket(t)
	require.NoError(t, m.OpenAccount("alice", KindPlayer, 100, nil))
	m.BeginTick(1)

	tr, err := m.SubmitTrade(1, "alice", "bread", 5, Buy)
	require.NoError(t, err)

	acct, _ := m.Account("alice")
	assert.Equal(t, int64(50), acct.Wallet)
	assert.Equal(t, 5, acct.Inventory["bread"])
	assert.Equal(t, int64(10), tr.UnitPrice)
	assert.Equal(t, 5, tr.Quantity)

	g, _ := m.Good("bread")
	assert.Greater(t, g.Price, 10.0)
	assert.Equal(t, 45, g.Supply)
	assert.Len(t, m.Log(), 1)
}

func TestContestedSupplyFirstTradeWins(t *testing.T) {
	m := testMarket(t)
	require.NoError(t, m.OpenAccount("a", KindPlayer, 1000, nil))
	require.NoError(t, m.OpenAccount("b", KindPlayer, 1000, nil))
	m.BeginTick(1)

	orders := []Order{
		{Ref: "2", Actor: "b", Good: "iron", Quantity: 3, Direction: Buy, Seq: 2},
		{Ref: "1", Actor: "a", Good: "iron", Quantity: 3, Direction: Buy, Seq: 1},
	}
	results := m.SettleTick(1, orders)
	require.Len(t, results, 2)

	assert.Equal(t, ActorID("a"), results[0].Order.Actor)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 3, results[0].Trade.Quantity)

	assert.Equal(t, ActorID("b"), results[1].Order.Actor)
	assert.ErrorIs(t, results[1].Err, simerr.ErrMarketExhausted)
	assert.Equal(t, simerr.KindStateConflict, simerr.KindOf(results[1].Err))
}

func TestPartialFill(t *testing.T) {
	m := testMarket(t)
	require.NoError(t, m.OpenAccount("a", KindPlayer, 1000, nil))
	m.BeginTick(1)

	tr, err := m.SubmitTrade(1, "a", "iron", 5, Buy)
	require.NoError(t, err)
	assert.Equal(t, 3, tr.Quantity)
	assert.True(t, tr.Partial())
}

func TestSettlementOrderRanksPlayersFirst(t *testing.T) {
	m := testMarket(t)
	require.NoError(t, m.OpenAccount("mayor", KindMayor, 1000, nil))
	require.NoError(t, m.OpenAccount("npc-b", KindNPC, 1000, nil))
	require.NoError(t, m.OpenAccount("npc-a", KindNPC, 1000, nil))
	require.NoError(t, m.OpenAccount("zed", KindPlayer, 1000, nil))
	require.NoError(t, m.OpenAccount("amy", KindPlayer, 1000, nil))

	orders := []Order{
		{Actor: "npc-b", Seq: 1},
		{Actor: "mayor", Seq: 2},
		{Actor: "npc-a", Seq: 9},
		{Actor: "zed", Seq: 3},
		{Actor: "amy", Seq: 4},
		{Actor: "npc-a", Seq: 5},
	}
	m.SortOrders(orders)

	var got []string
	for _, o := range orders {
		got = append(got, string(o.Actor))
	}
	assert.Equal(t, []string{"zed", "amy", "mayor", "npc-a", "npc-a", "npc-b"}, got)
	assert.Equal(t, uint64(5), orders[3].Seq)
}

func TestRejectionsMutateNothing(t *testing.T) {
	m := testMarket(t)
	require.NoError(t, m.OpenAccount("a", KindPlayer, 15, map[GoodID]int{"bread": 1}))
	m.BeginTick(1)
	before := m.Snapshot()

	cases := []struct {
		name string
		good GoodID
		qty  int
		dir  Direction
		want error
	}{
		{"zero quantity", "bread", 0, Buy, simerr.ErrInvalidQuantity},
		{"negative quantity", "bread", -2, Sell, simerr.ErrInvalidQuantity},
		{"unknown good", "silk", 1, Buy, simerr.ErrUnknownGood},
		{"bad direction", "bread", 1, Direction("hold"), simerr.ErrInvalidDirection},
		{"too poor", "bread", 2, Buy, simerr.ErrInsufficientFunds},
		{"not enough stock", "bread", 2, Sell, simerr.ErrInsufficientInventory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.SubmitTrade(1, "a", tc.good, tc.qty, tc.dir)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	_, err := m.SubmitTrade(1, "ghost", "bread", 1, Buy)
	assert.ErrorIs(t, err, simerr.ErrUnknownActor)

	assert.Equal(t, before, m.Snapshot())
}

func TestSellWithholdsTax(t *testing.T) {
	m := testMarket(t)
	require.NoError(t, m.OpenAccount("a", KindPlayer, 0, map[GoodID]int{"bread": 10}))
	m.BeginTick(1)
	treasury := m.Treasury()

	unit, err := m.QuoteSellPrice("bread")
	require.NoError(t, err)
	tr, err := m.SubmitTrade(1, "a", "bread", 10, Sell)
	require.NoError(t, err)

	gross := unit * 10
	tax := int64(float64(gross) * m.Policy().TaxRate)
	acct, _ := m.Account("a")
	assert.Equal(t, gross-tax, acct.Wallet)
	assert.Equal(t, tax, tr.Tax)
	assert.Equal(t, treasury-(gross-tax), m.Treasury())
	assert.Zero(t, acct.Inventory["bread"])
}

func TestTreasuryDepleted(t *testing.T) {
	cfg := config.Default()
	cfg.Economy.StartingTreasury = 5
	m, err := NewMarket(cfg.Economy, cfg.Policy, []Good{{ID: "gem", BasePrice: 100, Supply: 1}})
	require.NoError(t, err)
	require.NoError(t, m.OpenAccount("a", KindPlayer, 0, map[GoodID]int{"gem": 1}))

	_, err = m.SubmitTrade(1, "a", "gem", 1, Sell)
	assert.ErrorIs(t, err, simerr.ErrTreasuryDepleted)

	assert.ErrorIs(t, m.Grant(1, "a", 6), simerr.ErrTreasuryDepleted)
	require.NoError(t, m.Grant(1, "a", 5))
	assert.Zero(t, m.Treasury())
}

func TestCurrencyConservedAcrossTrades(t *testing.T) {
	m := testMarket(t)
	require.NoError(t, m.OpenAccount("a", KindPlayer, 500, map[GoodID]int{"iron": 2}))
	require.NoError(t, m.OpenAccount("b", KindNPC, 300, map[GoodID]int{"bread": 4}))
	total := m.TotalCurrency()

	for tick := uint64(1); tick <= 20; tick++ {
		m.BeginTick(tick)
		m.SettleTick(tick, []Order{
			{Actor: "a", Good: "bread", Quantity: 3, Direction: Buy, Seq: 1},
			{Actor: "b", Good: "bread", Quantity: 2, Direction: Sell, Seq: 2},
			{Actor: "a", Good: "iron", Quantity: 1, Direction: Sell, Seq: 3},
			{Actor: "b", Good: "iron", Quantity: 1, Direction: Buy, Seq: 4},
		})
		require.Equal(t, total, m.TotalCurrency(), "tick %d", tick)
		require.NoError(t, m.CheckInvariants())
	}
}

func TestPriceMoveBoundedPerTick(t *testing.T) {
	m := testMarket(t, Good{ID: "salt", BasePrice: 10, Volatility: 0.9, Supply: 1000, BaseSupply: 10})
	require.NoError(t, m.OpenAccount("a", KindPlayer, 1_000_000, nil))
	m.BeginTick(1)

	for range 10 {
		_, err := m.SubmitTrade(1, "a", "salt", 10, Buy)
		require.NoError(t, err)
	}
	g, _ := m.Good("salt")
	assert.InDelta(t, 10*(1+config.Default().Economy.MaxPriceDeltaPerTick), g.Price, 1e-9)

	m.BeginTick(2)
	_, err := m.SubmitTrade(2, "a", "salt", 10, Buy)
	require.NoError(t, err)
	g2, _ := m.Good("salt")
	assert.Greater(t, g2.Price, g.Price)
}

func TestPriceStaysAboveFloor(t *testing.T) {
	m := testMarket(t, Good{ID: "fish", BasePrice: 4, Volatility: 0.5, Supply: 0, BaseSupply: 1})
	require.NoError(t, m.OpenAccount("a", KindNPC, 0, map[GoodID]int{"fish": 1000}))

	for tick := uint64(1); tick <= 100; tick++ {
		m.BeginTick(tick)
		_, err := m.SubmitTrade(tick, "a", "fish", 5, Sell)
		require.NoError(t, err)
	}
	g, _ := m.Good("fish")
	assert.InDelta(t, 4*config.Default().Economy.PriceFloorRatio, g.Price, 1e-9)
	q, err := m.QuoteSellPrice("fish")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, q, int64(1))
}

func TestQuotesFollowScarcity(t *testing.T) {
	m := testMarket(t,
		Good{ID: "plenty", BasePrice: 10, Supply: 100, BaseSupply: 25},
		Good{ID: "scarce", BasePrice: 10, Supply: 1, BaseSupply: 25},
	)
	plenty, err := m.QuoteBuyPrice("plenty")
	require.NoError(t, err)
	scarce, err := m.QuoteBuyPrice("scarce")
	require.NoError(t, err)
	assert.Less(t, plenty, int64(10))
	assert.Greater(t, scarce, int64(10))

	_, err = m.QuoteBuyPrice("nothing")
	assert.ErrorIs(t, err, simerr.ErrUnknownGood)
}

func TestPolicyStagedUntilNextTick(t *testing.T) {
	m := testMarket(t)
	start := m.Policy()

	tax := start.TaxRate + 0.05
	staged, err := m.StagePolicy(PolicyChange{TaxRate: &tax})
	require.NoError(t, err)
	assert.InDelta(t, tax, staged.TaxRate, 1e-12)
	assert.Equal(t, start, m.Policy())

	applied, ok := m.BeginTick(1)
	require.True(t, ok)
	assert.InDelta(t, tax, applied.TaxRate, 1e-12)
	assert.Equal(t, applied, m.Policy())

	_, ok = m.BeginTick(2)
	assert.False(t, ok)
}

func TestPolicyBounds(t *testing.T) {
	m := testMarket(t)
	huge := 0.9
	bigStep := m.Policy().TaxRate + 0.2
	below := -0.1

	for _, v := range []*float64{&huge, &bigStep, &below} {
		_, err := m.StagePolicy(PolicyChange{TaxRate: v})
		assert.ErrorIs(t, err, simerr.ErrPolicyOutOfBounds)
	}
	_, err := m.StagePolicy(PolicyChange{})
	assert.ErrorIs(t, err, simerr.ErrMalformedCommand)
	_, staged := m.Staged()
	assert.False(t, staged)
}

func TestProduceConsume(t *testing.T) {
	m := testMarket(t)
	require.NoError(t, m.OpenAccount("farmer", KindNPC, 0, nil))
	total := m.TotalCurrency()

	require.NoError(t, m.Produce("farmer", "bread", 4))
	used, err := m.Consume("farmer", "bread", 6)
	require.NoError(t, err)
	assert.Equal(t, 4, used)
	assert.Equal(t, total, m.TotalCurrency())

	assert.ErrorIs(t, m.Produce("farmer", "cake", 1), simerr.ErrUnknownGood)
	assert.ErrorIs(t, m.Produce("nobody", "bread", 1), simerr.ErrUnknownActor)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := testMarket(t)
	require.NoError(t, m.OpenAccount("a", KindPlayer, 100, nil))
	m.BeginTick(1)
	_, err := m.SubmitTrade(1, "a", "bread", 2, Buy)
	require.NoError(t, err)
	snap := m.Snapshot()

	_, err = m.SubmitTrade(1, "a", "bread", 3, Buy)
	require.NoError(t, err)
	require.NoError(t, m.Restore(snap))

	assert.Equal(t, snap, m.Snapshot())
	assert.Len(t, m.Log(), 1)
	assert.Len(t, m.TradesAt(1), 1)
}

func TestLogKeepsRetentionWindow(t *testing.T) {
	cfg := config.Default()
	cfg.Economy.LogRetentionTicks = 3
	m, err := NewMarket(cfg.Economy, cfg.Policy, []Good{{ID: "bread", BasePrice: 10, Volatility: 0.1, Supply: 500, BaseSupply: 500}})
	require.NoError(t, err)
	require.NoError(t, m.OpenAccount("a", KindPlayer, 10000, nil))

	var snap State
	for tick := uint64(1); tick <= 6; tick++ {
		m.BeginTick(tick)
		_, err := m.SubmitTrade(tick, "a", "bread", 1, Buy)
		require.NoError(t, err)
		if tick == 3 {
			snap = m.Snapshot()
		}
	}
	// Tick 6 opened with cutoff 3.
	log := m.Log()
	require.Len(t, log, 4)
	assert.Equal(t, uint64(3), log[0].Tick)
	assert.Empty(t, m.TradesAt(2))
	assert.Len(t, m.TradesAt(6), 1)
	assert.Equal(t, uint64(6), log[3].ID)

	// An older snapshot still sees its own history.
	require.Len(t, snap.Log, 3)
	assert.Equal(t, uint64(1), snap.Log[0].Tick)
	require.NoError(t, m.Restore(snap))
	assert.Len(t, m.Log(), 3)
}

func TestLogUnboundedWithoutRetention(t *testing.T) {
	cfg := config.Default()
	cfg.Economy.LogRetentionTicks = 0
	m, err := NewMarket(cfg.Economy, cfg.Policy, []Good{{ID: "bread", BasePrice: 10, Volatility: 0.1, Supply: 500, BaseSupply: 500}})
	require.NoError(t, err)
	require.NoError(t, m.OpenAccount("a", KindPlayer, 10000, nil))
	for tick := uint64(1); tick <= 5; tick++ {
		m.BeginTick(tick)
		_, err := m.SubmitTrade(tick, "a", "bread", 1, Buy)
		require.NoError(t, err)
	}
	assert.Len(t, m.Log(), 5)
}
