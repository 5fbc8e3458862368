package economy

import (
	"cmp"
	"slices"
)

// Order is a trade waiting for settlement.
type Order struct {
	Ref       string    `json:"ref"` // Command or proposal id
	Actor     ActorID   `json:"actor"`
	Good      GoodID    `json:"good"`
	Quantity  int       `json:"quantity"`
	Direction Direction `json:"direction"`
	Seq       uint64    `json:"seq"` // Arrival (players) or submission (agents) order
}

// TradeResult pairs an order with its settlement.
type TradeResult struct {
	Order Order
	Trade Trade
	Err   error
}

// BeginTick opens a tick: a staged policy takes effect and each good's
// opening price is recorded for the per-tick move bound. Trades older than
// the retention window leave the log. It returns the policy that was
// applied, if any.
func (m *Market) BeginTick(tick uint64) (Policy, bool) {
	applied := false
	var p Policy
	if m.staged != nil {
		p = *m.staged
		m.policy = p
		m.staged = nil
		applied = true
	}
	clear(m.openPrice)
	for _, id := range m.order {
		m.openPrice[id] = m.goods[id].Price
	}
	m.trimLog(tick)
	return p, applied
}

// trimLog drops trades settled more than LogRetentionTicks before tick.
// Snapshots may share the backing array; entries only leave from the front.
func (m *Market) trimLog(tick uint64) {
	keep := m.cfg.LogRetentionTicks
	if keep == 0 || tick < keep {
		return
	}
	cutoff := tick - keep
	i, _ := slices.BinarySearchFunc(m.log, cutoff, func(t Trade, c uint64) int { return cmp.Compare(t.Tick, c) })
	if i > 0 {
		m.log = m.log[i:]
	}
}

// SortOrders puts a batch in settlement order: players by arrival, then
// the Mayor, then NPCs by actor id and submission sequence.
func (m *Market) SortOrders(orders []Order) {
	rank := func(o Order) int {
		if a, ok := m.accounts[o.Actor]; ok {
			return a.Kind.rank()
		}
		return KindNPC.rank()
	}
	slices.SortStableFunc(orders, func(x, y Order) int {
		rx, ry := rank(x), rank(y)
		if rx != ry {
			return cmp.Compare(rx, ry)
		}
		if rx == KindPlayer.rank() {
			return cmp.Compare(x.Seq, y.Seq)
		}
		if c := cmp.Compare(x.Actor, y.Actor); c != 0 {
			return c
		}
		return cmp.Compare(x.Seq, y.Seq)
	})
}

// SettleTick applies a batch of orders in deterministic order. Earlier
// orders win contested goods; later buys of an exhausted good fail with
// MarketExhausted. The input slice is reordered in place.
func (m *Market) SettleTick(tick uint64, orders []Order) []TradeResult {
	m.SortOrders(orders)
	results := make([]TradeResult, 0, len(orders))
	for _, o := range orders {
		t, err := m.SubmitTrade(tick, o.Actor, o.Good, o.Quantity, o.Direction)
		results = append(results, TradeResult{Order: o, Trade: t, Err: err})
	}
	return results
}
