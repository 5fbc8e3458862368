package economy

import (
	"math"

	"github.com/talgya/townsim/internal/simerr"
)

// SubmitTrade validates and settles one trade against the treasury. On
// success wallet, inventory, supply, treasury, price and the transaction
// log change together; on error nothing changes.
func (m *Market) SubmitTrade(tick uint64, actor ActorID, good GoodID, qty int, dir Direction) (Trade, error) {
	if qty <= 0 {
		return Trade{}, simerr.New(simerr.InvalidQuantity, "quantity must be positive, got %d", qty)
	}
	if !dir.Valid() {
		return Trade{}, simerr.New(simerr.InvalidDirection, "direction must be buy or sell, got %q", dir)
	}
	g, ok := m.goods[good]
	if !ok {
		return Trade{}, simerr.New(simerr.UnknownGood, "unknown good %q", good)
	}
	a, ok := m.accounts[actor]
	if !ok {
		return Trade{}, simerr.New(simerr.UnknownActor, "unknown actor %q", actor)
	}

	t := Trade{
		Tick:      tick,
		Actor:     actor,
		Good:      good,
		Direction: dir,
		Requested: qty,
	}

	switch dir {
	case Buy:
		if g.Supply == 0 {
			return Trade{}, simerr.New(simerr.MarketExhausted, "no %s left in the market", good)
		}
		filled := min(qty, g.Supply)
		unit := m.buyQuote(g)
		cost := unit * int64(filled)
		if a.Wallet < cost {
			return Trade{}, simerr.New(simerr.InsufficientFunds, "%d %s cost %d crowns, wallet holds %d", filled, good, cost, a.Wallet)
		}
		a.Wallet -= cost
		a.Inventory[good] += filled
		g.Supply -= filled
		m.treasury += cost

		t.Quantity = filled
		t.UnitPrice = unit
		t.Gross = cost
		m.movePrice(g, filled, 1)

	case Sell:
		if a.Inventory[good] < qty {
			return Trade{}, simerr.New(simerr.InsufficientInventory, "selling %d %s, holding %d", qty, good, a.Inventory[good])
		}
		unit := m.sellQuote(g)
		gross := unit * int64(qty)
		tax := int64(math.Floor(float64(gross) * m.policy.TaxRate))
		net := gross - tax
		if m.treasury < net {
			return Trade{}, simerr.New(simerr.TreasuryDepleted, "treasury holds %d, sale pays %d", m.treasury, net)
		}
		a.Inventory[good] -= qty
		if a.Inventory[good] == 0 {
			delete(a.Inventory, good)
		}
		a.Wallet += net
		g.Supply += qty
		m.treasury -= net

		t.Quantity = qty
		t.UnitPrice = unit
		t.Gross = gross
		t.Tax = tax
		m.movePrice(g, qty, -1)
	}

	m.nextTradeID++
	t.ID = m.nextTradeID
	t.PriceAfter = g.Price
	m.log = append(m.log, t)
	return t, nil
}

// movePrice shifts a good's price in the direction of the trade. The move
// accumulated inside one tick stays within MaxPriceDeltaPerTick of the
// opening price, and the price never leaves [floor, ceiling].
func (m *Market) movePrice(g *Good, filled int, sign float64) {
	delta := g.Price * m.effectiveVolatility(g) * m.cfg.Impact * float64(filled) / float64(max(g.BaseSupply, 1))
	next := g.Price + sign*delta

	open, ok := m.openPrice[g.ID]
	if !ok {
		open = g.Price
		m.openPrice[g.ID] = open
	}
	band := open * m.cfg.MaxPriceDeltaPerTick
	next = clamp(next, open-band, open+band)
	next = clamp(next, g.BasePrice*m.cfg.PriceFloorRatio, g.BasePrice*m.cfg.PriceCeilingRatio)
	g.Price = next
}
