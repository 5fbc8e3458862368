package economy

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/simerr"
)

// Market is the town economy. It is not safe for concurrent use; the world
// serialises every call.
type Market struct {
	cfg    config.Economy
	bounds config.Policy

	goods    map[GoodID]*Good
	order    []GoodID // Sorted good ids
	accounts map[ActorID]*Account
	treasury int64

	policy Policy
	staged *Policy

	log         []Trade
	nextTradeID uint64

	// Price of each good when the current tick opened.
	openPrice map[GoodID]float64
}

// NewMarket builds a market from a goods catalog. Price defaults to
// BasePrice and BaseSupply to the opening supply.
func NewMarket(cfg config.Economy, bounds config.Policy, goods []Good) (*Market, error) {
	m := &Market{
		cfg:       cfg,
		bounds:    bounds,
		goods:     make(map[GoodID]*Good, len(goods)),
		accounts:  make(map[ActorID]*Account),
		treasury:  cfg.StartingTreasury,
		policy:    DefaultPolicy(bounds),
		openPrice: make(map[GoodID]float64, len(goods)),
	}
	for _, g := range goods {
		if g.Price == 0 {
			g.Price = g.BasePrice
		}
		if g.BaseSupply == 0 {
			g.BaseSupply = max(g.Supply, 1)
		}
		if err := g.validate(); err != nil {
			return nil, err
		}
		if _, dup := m.goods[g.ID]; dup {
			return nil, fmt.Errorf("duplicate good %s", g.ID)
		}
		g := g
		m.goods[g.ID] = &g
		m.order = append(m.order, g.ID)
	}
	slices.Sort(m.order)
	return m, nil
}

// OpenAccount creates an account for actor. Opening an existing account is
// a no-op so players can rejoin.
func (m *Market) OpenAccount(actor ActorID, kind ActorKind, wallet int64, inventory map[GoodID]int) error {
	if actor == "" {
		return simerr.New(simerr.UnknownActor, "empty actor id")
	}
	if _, ok := m.accounts[actor]; ok {
		return nil
	}
	if wallet < 0 {
		return simerr.New(simerr.InvalidQuantity, "opening wallet %d < 0", wallet)
	}
	inv := make(map[GoodID]int, len(inventory))
	for g, q := range inventory {
		if _, ok := m.goods[g]; !ok {
			return simerr.New(simerr.UnknownGood, "unknown good %q", g)
		}
		if q < 0 {
			return simerr.New(simerr.InvalidQuantity, "opening stock of %s is %d", g, q)
		}
		inv[g] = q
	}
	m.accounts[actor] = &Account{Kind: kind, Wallet: wallet, Inventory: inv}
	return nil
}

// Account returns a copy of actor's account.
func (m *Market) Account(actor ActorID) (Account, bool) {
	a, ok := m.accounts[actor]
	if !ok {
		return Account{}, false
	}
	return a.clone(), true
}

// HasGood reports whether the good exists.
func (m *Market) HasGood(id GoodID) bool {
	_, ok := m.goods[id]
	return ok
}

// Good returns a copy of one good.
func (m *Market) Good(id GoodID) (Good, bool) {
	g, ok := m.goods[id]
	if !ok {
		return Good{}, false
	}
	return *g, true
}

// Treasury returns the town treasury balance.
func (m *Market) Treasury() int64 { return m.treasury }

// Policy returns the policy in force this tick.
func (m *Market) Policy() Policy { return m.policy }

// Bounds returns the configured policy bounds.
func (m *Market) Bounds() config.Policy { return m.bounds }

// Log returns the transaction log. Callers must not modify it.
func (m *Market) Log() []Trade { return slices.Clip(m.log) }

// TradesAt returns the trades settled during tick.
func (m *Market) TradesAt(tick uint64) []Trade {
	i := sort.Search(len(m.log), func(i int) bool { return m.log[i].Tick >= tick })
	j := i
	for j < len(m.log) && m.log[j].Tick == tick {
		j++
	}
	return slices.Clone(m.log[i:j])
}

// multiplier is the scarcity term of the elasticity curve.
func (m *Market) multiplier(g *Good) float64 {
	ratio := float64(g.BaseSupply) / float64(max(g.Supply, 1))
	mult := math.Pow(ratio, m.cfg.Elasticity)
	return clamp(mult, m.cfg.MinMultiplier, m.cfg.MaxMultiplier)
}

func (m *Market) effectiveVolatility(g *Good) float64 {
	return math.Min(g.Volatility, m.policy.VolatilityCeiling)
}

func (m *Market) buyQuote(g *Good) int64 {
	return max(int64(math.Round(g.Price*m.multiplier(g))), 1)
}

func (m *Market) sellQuote(g *Good) int64 {
	return max(int64(math.Floor(g.Price*m.multiplier(g)*(1-m.effectiveVolatility(g)))), 1)
}

// QuoteBuyPrice is the unit price an actor pays to buy good now.
func (m *Market) QuoteBuyPrice(id GoodID) (int64, error) {
	g, ok := m.goods[id]
	if !ok {
		return 0, simerr.New(simerr.UnknownGood, "unknown good %q", id)
	}
	return m.buyQuote(g), nil
}

// QuoteSellPrice is the unit price (before tax) an actor receives when
// selling good now.
func (m *Market) QuoteSellPrice(id GoodID) (int64, error) {
	g, ok := m.goods[id]
	if !ok {
		return 0, simerr.New(simerr.UnknownGood, "unknown good %q", id)
	}
	return m.sellQuote(g), nil
}

// Quotes returns every good's market view, sorted by id.
func (m *Market) Quotes() []Quote {
	out := make([]Quote, 0, len(m.order))
	for _, id := range m.order {
		g := m.goods[id]
		out = append(out, Quote{
			Good:       g.ID,
			Name:       g.Name,
			Price:      g.Price,
			BasePrice:  g.BasePrice,
			Buy:        m.buyQuote(g),
			Sell:       m.sellQuote(g),
			Supply:     g.Supply,
			Volatility: g.Volatility,
			Patron:     g.Patron,
		})
	}
	return out
}

// PriceIndex is the mean of Price/BasePrice across goods; 1.0 means prices
// sit at their base.
func (m *Market) PriceIndex() float64 {
	if len(m.order) == 0 {
		return 1
	}
	var sum float64
	for _, id := range m.order {
		g := m.goods[id]
		sum += g.Price / g.BasePrice
	}
	return sum / float64(len(m.order))
}

// TotalCurrency sums every wallet and the treasury. Trades never change it.
func (m *Market) TotalCurrency() int64 {
	total := m.treasury
	for _, a := range m.accounts {
		total += a.Wallet
	}
	return total
}

// CheckInvariants reports the first broken market invariant.
func (m *Market) CheckInvariants() error {
	if m.treasury < 0 {
		return simerr.Internal("", "treasury is %d", m.treasury)
	}
	for _, id := range m.order {
		g := m.goods[id]
		if !(g.Price > 0) {
			return simerr.Internal("", "price of %s is %v", id, g.Price)
		}
		if g.Supply < 0 {
			return simerr.Internal("", "supply of %s is %d", id, g.Supply)
		}
	}
	for _, actor := range m.actorIDs() {
		a := m.accounts[actor]
		if a.Wallet < 0 {
			return simerr.Internal("", "wallet of %s is %d", actor, a.Wallet)
		}
		for g, q := range a.Inventory {
			if q < 0 {
				return simerr.Internal("", "inventory of %s holds %d %s", actor, q, g)
			}
		}
	}
	return nil
}

func (m *Market) actorIDs() []ActorID {
	ids := make([]ActorID, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Grant pays amount out of the treasury to actor. Used for quest rewards;
// there is no partial grant.
func (m *Market) Grant(tick uint64, actor ActorID, amount int64) error {
	a, ok := m.accounts[actor]
	if !ok {
		return simerr.New(simerr.UnknownActor, "unknown actor %q", actor)
	}
	if amount < 0 {
		return simerr.New(simerr.InvalidQuantity, "grant of %d", amount)
	}
	if m.treasury < amount {
		return simerr.New(simerr.TreasuryDepleted, "treasury holds %d, grant needs %d", m.treasury, amount)
	}
	m.treasury -= amount
	a.Wallet += amount
	return nil
}

// Produce adds freshly made goods to an actor's inventory. Currency is
// never created this way.
func (m *Market) Produce(actor ActorID, good GoodID, qty int) error {
	a, err := m.holding(actor, good, qty)
	if err != nil {
		return err
	}
	a.Inventory[good] += qty
	return nil
}

// Consume removes up to qty of good from an actor's inventory and returns
// how many were used up.
func (m *Market) Consume(actor ActorID, good GoodID, qty int) (int, error) {
	a, err := m.holding(actor, good, qty)
	if err != nil {
		return 0, err
	}
	used := min(qty, a.Inventory[good])
	a.Inventory[good] -= used
	if a.Inventory[good] == 0 {
		delete(a.Inventory, good)
	}
	return used, nil
}

func (m *Market) holding(actor ActorID, good GoodID, qty int) (*Account, error) {
	if qty <= 0 {
		return nil, simerr.New(simerr.InvalidQuantity, "quantity must be positive, got %d", qty)
	}
	if _, ok := m.goods[good]; !ok {
		return nil, simerr.New(simerr.UnknownGood, "unknown good %q", good)
	}
	a, ok := m.accounts[actor]
	if !ok {
		return nil, simerr.New(simerr.UnknownActor, "unknown actor %q", actor)
	}
	return a, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
