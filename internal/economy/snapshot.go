package economy

import (
	"fmt"
	"slices"
)

// State is the serialisable form of a Market.
type State struct {
	Goods       []Good              `json:"goods"`
	Accounts    map[ActorID]Account `json:"accounts"`
	Treasury    int64               `json:"treasury"`
	Policy      Policy              `json:"policy"`
	Staged      *Policy             `json:"staged,omitempty"`
	Log         []Trade             `json:"log"`
	NextTradeID uint64              `json:"next_trade_id"`
}

// Snapshot deep-copies the market. The transaction log is shared up to its
// current length since entries are never rewritten.
func (m *Market) Snapshot() State {
	s := State{
		Goods:       make([]Good, 0, len(m.order)),
		Accounts:    make(map[ActorID]Account, len(m.accounts)),
		Treasury:    m.treasury,
		Policy:      m.policy,
		Log:         slices.Clip(m.log),
		NextTradeID: m.nextTradeID,
	}
	for _, id := range m.order {
		s.Goods = append(s.Goods, *m.goods[id])
	}
	for id, a := range m.accounts {
		s.Accounts[id] = a.clone()
	}
	if m.staged != nil {
		p := *m.staged
		s.Staged = &p
	}
	return s
}

// Restore replaces the market state with s.
func (m *Market) Restore(s State) error {
	goods := make(map[GoodID]*Good, len(s.Goods))
	order := make([]GoodID, 0, len(s.Goods))
	for _, g := range s.Goods {
		if err := g.validate(); err != nil {
			return fmt.Errorf("restore market: %w", err)
		}
		g := g
		goods[g.ID] = &g
		order = append(order, g.ID)
	}
	slices.Sort(order)

	accounts := make(map[ActorID]*Account, len(s.Accounts))
	for id, a := range s.Accounts {
		c := a.clone()
		accounts[id] = &c
	}

	m.goods = goods
	m.order = order
	m.accounts = accounts
	m.treasury = s.Treasury
	m.policy = s.Policy
	m.staged = nil
	if s.Staged != nil {
		p := *s.Staged
		m.staged = &p
	}
	m.log = slices.Clip(s.Log)
	m.nextTradeID = s.NextTradeID
	m.openPrice = make(map[GoodID]float64, len(order))
	return nil
}
