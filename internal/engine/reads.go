package engine

import (
	"time"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/quest"
	"github.com/talgya/townsim/internal/simerr"
)

// MarketView is the read-only market state shown to players.
type MarketView struct {
	Tick       uint64          `json:"tick"`
	Quotes     []economy.Quote `json:"quotes"`
	Treasury   int64           `json:"treasury"`
	Policy     economy.Policy  `json:"policy"`
	Staged     *economy.Policy `json:"staged,omitempty"`
	PriceIndex float64         `json:"price_index"`
}

// Standing is one line of a player's reputation.
type Standing struct {
	Target string `json:"target"`
	Score  int    `json:"score"`
	Tier   string `json:"tier"`
}

// AgentView is the public face of a townsperson.
type AgentView struct {
	ID        agents.AgentID         `json:"id"`
	Name      string                 `json:"name"`
	Role      agents.Role            `json:"role"`
	Faction   string                 `json:"faction,omitempty"`
	Goal      agents.Intent          `json:"goal"`
	Wallet    int64                  `json:"wallet"`
	Inventory map[economy.GoodID]int `json:"inventory"`
}

// PlayerView is a player's purse and quest record.
type PlayerView struct {
	ID        string                 `json:"id"`
	Wallet    int64                  `json:"wallet"`
	Inventory map[economy.GoodID]int `json:"inventory"`
	Quests    quest.Stats            `json:"quests"`
}

// Status summarises the world for operators.
type Status struct {
	Town          string         `json:"town"`
	Tick          uint64         `json:"tick"`
	Seed          int64          `json:"seed"`
	Agents        int            `json:"agents"`
	Players       int            `json:"players"`
	Treasury      int64          `json:"treasury"`
	TotalCurrency int64          `json:"total_currency"`
	PriceIndex    float64        `json:"price_index"`
	Policy        economy.Policy `json:"policy"`
	Queued        int            `json:"queued"`
	Retrying      int            `json:"retrying"`
	AbortedTicks  uint64         `json:"aborted_ticks"`
	LastStep      time.Duration  `json:"last_step_ns"`
	Subscribers   int            `json:"subscribers"`
}

// MarketSnapshot returns current quotes and policy.
func (w *World) MarketSnapshot() MarketView {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := MarketView{
		Tick:       w.tick,
		Quotes:     w.market.Quotes(),
		Treasury:   w.market.Treasury(),
		Policy:     w.market.Policy(),
		PriceIndex: w.market.PriceIndex(),
	}
	if p, ok := w.market.Staged(); ok {
		v.Staged = &p
	}
	return v
}

// Reputation lists a player's standing with every target they have met.
func (w *World) Reputation(player string) []Standing {
	w.mu.Lock()
	defer w.mu.Unlock()
	entries := w.ledger.Standing(player)
	out := make([]Standing, 0, len(entries))
	for _, e := range entries {
		out = append(out, Standing{Target: e.Target, Score: e.Score, Tier: w.ledger.TierOf(e.Score).Name})
	}
	return out
}

// ActiveQuests lists a player's Accepted quests.
func (w *World) ActiveQuests(player string) []quest.Instance {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.quests.Active(player)
}

// Quests lists every quest instance a player has.
func (w *World) Quests(player string) []quest.Instance {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.quests.Instances(player)
}

// AgentDisposition returns how an agent feels about a player.
func (w *World) AgentDisposition(player, agent string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.index[agents.AgentID(agent)]
	if !ok {
		return 0, simerr.New(simerr.UnknownAgent, "unknown agent %q", agent)
	}
	return a.DispositionToward(player), nil
}

// Agents lists the roster, Mayor first.
func (w *World) Agents() []AgentView {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]AgentView, 0, len(w.roster))
	for _, a := range w.roster {
		acct, _ := w.market.Account(economy.ActorID(a.ID))
		out = append(out, AgentView{
			ID:        a.ID,
			Name:      a.Name,
			Role:      a.Role,
			Faction:   a.Faction,
			Goal:      a.Goal,
			Wallet:    acct.Wallet,
			Inventory: acct.Inventory,
		})
	}
	return out
}

// Player returns a player's purse, if they have ever acted.
func (w *World) Player(player string) (PlayerView, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.quests.Registered(player) {
		return PlayerView{}, false
	}
	acct, ok := w.market.Account(economy.ActorID(player))
	if !ok {
		return PlayerView{}, false
	}
	return PlayerView{
		ID:        player,
		Wallet:    acct.Wallet,
		Inventory: acct.Inventory,
		Quests:    w.quests.Stats(player),
	}, true
}

// Status reports world health.
func (w *World) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Town:          w.town.Name,
		Tick:          w.tick,
		Seed:          w.seed,
		Agents:        len(w.roster),
		Players:       len(w.quests.Players()),
		Treasury:      w.market.Treasury(),
		TotalCurrency: w.market.TotalCurrency(),
		PriceIndex:    w.market.PriceIndex(),
		Policy:        w.market.Policy(),
		Queued:        w.queue.Len(),
		Retrying:      len(w.retry),
		AbortedTicks:  w.aborted,
		LastStep:      w.lastStep,
		Subscribers:   w.bus.Subscribers(),
	}
}

// RecentEvents returns up to n of the latest events, oldest first.
func (w *World) RecentEvents(n int) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recent.last(n)
}
