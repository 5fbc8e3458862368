// Agent behavior: a priority-ordered rule set. Every tick each agent
// observes a read-only view of the town and proposes one action. The
// brain never mutates the market; proposals are settled by the world.
package agents

import (
	"hash/fnv"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/quest"
	"github.com/talgya/townsim/internal/reputation"
)

// Observation is everything an agent may look at when deciding.
type Observation struct {
	Tick       uint64
	Self       Agent
	Account    economy.Account
	Quotes     map[economy.GoodID]economy.Quote
	Policy     economy.Policy
	Bounds     config.Policy
	Treasury   int64
	PriceIndex float64

	// Standing is every player's reputation with this agent, by player.
	Standing []reputation.Entry
	// Offerable is the quests this agent gives that a player could take.
	Offerable []quest.Instance
}

// TradeIntent is the trade half of a proposal.
type TradeIntent struct {
	Good      economy.GoodID    `json:"good"`
	Quantity  int               `json:"quantity"`
	Direction economy.Direction `json:"direction"`
}

// Proposal is one agent's chosen action for a tick.
type Proposal struct {
	Agent  AgentID `json:"agent"`
	Intent Intent  `json:"intent"`
	Detail string  `json:"detail,omitempty"` // Human-readable description for the event log

	Trade            *TradeIntent          `json:"trade,omitempty"`
	Policy           *economy.PolicyChange `json:"policy,omitempty"`
	Player           string                `json:"player,omitempty"`
	Quest            string                `json:"quest,omitempty"`
	DispositionDelta int                   `json:"disposition_delta,omitempty"`
}

// Brain decides what an agent does this tick.
type Brain interface {
	Decide(obs Observation) Proposal
}

// RuleBrain is the default Brain: one rule table per role, evaluated in
// priority order.
type RuleBrain struct {
	cfg   config.Agents
	rules map[Role]RoleRules
	noise opensimplex.Noise
}

// NewRuleBrain builds a brain whose appetite noise is seeded from the
// world seed, so identical seeds make identical choices.
func NewRuleBrain(seed int64, cfg config.Agents, rules map[Role]RoleRules) *RuleBrain {
	if rules == nil {
		rules = DefaultRules
	}
	return &RuleBrain{
		cfg:   cfg,
		rules: rules,
		noise: opensimplex.NewNormalized(seed + 300),
	}
}

// Rules returns the rule table for a role.
func (b *RuleBrain) Rules(r Role) RoleRules {
	return b.rules[r]
}

// Decide evaluates the rules top-down and returns the first match.
func (b *RuleBrain) Decide(obs Observation) Proposal {
	a := obs.Self
	rules := b.rules[a.Role]

	if p, ok := b.decideNeeds(obs, rules); ok {
		return p
	}
	if a.Role == RoleMayor {
		if p, ok := b.decidePolicy(obs); ok {
			return p
		}
	}
	if p, ok := decideSurplus(obs, rules); ok {
		return p
	}
	if rules.QuestGiver {
		if p, ok := b.decideOffer(obs); ok {
			return p
		}
	}
	if p, ok := b.decideDrift(obs); ok {
		return p
	}
	return Proposal{Agent: a.ID, Intent: IntentIdle, Detail: a.Name + " goes about their day"}
}

// Appetite is the deterministic noise term added to a need's minimum.
func (b *RuleBrain) Appetite(agent AgentID, good economy.GoodID, tick uint64) int {
	if b.cfg.AppetiteAmplitude == 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(agent))
	h.Write([]byte{0})
	h.Write([]byte(good))
	lane := float64(h.Sum32()%4096) / 16

	n := b.noise.Eval2(float64(tick)*b.cfg.AppetiteFrequency, lane) // 0..1
	return int(math.Round((2*n - 1) * b.cfg.AppetiteAmplitude))
}

// decideNeeds buys the first needed good below its minimum that the agent
// can afford at least one unit of.
func (b *RuleBrain) decideNeeds(obs Observation, rules RoleRules) (Proposal, bool) {
	a := obs.Self
	for _, need := range rules.Needs {
		want := max(need.Min+b.Appetite(a.ID, need.Good, obs.Tick), 0)
		have := obs.Account.Inventory[need.Good]
		if have >= want {
			continue
		}
		q, ok := obs.Quotes[need.Good]
		if !ok || q.Supply == 0 || q.Buy <= 0 {
			continue
		}
		qty := min(want-have, q.Supply, int(obs.Account.Wallet/q.Buy))
		if qty <= 0 {
			continue
		}
		return Proposal{
			Agent:  a.ID,
			Intent: IntentTrade,
			Detail: a.Name + " buys " + string(need.Good),
			Trade:  &TradeIntent{Good: need.Good, Quantity: qty, Direction: economy.Buy},
		}, true
	}
	return Proposal{}, false
}

// decidePolicy steers the treasury and price level one step at a time.
func (b *RuleBrain) decidePolicy(obs Observation) (Proposal, bool) {
	a := obs.Self
	tax := obs.Bounds.TaxRate
	vol := obs.Bounds.VolatilityCeiling
	cur := obs.Policy

	propose := func(c economy.PolicyChange, detail string) (Proposal, bool) {
		c.Reason = detail
		return Proposal{Agent: a.ID, Intent: IntentPolicyChange, Detail: a.Name + " " + detail, Policy: &c}, true
	}

	switch {
	case obs.Treasury < b.cfg.TreasuryLowWater && cur.TaxRate < tax.Max:
		v := math.Min(cur.TaxRate+tax.MaxStep, tax.Max)
		return propose(economy.PolicyChange{TaxRate: &v}, "raises taxes to refill the treasury")
	case obs.Treasury > b.cfg.TreasuryHighWater && cur.TaxRate > tax.Min:
		v := math.Max(cur.TaxRate-tax.MaxStep, tax.Min)
		return propose(economy.PolicyChange{TaxRate: &v}, "cuts taxes")
	case obs.PriceIndex > b.cfg.PriceIndexCeiling && cur.VolatilityCeiling > vol.Min:
		v := math.Max(cur.VolatilityCeiling-vol.MaxStep, vol.Min)
		return propose(economy.PolicyChange{VolatilityCeiling: &v}, "calms the market")
	}
	return Proposal{}, false
}

// decideSurplus sells the first produced good held above its threshold.
func decideSurplus(obs Observation, rules RoleRules) (Proposal, bool) {
	a := obs.Self
	for _, y := range rules.Produces {
		extra := obs.Account.Inventory[y.Good] - rules.Surplus[y.Good]
		if extra <= 0 {
			continue
		}
		if _, ok := obs.Quotes[y.Good]; !ok {
			continue
		}
		return Proposal{
			Agent:  a.ID,
			Intent: IntentTrade,
			Detail: a.Name + " sells surplus " + string(y.Good),
			Trade:  &TradeIntent{Good: y.Good, Quantity: extra, Direction: economy.Sell},
		}, true
	}
	return Proposal{}, false
}

// decideOffer offers the first available quest to a player the agent
// likes enough. Low disposition suppresses offers.
func (b *RuleBrain) decideOffer(obs Observation) (Proposal, bool) {
	a := obs.Self
	for _, in := range obs.Offerable {
		if a.DispositionToward(in.Player) < b.cfg.OfferDisposition {
			continue
		}
		return Proposal{
			Agent:  a.ID,
			Intent: IntentOfferQuest,
			Detail: a.Name + " offers " + in.Quest + " to " + in.Player,
			Player: in.Player,
			Quest:  in.Quest,
		}, true
	}
	return Proposal{}, false
}

// decideDrift moves disposition toward the player's reputation with this
// agent, one step per tick, for the first player where they differ.
func (b *RuleBrain) decideDrift(obs Observation) (Proposal, bool) {
	a := obs.Self
	step := max(b.cfg.DispositionStep, 1)
	for _, e := range obs.Standing {
		gap := e.Score - a.DispositionToward(e.Player)
		if gap == 0 {
			continue
		}
		delta := min(step, abs(gap))
		if gap < 0 {
			delta = -delta
		}
		return Proposal{
			Agent:            a.ID,
			Intent:           IntentAdjustDisposition,
			Detail:           a.Name + " reconsiders " + e.Player,
			Player:           e.Player,
			DispositionDelta: delta,
		}, true
	}
	return Proposal{}, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
