// Reputation phase: settled actions turn into reputation deltas, and
// agents act on their feelings toward players.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/quest"
)

// Reputation reasons the world applies by itself.
const (
	ReasonFirstInteraction = "first_interaction"
	ReasonDailyVisit       = "daily_visit"
	ReasonPatronizedMarket = "patronized_market"
)

func (w *World) reputationPhase(t *tickState, live []queued, proposals []agents.Proposal) {
	tick := t.tick
	for _, q := range live {
		cmd := q.cmd
		switch cmd.Kind {
		case CommandTrade:
			tr, ok := t.trades[cmd.ID]
			if !ok {
				continue
			}
			if g, ok := w.market.Good(tr.Good); ok && g.Patron != "" {
				w.adjustReason(tick, cmd.Player, g.Patron, ReasonPatronizedMarket)
			}
		case CommandTalk:
			reason := ReasonDailyVisit
			if !w.ledger.Known(cmd.Player, cmd.Agent) {
				reason = ReasonFirstInteraction
			}
			w.adjustReason(tick, cmd.Player, cmd.Agent, reason)
			if a, ok := w.index[agents.AgentID(cmd.Agent)]; ok {
				a.Nudge(cmd.Player, w.cfg.Agents.TalkDisposition)
			}
		}
	}

	for _, p := range proposals {
		a := w.index[p.Agent]
		switch p.Intent {
		case agents.IntentAdjustDisposition:
			a.Nudge(p.Player, p.DispositionDelta)
		case agents.IntentOfferQuest:
			if err := w.quests.Offer(tick, p.Player, p.Quest, string(p.Agent)); err != nil {
				slog.Warn("quest offer dropped", "tick", tick, "agent", p.Agent, "quest", p.Quest, "err", err)
			}
		case agents.IntentPolicyChange:
			w.stagePolicy(tick, a, *p.Policy)
		}
	}
	w.flushReputation(tick)
}

func (w *World) adjustReason(tick uint64, player, target, reason string) {
	if _, err := w.ledger.AdjustReason(tick, player, target, reason); err != nil {
		slog.Warn("reputation reason not configured", "reason", reason, "err", err)
	}
}

// flushReputation turns the ledger's pending changes into events.
func (w *World) flushReputation(tick uint64) {
	for _, c := range w.ledger.Drain() {
		desc := fmt.Sprintf("%s's standing with %s moved %+d to %d (%s)", c.Player, c.Target, c.Delta, c.Score, c.Reason)
		if c.Gossip {
			desc += fmt.Sprintf(", heard from %s", c.Source)
		}
		if c.TierChanged() {
			desc += fmt.Sprintf(", now %s", c.Tier)
		}
		w.emit(Event{Tick: tick, Kind: EventReputationChanged, Description: desc, Data: c})
	}
}

// rewarder pays quest rewards through the market and the ledger.
type rewarder struct{ w *World }

var _ quest.Rewarder = rewarder{}

func (r rewarder) Grant(tick uint64, player string, crowns int64) error {
	if crowns == 0 {
		return nil
	}
	return r.w.market.Grant(tick, economy.ActorID(player), crowns)
}

func (r rewarder) Adjust(tick uint64, player, target string, delta int, reason string) {
	r.w.ledger.Adjust(tick, player, target, delta, reason)
}
