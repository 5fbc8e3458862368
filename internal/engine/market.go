// Market phase: agents observe the town and propose, then player and
// agent orders settle as one batch.
package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/simerr"
)

// checker vets agent proposals against live market state.
type checker struct{ w *World }

func (c checker) HasGood(id economy.GoodID) bool { return c.w.market.HasGood(id) }
func (c checker) IsPlayer(id string) bool        { return c.w.quests.Registered(id) }
func (c checker) Policy() economy.Policy         { return c.w.market.Policy() }
func (c checker) Bounds() config.Policy          { return c.w.market.Bounds() }

// collectProposals asks every agent for one action. All agents observe the
// same state: nothing is applied until every proposal is in.
func (w *World) collectProposals(tick uint64) []agents.Proposal {
	quotes := make(map[economy.GoodID]economy.Quote)
	for _, q := range w.market.Quotes() {
		quotes[q.Good] = q
	}
	policy := w.market.Policy()
	bounds := w.market.Bounds()
	treasury := w.market.Treasury()
	index := w.market.PriceIndex()

	var out []agents.Proposal
	for _, a := range w.roster {
		if w.benched[a.ID] {
			continue
		}
		acct, ok := w.market.Account(economy.ActorID(a.ID))
		if !ok {
			slog.Warn("agent without account", "agent", a.ID)
			continue
		}
		p := w.brain.Decide(agents.Observation{
			Tick:       tick,
			Self:       *a.Clone(),
			Account:    acct,
			Quotes:     quotes,
			Policy:     policy,
			Bounds:     bounds,
			Treasury:   treasury,
			PriceIndex: index,
			Standing:   w.ledger.Toward(string(a.ID)),
			Offerable:  w.quests.OfferableBy(tick, string(a.ID)),
		})
		if err := p.Check(a, checker{w}); err != nil {
			slog.Warn("proposal dropped", "tick", tick, "agent", a.ID, "intent", p.Intent, "err", err)
			continue
		}
		a.Goal = p.Intent
		out = append(out, p)
	}
	return out
}

// settle records the outcome of every order. Player failures go back to
// the player; agent failures are logged and dropped.
func (w *World) settle(t *tickState, results []economy.TradeResult) error {
	for _, r := range results {
		ref := r.Order.Ref
		agent := strings.HasPrefix(ref, agentAction)
		if r.Err != nil {
			if simerr.KindOf(r.Err) == simerr.KindInternal {
				return &simerr.Error{
					Kind:     simerr.KindInternal,
					Code:     simerr.InvariantViolated,
					Reason:   r.Err.Error(),
					ActionID: ref,
				}
			}
			if agent {
				slog.Debug("agent trade dropped", "tick", t.tick, "agent", r.Order.Actor, "err", r.Err)
				continue
			}
			t.reject(ref, r.Err)
			w.emit(Event{
				Tick:        t.tick,
				Kind:        EventCommandRejected,
				Description: fmt.Sprintf("%s could not %s %d %s: %s", r.Order.Actor, r.Order.Direction, r.Order.Quantity, r.Order.Good, simerr.OutcomeOf(r.Err).Reason),
				Data:        map[string]any{"command_id": ref, "outcome": simerr.OutcomeOf(r.Err)},
			})
			continue
		}

		tr := r.Trade
		if !agent {
			t.trades[ref] = tr
			t.result(ref).Trade = &tr
		}
		t.report.Trades++
		w.emit(Event{
			Tick:        t.tick,
			Kind:        EventTradeSettled,
			Description: describeTrade(tr),
			Data:        tr,
		})
	}
	return nil
}

func describeTrade(tr economy.Trade) string {
	verb := "bought"
	if tr.Direction == economy.Sell {
		verb = "sold"
	}
	s := fmt.Sprintf("%s %s %d %s at %d crowns", tr.Actor, verb, tr.Quantity, tr.Good, tr.UnitPrice)
	if tr.Partial() {
		s += fmt.Sprintf(" (wanted %d)", tr.Requested)
	}
	return s
}
