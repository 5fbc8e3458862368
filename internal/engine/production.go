// Production: every few ticks each townsperson eats, works up inputs and
// makes goods according to their role's rule table.
package engine

import (
	"fmt"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/simerr"
)

func (w *World) produce(tick uint64) error {
	every := w.cfg.Agents.ProductionEveryTicks
	if every == 0 || tick == 0 || tick%every != 0 {
		return nil
	}
	for _, a := range w.roster {
		if err := w.runCycle(a); err != nil {
			return err
		}
	}
	return nil
}

func (w *World) runCycle(a *agents.Agent) error {
	actor := economy.ActorID(a.ID)
	acct, ok := w.market.Account(actor)
	if !ok {
		return simerr.Internal(agentAction+string(a.ID), "agent %s has no account", a.ID)
	}
	cycle := w.rules[a.Role].PlanCycle(acct.Inventory)

	use := func(ys []agents.Yield) error {
		for _, y := range ys {
			if !w.goods[y.Good] {
				continue
			}
			if _, err := w.market.Consume(actor, y.Good, y.Qty); err != nil {
				return fmt.Errorf("%s consuming %s: %w", a.ID, y.Good, err)
			}
		}
		return nil
	}
	if err := use(cycle.Eat); err != nil {
		return err
	}
	if err := use(cycle.Use); err != nil {
		return err
	}
	for _, y := range cycle.Produce {
		if !w.goods[y.Good] {
			continue
		}
		if err := w.market.Produce(actor, y.Good, y.Qty); err != nil {
			return fmt.Errorf("%s producing %s: %w", a.ID, y.Good, err)
		}
	}
	return nil
}
