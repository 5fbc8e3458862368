package agents

import (
	"fmt"

	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/economy"
)

// Checker answers the questions needed to vet a proposal.
type Checker interface {
	HasGood(id economy.GoodID) bool
	IsPlayer(id string) bool
	Policy() economy.Policy
	Bounds() config.Policy
}

// Check rejects malformed or out-of-bounds proposals. A rejected proposal
// is dropped; it never stops other agents.
func (p Proposal) Check(a *Agent, c Checker) error {
	if p.Agent != a.ID {
		return fmt.Errorf("proposal for %s made by %s", p.Agent, a.ID)
	}
	switch p.Intent {
	case IntentIdle:
		return nil
	case IntentTrade:
		if p.Trade == nil {
			return fmt.Errorf("trade proposal without a trade")
		}
		if !c.HasGood(p.Trade.Good) {
			return fmt.Errorf("unknown good %q", p.Trade.Good)
		}
		if p.Trade.Quantity <= 0 {
			return fmt.Errorf("quantity %d", p.Trade.Quantity)
		}
		if !p.Trade.Direction.Valid() {
			return fmt.Errorf("direction %q", p.Trade.Direction)
		}
	case IntentPolicyChange:
		if a.Role != RoleMayor {
			return fmt.Errorf("%s is not the mayor", a.Role)
		}
		if p.Policy == nil {
			return fmt.Errorf("policy proposal without a change")
		}
		if _, err := economy.ValidateChange(c.Bounds(), c.Policy(), *p.Policy); err != nil {
			return err
		}
	case IntentOfferQuest:
		if !c.IsPlayer(p.Player) {
			return fmt.Errorf("unknown player %q", p.Player)
		}
		if p.Quest == "" {
			return fmt.Errorf("offer without quest")
		}
	case IntentAdjustDisposition:
		if !c.IsPlayer(p.Player) {
			return fmt.Errorf("unknown player %q", p.Player)
		}
		if p.DispositionDelta == 0 {
			return fmt.Errorf("zero disposition change")
		}
	default:
		return fmt.Errorf("unknown intent %q", p.Intent)
	}
	return nil
}
