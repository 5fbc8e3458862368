// Governance: the Mayor's policy changes are staged during a tick and
// take effect when the next one opens.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/economy"
)

// PolicyEvent is the payload of mayor-policy-changed.
type PolicyEvent struct {
	Policy        economy.Policy `json:"policy"`
	EffectiveTick uint64         `json:"effective_tick"`
	Staged        bool           `json:"staged"`
	Mayor         string         `json:"mayor,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

func (w *World) stagePolicy(tick uint64, mayor *agents.Agent, c economy.PolicyChange) {
	next, err := w.market.StagePolicy(c)
	if err != nil {
		slog.Warn("policy change dropped", "tick", tick, "mayor", mayor.ID, "err", err)
		return
	}
	slog.Info("policy staged",
		"tick", tick,
		"mayor", mayor.ID,
		"tax_rate", next.TaxRate,
		"volatility_ceiling", next.VolatilityCeiling,
		"reason", c.Reason,
	)
	w.emit(Event{
		Tick:        tick,
		Kind:        EventMayorPolicyChanged,
		Description: fmt.Sprintf("%s decrees tax %.0f%% and volatility ceiling %.2f from tomorrow", mayor.Name, next.TaxRate*100, next.VolatilityCeiling),
		Data: PolicyEvent{
			Policy:        next,
			EffectiveTick: tick + 1,
			Staged:        true,
			Mayor:         string(mayor.ID),
			Reason:        c.Reason,
		},
	})
}

func (w *World) policyApplied(tick uint64, p economy.Policy) {
	w.emit(Event{
		Tick:        tick,
		Kind:        EventMayorPolicyChanged,
		Description: fmt.Sprintf("New market policy in force: tax %.0f%%, volatility ceiling %.2f", p.TaxRate*100, p.VolatilityCeiling),
		Data:        PolicyEvent{Policy: p, EffectiveTick: tick},
	})
}
