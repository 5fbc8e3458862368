package economy

import (
	"math"

	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/simerr"
)

// Policy is the set of Mayor-controlled market parameters.
type Policy struct {
	TaxRate           float64 `json:"tax_rate"`
	VolatilityCeiling float64 `json:"volatility_ceiling"`
}

// DefaultPolicy returns the configured starting policy.
func DefaultPolicy(b config.Policy) Policy {
	return Policy{TaxRate: b.TaxRate.Default, VolatilityCeiling: b.VolatilityCeiling.Default}
}

// PolicyChange is a Mayor proposal. Nil fields stay unchanged.
type PolicyChange struct {
	TaxRate           *float64 `json:"tax_rate,omitempty"`
	VolatilityCeiling *float64 `json:"volatility_ceiling,omitempty"`
	Reason            string   `json:"reason,omitempty"`
}

// stepTolerance absorbs float noise when a change is exactly one step.
const stepTolerance = 1e-9

// ValidateChange checks a change against the configured bounds, measuring
// the step from the policy currently in force.
func ValidateChange(b config.Policy, current Policy, c PolicyChange) (Policy, error) {
	if c.TaxRate == nil && c.VolatilityCeiling == nil {
		return current, simerr.New(simerr.MalformedCommand, "policy change names no parameter")
	}
	next := current
	if c.TaxRate != nil {
		if err := checkBound("tax rate", b.TaxRate, current.TaxRate, *c.TaxRate); err != nil {
			return current, err
		}
		next.TaxRate = *c.TaxRate
	}
	if c.VolatilityCeiling != nil {
		if err := checkBound("volatility ceiling", b.VolatilityCeiling, current.VolatilityCeiling, *c.VolatilityCeiling); err != nil {
			return current, err
		}
		next.VolatilityCeiling = *c.VolatilityCeiling
	}
	return next, nil
}

func checkBound(name string, b config.Bounds, from, to float64) error {
	if math.IsNaN(to) || !b.Contains(to) {
		return simerr.New(simerr.PolicyOutOfBounds, "%s %.3f outside [%.3f, %.3f]", name, to, b.Min, b.Max)
	}
	if math.Abs(to-from) > b.MaxStep+stepTolerance {
		return simerr.New(simerr.PolicyOutOfBounds, "%s step %.3f exceeds %.3f", name, math.Abs(to-from), b.MaxStep)
	}
	return nil
}

// StagePolicy validates a change and stages it for the next BeginTick. A
// second change in the same tick is merged over the first.
func (m *Market) StagePolicy(c PolicyChange) (Policy, error) {
	base := m.policy
	next, err := ValidateChange(m.bounds, base, c)
	if err != nil {
		return m.policy, err
	}
	if m.staged != nil {
		merged := *m.staged
		if c.TaxRate != nil {
			merged.TaxRate = next.TaxRate
		}
		if c.VolatilityCeiling != nil {
			merged.VolatilityCeiling = next.VolatilityCeiling
		}
		next = merged
	}
	m.staged = &next
	return next, nil
}

// Staged returns the policy waiting for the next tick, if any.
func (m *Market) Staged() (Policy, bool) {
	if m.staged == nil {
		return Policy{}, false
	}
	return *m.staged, true
}
