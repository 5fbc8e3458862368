// Package agents provides the townsfolk data model, role rule tables and
// the rule-based brain that turns observations into proposals.
package agents

import (
	"fmt"
	"slices"
	"strings"
)

// AgentID is a stable identifier for an agent, shared with its market
// account.
type AgentID string

// Role is the tagged variant deciding which rule table an agent follows.
type Role uint8

const (
	RoleMayor Role = iota
	RoleMerchant
	RoleFarmer
	RoleCrafter
	RoleGuard
	RoleBarkeep
)

var roleNames = []string{"mayor", "merchant", "farmer", "crafter", "guard", "barkeep"}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return "unknown"
}

// ParseRole maps a content role name to a Role.
func ParseRole(s string) (Role, error) {
	i := slices.Index(roleNames, strings.ToLower(strings.TrimSpace(s)))
	if i < 0 {
		return 0, fmt.Errorf("unknown role %q", s)
	}
	return Role(i), nil
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Intent is what an agent chose to do this tick.
type Intent string

const (
	IntentIdle              Intent = "idle"
	IntentTrade             Intent = "trade"
	IntentAdjustDisposition Intent = "adjust-disposition"
	IntentOfferQuest        Intent = "offer-quest"
	IntentPolicyChange      Intent = "policy-change"
)

// Disposition bounds.
const (
	MinDisposition = -100
	MaxDisposition = 100
)

// Agent is one townsperson. Wallet and inventory live in the market
// account with the same id.
type Agent struct {
	ID      AgentID `json:"id"`
	Name    string  `json:"name"`
	Role    Role    `json:"role"`
	Faction string  `json:"faction,omitempty"`

	// Disposition toward each player, -100 to +100.
	Disposition map[string]int `json:"disposition"`

	Goal      Intent `json:"goal"` // Last chosen intent
	SpawnTick uint64 `json:"spawn_tick"`
}

// DispositionToward returns the agent's feeling for a player, 0 if unknown.
func (a *Agent) DispositionToward(player string) int {
	return a.Disposition[player]
}

// Nudge shifts disposition toward player by delta, clamped, and returns
// the applied change.
func (a *Agent) Nudge(player string, delta int) int {
	if a.Disposition == nil {
		a.Disposition = make(map[string]int)
	}
	prev := a.Disposition[player]
	next := max(MinDisposition, min(MaxDisposition, prev+delta))
	a.Disposition[player] = next
	return next - prev
}

// Clone deep-copies the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Disposition = make(map[string]int, len(a.Disposition))
	for k, v := range a.Disposition {
		c.Disposition[k] = v
	}
	return &c
}
