// Package quest holds quest templates and the per-player quest state
// machine. Quests unlock from reputation thresholds, evaluated once per
// tick, and complete from trade or talk signals.
package quest

import "fmt"

// State is a quest instance's position in its lifecycle.
type State string

const (
	Locked    State = "locked"
	Available State = "available"
	Accepted  State = "accepted"
	Completed State = "completed"
	Failed    State = "failed"
)

// Requirement is a reputation threshold: Score(player, Target) >= Min.
type Requirement struct {
	Target string `json:"target"`
	Min    int    `json:"min"`
}

// RepDelta is a reputation change granted on completion.
type RepDelta struct {
	Target string `json:"target"`
	Delta  int    `json:"delta"`
}

// Reward is paid atomically when a quest completes.
type Reward struct {
	Crowns     int64      `json:"crowns"`
	Reputation []RepDelta `json:"reputation,omitempty"`
}

// SignalKind names what a player did.
type SignalKind string

const (
	SignalTrade SignalKind = "trade"
	SignalTalk  SignalKind = "talk"
)

// Goal is the completion predicate of a template.
type Goal struct {
	Kind      SignalKind `json:"kind"`
	Good      string     `json:"good,omitempty"`
	Direction string     `json:"direction,omitempty"` // "buy" or "sell"
	Quantity  int        `json:"quantity,omitempty"`
	Agent     string     `json:"agent,omitempty"`
}

// Signal is an external fulfillment event.
type Signal struct {
	Kind      SignalKind
	Good      string
	Direction string
	Quantity  int
	Agent     string
}

// progress returns how much of the goal the signal fulfills.
func (g Goal) progress(s Signal) int {
	if g.Kind != s.Kind {
		return 0
	}
	switch g.Kind {
	case SignalTrade:
		if s.Good == g.Good && s.Direction == g.Direction {
			return s.Quantity
		}
	case SignalTalk:
		if s.Agent == g.Agent {
			return 1
		}
	}
	return 0
}

func (g Goal) target() int {
	if g.Kind == SignalTalk {
		return 1
	}
	return g.Quantity
}

// Template describes a quest offered to every player.
type Template struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Giver        string        `json:"giver"` // Agent id
	Requirements []Requirement `json:"requirements"`
	Reward       Reward        `json:"reward"`
	Goal         Goal          `json:"goal"`
	ExpiryTicks  uint64        `json:"expiry_ticks"` // 0 = never expires
	Repeatable   bool          `json:"repeatable"`
}

// Validate checks a template's shape.
func (t Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("quest without id")
	}
	if t.Giver == "" {
		return fmt.Errorf("quest %s: no giver", t.ID)
	}
	if t.Reward.Crowns < 0 {
		return fmt.Errorf("quest %s: negative reward", t.ID)
	}
	for _, r := range t.Requirements {
		if r.Target == "" {
			return fmt.Errorf("quest %s: requirement without target", t.ID)
		}
	}
	switch t.Goal.Kind {
	case SignalTrade:
		if t.Goal.Good == "" || t.Goal.Quantity <= 0 {
			return fmt.Errorf("quest %s: trade goal needs a good and a positive quantity", t.ID)
		}
		if t.Goal.Direction != "buy" && t.Goal.Direction != "sell" {
			return fmt.Errorf("quest %s: trade goal direction %q", t.ID, t.Goal.Direction)
		}
	case SignalTalk:
		if t.Goal.Agent == "" {
			return fmt.Errorf("quest %s: talk goal needs an agent", t.ID)
		}
	default:
		return fmt.Errorf("quest %s: unknown goal kind %q", t.ID, t.Goal.Kind)
	}
	return nil
}
