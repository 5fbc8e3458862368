// Package content defines the town a world is built from: goods,
// factions, the NPC roster and quest templates. Towns are authored in
// Lua (see Load) or taken from the built-in Default.
package content

import (
	"fmt"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/quest"
	"github.com/talgya/townsim/internal/social"
)

// Relation is a symmetric faction relation.
type Relation struct {
	A, B  social.FactionID
	Value int
}

// Town is immutable content. Nothing here changes while a world runs.
type Town struct {
	Name      string
	Goods     []economy.Good
	Factions  []social.Faction
	Relations []Relation
	NPCs      []agents.Definition
	Quests    []quest.Template
}

// Directory builds the faction and ally/rival web.
func (t *Town) Directory() (*social.Directory, error) {
	d := social.NewDirectory()
	for _, f := range t.Factions {
		f.Relations = nil
		if err := d.AddFaction(f); err != nil {
			return nil, err
		}
	}
	for _, r := range t.Relations {
		if err := d.SetRelation(r.A, r.B, r.Value); err != nil {
			return nil, err
		}
	}
	for _, n := range t.NPCs {
		id := n.ID
		if id == "" {
			id = agents.Slug(n.Name)
		}
		if n.Faction != "" {
			if err := d.Join(id, social.FactionID(n.Faction)); err != nil {
				return nil, err
			}
		}
		d.Declare(id, n.Allies, n.Rivals)
	}
	return d, nil
}

// Validate checks every cross reference in the town.
func (t *Town) Validate() error {
	goods := make(map[economy.GoodID]bool, len(t.Goods))
	for _, g := range t.Goods {
		if goods[g.ID] {
			return fmt.Errorf("duplicate good %s", g.ID)
		}
		goods[g.ID] = true
	}
	factions := make(map[string]bool, len(t.Factions))
	for _, f := range t.Factions {
		if factions[string(f.ID)] {
			return fmt.Errorf("duplicate faction %s", f.ID)
		}
		factions[string(f.ID)] = true
	}
	for _, g := range t.Goods {
		if g.Patron != "" && !factions[g.Patron] {
			return fmt.Errorf("good %s: unknown patron faction %q", g.ID, g.Patron)
		}
	}
	for _, r := range t.Relations {
		if !factions[string(r.A)] || !factions[string(r.B)] {
			return fmt.Errorf("relation %s-%s: unknown faction", r.A, r.B)
		}
	}

	npcs := make(map[string]agents.Definition, len(t.NPCs))
	for _, n := range t.NPCs {
		id := n.ID
		if id == "" {
			id = agents.Slug(n.Name)
		}
		if _, dup := npcs[id]; dup {
			return fmt.Errorf("duplicate npc %s", id)
		}
		npcs[id] = n
	}
	for id, n := range npcs {
		if n.Faction != "" && !factions[n.Faction] {
			return fmt.Errorf("npc %s: unknown faction %q", id, n.Faction)
		}
		for _, other := range append(append([]string(nil), n.Allies...), n.Rivals...) {
			if _, ok := npcs[other]; !ok {
				return fmt.Errorf("npc %s: unknown ally or rival %q", id, other)
			}
		}
		for g := range n.Stock {
			if !goods[g] {
				return fmt.Errorf("npc %s: unknown good %q in stock", id, g)
			}
		}
	}

	target := func(id string) bool {
		_, npc := npcs[id]
		return npc || factions[id]
	}
	for _, q := range t.Quests {
		if err := q.Validate(); err != nil {
			return err
		}
		if _, ok := npcs[q.Giver]; !ok {
			return fmt.Errorf("quest %s: unknown giver %q", q.ID, q.Giver)
		}
		for _, r := range q.Requirements {
			if !target(r.Target) {
				return fmt.Errorf("quest %s: unknown requirement target %q", q.ID, r.Target)
			}
		}
		for _, r := range q.Reward.Reputation {
			if !target(r.Target) {
				return fmt.Errorf("quest %s: unknown reward target %q", q.ID, r.Target)
			}
		}
		switch q.Goal.Kind {
		case quest.SignalTrade:
			if !goods[economy.GoodID(q.Goal.Good)] {
				return fmt.Errorf("quest %s: unknown good %q", q.ID, q.Goal.Good)
			}
		case quest.SignalTalk:
			if _, ok := npcs[q.Goal.Agent]; !ok {
				return fmt.Errorf("quest %s: unknown agent %q", q.ID, q.Goal.Agent)
			}
		}
	}
	return nil
}

// IsTarget reports whether id can hold reputation: an NPC or a faction.
func (t *Town) IsTarget(id string) bool {
	for _, n := range t.NPCs {
		if n.ID == id {
			return true
		}
	}
	for _, f := range t.Factions {
		if string(f.ID) == id {
			return true
		}
	}
	return false
}
