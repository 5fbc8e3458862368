// Agent spawning: builds the town's roster from content definitions with
// stable ids and seeded starting wallets.
package agents

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"

	"github.com/talgya/townsim/internal/economy"
)

// Definition describes one townsperson as authored in content.
type Definition struct {
	ID      string
	Name    string
	Role    string
	Faction string
	Allies  []string
	Rivals  []string
	Wallet  int64                  // 0 = role default plus jitter
	Stock   map[economy.GoodID]int // nil = role default
}

// Spawned is an agent plus the account it should open with.
type Spawned struct {
	Agent  *Agent
	Kind   economy.ActorKind
	Wallet int64
	Stock  map[economy.GoodID]int
}

// Spawner creates agents for the simulation.
type Spawner struct {
	rng   *rand.Rand
	rules map[Role]RoleRules
}

// NewSpawner creates an agent spawner with the given seed.
func NewSpawner(seed int64, rules map[Role]RoleRules) *Spawner {
	if rules == nil {
		rules = DefaultRules
	}
	return &Spawner{
		rng:   rand.New(rand.NewSource(seed + 300)),
		rules: rules,
	}
}

// Spawn builds the roster in id order. Exactly one mayor is required.
func (s *Spawner) Spawn(defs []Definition, tick uint64) ([]Spawned, error) {
	defs = slices.Clone(defs)
	for i := range defs {
		if defs[i].ID == "" {
			defs[i].ID = Slug(defs[i].Name)
		}
	}
	slices.SortFunc(defs, func(a, b Definition) int { return strings.Compare(a.ID, b.ID) })

	out := make([]Spawned, 0, len(defs))
	mayors := 0
	for i, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("agent %d has neither id nor name", i)
		}
		if i > 0 && defs[i-1].ID == d.ID {
			return nil, fmt.Errorf("duplicate agent %s", d.ID)
		}
		role, err := ParseRole(d.Role)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", d.ID, err)
		}
		rules := s.rules[role]

		kind := economy.KindNPC
		if role == RoleMayor {
			kind = economy.KindMayor
			mayors++
		}

		wallet := d.Wallet
		if wallet == 0 {
			// Starting wealth varies a little within a role.
			wallet = rules.StartingWallet + int64(s.rng.Intn(21))
		}
		stock := d.Stock
		if stock == nil {
			stock = rules.StartingStock
		}

		name := d.Name
		if name == "" {
			name = d.ID
		}
		out = append(out, Spawned{
			Agent: &Agent{
				ID:          AgentID(d.ID),
				Name:        name,
				Role:        role,
				Faction:     d.Faction,
				Disposition: make(map[string]int),
				Goal:        IntentIdle,
				SpawnTick:   tick,
			},
			Kind:   kind,
			Wallet: wallet,
			Stock:  cloneStock(stock),
		})
	}
	if mayors != 1 {
		return nil, fmt.Errorf("town needs exactly one mayor, found %d", mayors)
	}
	return out, nil
}

// Slug derives a stable id from a display name.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('_')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

func cloneStock(m map[economy.GoodID]int) map[economy.GoodID]int {
	out := make(map[economy.GoodID]int, len(m))
	for g, q := range m {
		out[g] = q
	}
	return out
}
