package content

import (
	"fmt"
	"slices"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/quest"
	"github.com/talgya/townsim/internal/social"
)

func getString(tbl *lua.LTable, key string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func getBool(tbl *lua.LTable, key string, def bool) bool {
	if b, ok := tbl.RawGetString(key).(lua.LBool); ok {
		return bool(b)
	}
	return def
}

func getNumber(tbl *lua.LTable, key string) float64 {
	if n, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

func getInt(tbl *lua.LTable, key string) int {
	return int(getNumber(tbl, key))
}

func getTable(tbl *lua.LTable, key string) *lua.LTable {
	if t, ok := tbl.RawGetString(key).(*lua.LTable); ok {
		return t
	}
	return nil
}

// stringList reads an array of strings. Non-string entries are dropped.
func stringList(tbl *lua.LTable) []string {
	if tbl == nil {
		return nil
	}
	var out []string
	tbl.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			out = append(out, string(s))
		}
	})
	return out
}

// intMap reads a string-keyed table of numbers, returning sorted keys
// alongside so callers build deterministic slices.
func intMap(tbl *lua.LTable) (map[string]int, []string) {
	if tbl == nil {
		return nil, nil
	}
	m := make(map[string]int)
	tbl.ForEach(func(k, v lua.LValue) {
		ks, kok := k.(lua.LString)
		n, nok := v.(lua.LNumber)
		if kok && nok {
			m[string(ks)] = int(n)
		}
	})
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return m, keys
}

func compile(coll *collector) (*Town, error) {
	if coll.town == nil {
		return nil, fmt.Errorf("no Town definition found")
	}
	t := &Town{Name: getString(coll.town, "name")}
	if t.Name == "" {
		return nil, fmt.Errorf("Town: name is required")
	}

	for _, raw := range coll.goods {
		t.Goods = append(t.Goods, compileGood(raw))
	}

	for _, raw := range coll.factions {
		f, rels, err := compileFaction(raw)
		if err != nil {
			return nil, err
		}
		t.Factions = append(t.Factions, f)
		t.Relations = append(t.Relations, rels...)
	}

	for _, raw := range coll.npcs {
		n, err := compileNPC(raw)
		if err != nil {
			return nil, err
		}
		t.NPCs = append(t.NPCs, n)
	}

	for _, raw := range coll.quests {
		q, err := compileQuest(raw)
		if err != nil {
			return nil, err
		}
		t.Quests = append(t.Quests, q)
	}
	return t, nil
}

func compileGood(raw rawDef) economy.Good {
	tbl := raw.table
	name := getString(tbl, "name")
	if name == "" {
		name = raw.id
	}
	return economy.Good{
		ID:         economy.GoodID(raw.id),
		Name:       name,
		BasePrice:  getNumber(tbl, "price"),
		Volatility: getNumber(tbl, "volatility"),
		Supply:     getInt(tbl, "supply"),
		BaseSupply: getInt(tbl, "base_supply"),
		Patron:     getString(tbl, "patron"),
	}
}

func compileFaction(raw rawDef) (social.Faction, []Relation, error) {
	tbl := raw.table
	kind, err := social.ParseFactionKind(getString(tbl, "kind"))
	if err != nil {
		return social.Faction{}, nil, fmt.Errorf("%s: faction %s: %w", raw.file, raw.id, err)
	}
	f := social.Faction{
		ID:   social.FactionID(raw.id),
		Name: getString(tbl, "name"),
		Kind: kind,
	}
	rels, keys := intMap(getTable(tbl, "relations"))
	var out []Relation
	for _, k := range keys {
		out = append(out, Relation{A: f.ID, B: social.FactionID(k), Value: rels[k]})
	}
	return f, out, nil
}

func compileNPC(raw rawDef) (agents.Definition, error) {
	tbl := raw.table
	d := agents.Definition{
		ID:      raw.id,
		Name:    getString(tbl, "name"),
		Role:    getString(tbl, "role"),
		Faction: getString(tbl, "faction"),
		Allies:  stringList(getTable(tbl, "allies")),
		Rivals:  stringList(getTable(tbl, "rivals")),
		Wallet:  int64(getNumber(tbl, "wallet")),
	}
	if d.Name == "" {
		d.Name = raw.id
	}
	if _, err := agents.ParseRole(d.Role); err != nil {
		return d, fmt.Errorf("%s: npc %s: %w", raw.file, raw.id, err)
	}
	if stock, keys := intMap(getTable(tbl, "stock")); stock != nil {
		d.Stock = make(map[economy.GoodID]int, len(keys))
		for _, k := range keys {
			d.Stock[economy.GoodID(k)] = stock[k]
		}
	}
	return d, nil
}

func compileQuest(raw rawDef) (quest.Template, error) {
	tbl := raw.table
	q := quest.Template{
		ID:          raw.id,
		Title:       getString(tbl, "title"),
		Giver:       getString(tbl, "giver"),
		ExpiryTicks: uint64(max(getInt(tbl, "expires"), 0)),
		Repeatable:  getBool(tbl, "repeatable", false),
	}
	if reqs := getTable(tbl, "requires"); reqs != nil {
		reqs.ForEach(func(_, v lua.LValue) {
			if r, ok := v.(*lua.LTable); ok {
				q.Requirements = append(q.Requirements, quest.Requirement{
					Target: getString(r, "target"),
					Min:    getInt(r, "min"),
				})
			}
		})
	}
	if reward := getTable(tbl, "reward"); reward != nil {
		q.Reward.Crowns = int64(getNumber(reward, "crowns"))
		rep, keys := intMap(getTable(reward, "rep"))
		for _, k := range keys {
			q.Reward.Reputation = append(q.Reward.Reputation, quest.RepDelta{Target: k, Delta: rep[k]})
		}
	}
	goal := getTable(tbl, "goal")
	if goal == nil {
		return q, fmt.Errorf("%s: quest %s: goal is required", raw.file, raw.id)
	}
	q.Goal = quest.Goal{
		Kind:      quest.SignalKind(getString(goal, "kind")),
		Good:      getString(goal, "good"),
		Direction: strings.ToLower(getString(goal, "direction")),
		Quantity:  getInt(goal, "quantity"),
		Agent:     getString(goal, "agent"),
	}
	if err := q.Validate(); err != nil {
		return q, fmt.Errorf("%s: %w", raw.file, err)
	}
	return q, nil
}
