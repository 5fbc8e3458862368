package agents

import "github.com/talgya/townsim/internal/economy"

// Need is a good an agent keeps a minimum stock of.
type Need struct {
	Good economy.GoodID
	Min  int
}

// Yield is a quantity of a good made or used per production cycle.
type Yield struct {
	Good economy.GoodID
	Qty  int
}

// RoleRules is the per-role rule table. Needs are listed in priority
// order: food first.
type RoleRules struct {
	Needs    []Need
	Produces []Yield
	Consumes []Yield // Used up each cycle; production needs these in stock
	Eats     []Yield // Used up each cycle regardless of production

	// Surplus holds back this many units of a produced good before selling.
	Surplus map[economy.GoodID]int

	QuestGiver     bool
	StartingWallet int64
	StartingStock  map[economy.GoodID]int
}

// DefaultRules is the built-in rule table for the default town's goods.
var DefaultRules = map[Role]RoleRules{
	RoleMayor: {
		Needs:          []Need{{"bread", 2}},
		Eats:           []Yield{{"bread", 1}},
		QuestGiver:     true,
		StartingWallet: 400,
		StartingStock:  map[economy.GoodID]int{"bread": 3},
	},
	RoleMerchant: {
		Needs:          []Need{{"bread", 2}},
		Produces:       []Yield{{"cloth", 2}},
		Eats:           []Yield{{"bread", 1}},
		Surplus:        map[economy.GoodID]int{"cloth": 2},
		QuestGiver:     true,
		StartingWallet: 250,
		StartingStock:  map[economy.GoodID]int{"bread": 2, "cloth": 4},
	},
	RoleFarmer: {
		Needs:          []Need{{"bread", 2}, {"tools", 1}},
		Produces:       []Yield{{"grain", 4}},
		Eats:           []Yield{{"bread", 1}},
		Surplus:        map[economy.GoodID]int{"grain": 3},
		StartingWallet: 80,
		StartingStock:  map[economy.GoodID]int{"bread": 2, "grain": 6, "tools": 1},
	},
	RoleCrafter: {
		Needs:          []Need{{"bread", 2}, {"iron", 2}},
		Produces:       []Yield{{"tools", 1}},
		Consumes:       []Yield{{"iron", 1}},
		Eats:           []Yield{{"bread", 1}},
		Surplus:        map[economy.GoodID]int{"tools": 1},
		StartingWallet: 120,
		StartingStock:  map[economy.GoodID]int{"bread": 2, "iron": 3},
	},
	RoleGuard: {
		Needs:          []Need{{"bread", 2}, {"ale", 1}},
		Eats:           []Yield{{"bread", 1}},
		QuestGiver:     true,
		StartingWallet: 150,
		StartingStock:  map[economy.GoodID]int{"bread": 2},
	},
	RoleBarkeep: {
		Needs:          []Need{{"bread", 1}, {"grain", 3}},
		Produces:       []Yield{{"ale", 3}, {"bread", 2}},
		Consumes:       []Yield{{"grain", 2}},
		Surplus:        map[economy.GoodID]int{"ale": 2, "bread": 3},
		QuestGiver:     true,
		StartingWallet: 150,
		StartingStock:  map[economy.GoodID]int{"bread": 2, "grain": 4, "ale": 3},
	},
}

// Goods lists every good the rule table mentions.
func (r RoleRules) Goods() []economy.GoodID {
	seen := make(map[economy.GoodID]bool)
	var out []economy.GoodID
	add := func(g economy.GoodID) {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	for _, n := range r.Needs {
		add(n.Good)
	}
	for _, y := range r.Produces {
		add(y.Good)
	}
	for _, y := range r.Consumes {
		add(y.Good)
	}
	for _, y := range r.Eats {
		add(y.Good)
	}
	for g := range r.StartingStock {
		add(g)
	}
	return out
}

// Cycle is one production cycle's effect on an agent's inventory.
type Cycle struct {
	Eat     []Yield
	Use     []Yield
	Produce []Yield
}

// PlanCycle works out a production cycle from the current inventory. Food
// is eaten from whatever is on hand; production only runs when every
// consumed input is in stock.
func (r RoleRules) PlanCycle(inventory map[economy.GoodID]int) Cycle {
	var c Cycle
	left := make(map[economy.GoodID]int, len(inventory))
	for g, q := range inventory {
		left[g] = q
	}
	for _, y := range r.Eats {
		if n := min(y.Qty, left[y.Good]); n > 0 {
			c.Eat = append(c.Eat, Yield{y.Good, n})
			left[y.Good] -= n
		}
	}
	for _, y := range r.Consumes {
		if left[y.Good] < y.Qty {
			return c
		}
	}
	c.Use = append(c.Use, r.Consumes...)
	c.Produce = append(c.Produce, r.Produces...)
	return c
}
