package content

import (
	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/quest"
	"github.com/talgya/townsim/internal/social"
)

// Default returns the built-in town of Millbrook. content/town holds the
// same town in Lua.
func Default() *Town {
	return &Town{
		Name: "Millbrook",
		Goods: []economy.Good{
			{ID: "grain", Name: "Grain", BasePrice: 4, Volatility: 0.15, Supply: 60, Patron: "hearth"},
			{ID: "bread", Name: "Bread", BasePrice: 10, Volatility: 0.1, Supply: 40, Patron: "hearth"},
			{ID: "ale", Name: "Ale", BasePrice: 6, Volatility: 0.2, Supply: 30, Patron: "hearth"},
			{ID: "iron", Name: "Iron", BasePrice: 12, Volatility: 0.25, Supply: 25, Patron: "crown"},
			{ID: "tools", Name: "Tools", BasePrice: 30, Volatility: 0.2, Supply: 10, Patron: "guild"},
			{ID: "cloth", Name: "Cloth", BasePrice: 9, Volatility: 0.15, Supply: 30, Patron: "guild"},
		},
		Factions: []social.Faction{
			{ID: "crown", Name: "The Crown", Kind: social.FactionPolitical},
			{ID: "guild", Name: "Merchant's Compact", Kind: social.FactionEconomic},
			{ID: "hearth", Name: "Hearth Circle", Kind: social.FactionReligious},
			{ID: "ash", Name: "Ashen Path", Kind: social.FactionCriminal},
		},
		Relations: []Relation{
			{A: "crown", B: "guild", Value: -20},
			{A: "crown", B: "hearth", Value: 30},
			{A: "crown", B: "ash", Value: -50},
			{A: "guild", B: "hearth", Value: 20},
			{A: "guild", B: "ash", Value: -30},
			{A: "hearth", B: "ash", Value: -60},
		},
		NPCs: []agents.Definition{
			{ID: "mayor_hale", Name: "Mayor Hale", Role: "mayor", Faction: "crown", Allies: []string{"guard_ida"}, Rivals: []string{"vera_merchant"}},
			{ID: "vera_merchant", Name: "Vera", Role: "merchant", Faction: "guild", Allies: []string{"rolf_smith"}},
			{ID: "ann_farmer", Name: "Ann", Role: "farmer", Faction: "hearth", Allies: []string{"bo_farmer"}},
			{ID: "bo_farmer", Name: "Bo", Role: "farmer", Faction: "hearth"},
			{ID: "rolf_smith", Name: "Rolf", Role: "crafter", Faction: "guild"},
			{ID: "guard_ida", Name: "Ida", Role: "guard", Faction: "crown", Rivals: []string{"tom_barkeep"}},
			{ID: "tom_barkeep", Name: "Old Tom", Role: "barkeep", Faction: "hearth", Allies: []string{"ann_farmer"}},
		},
		Quests: []quest.Template{
			{
				ID: "welcome", Title: "Pay your respects to the Mayor", Giver: "mayor_hale",
				Reward: quest.Reward{Crowns: 10, Reputation: []quest.RepDelta{{Target: "mayor_hale", Delta: 5}}},
				Goal:   quest.Goal{Kind: quest.SignalTalk, Agent: "mayor_hale"},
			},
			{
				ID: "bread_for_the_watch", Title: "Bread for the watch", Giver: "guard_ida",
				Requirements: []quest.Requirement{{Target: "guard_ida", Min: 5}},
				Reward:       quest.Reward{Crowns: 40, Reputation: []quest.RepDelta{{Target: "guard_ida", Delta: 8}}},
				Goal:         quest.Goal{Kind: quest.SignalTrade, Good: "bread", Direction: "buy", Quantity: 3},
				ExpiryTicks:  30,
			},
			{
				ID: "a_round_for_the_house", Title: "A round for the house", Giver: "tom_barkeep",
				Requirements: []quest.Requirement{{Target: "tom_barkeep", Min: 3}},
				Reward:       quest.Reward{Crowns: 15, Reputation: []quest.RepDelta{{Target: "tom_barkeep", Delta: 4}}},
				Goal:         quest.Goal{Kind: quest.SignalTrade, Good: "ale", Direction: "buy", Quantity: 2},
				ExpiryTicks:  20,
				Repeatable:   true,
			},
			{
				ID: "tools_for_the_fields", Title: "Tools for the fields", Giver: "vera_merchant",
				Requirements: []quest.Requirement{{Target: "vera_merchant", Min: 20}, {Target: "guild", Min: 5}},
				Reward: quest.Reward{Crowns: 60, Reputation: []quest.RepDelta{
					{Target: "ann_farmer", Delta: 5},
					{Target: "vera_merchant", Delta: 10},
				}},
				Goal:        quest.Goal{Kind: quest.SignalTrade, Good: "tools", Direction: "buy", Quantity: 1},
				ExpiryTicks: 50,
			},
			{
				ID: "crown_favor", Title: "A word with the watch", Giver: "mayor_hale",
				Requirements: []quest.Requirement{{Target: "mayor_hale", Min: 30}, {Target: "crown", Min: 10}},
				Reward:       quest.Reward{Crowns: 100, Reputation: []quest.RepDelta{{Target: "crown", Delta: 10}}},
				Goal:         quest.Goal{Kind: quest.SignalTalk, Agent: "guard_ida"},
				ExpiryTicks:  40,
			},
		},
	}
}
