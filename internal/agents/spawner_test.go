package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/townsim/internal/economy"
)

func TestSpawnSortsAndDefaults(t *testing.T) {
	defs := []Definition{
		{Name: "Old Tom", Role: "barkeep"},
		{ID: "mayor", Name: "Mayor Hale", Role: "Mayor", Faction: "crown"},
		{ID: "ann", Name: "Ann", Role: "farmer", Wallet: 7, Stock: map[economy.GoodID]int{"grain": 1}},
	}
	out, err := NewSpawner(1, nil).Spawn(defs, 3)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, AgentID("ann"), out[0].Agent.ID)
	assert.Equal(t, AgentID("mayor"), out[1].Agent.ID)
	assert.Equal(t, AgentID("old_tom"), out[2].Agent.ID)

	assert.Equal(t, int64(7), out[0].Wallet)
	assert.Equal(t, map[economy.GoodID]int{"grain": 1}, out[0].Stock)
	assert.Equal(t, economy.KindMayor, out[1].Kind)
	assert.Equal(t, "crown", out[1].Agent.Faction)
	assert.Equal(t, uint64(3), out[1].Agent.SpawnTick)

	wallet := out[2].Wallet
	assert.GreaterOrEqual(t, wallet, DefaultRules[RoleBarkeep].StartingWallet)
	assert.LessOrEqual(t, wallet, DefaultRules[RoleBarkeep].StartingWallet+20)
}

func TestSpawnIsDeterministic(t *testing.T) {
	defs := []Definition{{ID: "m", Role: "mayor"}, {ID: "a", Role: "guard"}, {ID: "b", Role: "crafter"}}
	x, err := NewSpawner(9, nil).Spawn(defs, 0)
	require.NoError(t, err)
	y, err := NewSpawner(9, nil).Spawn(defs, 0)
	require.NoError(t, err)
	for i := range x {
		assert.Equal(t, x[i].Wallet, y[i].Wallet)
	}
}

func TestSpawnErrors(t *testing.T) {
	s := NewSpawner(1, nil)
	_, err := s.Spawn([]Definition{{ID: "a", Role: "farmer"}}, 0)
	assert.ErrorContains(t, err, "mayor")

	_, err = s.Spawn([]Definition{{ID: "m", Role: "mayor"}, {ID: "m", Role: "guard"}}, 0)
	assert.ErrorContains(t, err, "duplicate")

	_, err = s.Spawn([]Definition{{ID: "m", Role: "mayor"}, {ID: "w", Role: "wizard"}}, 0)
	assert.ErrorContains(t, err, "wizard")
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "old_tom", Slug("  Old Tom "))
	assert.Equal(t, "mrs_o_neil_2", Slug("Mrs. O'Neil #2"))
}
