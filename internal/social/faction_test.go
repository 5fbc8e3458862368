package social

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	d := NewDirectory()
	require.NoError(t, d.AddFaction(Faction{ID: "crown", Name: "The Crown", Kind: FactionPolitical}))
	require.NoError(t, d.AddFaction(Faction{ID: "guild", Name: "Merchant Guild", Kind: FactionEconomic}))
	require.NoError(t, d.AddFaction(Faction{ID: "ash", Name: "Ashen Path", Kind: FactionCriminal}))
	require.NoError(t, d.SetRelation("crown", "guild", 30))
	require.NoError(t, d.SetRelation("crown", "ash", -50))
	require.NoError(t, d.SetRelation("guild", "ash", -10))

	require.NoError(t, d.Join("mayor", "crown"))
	require.NoError(t, d.Join("guard", "crown"))
	require.NoError(t, d.Join("merchant", "guild"))
	require.NoError(t, d.Join("fence", "ash"))
	d.Declare("mayor", []string{"merchant"}, []string{"barkeep", "guard"})
	return d
}

func TestFactionAlliesAndRivals(t *testing.T) {
	d := testDirectory(t)
	assert.Equal(t, []string{"guild"}, d.Allies("crown"))
	assert.Equal(t, []string{"ash"}, d.Rivals("crown"))
	assert.Empty(t, d.Rivals("guild"))
}

func TestAgentAlliesAndRivals(t *testing.T) {
	d := testDirectory(t)
	assert.Equal(t, []string{"guard", "merchant"}, d.Allies("mayor"))
	// guard is declared a rival but shares the faction, so stays an ally.
	assert.Equal(t, []string{"barkeep", "fence"}, d.Rivals("mayor"))
	assert.Equal(t, []string{"mayor"}, d.Allies("guard"))
	assert.Empty(t, d.Allies("stranger"))
}

func TestDirectoryErrors(t *testing.T) {
	d := testDirectory(t)
	assert.Error(t, d.AddFaction(Faction{ID: "crown"}))
	assert.Error(t, d.Join("x", "nowhere"))
	assert.Error(t, d.SetRelation("crown", "nowhere", 5))

	k, err := ParseFactionKind("Military")
	require.NoError(t, err)
	assert.Equal(t, FactionMilitary, k)
	_, err = ParseFactionKind("pirate")
	assert.Error(t, err)
}
