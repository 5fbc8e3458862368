package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "town.yaml")
	raw := `
simulation:
  seed: 7
economy:
  elasticity: 0.8
policy:
  tax_rate:
    default: 0.1
    min: 0
    max: 0.2
    max_step: 0.02
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Simulation.Seed)
	assert.Equal(t, 0.8, cfg.Economy.Elasticity)
	assert.Equal(t, 0.1, cfg.Policy.TaxRate.Default)
	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.Quests.MaxActive)
	assert.Equal(t, 1000, cfg.Simulation.TickIntervalMs)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("economy: [1, 2"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateCatchesBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tier order", func(c *Config) { c.Reputation.Tiers[2].Min = -80 }},
		{"first tier", func(c *Config) { c.Reputation.Tiers[0].Min = -50 }},
		{"tax default", func(c *Config) { c.Policy.TaxRate.Default = 0.9 }},
		{"price floor", func(c *Config) { c.Economy.PriceFloorRatio = 0 }},
		{"dialect", func(c *Config) { c.Persistence.Dialect = "mysql" }},
		{"ripple", func(c *Config) { c.Reputation.RippleDecay = 1.5 }},
		{"max active", func(c *Config) { c.Quests.MaxActive = 0 }},
		{"gossip chance", func(c *Config) { c.Reputation.GossipChance = 1.2 }},
		{"reason delta", func(c *Config) { c.Reputation.Reasons["quest_completed"] = 500 }},
		{"trusted proxies", func(c *Config) { c.API.TrustedProxiesList = "10.0.0.0/33" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TOWNSIM_ADMIN_KEY", "s3cret")
	t.Setenv("TOWNSIM_DB_DIALECT", "Postgres")
	t.Setenv("TOWNSIM_DB_DSN", "")
	t.Setenv("DATABASE_URL", "postgres://town@localhost/town")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TOWNSIM_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "s3cret", cfg.API.AdminKey)
	assert.Equal(t, "postgres", cfg.Persistence.Dialect)
	assert.Equal(t, "postgres://town@localhost/town", cfg.Persistence.DSN)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins())
	proxies, err := cfg.API.TrustedProxies()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("192.168.1.7/32")}, proxies)
}
