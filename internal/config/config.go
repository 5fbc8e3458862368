// Package config loads simulation tuning from YAML. Every knob has a
// default so a town can run with no file at all; a file only overrides
// the fields it names.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete tuning for one town instance and its host process.
type Config struct {
	Simulation  Simulation  `yaml:"simulation"`
	Economy     Economy     `yaml:"economy"`
	Policy      Policy      `yaml:"policy"`
	Reputation  Reputation  `yaml:"reputation"`
	Quests      Quests      `yaml:"quests"`
	Agents      Agents      `yaml:"agents"`
	Persistence Persistence `yaml:"persistence"`
	API         API         `yaml:"api"`
	Log         Log         `yaml:"log"`
}

type Simulation struct {
	Seed                 int64  `yaml:"seed"`
	TickIntervalMs       int    `yaml:"tick_interval_ms"`
	CheckpointEveryTicks uint64 `yaml:"checkpoint_every_ticks"`
	ContentDir           string `yaml:"content_dir"` // Empty = built-in town
	EventBuffer          int    `yaml:"event_buffer"`
}

// TickInterval returns the wall-clock pacing of the clock.
func (s Simulation) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

type Economy struct {
	// Elasticity curve: multiplier = (base_supply / supply) ^ elasticity,
	// clamped to [min_multiplier, max_multiplier].
	Elasticity    float64 `yaml:"elasticity"`
	MinMultiplier float64 `yaml:"min_multiplier"`
	MaxMultiplier float64 `yaml:"max_multiplier"`

	// Impact scales how far a single trade moves the price.
	Impact float64 `yaml:"impact"`
	// MaxPriceDeltaPerTick bounds the accumulated move of one good within a
	// tick, as a fraction of the price at tick open.
	MaxPriceDeltaPerTick float64 `yaml:"max_price_delta_per_tick"`
	PriceFloorRatio      float64 `yaml:"price_floor_ratio"`
	PriceCeilingRatio    float64 `yaml:"price_ceiling_ratio"`

	StartingTreasury     int64 `yaml:"starting_treasury"`
	PlayerStartingWallet int64 `yaml:"player_starting_wallet"`

	// Ticks of trades the market keeps in memory and in snapshots; the
	// event store holds the full history. 0 keeps everything.
	LogRetentionTicks uint64 `yaml:"log_retention_ticks"`
}

// Bounds constrains one Mayor-controlled policy parameter.
type Bounds struct {
	Default float64 `yaml:"default"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	MaxStep float64 `yaml:"max_step"` // Largest change allowed in one policy action
}

// Contains reports whether v lies inside [Min, Max].
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

type Policy struct {
	TaxRate           Bounds `yaml:"tax_rate"`
	VolatilityCeiling Bounds `yaml:"volatility_ceiling"`
}

// Tier names a reputation band starting at Min (inclusive).
type Tier struct {
	Name string `yaml:"name"`
	Min  int    `yaml:"min"`
}

type Reputation struct {
	Min         int            `yaml:"min"`
	Max         int            `yaml:"max"`
	Tiers       []Tier         `yaml:"tiers"`
	RippleDecay float64        `yaml:"ripple_decay"`
	MaxMemories int            `yaml:"max_memories"`
	Reasons     map[string]int `yaml:"reasons"` // Reason tag → default delta

	// Gossip: a direct change toward a townsperson reaches 1..GossipMaxListeners
	// others with probability GossipChance, scaled by GossipDecay.
	GossipChance       float64 `yaml:"gossip_chance"`
	GossipDecay        float64 `yaml:"gossip_decay"`
	GossipMaxListeners int     `yaml:"gossip_max_listeners"`
}

type Quests struct {
	MaxActive int `yaml:"max_active"`

	// OfferCooldownTicks keeps an agent from offering the same player
	// another quest this soon after its last offer.
	OfferCooldownTicks uint64 `yaml:"offer_cooldown_ticks"`
}

type Agents struct {
	AppetiteAmplitude    float64 `yaml:"appetite_amplitude"`
	AppetiteFrequency    float64 `yaml:"appetite_frequency"`
	OfferDisposition     int     `yaml:"offer_disposition"`
	DispositionStep      int     `yaml:"disposition_step"`
	TalkDisposition      int     `yaml:"talk_disposition"`
	ProductionEveryTicks uint64  `yaml:"production_every_ticks"`
	TreasuryLowWater     int64   `yaml:"treasury_low_water"`
	TreasuryHighWater    int64   `yaml:"treasury_high_water"`
	PriceIndexCeiling    float64 `yaml:"price_index_ceiling"`
}

type Persistence struct {
	Dialect    string `yaml:"dialect"` // "sqlite" or "postgres"
	DSN        string `yaml:"dsn"`
	ArchiveDir string `yaml:"archive_dir"` // Empty = no JSONL archive
}

type API struct {
	Port               int    `yaml:"port"`
	AdminKey           string `yaml:"-"` // Env only
	CommandTimeoutMs   int    `yaml:"command_timeout_ms"`
	CommandsPerMinute  int    `yaml:"commands_per_minute"`
	StreamBuffer       int    `yaml:"stream_buffer"`
	MaxStreamConns     int    `yaml:"max_stream_conns"`
	AllowedOriginsList string `yaml:"allowed_origins"`

	// Peers allowed to set X-Forwarded-For; addresses or CIDR prefixes,
	// comma separated. Empty means the header is ignored.
	TrustedProxiesList string `yaml:"trusted_proxies"`
}

// CommandTimeout is how long an HTTP command waits for its tick.
func (a API) CommandTimeout() time.Duration {
	return time.Duration(a.CommandTimeoutMs) * time.Millisecond
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the built-in tuning. Tier thresholds and reason deltas
// follow the original town's reputation table.
func Default() Config {
	return Config{
		Simulation: Simulation{
			Seed:                 42,
			TickIntervalMs:       1000,
			CheckpointEveryTicks: 60,
			EventBuffer:          256,
		},
		Economy: Economy{
			Elasticity:           0.5,
			MinMultiplier:        0.5,
			MaxMultiplier:        3.0,
			Impact:               1.0,
			MaxPriceDeltaPerTick: 0.25,
			PriceFloorRatio:      0.2,
			PriceCeilingRatio:    5.0,
			StartingTreasury:     10000,
			PlayerStartingWallet: 100,
			LogRetentionTicks:    120,
		},
		Policy: Policy{
			TaxRate:           Bounds{Default: 0.05, Min: 0, Max: 0.3, MaxStep: 0.05},
			VolatilityCeiling: Bounds{Default: 0.5, Min: 0.05, Max: 0.9, MaxStep: 0.1},
		},
		Reputation: Reputation{
			Min: -100,
			Max: 100,
			Tiers: []Tier{
				{Name: "enemy", Min: -100},
				{Name: "hostile", Min: -59},
				{Name: "dislike", Min: -29},
				{Name: "neutral", Min: -9},
				{Name: "friendly", Min: 10},
				{Name: "ally", Min: 30},
				{Name: "devoted", Min: 60},
			},
			RippleDecay:        0.4,
			MaxMemories:        20,
			GossipChance:       0.25,
			GossipDecay:        0.3,
			GossipMaxListeners: 3,
			Reasons: map[string]int{
				"first_interaction": 2,
				"daily_visit":       1,
				"patronized_market": 1,
				"helped_npc":        12,
				"gift_to_npc":       8,
				"insulted_npc":      -7,
				"quest_completed":   10,
				"quest_abandoned":   -4,
				"quest_expired":     -3,

				"npc_heard_good_gossip": 3,
				"npc_heard_bad_gossip":  -3,
			},
		},
		Quests: Quests{MaxActive: 3, OfferCooldownTicks: 600},
		Agents: Agents{
			AppetiteAmplitude:    2,
			AppetiteFrequency:    0.05,
			OfferDisposition:     10,
			DispositionStep:      2,
			TalkDisposition:      3,
			ProductionEveryTicks: 5,
			TreasuryLowWater:     2000,
			TreasuryHighWater:    20000,
			PriceIndexCeiling:    1.5,
		},
		Persistence: Persistence{
			Dialect: "sqlite",
			DSN:     "data/town.db",
		},
		API: API{
			Port:              8080,
			CommandTimeoutMs:  5000,
			CommandsPerMinute: 120,
			StreamBuffer:      64,
			MaxStreamConns:    32,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides deployment knobs from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("TOWNSIM_ADMIN_KEY")); v != "" {
		c.API.AdminKey = v
	}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("TOWNSIM_DB_DIALECT"))); v != "" {
		c.Persistence.Dialect = v
	}
	if v := strings.TrimSpace(os.Getenv("TOWNSIM_DB_DSN")); v != "" {
		c.Persistence.DSN = v
	} else if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" && c.Persistence.Dialect == "postgres" {
		c.Persistence.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		c.API.AllowedOriginsList = v
	}
	if v := strings.TrimSpace(os.Getenv("TOWNSIM_TRUSTED_PROXIES")); v != "" {
		c.API.TrustedProxiesList = v
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	e := c.Economy
	if e.Elasticity < 0 {
		return errors.New("economy.elasticity must be >= 0")
	}
	if e.MinMultiplier <= 0 || e.MaxMultiplier < e.MinMultiplier {
		return errors.New("economy multipliers must satisfy 0 < min <= max")
	}
	if e.MaxPriceDeltaPerTick <= 0 {
		return errors.New("economy.max_price_delta_per_tick must be > 0")
	}
	if e.PriceFloorRatio <= 0 || e.PriceCeilingRatio < e.PriceFloorRatio {
		return errors.New("economy price bounds must satisfy 0 < floor <= ceiling")
	}
	if e.StartingTreasury < 0 || e.PlayerStartingWallet < 0 {
		return errors.New("economy balances must be >= 0")
	}
	for name, b := range map[string]Bounds{"tax_rate": c.Policy.TaxRate, "volatility_ceiling": c.Policy.VolatilityCeiling} {
		if b.Min > b.Max || !b.Contains(b.Default) {
			return fmt.Errorf("policy.%s: default %.3f outside [%.3f, %.3f]", name, b.Default, b.Min, b.Max)
		}
		if b.MaxStep <= 0 {
			return fmt.Errorf("policy.%s: max_step must be > 0", name)
		}
	}
	if c.Policy.TaxRate.Min < 0 || c.Policy.TaxRate.Max >= 1 {
		return errors.New("policy.tax_rate must stay within [0, 1)")
	}

	r := c.Reputation
	if r.Min >= r.Max {
		return errors.New("reputation.min must be < reputation.max")
	}
	if len(r.Tiers) == 0 {
		return errors.New("reputation.tiers must not be empty")
	}
	if r.Tiers[0].Min != r.Min {
		return fmt.Errorf("reputation.tiers: first tier must start at %d", r.Min)
	}
	for i := 1; i < len(r.Tiers); i++ {
		if r.Tiers[i].Min <= r.Tiers[i-1].Min {
			return fmt.Errorf("reputation.tiers: %q must start above %q", r.Tiers[i].Name, r.Tiers[i-1].Name)
		}
	}
	if r.RippleDecay < 0 || r.RippleDecay > 1 {
		return errors.New("reputation.ripple_decay must be within [0, 1]")
	}
	if r.GossipChance < 0 || r.GossipChance > 1 || r.GossipDecay < 0 || r.GossipDecay > 1 {
		return errors.New("reputation gossip chance and decay must be within [0, 1]")
	}
	if r.GossipMaxListeners < 0 {
		return errors.New("reputation.gossip_max_listeners must be >= 0")
	}
	for reason, d := range r.Reasons {
		if d < r.Min-r.Max || d > r.Max-r.Min {
			return fmt.Errorf("reputation.reasons.%s: delta %d exceeds the score range", reason, d)
		}
	}
	if r.MaxMemories <= 0 {
		return errors.New("reputation.max_memories must be > 0")
	}
	if c.Quests.MaxActive <= 0 {
		return errors.New("quests.max_active must be > 0")
	}
	if c.Agents.ProductionEveryTicks == 0 {
		return errors.New("agents.production_every_ticks must be > 0")
	}

	if _, err := c.API.TrustedProxies(); err != nil {
		return err
	}

	switch c.Persistence.Dialect {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported persistence.dialect %q", c.Persistence.Dialect)
	}
	return nil
}

// AllowedOrigins splits the comma separated CORS list.
func (a API) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(a.AllowedOriginsList, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// TrustedProxies parses the proxy list. A bare address is a single-host
// prefix.
func (a API) TrustedProxies() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, p := range strings.Split(a.TrustedProxiesList, ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			pfx, err := netip.ParsePrefix(p)
			if err != nil {
				return nil, fmt.Errorf("api.trusted_proxies: %w", err)
			}
			out = append(out, pfx.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return nil, fmt.Errorf("api.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
