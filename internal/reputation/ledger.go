// Package reputation tracks how every townsperson feels about every
// player. Scores are clamped, every change is remembered with its reason,
// and changes ripple to the target's allies and rivals.
package reputation

import (
	"cmp"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/simerr"
)

// Relations answers who shares or opposes a target's feelings.
type Relations interface {
	Allies(target string) []string
	Rivals(target string) []string
}

// Gossip reasons tag changes heard second hand.
const (
	ReasonHeardGoodGossip = "npc_heard_good_gossip"
	ReasonHeardBadGossip  = "npc_heard_bad_gossip"
)

// Memory is one remembered change of a (player, target) pair.
type Memory struct {
	Tick   uint64 `json:"tick"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
	Ripple bool   `json:"ripple,omitempty"`
	Gossip bool   `json:"gossip,omitempty"`
}

// Change is the outcome of one adjustment.
type Change struct {
	Tick      uint64 `json:"tick"`
	Player    string `json:"player"`
	Target    string `json:"target"`
	Requested int    `json:"requested"`
	Delta     int    `json:"delta"` // Applied after clamping
	Score     int    `json:"score"`
	Tier      string `json:"tier"`
	PrevTier  string `json:"prev_tier"`
	Reason    string `json:"reason"`
	Ripple    bool   `json:"ripple,omitempty"`
	Gossip    bool   `json:"gossip,omitempty"`
	Source    string `json:"source,omitempty"` // Who the gossip came from
}

// TierChanged reports whether the change crossed a tier boundary.
func (c Change) TierChanged() bool { return c.Tier != c.PrevTier }

// Entry is one (player, target) standing.
type Entry struct {
	Player   string   `json:"player"`
	Target   string   `json:"target"`
	Score    int      `json:"score"`
	Memories []Memory `json:"memories"`
}

type pair struct{ player, target string }

// Ledger is the sole owner of reputation scores. Not safe for concurrent
// use.
type Ledger struct {
	cfg       config.Reputation
	relations Relations

	entries map[pair]*Entry
	pending []Change

	// Gossip is drawn from a stream keyed by seed, tick and draw number,
	// so a replayed tick hears the same gossip.
	seed       int64
	listeners  []string
	gossipTick uint64
	gossipN    uint64
}

// NewLedger creates an empty ledger. relations may be nil, which disables
// ripple.
func NewLedger(cfg config.Reputation, relations Relations) *Ledger {
	return &Ledger{
		cfg:       cfg,
		relations: relations,
		entries:   make(map[pair]*Entry),
	}
}

// EnableGossip lets direct changes toward one of listeners spread to a few
// of the others. Listeners are townsfolk ids; factions never gossip.
func (l *Ledger) EnableGossip(seed int64, listeners []string) {
	l.seed = seed
	l.listeners = slices.Clone(listeners)
	slices.Sort(l.listeners)
	l.resetGossip()
}

func (l *Ledger) resetGossip() {
	l.gossipTick = math.MaxUint64
	l.gossipN = 0
}

// Score returns the current score, 0 for a pair never seen.
func (l *Ledger) Score(player, target string) int {
	if e, ok := l.entries[pair{player, target}]; ok {
		return e.Score
	}
	return 0
}

// Known reports whether the pair has any history.
func (l *Ledger) Known(player, target string) bool {
	_, ok := l.entries[pair{player, target}]
	return ok
}

// Adjust applies delta to the pair, clamped to the configured bounds, and
// ripples a decayed share to the target's allies (same sign) and rivals
// (opposite sign). With gossip enabled other townsfolk may hear of it. It
// returns the direct change; ripple and gossip changes are only visible
// through Drain.
func (l *Ledger) Adjust(tick uint64, player, target string, delta int, reason string) Change {
	requested := delta
	delta = l.boundDelta(delta)
	c := l.apply(tick, player, target, delta, reason, false)
	if requested != delta {
		c.Requested = requested
		l.pending[len(l.pending)-1].Requested = requested
	}
	if delta == 0 {
		return c
	}
	if l.relations != nil {
		if ripple := int(math.Round(float64(delta) * l.cfg.RippleDecay)); ripple != 0 {
			for _, ally := range l.relations.Allies(target) {
				l.apply(tick, player, ally, ripple, reason, true)
			}
			for _, rival := range l.relations.Rivals(target) {
				l.apply(tick, player, rival, -ripple, reason, true)
			}
		}
	}
	l.gossip(tick, player, target, delta)
	return c
}

// boundDelta limits a delta to the widest move the score range allows, so
// adding it to any score in range cannot overflow.
func (l *Ledger) boundDelta(delta int) int {
	span := l.cfg.Max - l.cfg.Min
	return max(-span, min(span, delta))
}

// gossip spreads a decayed share of a direct change to up to
// GossipMaxListeners other townsfolk, with probability GossipChance.
func (l *Ledger) gossip(tick uint64, player, source string, delta int) {
	if len(l.listeners) < 2 || l.cfg.GossipChance <= 0 {
		return
	}
	if _, ok := slices.BinarySearch(l.listeners, source); !ok {
		return
	}
	share := int(math.Round(float64(delta) * l.cfg.GossipDecay))
	if share == 0 {
		return
	}

	rng := l.gossipRand(tick, player, source)
	if rng.Float64() >= l.cfg.GossipChance {
		return
	}
	others := make([]string, 0, len(l.listeners)-1)
	for _, id := range l.listeners {
		if id != source {
			others = append(others, id)
		}
	}
	rng.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })
	n := 1 + rng.IntN(max(1, l.cfg.GossipMaxListeners))

	reason := ReasonHeardGoodGossip
	if share < 0 {
		reason = ReasonHeardBadGossip
	}
	for _, target := range others[:min(n, len(others))] {
		l.applyGossip(tick, player, target, source, share, reason)
	}
}

func (l *Ledger) gossipRand(tick uint64, player, source string) *rand.Rand {
	if tick != l.gossipTick {
		l.gossipTick, l.gossipN = tick, 0
	}
	l.gossipN++
	h := fnv.New64a()
	h.Write([]byte(player))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return rand.New(rand.NewPCG(uint64(l.seed)^tick, h.Sum64()^l.gossipN))
}

func (l *Ledger) applyGossip(tick uint64, player, target, source string, delta int, reason string) {
	l.apply(tick, player, target, delta, reason, false)
	last := &l.pending[len(l.pending)-1]
	last.Gossip, last.Source = true, source
	e := l.entries[pair{player, target}]
	e.Memories[len(e.Memories)-1].Gossip = true
}

// AdjustReason applies a catalog reason's default delta.
func (l *Ledger) AdjustReason(tick uint64, player, target, reason string) (Change, error) {
	delta, ok := l.cfg.Reasons[reason]
	if !ok {
		return Change{}, simerr.New(simerr.MalformedCommand, "unknown reputation reason %q", reason)
	}
	return l.Adjust(tick, player, target, delta, reason), nil
}

func (l *Ledger) apply(tick uint64, player, target string, delta int, reason string, ripple bool) Change {
	k := pair{player, target}
	e, ok := l.entries[k]
	if !ok {
		e = &Entry{Player: player, Target: target}
		l.entries[k] = e
	}
	prev := e.Score
	e.Score = clampScore(prev+delta, l.cfg.Min, l.cfg.Max)

	e.Memories = append(e.Memories, Memory{Tick: tick, Delta: e.Score - prev, Reason: reason, Ripple: ripple})
	if over := len(e.Memories) - l.cfg.MaxMemories; over > 0 {
		e.Memories = slices.Delete(e.Memories, 0, over)
	}

	c := Change{
		Tick:      tick,
		Player:    player,
		Target:    target,
		Requested: delta,
		Delta:     e.Score - prev,
		Score:     e.Score,
		Tier:      l.TierOf(e.Score).Name,
		PrevTier:  l.TierOf(prev).Name,
		Reason:    reason,
		Ripple:    ripple,
	}
	l.pending = append(l.pending, c)
	return c
}

func clampScore(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// TierOf returns the highest tier whose lower bound the score reaches.
func (l *Ledger) TierOf(score int) config.Tier {
	tiers := l.cfg.Tiers
	i, found := slices.BinarySearchFunc(tiers, score, func(t config.Tier, s int) int {
		return cmp.Compare(t.Min, s)
	})
	if found {
		return tiers[i]
	}
	if i == 0 {
		return tiers[0]
	}
	return tiers[i-1]
}

// Drain returns and clears the changes recorded since the last call.
func (l *Ledger) Drain() []Change {
	out := l.pending
	l.pending = nil
	return out
}

// Standing lists every entry for a player, sorted by target.
func (l *Ledger) Standing(player string) []Entry {
	var out []Entry
	for k, e := range l.entries {
		if k.player == player {
			out = append(out, copyEntry(e))
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.Target, b.Target) })
	return out
}

// Toward lists every player's standing with one target, sorted by player.
func (l *Ledger) Toward(target string) []Entry {
	var out []Entry
	for k, e := range l.entries {
		if k.target == target {
			out = append(out, copyEntry(e))
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.Player, b.Player) })
	return out
}

// History returns the remembered changes for a pair, oldest first.
func (l *Ledger) History(player, target string) []Memory {
	e, ok := l.entries[pair{player, target}]
	if !ok {
		return nil
	}
	return slices.Clone(e.Memories)
}

func copyEntry(e *Entry) Entry {
	c := *e
	c.Memories = slices.Clone(e.Memories)
	return c
}

// Snapshot returns every entry sorted by (player, target).
func (l *Ledger) Snapshot() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, copyEntry(e))
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(a.Player, b.Player); c != 0 {
			return c
		}
		return cmp.Compare(a.Target, b.Target)
	})
	return out
}

// Restore replaces all entries and drops pending changes.
func (l *Ledger) Restore(entries []Entry) {
	l.entries = make(map[pair]*Entry, len(entries))
	for _, e := range entries {
		c := copyEntry(&e)
		c.Score = clampScore(c.Score, l.cfg.Min, l.cfg.Max)
		l.entries[pair{e.Player, e.Target}] = &c
	}
	l.pending = nil
	l.resetGossip()
}
