package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/content"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/quest"
	"github.com/talgya/townsim/internal/reputation"
)

// SnapshotVersion is bumped when the snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is the whole state of a world at a tick boundary: enough to
// resume it or to replay from it.
type Snapshot struct {
	Version    int                `json:"version"`
	Town       string             `json:"town"`
	Seed       int64              `json:"seed"`
	Tick       uint64             `json:"tick"` // Next tick to run
	Market     economy.State      `json:"market"`
	Agents     []agents.Agent     `json:"agents"`
	Reputation []reputation.Entry `json:"reputation"`
	Quests     []quest.Instance   `json:"quests"`
}

// Digest hashes the snapshot's canonical JSON. encoding/json sorts map
// keys, so equal states hash equally.
func (s Snapshot) Digest() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Snapshot captures the world between ticks.
func (w *World) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Digest hashes the current state.
func (w *World) Digest() (string, error) {
	return w.Snapshot().Digest()
}

func (w *World) snapshotLocked() Snapshot {
	s := Snapshot{
		Version:    SnapshotVersion,
		Town:       w.town.Name,
		Seed:       w.seed,
		Tick:       w.tick,
		Market:     w.market.Snapshot(),
		Agents:     make([]agents.Agent, 0, len(w.roster)),
		Reputation: w.ledger.Snapshot(),
		Quests:     w.quests.Snapshot(),
	}
	for _, a := range w.roster {
		s.Agents = append(s.Agents, *a.Clone())
	}
	return s
}

// Restore replaces the world's state with s. The snapshot must come from
// the same town and seed.
func (w *World) Restore(s Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.restoreLocked(s); err != nil {
		return err
	}
	w.retry = nil
	clear(w.quarantined)
	clear(w.benched)
	return nil
}

func (w *World) restoreLocked(s Snapshot) error {
	switch {
	case s.Version != SnapshotVersion:
		return fmt.Errorf("snapshot version %d, want %d", s.Version, SnapshotVersion)
	case s.Town != w.town.Name:
		return fmt.Errorf("snapshot of %q cannot restore %q", s.Town, w.town.Name)
	case s.Seed != w.seed:
		return fmt.Errorf("snapshot seed %d differs from world seed %d", s.Seed, w.seed)
	case len(s.Agents) != len(w.roster):
		return fmt.Errorf("snapshot has %d agents, town has %d", len(s.Agents), len(w.roster))
	}
	for _, a := range s.Agents {
		if _, ok := w.index[a.ID]; !ok {
			return fmt.Errorf("snapshot agent %s is not in the town", a.ID)
		}
	}

	if err := w.market.Restore(s.Market); err != nil {
		return err
	}
	if err := w.quests.Restore(s.Quests); err != nil {
		return err
	}
	w.quests.Drain()
	w.ledger.Restore(s.Reputation)
	for _, a := range s.Agents {
		*w.index[a.ID] = *a.Clone()
	}

	w.tick = s.Tick
	w.currency = w.market.TotalCurrency()
	w.pending = nil
	return nil
}

// Resume builds a world from content and overlays a snapshot.
func Resume(cfg config.Config, town *content.Town, s Snapshot, opts ...Option) (*World, error) {
	cfg.Simulation.Seed = s.Seed
	w, err := New(cfg, town, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Restore(s); err != nil {
		return nil, fmt.Errorf("resuming at tick %d: %w", s.Tick, err)
	}
	return w, nil
}

// DrainCommandLog returns and clears the per-tick command batches
// committed since the last call.
func (w *World) DrainCommandLog() []TickCommands {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.cmdLog
	w.cmdLog = nil
	return out
}

// Replay resumes from s and re-runs the logged command batches until the
// world reaches tick until. The same snapshot and log always produce the
// same final state.
func Replay(cfg config.Config, town *content.Town, s Snapshot, log []TickCommands, until uint64, opts ...Option) (*World, error) {
	w, err := Resume(cfg, town, s, opts...)
	if err != nil {
		return nil, err
	}
	log = slices.Clone(log)
	slices.SortStableFunc(log, func(a, b TickCommands) int {
		switch {
		case a.Tick < b.Tick:
			return -1
		case a.Tick > b.Tick:
			return 1
		}
		return 0
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	next := 0
	for w.tick < until {
		for next < len(log) && log[next].Tick < w.tick {
			next++
		}
		var batch []queued
		if next < len(log) && log[next].Tick == w.tick {
			for _, c := range log[next].Commands {
				batch = append(batch, queued{cmd: c, ticket: newTicket(c.ID)})
			}
			for _, id := range log[next].Benched {
				w.benched[agents.AgentID(id)] = true
			}
		}
		if _, _, err := w.stepLocked(batch); err != nil {
			return w, fmt.Errorf("replaying tick %d: %w", w.tick, err)
		}
	}
	w.cmdLog = nil
	return w, nil
}
