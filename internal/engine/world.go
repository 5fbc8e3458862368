// Package engine ties the town's systems together. A World is one
// isolated town: it owns the market, the reputation ledger, the quest
// directory and the NPC roster, and advances them one tick at a time.
package engine

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/content"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/quest"
	"github.com/talgya/townsim/internal/reputation"
	"github.com/talgya/townsim/internal/simerr"
	"github.com/talgya/townsim/internal/social"
)

// World holds the complete state of one town. All methods are safe for
// concurrent use; ticks run one at a time.
type World struct {
	mu sync.Mutex

	cfg  config.Config
	town *content.Town
	seed int64
	tick uint64 // Next tick to run

	market   *economy.Market
	ledger   *reputation.Ledger
	quests   *quest.Directory
	factions *social.Directory
	brain    agents.Brain
	rules    map[agents.Role]agents.RoleRules
	roster   []*agents.Agent // Mayor first, then by id
	index    map[agents.AgentID]*agents.Agent

	// Fixed at construction; read without the lock.
	goods    map[economy.GoodID]bool
	questIDs map[string]bool
	agentIDs map[string]bool

	queue       *Queue
	retry       []queued
	quarantined map[string]bool         // Command ids dropped for good
	benched     map[agents.AgentID]bool // Agents sitting out a retried tick
	currency    int64                   // Expected market.TotalCurrency()
	pending     []Event
	recent      *ring
	bus         *Bus
	cmdLog      []TickCommands
	lastStep    time.Duration
	aborted     uint64

	// fault lets tests inject an inconsistency while an action applies.
	fault func(actionID string) error
}

// Option customises a World.
type Option func(*World)

// WithBrain replaces the rule brain every NPC decides with.
func WithBrain(b agents.Brain) Option {
	return func(w *World) { w.brain = b }
}

// New builds a fresh town at tick 0 from content.
func New(cfg config.Config, town *content.Town, opts ...Option) (*World, error) {
	if err := town.Validate(); err != nil {
		return nil, fmt.Errorf("town %s: %w", town.Name, err)
	}
	factions, err := town.Directory()
	if err != nil {
		return nil, fmt.Errorf("town %s factions: %w", town.Name, err)
	}
	market, err := economy.NewMarket(cfg.Economy, cfg.Policy, town.Goods)
	if err != nil {
		return nil, fmt.Errorf("town %s market: %w", town.Name, err)
	}
	quests, err := quest.NewDirectory(cfg.Quests, cfg.Reputation.Reasons, town.Quests)
	if err != nil {
		return nil, fmt.Errorf("town %s quests: %w", town.Name, err)
	}

	seed := cfg.Simulation.Seed
	w := &World{
		cfg:         cfg,
		town:        town,
		seed:        seed,
		market:      market,
		ledger:      reputation.NewLedger(cfg.Reputation, factions),
		quests:      quests,
		factions:    factions,
		brain:       agents.NewRuleBrain(seed, cfg.Agents, agents.DefaultRules),
		rules:       agents.DefaultRules,
		index:       make(map[agents.AgentID]*agents.Agent),
		goods:       make(map[economy.GoodID]bool, len(town.Goods)),
		questIDs:    make(map[string]bool, len(town.Quests)),
		agentIDs:    make(map[string]bool, len(town.NPCs)),
		queue:       &Queue{},
		quarantined: make(map[string]bool),
		benched:     make(map[agents.AgentID]bool),
		recent:      newRing(cfg.Simulation.EventBuffer),
		bus:         NewBus(cfg.API.StreamBuffer),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, g := range town.Goods {
		w.goods[g.ID] = true
	}
	for _, q := range town.Quests {
		w.questIDs[q.ID] = true
	}

	spawned, err := agents.NewSpawner(seed, w.rules).Spawn(town.NPCs, 0)
	if err != nil {
		return nil, fmt.Errorf("town %s roster: %w", town.Name, err)
	}
	for _, s := range spawned {
		stock := make(map[economy.GoodID]int, len(s.Stock))
		for g, q := range s.Stock {
			if w.goods[g] {
				stock[g] = q
			}
		}
		if err := market.OpenAccount(economy.ActorID(s.Agent.ID), s.Kind, s.Wallet, stock); err != nil {
			return nil, fmt.Errorf("opening account for %s: %w", s.Agent.ID, err)
		}
		w.roster = append(w.roster, s.Agent)
		w.index[s.Agent.ID] = s.Agent
		w.agentIDs[string(s.Agent.ID)] = true
	}
	w.sortRoster()
	w.ledger.EnableGossip(seed, slices.Collect(maps.Keys(w.agentIDs)))
	w.currency = market.TotalCurrency()

	slog.Info("world created",
		"town", town.Name,
		"seed", seed,
		"agents", len(w.roster),
		"goods", len(town.Goods),
		"quests", len(town.Quests),
	)
	return w, nil
}

// sortRoster puts the Mayor first and everyone else in id order.
func (w *World) sortRoster() {
	slices.SortFunc(w.roster, func(a, b *agents.Agent) int {
		am, bm := a.Role == agents.RoleMayor, b.Role == agents.RoleMayor
		switch {
		case am && !bm:
			return -1
		case bm && !am:
			return 1
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
}

// Bus returns the event bus. Events are published after each tick.
func (w *World) Bus() *Bus { return w.bus }

// Seed returns the world seed.
func (w *World) Seed() int64 { return w.seed }

// Town returns the content the world was built from.
func (w *World) Town() *content.Town { return w.town }

// Tick returns the number of the next tick to run.
func (w *World) Tick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// --- Inbound commands ---

// SubmitTrade queues a player trade for the next tick.
func (w *World) SubmitTrade(player string, good economy.GoodID, qty int, dir economy.Direction) (Command, *Ticket, error) {
	if err := w.checkPlayer(player); err != nil {
		return Command{}, nil, err
	}
	if qty <= 0 {
		return Command{}, nil, simerr.New(simerr.InvalidQuantity, "quantity must be positive, got %d", qty)
	}
	if !dir.Valid() {
		return Command{}, nil, simerr.New(simerr.InvalidDirection, "direction must be buy or sell, got %q", dir)
	}
	if !w.goods[good] {
		return Command{}, nil, simerr.New(simerr.UnknownGood, "unknown good %q", good)
	}
	cmd, t := w.queue.Push(Command{Kind: CommandTrade, Player: player, Good: good, Quantity: qty, Direction: dir})
	return cmd, t, nil
}

// AcceptQuest queues a quest acceptance.
func (w *World) AcceptQuest(player, questID string) (Command, *Ticket, error) {
	return w.submitQuest(CommandAcceptQuest, player, questID)
}

// AbandonQuest queues giving up an accepted quest.
func (w *World) AbandonQuest(player, questID string) (Command, *Ticket, error) {
	return w.submitQuest(CommandAbandonQuest, player, questID)
}

func (w *World) submitQuest(kind CommandKind, player, questID string) (Command, *Ticket, error) {
	if err := w.checkPlayer(player); err != nil {
		return Command{}, nil, err
	}
	if !w.questIDs[questID] {
		return Command{}, nil, simerr.New(simerr.UnknownQuest, "unknown quest %q", questID)
	}
	cmd, t := w.queue.Push(Command{Kind: kind, Player: player, Quest: questID})
	return cmd, t, nil
}

// TalkTo queues a conversation with an agent.
func (w *World) TalkTo(player, agent string) (Command, *Ticket, error) {
	if err := w.checkPlayer(player); err != nil {
		return Command{}, nil, err
	}
	if !w.agentIDs[agent] {
		return Command{}, nil, simerr.New(simerr.UnknownAgent, "unknown agent %q", agent)
	}
	cmd, t := w.queue.Push(Command{Kind: CommandTalk, Player: player, Agent: agent})
	return cmd, t, nil
}

// Cancel withdraws a queued command. Once a tick has drained it the
// command is committed and Cancel fails with CommandCommitted.
func (w *World) Cancel(id string) error {
	return w.queue.Cancel(id)
}

func (w *World) checkPlayer(player string) error {
	switch {
	case strings.TrimSpace(player) == "":
		return simerr.New(simerr.MalformedCommand, "player id is required")
	case len(player) > 64:
		return simerr.New(simerr.MalformedCommand, "player id longer than 64 bytes")
	case w.town.IsTarget(player):
		return simerr.New(simerr.MalformedCommand, "player id %q belongs to a townsperson or faction", player)
	}
	return nil
}
