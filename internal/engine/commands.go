package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/simerr"
)

// CommandKind names a player command.
type CommandKind string

const (
	CommandTrade        CommandKind = "trade"
	CommandAcceptQuest  CommandKind = "accept-quest"
	CommandAbandonQuest CommandKind = "abandon-quest"
	CommandTalk         CommandKind = "talk"
)

// Command is a player action waiting for the next tick. Commands are
// recorded per tick so a run can be replayed.
type Command struct {
	ID     string      `json:"id"`
	Seq    uint64      `json:"seq"` // Arrival order
	Kind   CommandKind `json:"kind"`
	Player string      `json:"player"`

	Good      economy.GoodID    `json:"good,omitempty"`
	Quantity  int               `json:"quantity,omitempty"`
	Direction economy.Direction `json:"direction,omitempty"`
	Quest     string            `json:"quest,omitempty"`
	Agent     string            `json:"agent,omitempty"`
}

// TickCommands is the command batch one tick committed, plus any agents
// that sat the tick out after a rollback.
type TickCommands struct {
	Tick     uint64    `json:"tick"`
	Commands []Command `json:"commands"`
	Benched  []string  `json:"benched,omitempty"`
}

// Result is what a committed (or cancelled) command came to.
type Result struct {
	CommandID string         `json:"command_id"`
	Tick      uint64         `json:"tick"`
	Outcome   simerr.Outcome `json:"outcome"`
	Trade     *economy.Trade `json:"trade,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
}

// Ticket lets the submitter wait for a command's result.
type Ticket struct {
	ID   string
	done chan struct{}
	once sync.Once
	res  Result
}

func newTicket(id string) *Ticket {
	return &Ticket{ID: id, done: make(chan struct{})}
}

func (t *Ticket) resolve(r Result) {
	t.once.Do(func() {
		t.res = r
		close(t.done)
	})
}

// Done is closed once the result is known.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the command is settled or ctx ends. A context error
// does not withdraw the command.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type queued struct {
	cmd    Command
	ticket *Ticket
}

// Queue buffers commands between ticks. It is the only structure touched
// both by request goroutines and by the tick.
type Queue struct {
	mu      sync.Mutex
	items   []queued
	nextSeq uint64
}

// Push assigns an id and arrival sequence and enqueues cmd.
func (q *Queue) Push(cmd Command) (Command, *Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextSeq++
	cmd.ID = uuid.NewString()
	cmd.Seq = q.nextSeq
	t := newTicket(cmd.ID)
	q.items = append(q.items, queued{cmd: cmd, ticket: t})
	return cmd, t
}

// Cancel withdraws a command that no tick has drained yet.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	i := slices.IndexFunc(q.items, func(it queued) bool { return it.cmd.ID == id })
	if i < 0 {
		q.mu.Unlock()
		return simerr.New(simerr.CommandCommitted, "command %s is no longer queued", id)
	}
	it := q.items[i]
	q.items = slices.Delete(q.items, i, i+1)
	q.mu.Unlock()

	it.ticket.resolve(Result{
		CommandID: id,
		Cancelled: true,
		Outcome:   simerr.Outcome{OK: false, Reason: "cancelled before settlement"},
	})
	return nil
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain empties the queue in arrival order. Drained commands are
// committed.
func (q *Queue) drain() []queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
