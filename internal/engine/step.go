package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/talgya/townsim/internal/agents"
	"github.com/talgya/townsim/internal/economy"
	"github.com/talgya/townsim/internal/simerr"
)

// agentAction prefixes the action id of an agent proposal.
const agentAction = "agent:"

// TickReport summarises one Step.
type TickReport struct {
	Tick     uint64        `json:"tick"`
	Commands int           `json:"commands"`
	Trades   int           `json:"trades"`
	Rejected int           `json:"rejected"`
	Events   []Event       `json:"events"`
	Aborted  bool          `json:"aborted,omitempty"`
	Duration time.Duration `json:"duration"`
}

// tickState carries per-tick bookkeeping between phases.
type tickState struct {
	tick     uint64
	report   *TickReport
	results  map[string]*Result
	trades   map[string]economy.Trade // Settled player trades by command id
	benched  []string
	rejected int
}

func (t *tickState) result(id string) *Result {
	r, ok := t.results[id]
	if !ok {
		r = &Result{CommandID: id, Tick: t.tick, Outcome: simerr.Outcome{OK: true}}
		t.results[id] = r
	}
	return r
}

func (t *tickState) reject(id string, err error) {
	r := t.result(id)
	r.Outcome = simerr.OutcomeOf(err)
	t.rejected++
}

type resolution struct {
	ticket *Ticket
	res    Result
}

// Step runs exactly one tick. Queued player commands are drained in
// arrival order; the tick then runs settlement, reputation, quests and
// production in that fixed order. If the tick hits an internal
// inconsistency it is rolled back, the offending action is quarantined
// and the remaining commands are retried on the next Step.
func (w *World) Step() (TickReport, error) {
	w.mu.Lock()
	batch := append(w.retry, w.queue.drain()...)
	w.retry = nil
	report, done, err := w.stepLocked(batch)
	w.mu.Unlock()

	for _, d := range done {
		d.ticket.resolve(d.res)
	}
	w.bus.Publish(report.Events)
	return report, err
}

func (w *World) stepLocked(batch []queued) (TickReport, []resolution, error) {
	start := time.Now()
	tick := w.tick
	report := TickReport{Tick: tick}

	var done []resolution
	live := make([]queued, 0, len(batch))
	for _, q := range batch {
		if w.quarantined[q.cmd.ID] {
			delete(w.quarantined, q.cmd.ID)
			err := simerr.Internal(q.cmd.ID, "command dropped after it aborted tick %d", tick)
			done = append(done, resolution{q.ticket, Result{CommandID: q.cmd.ID, Tick: tick, Outcome: simerr.OutcomeOf(err)}})
			continue
		}
		live = append(live, q)
	}

	pre := w.snapshotLocked()
	t := &tickState{
		tick:    tick,
		report:  &report,
		results: make(map[string]*Result, len(live)),
		trades:  make(map[string]economy.Trade),
	}
	for id := range w.benched {
		t.benched = append(t.benched, string(id))
	}
	slices.Sort(t.benched)

	if err := w.runTick(t, live); err != nil {
		if rerr := w.restoreLocked(pre); rerr != nil {
			slog.Error("rollback failed", "tick", tick, "err", rerr)
			err = errors.Join(err, rerr)
		}
		w.quarantine(err, live)
		w.retry = live
		w.aborted++
		ev := Event{
			Tick:        tick,
			Kind:        EventTickAborted,
			Description: fmt.Sprintf("Tick %d was rolled back and will be retried", tick),
			Data:        simerr.OutcomeOf(err),
		}
		w.recent.push(ev)
		slog.Error("tick aborted", "tick", tick, "err", err, "retrying", len(live))
		report.Aborted = true
		report.Events = []Event{ev}
		report.Duration = time.Since(start)
		return report, done, err
	}

	cmds := make([]Command, 0, len(live))
	for _, q := range live {
		cmds = append(cmds, q.cmd)
		done = append(done, resolution{q.ticket, *t.result(q.cmd.ID)})
	}
	if len(cmds) > 0 || len(t.benched) > 0 {
		w.cmdLog = append(w.cmdLog, TickCommands{Tick: tick, Commands: cmds, Benched: t.benched})
	}
	clear(w.benched)
	w.tick++

	report.Commands = len(live)
	report.Rejected = t.rejected
	report.Events = w.pending
	w.pending = nil
	w.recent.push(report.Events...)
	report.Duration = time.Since(start)
	w.lastStep = report.Duration
	return report, done, nil
}

// runTick applies one tick. Any error it returns aborts the tick.
func (w *World) runTick(t *tickState, live []queued) error {
	tick := t.tick

	// 1. A staged policy takes effect before anything settles.
	if p, ok := w.market.BeginTick(tick); ok {
		w.policyApplied(tick, p)
	}

	// 2. Player commands, in arrival order.
	var orders []economy.Order
	for _, q := range live {
		if err := w.check(q.cmd.ID); err != nil {
			return err
		}
		w.ensurePlayer(q.cmd.Player)
		if q.cmd.Kind == CommandTrade {
			orders = append(orders, economy.Order{
				Ref:       q.cmd.ID,
				Actor:     economy.ActorID(q.cmd.Player),
				Good:      q.cmd.Good,
				Quantity:  q.cmd.Quantity,
				Direction: q.cmd.Direction,
				Seq:       q.cmd.Seq,
			})
		}
	}

	// 3. Agent proposals against one view of the town.
	proposals := w.collectProposals(tick)
	for _, p := range proposals {
		if err := w.check(agentAction + string(p.Agent)); err != nil {
			return err
		}
		if p.Intent == agents.IntentTrade {
			orders = append(orders, economy.Order{
				Ref:       agentAction + string(p.Agent),
				Actor:     economy.ActorID(p.Agent),
				Good:      p.Trade.Good,
				Quantity:  p.Trade.Quantity,
				Direction: p.Trade.Direction,
			})
		}
	}

	// 4. Settlement.
	if err := w.settle(t, w.market.SettleTick(tick, orders)); err != nil {
		return err
	}

	// 5. Reputation.
	w.reputationPhase(t, live, proposals)

	// 6. Quests.
	w.questPhase(t, live)

	// 7. Production, then the invariants.
	if err := w.produce(tick); err != nil {
		return err
	}
	if err := w.market.CheckInvariants(); err != nil {
		return err
	}
	if got := w.market.TotalCurrency(); got != w.currency {
		return simerr.Internal("", "currency drifted to %d, expected %d", got, w.currency)
	}
	return nil
}

// check runs the fault hook for one action.
func (w *World) check(actionID string) error {
	if w.fault == nil {
		return nil
	}
	return w.fault(actionID)
}

// quarantine keeps the action behind err out of the retried tick. An
// inconsistency no action owns benches the whole batch.
func (w *World) quarantine(err error, live []queued) {
	var se *simerr.Error
	id := ""
	if errors.As(err, &se) {
		id = se.ActionID
	}
	switch {
	case strings.HasPrefix(id, agentAction):
		w.benched[agents.AgentID(strings.TrimPrefix(id, agentAction))] = true
	case id != "":
		w.quarantined[id] = true
	default:
		for _, q := range live {
			w.quarantined[q.cmd.ID] = true
		}
		for _, a := range w.roster {
			w.benched[a.ID] = true
		}
	}
	slog.Warn("action quarantined", "action", id, "batch", len(live))
}

// ensurePlayer opens an account and quest book the first time a player
// acts. The opening wallet is new currency.
func (w *World) ensurePlayer(player string) {
	if w.quests.Registered(player) {
		return
	}
	wallet := w.cfg.Economy.PlayerStartingWallet
	if err := w.market.OpenAccount(economy.ActorID(player), economy.KindPlayer, wallet, nil); err != nil {
		slog.Warn("opening player account", "player", player, "err", err)
		return
	}
	w.currency += wallet
	w.quests.RegisterPlayer(player)
	slog.Info("player joined", "player", player, "wallet", wallet)
}

// emit queues an event for publication after the tick commits.
func (w *World) emit(e Event) {
	w.pending = append(w.pending, e)
}
