// Quest phase: accept and abandon commands, fulfillment signals from this
// tick's trades and conversations, expiry, then the once-per-tick unlock
// evaluation.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/townsim/internal/quest"
)

func (w *World) questPhase(t *tickState, live []queued) {
	tick := t.tick
	rw := rewarder{w}

	for _, q := range live {
		cmd := q.cmd
		var err error
		switch cmd.Kind {
		case CommandAcceptQuest:
			err = w.quests.Accept(tick, cmd.Player, cmd.Quest)
		case CommandAbandonQuest:
			err = w.quests.Abandon(tick, cmd.Player, cmd.Quest, rw)
		default:
			continue
		}
		if err != nil {
			t.reject(cmd.ID, err)
			w.emit(Event{
				Tick:        tick,
				Kind:        EventCommandRejected,
				Description: fmt.Sprintf("%s could not %s %s: %v", cmd.Player, cmd.Kind, cmd.Quest, err),
				Data:        map[string]any{"command_id": cmd.ID, "outcome": t.result(cmd.ID).Outcome},
			})
		}
	}

	for _, q := range live {
		cmd := q.cmd
		switch cmd.Kind {
		case CommandTrade:
			tr, ok := t.trades[cmd.ID]
			if !ok {
				continue
			}
			w.signal(tick, cmd.Player, quest.Signal{
				Kind:      quest.SignalTrade,
				Good:      string(tr.Good),
				Direction: string(tr.Direction),
				Quantity:  tr.Quantity,
			}, rw)
		case CommandTalk:
			w.signal(tick, cmd.Player, quest.Signal{Kind: quest.SignalTalk, Agent: cmd.Agent}, rw)
		}
	}

	w.quests.Expire(tick, rw)
	w.quests.Evaluate(tick, w.ledger)

	transitions, offers := w.quests.Drain()
	for _, tr := range transitions {
		w.emit(Event{
			Tick:        tick,
			Kind:        EventQuestStateChanged,
			Description: fmt.Sprintf("%s's quest %s went from %s to %s (%s)", tr.Player, tr.Quest, tr.From, tr.To, tr.Reason),
			Data:        tr,
		})
	}
	for _, o := range offers {
		w.emit(Event{
			Tick:        tick,
			Kind:        EventQuestOffered,
			Description: fmt.Sprintf("%s offers %s to %s", o.Agent, o.Quest, o.Player),
			Data:        o,
		})
	}
	w.flushReputation(tick)
}

// signal feeds one fulfillment signal. A reward that cannot be paid
// leaves the quest Accepted and is reported.
func (w *World) signal(tick uint64, player string, s quest.Signal, rw quest.Rewarder) {
	if _, err := w.quests.Signal(tick, player, s, rw); err != nil {
		slog.Warn("quest reward failed", "tick", tick, "player", player, "err", err)
		w.emit(Event{
			Tick:        tick,
			Kind:        EventQuestRewardFailed,
			Description: fmt.Sprintf("%s's quest reward could not be paid: %v", player, err),
			Data:        map[string]any{"player": player, "reason": err.Error()},
		})
	}
}
