package persistence

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/talgya/townsim/internal/engine"
)

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(tx.Rebind("INSERT INTO events (tick, kind, description, payload) VALUES (?, ?, ?, ?)"))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", e.Kind, err)
		}
		if _, err := stmt.Exec(int64(e.Tick), string(e.Kind), e.Description, string(payload)); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

type eventRow struct {
	ID          int64  `db:"id"`
	Tick        int64  `db:"tick"`
	Kind        string `db:"kind"`
	Description string `db:"description"`
	Payload     string `db:"payload"`
}

func (r eventRow) event() engine.Event {
	return engine.Event{
		Tick:        uint64(r.Tick),
		Kind:        engine.EventKind(r.Kind),
		Description: r.Description,
		Data:        json.RawMessage(r.Payload),
	}
}

// RecentEvents returns the most recent events, oldest first. Event data
// comes back as raw JSON.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows, db.conn.Rebind(
		"SELECT id, tick, kind, description, payload FROM events ORDER BY id DESC LIMIT ?"),
		limit,
	)
	if err != nil {
		return nil, err
	}
	slices.Reverse(rows)
	out := make([]engine.Event, len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out, nil
}

// EventsOfKind returns events of one kind from tick onward, oldest first.
func (db *DB) EventsOfKind(kind engine.EventKind, since uint64, limit int) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows, db.conn.Rebind(
		"SELECT id, tick, kind, description, payload FROM events WHERE kind = ? AND tick >= ? ORDER BY id LIMIT ?"),
		string(kind), int64(since), limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Event, len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out, nil
}

// SaveCommands records the command batches of committed ticks. A tick
// saved twice keeps the latest batch.
func (db *DB) SaveCommands(batches []engine.TickCommands) error {
	if len(batches) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range batches {
		payload, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode commands of tick %d: %w", b.Tick, err)
		}
		_, err = tx.Exec(tx.Rebind(
			`INSERT INTO command_log (tick, commands, payload) VALUES (?, ?, ?)
			ON CONFLICT (tick) DO UPDATE SET commands = excluded.commands, payload = excluded.payload`),
			int64(b.Tick), len(b.Commands), string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert commands of tick %d: %w", b.Tick, err)
		}
	}
	return tx.Commit()
}

// CommandsSince returns the logged batches of tick and later, in tick
// order.
func (db *DB) CommandsSince(tick uint64) ([]engine.TickCommands, error) {
	var payloads []string
	err := db.conn.Select(&payloads, db.conn.Rebind(
		"SELECT payload FROM command_log WHERE tick >= ? ORDER BY tick"),
		int64(tick),
	)
	if err != nil {
		return nil, err
	}
	out := make([]engine.TickCommands, 0, len(payloads))
	for _, p := range payloads {
		var b engine.TickCommands
		if err := json.Unmarshal([]byte(p), &b); err != nil {
			return nil, fmt.Errorf("decode command log: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// PruneCommands drops batches older than tick. Batches before the oldest
// kept snapshot can no longer be replayed.
func (db *DB) PruneCommands(before uint64) (int64, error) {
	res, err := db.conn.Exec(db.conn.Rebind("DELETE FROM command_log WHERE tick < ?"), int64(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
