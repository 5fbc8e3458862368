package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/townsim/internal/engine"
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

// SaveSnapshot stores s under its tick, replacing any earlier snapshot of
// the same tick.
func (db *DB) SaveSnapshot(s engine.Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	digest, err := s.Digest()
	if err != nil {
		return err
	}
	body := encoder.EncodeAll(raw, nil)

	_, err = db.conn.Exec(db.conn.Rebind(
		`INSERT INTO snapshots (tick, digest, saved_at, body) VALUES (?, ?, ?, ?)
		ON CONFLICT (tick) DO UPDATE SET digest = excluded.digest, saved_at = excluded.saved_at, body = excluded.body`),
		int64(s.Tick), digest, time.Now().UTC().Format(time.RFC3339), body,
	)
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", s.Tick, err)
	}
	slog.Info("snapshot saved", "tick", s.Tick, "bytes", len(body), "raw", len(raw))
	return nil
}

// LoadSnapshot reads the snapshot taken at tick and checks its digest.
func (db *DB) LoadSnapshot(tick uint64) (engine.Snapshot, error) {
	var row struct {
		Tick   int64  `db:"tick"`
		Digest string `db:"digest"`
		Body   []byte `db:"body"`
	}
	err := db.conn.Get(&row, db.conn.Rebind("SELECT tick, digest, body FROM snapshots WHERE tick = ?"), int64(tick))
	if isNoRows(err) {
		return engine.Snapshot{}, fmt.Errorf("snapshot %d: %w", tick, ErrNotFound)
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("load snapshot %d: %w", tick, err)
	}
	return decodeSnapshot(row.Body, row.Digest)
}

// LatestSnapshot returns the most recent snapshot, or ErrNotFound.
func (db *DB) LatestSnapshot() (engine.Snapshot, error) {
	var tick int64
	err := db.conn.Get(&tick, "SELECT tick FROM snapshots ORDER BY tick DESC LIMIT 1")
	if isNoRows(err) {
		return engine.Snapshot{}, fmt.Errorf("latest snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return engine.Snapshot{}, err
	}
	return db.LoadSnapshot(uint64(tick))
}

// SnapshotTicks lists stored snapshot ticks in ascending order.
func (db *DB) SnapshotTicks() ([]uint64, error) {
	var ticks []int64
	if err := db.conn.Select(&ticks, "SELECT tick FROM snapshots ORDER BY tick"); err != nil {
		return nil, err
	}
	out := make([]uint64, len(ticks))
	for i, t := range ticks {
		out[i] = uint64(t)
	}
	return out, nil
}

// PruneSnapshots keeps the newest keep snapshots and deletes the rest.
func (db *DB) PruneSnapshots(keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := db.conn.Exec(db.conn.Rebind(
		`DELETE FROM snapshots WHERE tick NOT IN (
			SELECT tick FROM snapshots ORDER BY tick DESC LIMIT ?
		)`), keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func decodeSnapshot(body []byte, digest string) (engine.Snapshot, error) {
	raw, err := decoder.DecodeAll(body, nil)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("decompress snapshot: %w", err)
	}
	var s engine.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return engine.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	got, err := s.Digest()
	if err != nil {
		return engine.Snapshot{}, err
	}
	if got != digest {
		return engine.Snapshot{}, fmt.Errorf("snapshot %d digest mismatch: stored %s, computed %s", s.Tick, digest, got)
	}
	return s, nil
}
