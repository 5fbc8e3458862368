// Command townsim runs one town: the tick clock, its database and the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/townsim/internal/api"
	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/content"
	"github.com/talgya/townsim/internal/engine"
	"github.com/talgya/townsim/internal/persistence"
)

// keepSnapshots is how many checkpoints stay in the database.
const keepSnapshots = 10

func main() {
	configPath := flag.String("config", "townsim.yaml", "YAML tuning file (optional)")
	contentDir := flag.String("content", "", "directory of Lua town definitions (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *contentDir != "" {
		cfg.Simulation.ContentDir = *contentDir
	}
	slog.SetDefault(newLogger(cfg.Log))

	// ── Town content ─────────────────────────────────────────────────
	town := content.Default()
	if dir := cfg.Simulation.ContentDir; dir != "" {
		town, err = content.Load(dir)
		if err != nil {
			slog.Error("failed to load town content", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("town content ready", "town", town.Name, "goods", len(town.Goods), "npcs", len(town.NPCs), "quests", len(town.Quests))

	// ── Database ─────────────────────────────────────────────────────
	db, err := persistence.Open(cfg.Persistence.Dialect, cfg.Persistence.DSN)
	if err != nil {
		slog.Error("failed to open database", "dialect", cfg.Persistence.Dialect, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// ── Load or create the world ─────────────────────────────────────
	w, err := loadWorld(cfg, town, db)
	if err != nil {
		slog.Error("failed to build world", "error", err)
		os.Exit(1)
	}
	if w.Tick() == 0 {
		if err := db.SaveSnapshot(w.Snapshot()); err != nil {
			slog.Error("initial snapshot failed", "error", err)
		}
	}

	var archive *persistence.Archive
	if dir := cfg.Persistence.ArchiveDir; dir != "" {
		archive = persistence.NewArchive(dir, "events")
		defer archive.Close()
		slog.Info("event archive enabled", "dir", dir)
	}

	// ── Clock ────────────────────────────────────────────────────────
	clock := engine.NewClock(w, cfg.Simulation.TickInterval())
	clock.CheckpointEvery = cfg.Simulation.CheckpointEveryTicks
	clock.OnTick = func(report engine.TickReport) {
		persistTick(db, archive, w, report)
	}
	clock.OnCheckpoint = func(tick uint64) {
		checkpoint(db, w, tick)
	}

	// ── HTTP API ─────────────────────────────────────────────────────
	if cfg.API.AdminKey == "" {
		slog.Warn("TOWNSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	proxies, err := cfg.API.TrustedProxies()
	if err != nil {
		slog.Error("bad trusted proxy list", "error", err)
		os.Exit(1)
	}
	apiServer := &api.Server{
		World:             w,
		Clock:             clock,
		DB:                db,
		Port:              cfg.API.Port,
		AdminKey:          cfg.API.AdminKey,
		CommandTimeout:    cfg.API.CommandTimeout(),
		CommandsPerMinute: cfg.API.CommandsPerMinute,
		MaxStreamConns:    cfg.API.MaxStreamConns,
		AllowedOrigins:    cfg.API.AllowedOrigins(),
		TrustedProxies:    proxies,
	}
	srv := apiServer.Start()

	// ── Run ──────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := w.Status()
	fmt.Printf("\n%s is open: %d townsfolk, %s crowns in the treasury.\n",
		st.Town, st.Agents, humanize.Comma(st.Treasury))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	if st.Tick > 0 {
		fmt.Printf("Resuming at tick %s\n", humanize.Comma(int64(st.Tick)))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	clock.Run(ctx)

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}

	// Anything the last tick logged is written before the final snapshot.
	if err := db.SaveCommands(w.DrainCommandLog()); err != nil {
		slog.Error("saving command log", "error", err)
	}
	checkpoint(db, w, w.Tick())
	fmt.Println("Town closed. State saved.")
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func newLogger(c config.Log) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// loadWorld resumes from the newest snapshot and replays the command log
// written after it. With no snapshot a fresh world is created.
func loadWorld(cfg config.Config, town *content.Town, db *persistence.DB) (*engine.World, error) {
	snap, err := db.LatestSnapshot()
	if errors.Is(err, persistence.ErrNotFound) {
		slog.Info("no saved state found, founding a new town", "seed", cfg.Simulation.Seed)
		return engine.New(cfg, town)
	}
	if err != nil {
		return nil, err
	}

	until := snap.Tick
	if v, err := db.GetMeta("last_tick"); err == nil {
		if t, err := strconv.ParseUint(v, 10, 64); err == nil && t+1 > until {
			until = t + 1
		}
	}
	log, err := db.CommandsSince(snap.Tick)
	if err != nil {
		return nil, fmt.Errorf("reading command log: %w", err)
	}
	w, err := engine.Replay(cfg, town, snap, log, until)
	if err != nil {
		return nil, err
	}
	slog.Info("world state restored",
		"snapshot_tick", snap.Tick,
		"replayed_batches", len(log),
		"tick", w.Tick(),
	)
	return w, nil
}

// persistTick writes one tick's command batch and events.
func persistTick(db *persistence.DB, archive *persistence.Archive, w *engine.World, report engine.TickReport) {
	if report.Aborted {
		return
	}
	if err := db.SaveCommands(w.DrainCommandLog()); err != nil {
		slog.Error("saving command log", "tick", report.Tick, "error", err)
	}
	if err := db.SaveEvents(report.Events); err != nil {
		slog.Error("saving events", "tick", report.Tick, "error", err)
	}
	if err := db.SaveMeta("last_tick", strconv.FormatUint(report.Tick, 10)); err != nil {
		slog.Error("saving last tick", "error", err)
	}
	if archive != nil {
		if err := archive.WriteEvents(report.Events); err != nil {
			slog.Warn("archiving events", "tick", report.Tick, "error", err)
		}
	}
}

// checkpoint saves a snapshot and prunes history no snapshot can replay.
func checkpoint(db *persistence.DB, w *engine.World, tick uint64) {
	snap := w.Snapshot()
	if err := db.SaveSnapshot(snap); err != nil {
		slog.Error("checkpoint failed", "tick", tick, "error", err)
		return
	}
	if _, err := db.PruneSnapshots(keepSnapshots); err != nil {
		slog.Warn("pruning snapshots", "error", err)
	}
	if ticks, err := db.SnapshotTicks(); err == nil && len(ticks) > 0 {
		oldest := ticks[0]
		for _, t := range ticks {
			oldest = min(oldest, t)
		}
		if _, err := db.PruneCommands(oldest); err != nil {
			slog.Warn("pruning command log", "error", err)
		}
	}

	st := w.Status()
	slog.Info("checkpoint",
		"tick", humanize.Comma(int64(snap.Tick)),
		"players", st.Players,
		"treasury", humanize.Comma(st.Treasury),
		"price_index", fmt.Sprintf("%.3f", st.PriceIndex),
		"aborted_ticks", st.AbortedTicks,
	)
}
