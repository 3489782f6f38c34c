// Package app wires configuration, storage, execution, and the engine into a
// runnable system.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/internal/engine"
	"github.com/dafu-zhu/trading-system-sub000/internal/execution"
	"github.com/dafu-zhu/trading-system-sub000/internal/infra"
	"github.com/dafu-zhu/trading-system-sub000/internal/storage"
	"github.com/dafu-zhu/trading-system-sub000/internal/strategy"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config    *infra.Config
	Audit     *storage.AuditStore
	Snapshots *storage.SnapshotManager
	Broker    domain.BrokerAdapter
	Sequencer *engine.Sequencer

	unlock func()
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logging, storage,
// broker, sequencer. After it returns the system is ready to run.
func (b *Bootstrap) Initialize() error {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg

	infra.NewLogger(cfg.Logging.Level)
	infra.PrintBanner(cfg)

	// Data isolation per mode: paper and live never share a database.
	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data", cfg.Trading.Mode)
	logDir := filepath.Join(workDir, "logs", cfg.Trading.Mode)
	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := infra.EnsureDir(logDir); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	// Single-instance lock: two processes appending to the same audit DB
	// corrupt it.
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	dbPath := cfg.Storage.AuditDB
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "audit.db")
	}
	audit, err := storage.NewAuditStore(dbPath)
	if err != nil {
		return err
	}
	b.Audit = audit
	slog.Info("Audit store initialized (WAL-mode)", "path", dbPath, "mode", cfg.Trading.Mode)

	snapDir := cfg.Storage.SnapshotDir
	if snapDir == "" {
		snapDir = filepath.Join(dataDir, "snapshots")
	}
	if err := infra.EnsureDir(snapDir); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	b.Snapshots = storage.NewSnapshotManager(snapDir)

	if snap, err := b.Snapshots.LoadLatest(); err == nil && snap != nil {
		slog.Info("Previous session snapshot found",
			"seq", snap.Seq,
			"cash", snap.CashMicros,
			"positions", len(snap.Positions),
			"breaker_tripped", snap.BreakerTripped)
	}

	broker, err := execution.NewFactory(cfg).CreateBroker()
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	b.Broker = broker

	seq := engine.NewSequencer(EngineConfig(cfg), 1024, BuildStrategy(cfg), audit, nil)
	if cfg.Trading.Mode != infra.ModePaper {
		// Paper mode fills against the internal deterministic model; mock
		// and live route through the venue adapter.
		seq.SetBroker(broker)
	}

	// Appending to an existing trail: continue its sequence numbers.
	lastSeq, err := audit.GetLastSeq(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read audit sequence: %w", err)
	}
	seq.ResumeSeq(lastSeq)
	b.Sequencer = seq

	return nil
}

// MarkSessionStart records the session open in the audit metadata, so a
// post-mortem can line the trail up with process restarts.
func (b *Bootstrap) MarkSessionStart(start quant.TimeStamp) error {
	return b.Audit.UpsertMetadata(context.Background(),
		"last_session_start", strconv.FormatInt(int64(start), 10), int64(start))
}

// EngineConfig maps the file configuration onto the engine's parameters.
func EngineConfig(cfg *infra.Config) engine.Config {
	return engine.Config{
		Symbols:              cfg.Trading.Symbols,
		InitialCashMicros:    cfg.Trading.InitialCashMicros,
		TwapSlices:           cfg.Trading.TwapSlices,
		EscalationTriggerBps: cfg.Trading.EscalationTriggerBps,
		Risk:                 cfg.Risk,
		Stops:                cfg.Stops,
		Sim:                  cfg.Sim,
	}
}

// TargetQuantities converts the configured rebalance target into engine units.
func (b *Bootstrap) TargetQuantities() map[string]quant.QtySats {
	if len(b.Config.TargetSats) == 0 {
		return nil
	}
	target := make(map[string]quant.QtySats, len(b.Config.TargetSats))
	for sym, sats := range b.Config.TargetSats {
		target[sym] = quant.QtySats(sats)
	}
	return target
}

// BuildStrategy constructs the configured strategy, or nil for plan-only
// execution.
func BuildStrategy(cfg *infra.Config) strategy.Strategy {
	switch cfg.Strategy.Name {
	case "", "none":
		return nil
	case "sma_cross":
		short, long := cfg.Strategy.ShortPeriod, cfg.Strategy.LongPeriod
		if short <= 0 {
			short = 10
		}
		if long <= short {
			long = short * 3
		}
		return strategy.NewSMACrossStrategy(
			cfg.Trading.Symbols[0], short, long, quant.QtySats(cfg.Trading.OrderQtySats))
	default:
		slog.Warn("Unknown strategy, running plan-only", "name", cfg.Strategy.Name)
		return nil
	}
}

// SaveSnapshot persists the current portfolio state and prunes old files.
func (b *Bootstrap) SaveSnapshot() error {
	snap := storage.CreateSnapshot(
		b.Sequencer.Seq(),
		b.Sequencer.Portfolio(),
		b.Sequencer.RiskManager().CircuitBreakerTripped(),
	)
	if err := b.Snapshots.Save(snap); err != nil {
		return err
	}
	return b.Snapshots.Cleanup(5)
}

// Close releases every resource opened by Initialize. Safe on a partially
// initialized bootstrap.
func (b *Bootstrap) Close() {
	if b.Broker != nil {
		if err := b.Broker.Close(); err != nil {
			slog.Warn("Broker close failed", "error", err)
		}
	}
	if b.Audit != nil {
		if err := b.Audit.Close(); err != nil {
			slog.Warn("Audit store close failed", "error", err)
		}
	}
	if b.unlock != nil {
		b.unlock()
	}
}
