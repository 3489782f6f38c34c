// Command backtest replays recorded bars through the execution engine and
// reports fills, slippage, and plan completion. Same bars, same config, same
// result, every run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dafu-zhu/trading-system-sub000/internal/app"
	"github.com/dafu-zhu/trading-system-sub000/internal/engine"
	"github.com/dafu-zhu/trading-system-sub000/internal/infra"
	"github.com/dafu-zhu/trading-system-sub000/internal/storage"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

func main() {
	barsPath := flag.String("bars", "", "bar history file (JSONL, one bar per line)")
	targetSpec := flag.String("target", "", "rebalance target, e.g. AAPL=1000000000,MSFT=500000000 (sats)")
	auditPath := flag.String("audit", "", "audit DB path (empty: no audit trail)")
	flag.Parse()

	if *barsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -bars <file.jsonl> [-target SYM=sats,...] [-audit file.db]")
		os.Exit(2)
	}

	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		slog.Error("Config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	infra.NewLogger(cfg.Logging.Level)

	bars, err := engine.LoadBarsJSONL(*barsPath)
	if err != nil {
		slog.Error("Bar load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if len(bars) == 0 {
		slog.Error("Bar file is empty", slog.String("path", *barsPath))
		os.Exit(1)
	}

	var sink engine.AuditSink
	var store *storage.AuditStore
	if *auditPath != "" {
		store, err = storage.NewAuditStore(*auditPath)
		if err != nil {
			slog.Error("Audit store open failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()
		sink = store
	}

	seq := engine.NewSequencer(app.EngineConfig(cfg), 1, app.BuildStrategy(cfg), sink, nil)
	if store != nil {
		// An existing trail keeps its sequence numbers monotonic.
		last, err := store.GetLastSeq(context.Background())
		if err != nil {
			slog.Error("Audit sequence read failed", slog.Any("error", err))
			os.Exit(1)
		}
		seq.ResumeSeq(last)
	}

	// The session window spans the recorded history.
	first, last := bars[0].TsUnixM, bars[0].TsUnixM
	for _, b := range bars {
		if b.TsUnixM < first {
			first = b.TsUnixM
		}
		if b.TsUnixM > last {
			last = b.TsUnixM
		}
	}
	seq.StartSession(first, last+1)

	target, err := parseTarget(*targetSpec)
	if err != nil {
		slog.Error("Bad target spec", slog.Any("error", err))
		os.Exit(1)
	}
	if target == nil {
		for sym, sats := range cfg.TargetSats {
			if target == nil {
				target = make(map[string]quant.QtySats)
			}
			target[sym] = quant.QtySats(sats)
		}
	}
	if target != nil {
		if err := seq.ExecutePlan(target); err != nil {
			slog.Error("Plan failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	r := engine.NewReplayer(seq)
	stats, err := r.ReplayBars(context.Background(), bars)
	if err != nil {
		slog.Error("Replay failed", slog.Any("error", err))
		os.Exit(1)
	}

	if store != nil {
		if err := r.Reconcile(context.Background(), store); err != nil {
			slog.Error("Reconciliation failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	printReport(seq, stats)
}

func parseTarget(spec string) (map[string]quant.QtySats, error) {
	if spec == "" {
		return nil, nil
	}
	target := make(map[string]quant.QtySats)
	for _, part := range strings.Split(spec, ",") {
		sym, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("bad target leg %q, want SYM=sats", part)
		}
		sats, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad quantity in %q: %w", part, err)
		}
		target[sym] = quant.QtySats(sats)
	}
	return target, nil
}

func printReport(seq *engine.Sequencer, stats engine.RunStats) {
	fmt.Println("=== Backtest Report ===")
	fmt.Printf("Bars:          %d\n", stats.Bars)
	fmt.Printf("Fills:         %d\n", stats.Fills)
	fmt.Printf("Rejections:    %d\n", stats.Rejections)
	fmt.Printf("Risk exits:    %d\n", stats.Exits)
	fmt.Printf("Start equity:  %s\n", quant.PriceMicros(stats.StartEquityMicros))
	fmt.Printf("Final equity:  %s\n", quant.PriceMicros(stats.FinalEquityMicros))
	fmt.Printf("Return:        %d bps\n", stats.ReturnBps)

	mon := seq.Monitor()
	completed, pending, failed := mon.CompletionStatus()
	if len(completed)+len(pending)+len(failed) > 0 {
		fmt.Printf("Plan:          completed=%v pending=%v failed=%v\n", completed, pending, failed)
	}
	for _, sym := range completed {
		if slip, ok := mon.SlippageBps(sym); ok {
			vwap, _ := mon.ExecutionVWAP(sym)
			fmt.Printf("  %-8s vwap=%s slippage=%s bps\n", sym, vwap, slip.StringFixed(2))
		}
	}
}
