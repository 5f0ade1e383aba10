package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/BenLeung-moon/tiger-trader/internal/broker"
	"github.com/BenLeung-moon/tiger-trader/internal/broker/paper"
	"github.com/BenLeung-moon/tiger-trader/internal/bus"
	"github.com/BenLeung-moon/tiger-trader/internal/engine"
	"github.com/BenLeung-moon/tiger-trader/internal/ledger"
	"github.com/BenLeung-moon/tiger-trader/internal/obs"
	"github.com/BenLeung-moon/tiger-trader/internal/ops"
	"github.com/BenLeung-moon/tiger-trader/internal/ratelimit"
	"github.com/BenLeung-moon/tiger-trader/internal/reconcile"
	"github.com/BenLeung-moon/tiger-trader/internal/review"
	"github.com/BenLeung-moon/tiger-trader/internal/schema"
	"github.com/BenLeung-moon/tiger-trader/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	decisionDir := flag.String("decision-dir", "data/decisions", "Spool directory polled for decision files")
	snapshotPath := flag.String("snapshot-path", "", "Ledger snapshot path (overrides config)")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed: %v", err)
		os.Exit(1)
	}
	if *snapshotPath != "" {
		cfg.SnapshotPath = *snapshotPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *decisionDir); err != nil {
		logs.Errorf("trader exited with error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg ops.Loaded, decisionDir string) error {
	var store *ledger.Store
	if !cfg.Database.Disabled {
		client, err := conn.New(ctx, conn.Option{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		store, err = ledger.NewStore(client.DB())
		if err != nil {
			return err
		}
	}

	led := ledger.New(store)
	if snap, err := ledger.ReadSnapshot(cfg.SnapshotPath); err == nil {
		led.Restore(snap)
		logs.Infof("warm start from %s: %d positions, %d open orders",
			cfg.SnapshotPath, len(snap.Positions), len(snap.Orders))
	} else if !os.IsNotExist(err) {
		logs.Warnf("snapshot load failed, starting cold: %v", err)
	}

	gateway := paper.New()
	limiter := ratelimit.New(cfg.RateMaxWait, cfg.RatePolicies)
	halt := &broker.Halt{}
	metrics := obs.NewMetrics()

	eng := engine.New(cfg.Engine, led, gateway, limiter, halt, metrics)
	reviewer := review.New(cfg.Review, led, gateway, limiter, halt, metrics)
	reconciler := reconcile.New(cfg.Reconcile, led, gateway, limiter, halt, metrics, store)

	// First pass before accepting decisions, so sizing sees real balances
	// instead of whatever the snapshot claimed.
	if err := reconciler.Reconcile(ctx); err != nil {
		logs.Warnf("startup reconciliation failed: %v", err)
	}

	queue := bus.NewQueue(cfg.QueueCapacity)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Run(ctx, func(d schema.Decision) {
			result, err := eng.Execute(ctx, d)
			if err != nil {
				logs.Warnf("execute %s %s: %v", d.Side, d.Symbol, err)
				return
			}
			logs.Infof("decision %s %s: %s %s", d.Side, d.Symbol, result.Outcome, result.Reason)
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Cadence.Decision)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pollDecisions(decisionDir, queue)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Cadence.Review)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := reviewer.ReviewAll(ctx)
				if err != nil {
					logs.Warnf("review pass aborted: %v", err)
				}
				if report.Reviewed > 0 {
					logs.Infof("reviewed %d orders: kept=%d modified=%d cancelled=%d races=%d failures=%d",
						report.Reviewed, report.Kept, report.Modified, report.Cancelled, report.Races, report.Failures)
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Cadence.Reconcile)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := reconciler.Reconcile(ctx); err != nil {
					logs.Warnf("reconciliation failed: %v", err)
					continue
				}
				if err := ledger.WriteSnapshot(cfg.SnapshotPath, led.Snapshot()); err != nil {
					logs.Warnf("snapshot write failed: %v", err)
				}
			}
		}
	}()

	<-ctx.Done()
	logs.Info("shutting down, letting in-flight calls finish")
	queue.Close()
	wg.Wait()

	if err := ledger.WriteSnapshot(cfg.SnapshotPath, led.Snapshot()); err != nil {
		logs.Warnf("final snapshot write failed: %v", err)
	}

	snap := metrics.Snapshot()
	logs.Infof("session totals: submitted=%d deferred=%d rejected=%d reviews(keep=%d mod=%d cxl=%d race=%d) reconciles=%d errors=%v",
		snap.Submitted, snap.Deferred, snap.Rejected,
		snap.ReviewKeeps, snap.ReviewModifies, snap.ReviewCancels, snap.ReviewRaces,
		snap.Reconciles, snap.ErrorsByClass)
	return nil
}

// decisionFile is the on-disk decision format dropped by the strategy
// collaborator.
type decisionFile struct {
	Symbol      string           `json:"symbol"`
	Market      schema.Market    `json:"market"`
	Side        schema.OrderSide `json:"side"`
	Quantity    int64            `json:"quantity"`
	TargetPrice decimal.Decimal  `json:"target_price"`
	OrderType   schema.OrderType `json:"order_type"`
	Reason      string           `json:"reason"`
}

// pollDecisions drains the spool directory. A file is removed only once
// its decision is accepted by the queue; a full queue leaves it for the
// next poll.
func pollDecisions(dir string, queue *bus.Queue) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logs.Warnf("decision dir read failed: %v", err)
		}
		return
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logs.Warnf("decision file %s read failed: %v", name, err)
			continue
		}

		var df decisionFile
		if err := json.Unmarshal(data, &df); err != nil {
			logs.Warnf("decision file %s malformed, discarding: %v", name, err)
			_ = os.Remove(path)
			continue
		}

		err = queue.TryPublish(schema.Decision{
			Symbol:      df.Symbol,
			Market:      df.Market,
			Side:        df.Side,
			Quantity:    df.Quantity,
			TargetPrice: df.TargetPrice,
			OrderType:   df.OrderType,
			Reason:      df.Reason,
		})
		if err != nil {
			logs.Warnf("decision %s not queued: %v", name, err)
			return
		}
		_ = os.Remove(path)
	}
}
