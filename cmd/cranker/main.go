// Command cranker runs the cooperative crank worker loop
// against one market, plus (for oracle markets) a companion price-feed
// refresh tick. Grounded in pkg/base/base.go's Strategy run-loop idiom
// (atomic running flag, cancelable context, WaitGroup-tracked
// goroutine), adapted from a multi-provider price-fetch-then-trade
// loop to a single fetch-then-settle loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/levana-engine/perpcore/pkg/config"
	"github.com/levana-engine/perpcore/pkg/historydb"
	"github.com/levana-engine/perpcore/pkg/logging"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/engine"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/market/price"
	"github.com/levana-engine/perpcore/pkg/oraclecfg"
	"github.com/levana-engine/perpcore/pkg/retry"
	"github.com/levana-engine/perpcore/pkg/store"
)

func main() {
	var cfgPath string
	var dev bool
	flag.StringVar(&cfgPath, "config", "cranker.toml", "path to the engine's TOML config file")
	flag.BoolVar(&dev, "dev", false, "use a development console logger instead of JSON")
	flag.Parse()

	logger, err := logging.New(dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfgPath, logger); err != nil {
		logger.Fatal("cranker exited", zap.Error(err))
	}
}

func run(cfgPath string, logger *zap.Logger) error {
	f, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var cfg market.Config
	if err := config.DecodeMarketConfig(f.Market, &cfg); err != nil {
		return fmt.Errorf("decode market config: %w", err)
	}

	ident, err := f.Ident()
	if err != nil {
		return fmt.Errorf("market identity: %w", err)
	}

	kv, err := store.Open(f.StoreDir, false)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close() //nolint:errcheck

	roles := engine.Roles{
		Owner:          f.Roles.Owner,
		MigrationAdmin: f.Roles.MigrationAdmin,
		KillSwitch:     f.Roles.KillSwitch,
		WindDown:       f.Roles.WindDown,
		Dao:            f.Roles.Dao,
	}

	composer := newComposer(f, cfg, ident)
	m := engine.New(kv, ident, cfg, roles, composer)
	m.ManualMode = f.ManualMode
	m.Logger = logger

	historyDSN, err := f.HistoryDSN()
	if err != nil {
		return fmt.Errorf("history db config: %w", err)
	}
	if historyDSN != "" {
		historyDB, err := historydb.Open(historyDSN)
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		defer historyDB.Close() //nolint:errcheck
		m.HistoryDB = historyDB
	}

	interval := time.Duration(f.CrankIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := &cranker{
		logger:     logger.With(zap.String("market", ident.String())),
		market:     m,
		manualMode: f.ManualMode,
		interval:   interval,
		rewards:    f.RewardsAddress,
	}
	c.running.Store(true)
	c.wg.Add(1)
	go c.run(ctx)

	<-ctx.Done()
	c.logger.Info("shutdown signal received")
	c.running.Store(false)
	c.wg.Wait()
	return nil
}

// newComposer returns the ManualComposer a manual market receives
// messages into, or a file-fed oraclecfg.Composer otherwise;
// see DESIGN.md for why a live oracle contract client isn't wired
// here).
func newComposer(f *config.File, cfg market.Config, ident market.Ident) price.Composer {
	if f.ManualMode {
		return &engine.ManualComposer{}
	}
	return oraclecfg.Composer{
		Notional: oraclecfg.Config{
			Feeds:      []oraclecfg.Leg{{Source: oraclecfg.FileFeedSource{Path: f.OracleFeeds, Key: "notional"}}},
			MaxFeedAge: cfg.MaxFeedAge(),
		},
		Usd: oraclecfg.Config{
			FeedsUsd:   []oraclecfg.Leg{{Source: oraclecfg.FileFeedSource{Path: f.OracleFeeds, Key: "usd"}}},
			MaxFeedAge: cfg.MaxFeedAge(),
		},
		Ident: ident,
	}
}

// cranker owns the ticking goroutine: each tick refreshes the price
// feed (oracle markets only) and drains as much of the crank pipeline
// as cfg.CrankExecs allows, retrying a failed Crank call with an
// unbounded backoff: crank must keep trying to make
// progress for as long as the process runs.
type cranker struct {
	logger     *zap.Logger
	market     *engine.Market
	manualMode bool
	interval   time.Duration
	rewards    string

	running atomic.Bool
	wg      sync.WaitGroup
}

func (c *cranker) run(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *cranker) tick(ctx context.Context) {
	if !c.manualMode {
		if _, err := c.market.Prices.Append(mtime.Now()); err != nil {
			c.logger.Warn("price feed append failed", zap.Error(err))
		}
	}

	operation := func() error {
		reports, err := c.market.Crank(mtime.Now(), 0, c.rewards)
		if err != nil {
			return err
		}
		for _, r := range reports {
			c.logger.Info("crank step",
				zap.String("branch", r.Branch.String()),
				zap.Uint64("position_id", uint64(r.PositionId)),
				zap.Uint64("deferred_id", uint64(r.DeferredId)),
				zap.Uint64("order_id", uint64(r.OrderId)),
				zap.Bool("closed", r.Closed),
			)
		}
		return nil
	}

	b := backoff.WithContext(retry.NewCrankBackoff(ctx), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		c.logger.Error("crank tick abandoned", zap.Error(err))
	}
}
