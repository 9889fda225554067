// Command solie runs the automated Binance futures trading platform:
// it observes markets into a 10-second candle grid, executes the chosen
// strategy against the live account and serves the web dashboard.
//
// Usage:
//
//	solie --config solie.yaml
//	solie --datapath ~/.solie --symbols BTCUSDT,ETHUSDT
//	solie (no arguments launches the setup wizard)
//
// API credentials come from the config file or the BINANCE_API_KEY and
// BINANCE_API_SECRET environment variables.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/cunarist/solie/config"
	"github.com/cunarist/solie/internal/domain"
	"github.com/cunarist/solie/internal/exchange"
	"github.com/cunarist/solie/internal/scheduler"
	"github.com/cunarist/solie/internal/services/collector"
	"github.com/cunarist/solie/internal/services/manager"
	"github.com/cunarist/solie/internal/services/simulator"
	"github.com/cunarist/solie/internal/services/strategist"
	"github.com/cunarist/solie/internal/services/transactor"
	"github.com/cunarist/solie/internal/setup"
	"github.com/cunarist/solie/internal/storage/candles"
	"github.com/cunarist/solie/internal/web"
)

const generatedConfig = "solie.gen.yaml"

func main() {
	cfg, err := config.Get()
	if err != nil {
		// no usable configuration yet: walk the user through setup
		if tuiErr := setup.RunTUI(generatedConfig); tuiErr != nil {
			log.Fatal(tuiErr)
		}
		cfg, err = config.Load(generatedConfig)
		if err != nil {
			log.Fatal(err)
		}
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("platform stopped", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	return zapCfg.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	tel := exchange.NewTelemetry(registry)
	api := exchange.NewClient(cfg.BinanceKey, cfg.BinanceSecret, tel, logger)
	streams := exchange.NewStreams(tel, logger)
	history := exchange.NewHistoryClient(tel, logger)

	grid := domain.NewCandleGrid(cfg.Symbols)
	candleStore, err := candles.NewStore(filepath.Join(cfg.DataDir, "collector"), logger)
	if err != nil {
		return err
	}
	coll := collector.New(cfg.Symbols, grid, candleStore, api, history, streams, logger)
	if err := coll.LoadPersisted(); err != nil {
		return err
	}

	strategies, err := strategist.NewStore(filepath.Join(cfg.DataDir, "strategist", "strategies.json"), logger)
	if err != nil {
		return err
	}
	kernel := strategist.NewKernel()
	sim := simulator.New(kernel, filepath.Join(cfg.DataDir, "simulator"), logger)
	tasks := scheduler.NewTaskRegistry()

	trans, err := transactor.New(transactor.Config{
		Symbols:    cfg.Symbols,
		AssetToken: cfg.AssetToken,
		DataDir:    filepath.Join(cfg.DataDir, "transactor"),
		API:        api,
		Streams:    streams,
		Kernel:     kernel,
		Strategies: strategies,
		Candles:    coll,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer trans.Close()

	clock := manager.NewAdjustedClock()
	mgr, err := manager.New(manager.Config{
		API:            api,
		Clock:          clock,
		Candles:        coll,
		Tasks:          tasks,
		DataDir:        filepath.Join(cfg.DataDir, "manager"),
		Logger:         logger,
		OnConnectivity: trans.SetConnected,
	})
	if err != nil {
		return err
	}

	server := web.NewServer(web.Config{
		Addr:       cfg.WebAddr,
		Clock:      clock,
		Strategies: strategies,
		Transactor: trans,
		Collector:  coll,
		Manager:    mgr,
		Simulator:  sim,
		Tasks:      tasks,
		Registry:   registry,
		Logger:     logger,
	})

	// catch up missed candle history before the aligned jobs start
	tasks.Launch(ctx, "fill-candle-data", func(taskCtx context.Context) {
		if coll.CumulationRate(time.Now().UTC()) >= 1 {
			return
		}
		if err := coll.Backfill(taskCtx, collector.BackfillLastTwoDays, nil); err != nil {
			logger.Warn("candle backfill", zap.Error(err))
		}
	})

	sched := scheduler.New(clock, logger)
	sched.Every(ctx, domain.MomentStep, "moment", func(jobCtx context.Context, now time.Time) error {
		coll.SynthesizeTick(now)
		coll.FillHoles(jobCtx, now)
		mgr.SamplePing(jobCtx)
		if err := trans.Reconcile(jobCtx, now); err != nil {
			logger.Debug("account reconcile", zap.Error(err))
		}
		return trans.Tick(jobCtx, now)
	})
	sched.Every(ctx, time.Second, "cancel-conflicting", func(jobCtx context.Context, now time.Time) error {
		trans.CancelConflicting(jobCtx)
		return nil
	})
	sched.Every(ctx, time.Minute, "adjust-clock", mgr.AdjustClock)
	sched.Every(ctx, time.Hour, "persist-candles", func(jobCtx context.Context, now time.Time) error {
		return coll.Persist(now)
	})

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gCtx) })
	g.Go(func() error { coll.RunStreams(gCtx); return nil })
	g.Go(func() error { trans.RunUserStream(gCtx); return nil })

	logger.Info("platform started",
		zap.Strings("symbols", cfg.Symbols),
		zap.String("datapath", cfg.DataDir),
		zap.String("web", cfg.WebAddr))

	err = g.Wait()
	sched.Wait()
	if persistErr := coll.Persist(time.Now().UTC()); persistErr != nil {
		logger.Warn("final candle persist", zap.Error(persistErr))
	}
	return err
}
