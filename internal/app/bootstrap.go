package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/danmodyrko/trading-bot-test/internal/engine"
	"github.com/danmodyrko/trading-bot-test/internal/event"
	"github.com/danmodyrko/trading-bot-test/internal/execution"
	"github.com/danmodyrko/trading-bot-test/internal/feature"
	"github.com/danmodyrko/trading-bot-test/internal/infra"
	"github.com/danmodyrko/trading-bot-test/internal/infra/binance"
	"github.com/danmodyrko/trading-bot-test/internal/infra/storage"
	"github.com/danmodyrko/trading-bot-test/internal/risk"
	"github.com/danmodyrko/trading-bot-test/internal/strategy"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Bus        *event.Bus
	Storage    *storage.Storage
	Adapter    *binance.Adapter
	Risk       *risk.Manager
	Loop       *engine.Loop
	WSClient   *binance.WSClient
	Supervisor *binance.Supervisor
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logger, storage,
// exchange adapter and the trading pipeline.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("bootstrapping",
		"app", cfg.App.Name, "version", cfg.App.Version, "mode", cfg.Mode,
		"api_key", infra.MaskAPIKey(cfg.API.Key))

	// 3. Event Bus
	b.Bus = event.NewBus(0)

	// 4. Storage (DB)
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "data/danbot.db"
	}
	store, err := storage.NewStorage(dbPath)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("database initialized", "path", dbPath)

	// 5. Exchange Adapter
	b.Adapter = binance.NewAdapter(binance.Mode(cfg.Mode), cfg.API.Key, cfg.API.Secret, b.Bus,
		binance.Options{
			RestDemo:     cfg.API.RestDemo,
			RestReal:     cfg.API.RestReal,
			RecvWindowMs: cfg.API.RecvWindowMs,
		})

	// 6. Trading pipeline
	b.Risk = risk.NewManager(risk.Limits{
		MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
		MaxPositions:         cfg.Risk.MaxPositions,
		MaxTradeRiskPct:      cfg.Risk.MaxTradeRiskPct,
		MaxNotionalPerTrade:  cfg.Risk.MaxNotionalPerTrade,
		Cooldown:             time.Duration(cfg.Risk.CooldownSeconds) * time.Second,
		MaxPositionsPerSym:   cfg.Risk.MaxPositionsPerSym,
		MaxExposurePerSymbol: cfg.Risk.MaxExposurePerSymbol,
		MaxAccountExposure:   cfg.Risk.MaxAccountExposure,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		LossCooldown:         time.Duration(cfg.Risk.LossCooldownSeconds) * time.Second,
		IncludeUnrealizedPnL: cfg.Risk.IncludeUnrealized,
	})

	slippage := execution.SlippageModel{
		MaxSlippageBps:   cfg.Execution.MaxSlippageBps,
		SpreadGuardBps:   cfg.Execution.SpreadGuardBps,
		EdgeSafetyFactor: cfg.Execution.EdgeSafetyFactor,
	}

	exec := execution.NewEngine(b.Adapter.SubmitOrder, slippage, b.Risk, b.Bus, execution.Config{
		Retries:    cfg.Execution.Retries,
		BaseDelay:  time.Duration(cfg.Execution.BaseDelayMs) * time.Millisecond,
		CacheLimit: cfg.Execution.CacheLimit,
		DryRun:     cfg.Execution.DryRun,
	})

	features := feature.NewEngine(feature.Config{
		ImpulseThresholdPct:  cfg.Strategy.ImpulseThresholdPct,
		ImpulseWindowSeconds: cfg.Strategy.ImpulseWindowSeconds,
		VolumeZThreshold:     cfg.Strategy.VolumeZThreshold,
		TradeRateBurst:       cfg.Strategy.TradeRateBurst,
	})

	strat := strategy.NewReversal(strategy.Config{
		ExhaustionConfidence: cfg.Strategy.ExhaustionConfidence,
	})

	wsEndpoint := cfg.API.WSDemo
	if cfg.Mode == "REAL" {
		wsEndpoint = cfg.API.WSReal
	}
	b.WSClient = binance.NewWSClient(wsEndpoint, cfg.WS.StaleSeconds, b.Bus)

	b.Loop = engine.NewLoop(engine.Config{
		StopDistancePct:   cfg.Strategy.StopDistancePct,
		ExpectedOrderSize: cfg.Strategy.ExpectedOrderSize,
		SizeMultiplier:    cfg.Strategy.SizeMultiplier,
		ExpectedEdgeBps:   cfg.Strategy.ExpectedEdgeBps,
		TradeRateBurst:    cfg.Strategy.TradeRateBurst,
		VolThreshold:      cfg.Risk.VolThreshold,
		VolCooldown:       time.Duration(cfg.Risk.VolCooldownSeconds) * time.Second,
	}, engine.Deps{
		Features: features,
		Strategy: strat,
		Risk:     b.Risk,
		Exec:     exec,
		Slippage: slippage,
		Bus:      b.Bus,
		Store:    store,
		StaleFn:  func() bool { return !b.WSClient.Healthy() },
	})

	b.Supervisor = binance.NewSupervisor(b.WSClient, b.Loop.HandleTick,
		time.Duration(cfg.WS.MonitorIntervalSeconds)*time.Second)

	return nil
}

// paperEquity sizes positions when no funded account is reachable, e.g.
// in dry-run mode without credentials.
const paperEquity = 1000.0

// SyncExchange resolves the clock offset, refreshes the account view and
// installs symbol filters and equity into the trading loop. Must run
// before the loop starts.
func (b *Bootstrap) SyncExchange(ctx context.Context) error {
	if err := b.Adapter.EnsureMode(ctx, binance.Mode(b.Config.Mode)); err != nil {
		return err
	}

	equity := paperEquity
	if b.Adapter.Configured() {
		overview, err := b.Adapter.AccountOverview(ctx)
		if err != nil {
			return err
		}
		equity = overview.BalanceUSDT
		slog.Info("account synced",
			"balance_usdt", overview.BalanceUSDT,
			"available_usdt", overview.AvailableUSDT,
			"unrealized_pnl", overview.UnrealizedPnL)
	} else {
		slog.Warn("api credentials missing, trading calls will fail fast")
	}

	filters, err := b.Adapter.SymbolFilters(ctx, b.Config.Symbols)
	if err != nil {
		return err
	}
	b.Loop.SetFilters(filters)
	b.Loop.SetEquity(equity)
	return nil
}
