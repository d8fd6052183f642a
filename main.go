package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"volatility-trading-bot/config"
	"volatility-trading-bot/internal/api"
	"volatility-trading-bot/internal/bot"
	"volatility-trading-bot/internal/execution"
	"volatility-trading-bot/internal/logging"
	"volatility-trading-bot/internal/market"
	"volatility-trading-bot/internal/metrics"
	"volatility-trading-bot/internal/risk"
	"volatility-trading-bot/internal/signal"
	"volatility-trading-bot/internal/store"
	"volatility-trading-bot/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config.json", "path to JSON config file")
	genConfig := flag.Bool("gen-config", false, "write a sample config and exit")
	skipConfirm := flag.Bool("yes", false, "skip the live-mode confirmation delay")
	flag.Parse()

	if *genConfig {
		if err := config.GenerateSample(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sample config written to %s\n", *configPath)
		return
	}

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		Level:   cfg.LoggingConfig.Level,
		Console: cfg.LoggingConfig.Console,
		File:    cfg.LoggingConfig.File,
	})

	if err := run(cfg, logger, *skipConfirm); err != nil {
		logger.Fatal().Err(err).Msg("Fatal error")
	}
}

func run(cfg *config.Config, logger zerolog.Logger, skipConfirm bool) error {
	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.TradingConfig.PaperMode && !skipConfirm {
		logger.Warn().Msg("LIVE mode enabled, real orders will be placed")
		logger.Warn().Msg("Starting in 10 seconds, Ctrl+C to abort")
		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
			logger.Info().Msg("Aborted before start")
			return nil
		}
	}

	st, err := store.New(ctx, cfg.StoreConfig, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var mirror *store.RedisMirror
	if cfg.RedisConfig.Enabled {
		mirror = store.NewRedisMirror(
			cfg.RedisConfig.Address, cfg.RedisConfig.Password, cfg.RedisConfig.DB, logger)
		if err := mirror.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("Redis unreachable, position mirroring disabled")
			mirror.Close()
			mirror = nil
		} else {
			defer mirror.Close()
		}
	}

	provider, cleanup, err := buildFeed(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	source, err := strategy.DefaultRegistry().Create(cfg.StrategyConfig.Name, cfg.StrategyConfig)
	if err != nil {
		return fmt.Errorf("build strategy: %w", err)
	}
	source = strategy.NewLiveDecorator(source, logger)

	riskMgr := risk.NewManager(cfg.RiskConfig, cfg.TradingConfig.InitialCapital, logger)
	engine := signal.NewEngine(cfg.StrategyConfig, riskMgr, logger)
	trailing := risk.NewTrailingStopController(
		cfg.StrategyConfig.TrailingActivation, cfg.StrategyConfig.TrailingATRMultiple, logger)
	paper := execution.NewPaperVenue(cfg.FeeConfig.AssumedSlippage, cfg.FeeConfig.TakerFee, logger)
	venue := execution.NewCircuitVenue(paper, 3, 5*time.Minute, logger)
	m := metrics.New()

	trader := bot.New(cfg, provider, source, engine, riskMgr, trailing, venue, st, mirror, m, logger)
	if err := trader.Recover(ctx); err != nil {
		return fmt.Errorf("recover state: %w", err)
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, trader, m.Handler(), logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("API server stopped")
			}
		}()
	}

	err = trader.Run(ctx)
	if err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("Trading loop exited")
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	trader.Shutdown(shutdownCtx)
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("API server shutdown failed")
		}
	}
	return nil
}

// buildFeed picks the candle source: live websocket when a URL is configured,
// otherwise CSV replay for backtests and dry runs.
func buildFeed(cfg *config.Config, logger zerolog.Logger) (market.Provider, func(), error) {
	if cfg.FeedConfig.WebsocketURL != "" {
		feed := market.NewStreamFeed(
			cfg.FeedConfig.WebsocketURL,
			cfg.TradingConfig.Timeframe,
			cfg.TradingConfig.Symbols,
			cfg.FeedConfig.MaxCandles,
			logger,
		)
		if err := feed.Start(); err != nil {
			return nil, nil, fmt.Errorf("start stream feed: %w", err)
		}
		return feed, feed.Stop, nil
	}
	if cfg.FeedConfig.CSVDir != "" {
		src := strategy.NewVolatilityRegime(cfg.StrategyConfig)
		provider := market.NewCSVProvider(cfg.FeedConfig.CSVDir, src.MinBars())
		return provider, func() {}, nil
	}
	return nil, nil, fmt.Errorf("feed config needs a websocket URL or a CSV directory")
}
