// Command paperengine runs the paper-trading learning engine: MarketFeed,
// StrategyProposer, ConditionExecutor, Journal, QuickUpdater, ReflectionEngine
// and KnowledgeStore wired together per spec.md §5.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/atlas-desktop/paperengine/internal/config"
	"github.com/atlas-desktop/paperengine/internal/engine"
	"github.com/atlas-desktop/paperengine/internal/telemetry"
	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML configuration file")
	dataDir := flag.String("data", "./data", "directory for journal and knowledge-store persistence")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	env := flag.String("env", "development", "environment (development, production) — selects log encoding")
	flag.Parse()

	logger, err := telemetry.NewLogger(*logLevel, *env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting paperengine",
		zap.Strings("universe", cfg.Universe),
		zap.String("data_dir", *dataDir),
		zap.String("env", *env),
	)

	eng, err := engine.New(logger, cfg, engine.Dirs{
		JournalDir:   filepath.Join(*dataDir, "trade_events"),
		KnowledgeDir: *dataDir,
		FeedWSURL:    os.Getenv("PAPERENGINE_FEED_WS_URL"),
	})
	if err != nil {
		logger.Fatal("failed to construct engine", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil {
		logger.Fatal("engine exited with error", zap.Error(err))
	}
	logger.Info("paperengine stopped")
}
