// Package engine wires every component into the six-goroutine topology of
// spec.md §5 and owns the graceful shutdown sequence, mirroring
// cmd/server/main.go's construction order and signal-driven shutdown.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/paperengine/internal/eventbus"
	"github.com/atlas-desktop/paperengine/internal/executor"
	"github.com/atlas-desktop/paperengine/internal/feed"
	"github.com/atlas-desktop/paperengine/internal/journal"
	"github.com/atlas-desktop/paperengine/internal/knowledge"
	"github.com/atlas-desktop/paperengine/internal/proposer"
	"github.com/atlas-desktop/paperengine/internal/quickupdate"
	"github.com/atlas-desktop/paperengine/internal/reasoning"
	"github.com/atlas-desktop/paperengine/internal/reflection"
	"github.com/atlas-desktop/paperengine/internal/regime"
	"github.com/atlas-desktop/paperengine/internal/telemetry"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const tradeEventTopic eventbus.Topic = "trade_event"

// Engine owns every component and the goroutines that drive them.
type Engine struct {
	logger *zap.Logger
	cfg    types.EngineConfig

	feed      *feed.Feed
	reasoner  *reasoning.Client
	knowledge *knowledge.Store
	journal   *journal.Journal
	exec      *executor.Executor
	propose   *proposer.Proposer
	quick     *quickupdate.Updater
	reflQueue *reflection.Queue
	refl      *reflection.Engine
	classify  *regime.Engine
	bus       *eventbus.Bus
	metrics   *telemetry.Metrics
	telemetry *telemetry.Server

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Dirs bundles the on-disk locations each persisted component owns, plus
// the feed's exchange WebSocket endpoint (outside spec.md §6's Configuration
// table, so not part of EngineConfig).
type Dirs struct {
	JournalDir   string
	KnowledgeDir string
	FeedWSURL    string
}

// New constructs every component wired per SPEC_FULL.md §4.9 but starts
// nothing; call Run to start the goroutine topology.
func New(logger *zap.Logger, cfg types.EngineConfig, dirs Dirs) (*Engine, error) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	feedCfg := feed.DefaultConfig()
	feedCfg.Universe = cfg.Universe
	feedCfg.StaleThreshold = cfg.StalePriceThreshold
	if dirs.FeedWSURL != "" {
		feedCfg.WSURL = dirs.FeedWSURL
	}
	f := feed.New(logger, feedCfg)

	ks, err := knowledge.New(logger, dirs.KnowledgeDir, cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	jr, err := journal.New(logger, dirs.JournalDir)
	if err != nil {
		return nil, err
	}

	reasoner := reasoning.New(logger, cfg.Reasoning)
	bus := eventbus.New(logger, eventbus.DefaultConfig())

	sink := &tradeSink{bus: bus}
	exec := executor.New(logger, sink, cfg.MaxConcurrentPositions)
	prop := proposer.New(logger, reasoner, ks, cfg)
	reflQueue := reflection.NewQueue(cfg.ReflectMaxQueue)
	quick := quickupdate.New(logger, ks, reflQueue)
	reflEngine := reflection.New(logger, reflQueue, reasoner, ks, jr, cfg)
	classifier := regime.NewEngine(logger, regime.DefaultConfig(), ks)

	bus.Subscribe(tradeEventTopic, func(msg eventbus.Message) error {
		event := msg.Payload.(types.TradeEvent)
		if err := jr.Record(event); err != nil {
			logger.Error("failed to record trade event", zap.Error(err), zap.String("trade_id", event.TradeID))
			return err
		}
		metrics.TradesRecorded.Inc()
		if _, ok := quick.Process(event); !ok {
			logger.Debug("duplicate trade_id, skipped quick update", zap.String("trade_id", event.TradeID))
		}
		return nil
	})

	httpSrv := telemetry.NewServer(logger, cfg.Server.MetricsHost, cfg.Server.MetricsPort, reg, func() bool {
		return f.State() != feed.Disconnected
	})

	e := &Engine{
		logger:    logger.Named("engine"),
		cfg:       cfg,
		feed:      f,
		reasoner:  reasoner,
		knowledge: ks,
		journal:   jr,
		exec:      exec,
		propose:   prop,
		quick:     quick,
		reflQueue: reflQueue,
		refl:      reflEngine,
		classify:  classifier,
		bus:       bus,
		metrics:   metrics,
		telemetry: httpSrv,
	}
	return e, nil
}

type tradeSink struct {
	bus *eventbus.Bus
}

func (s *tradeSink) Publish(event types.TradeEvent) {
	s.bus.PublishSync(tradeEventTopic, event)
}

// Run starts every goroutine of the topology and blocks until ctx is
// cancelled, then drains gracefully.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.feed.Start(runCtx); err != nil {
		cancel()
		return err
	}

	// Listeners are registered after Start: their goroutines wait on the
	// feed's context, which Start creates.
	e.feed.OnPriceChange(e.exec.OnPrice)
	e.feed.OnPriceChange(e.classify.OnPrice)

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.telemetry.Start() }()

	e.wg.Add(1)
	go e.expireLoop(runCtx)

	e.wg.Add(1)
	go e.proposeLoop(runCtx)

	e.wg.Add(1)
	go e.reflectLoop(runCtx)

	<-runCtx.Done()
	return e.shutdown()
}

// Stop requests a graceful shutdown; Run returns once drained.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) expireLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.exec.ExpireTick(now)
			e.metrics.OpenPositions.Set(float64(e.exec.OpenPositionCount()))
		}
	}
}

func (e *Engine) proposeLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ConditionTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.exec.OpenPositionCount() >= e.cfg.MaxConcurrentPositions {
				continue
			}
			conditions := e.propose.Propose(ctx, e.feed.Snapshot())
			if len(conditions) > 0 {
				e.exec.SetConditions(conditions)
			}
		}
	}
}

func (e *Engine) reflectLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ReflectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.reflQueue.Overflow():
			e.refl.Cycle(ctx)
			e.refl.MeasureDue(time.Now())
			e.classify.Sync()
		case <-ticker.C:
			e.refl.Cycle(ctx)
			e.refl.MeasureDue(time.Now())
			e.classify.Sync()
		}
	}
}

// shutdown drains pending exits at last-known prices (exit_reason=MANUAL),
// stops the feed, flushes the telemetry server, and waits for every
// goroutine to exit, bounded by a fixed deadline (spec §5 shutdown).
func (e *Engine) shutdown() error {
	e.logger.Info("shutting down")
	e.feed.Stop()
	closed := e.exec.DrainAtPrices()
	e.logger.Info("drained open positions", zap.Int("count", closed))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.telemetry.Stop(ctx); err != nil {
		e.logger.Warn("telemetry server shutdown error", zap.Error(err))
	}
	e.bus.Close()

	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		e.logger.Warn("shutdown deadline exceeded, some goroutines still running")
	}
	return nil
}
