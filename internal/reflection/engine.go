// Package reflection implements the ReflectionEngine and AdaptationApplier:
// periodic deep analysis that turns recent trade history into knowledge
// mutations with tracked effectiveness (spec §4.6).
package reflection

import (
	"context"
	"time"

	"github.com/atlas-desktop/paperengine/internal/journal"
	"github.com/atlas-desktop/paperengine/internal/reasoning"
	"github.com/atlas-desktop/paperengine/pkg/money"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reasoner is the subset of internal/reasoning.Client the engine needs.
type Reasoner interface {
	Reflect(ctx context.Context, summary reasoning.ReflectionSummary) ([]types.Insight, error)
}

// Knowledge is the subset of internal/knowledge.Store the engine needs.
type Knowledge interface {
	Context() types.KnowledgeContext
	ApplyAdaptation(a types.Adaptation) error
	RateAdaptation(id string, after types.Metrics, effectiveness types.Effectiveness) error
	AdaptationsSince(t time.Time) []types.Adaptation
}

// JournalReader is the subset of internal/journal.Journal the engine needs.
type JournalReader interface {
	Since(t time.Time) []types.TradeEvent
	CountsByCoin(since time.Time) map[string]journal.CoinCounts
}

// Engine runs reflection cycles against a Queue.
type Engine struct {
	logger    *zap.Logger
	queue     *Queue
	reasoner  Reasoner
	knowledge Knowledge
	journal   JournalReader
	cfg       types.EngineConfig

	pending map[string]pendingMeasurement
}

type pendingMeasurement struct {
	adaptationID string
	target       string
	dueAt        time.Time
	tradeGoal    int
	tradesAtOpen int
}

// New builds an Engine.
func New(logger *zap.Logger, queue *Queue, reasoner Reasoner, knowledge Knowledge, journalReader JournalReader, cfg types.EngineConfig) *Engine {
	return &Engine{
		logger:    logger.Named("reflection"),
		queue:     queue,
		reasoner:  reasoner,
		knowledge: knowledge,
		journal:   journalReader,
		cfg:       cfg,
		pending:   make(map[string]pendingMeasurement),
	}
}

// Reconcile schedules effectiveness measurement for every adaptation the
// knowledge store holds in state PENDING that this engine isn't already
// tracking. Adaptations applied outside Cycle's own insight path — a
// manual ForceBlacklist/Unblacklist, or a status transition QuickUpdate
// recorded directly — never run through apply(), so without this sweep
// they would sit PENDING forever; this is also how a restarted process
// rehydrates the adaptations it was already measuring (spec §4.7
// AdaptationsSince). Safe to call repeatedly: already-tracked ids are
// left untouched.
func (e *Engine) Reconcile() {
	for _, a := range e.knowledge.AdaptationsSince(time.Time{}) {
		if a.State != types.AdaptationPending {
			continue
		}
		if _, tracked := e.pending[a.ID]; tracked {
			continue
		}
		dueAt := a.MeasureAt
		tradeGoal := a.PostTradeGoal
		if dueAt.IsZero() {
			dueAt = a.AppliedAt.Add(e.cfg.MeasureWindow)
		}
		if tradeGoal == 0 {
			tradeGoal = e.cfg.MeasurePostTrades
		}
		e.pending[a.ID] = pendingMeasurement{
			adaptationID: a.ID,
			target:       a.Target,
			dueAt:        dueAt,
			tradeGoal:    tradeGoal,
			tradesAtOpen: e.tradesSoFar(a.Target),
		}
	}
}

// Cycle drains the queue and runs one reflection pass. If fewer than
// MinTradesToReflect events are queued, they are requeued untouched.
func (e *Engine) Cycle(ctx context.Context) {
	events := e.queue.Drain()
	if len(events) < e.cfg.Thresholds.MinTradesToReflect {
		e.queue.Requeue(events)
		return
	}

	summary := e.buildSummary(events)
	insights, err := e.reasoner.Reflect(ctx, summary)
	if err != nil {
		e.logger.Warn("reflection call failed, requeuing batch", zap.Error(err), zap.Int("events", len(events)))
		e.queue.Requeue(events)
		return
	}

	for _, insight := range insights {
		if insight.Confidence < e.cfg.Thresholds.InsightMinConfidence {
			e.logger.Debug("discarding low-confidence insight", zap.String("target", insight.Target), zap.Float64("confidence", insight.Confidence))
			continue
		}
		if insight.Target == "" || insight.Kind == "" {
			continue
		}
		e.apply(insight)
	}
}

func (e *Engine) buildSummary(events []types.TradeEvent) reasoning.ReflectionSummary {
	byCoin := make(map[string]types.CoinSummary)
	byHour := make(map[int]float64)
	byPattern := make(map[string]float64)

	hourWins := make(map[int]int)
	hourTotal := make(map[int]int)
	patternWins := make(map[string]int)
	patternTotal := make(map[string]int)

	for _, ev := range events {
		hour := ev.ExitTime.Hour()
		hourTotal[hour]++
		if ev.Won() {
			hourWins[hour]++
		}
		if ev.PatternID != "" {
			patternTotal[ev.PatternID]++
			if ev.Won() {
				patternWins[ev.PatternID]++
			}
		}
	}
	for h, total := range hourTotal {
		byHour[h] = float64(hourWins[h]) / float64(total)
	}
	for p, total := range patternTotal {
		byPattern[p] = float64(patternWins[p]) / float64(total)
	}

	knowledge := e.knowledge.Context()
	for coin, summary := range knowledge.CoinSummaries {
		byCoin[coin] = summary
	}

	return reasoning.ReflectionSummary{
		ByCoin:    byCoin,
		ByHour:    byHour,
		ByPattern: byPattern,
		Knowledge: knowledge,
		Window:    e.cfg.MeasureWindow,
	}
}

func (e *Engine) apply(insight types.Insight) {
	before := e.metricsFor(insight.Target)
	adaptation := types.Adaptation{
		ID:            money.GenerateAdaptationID(),
		Kind:          insight.Kind,
		Target:        insight.Target,
		Reason:        insight.Evidence + "; " + insight.SuggestedAction,
		AppliedAt:     time.Now(),
		MetricsBefore: before,
		Effectiveness: types.EffPending,
		State:         types.AdaptationPending,
		MeasureAt:     time.Now().Add(e.cfg.MeasureWindow),
		PostTradeGoal: e.cfg.MeasurePostTrades,
	}

	if err := e.knowledge.ApplyAdaptation(adaptation); err != nil {
		e.logger.Warn("failed to apply adaptation", zap.String("target", insight.Target), zap.Error(err))
		return
	}

	e.pending[adaptation.ID] = pendingMeasurement{
		adaptationID: adaptation.ID,
		target:       adaptation.Target,
		dueAt:        adaptation.MeasureAt,
		tradeGoal:    adaptation.PostTradeGoal,
		tradesAtOpen: e.tradesSoFar(adaptation.Target),
	}
}

func (e *Engine) metricsFor(target string) types.Metrics {
	since := time.Now().Add(-30 * 24 * time.Hour)
	counts := e.journal.CountsByCoin(since)
	c, ok := counts[target]
	if !ok {
		return types.Metrics{}
	}
	winRate := 0.0
	if c.Trades > 0 {
		winRate = float64(c.Wins) / float64(c.Trades)
	}
	pnl := decimal.Zero
	for _, ev := range e.journal.Since(since) {
		if ev.Coin == target {
			pnl = pnl.Add(ev.PnLUSD)
		}
	}
	return types.Metrics{WinRate: winRate, PnL: pnl, Trades: c.Trades}
}

func (e *Engine) tradesSoFar(target string) int {
	counts := e.journal.CountsByCoin(time.Time{})
	return counts[target].Trades
}

// MeasureDue re-rates every pending adaptation whose measurement window has
// elapsed or whose post-trade goal has been met, whichever comes first
// (spec §4.6 effectiveness measurement). It reconciles against the
// knowledge store first, so an adaptation applied outside this engine's
// own Cycle is picked up before its window is checked.
func (e *Engine) MeasureDue(now time.Time) {
	e.Reconcile()
	for id, pm := range e.pending {
		tradesNow := e.tradesSoFar(pm.target)
		due := now.After(pm.dueAt) || tradesNow-pm.tradesAtOpen >= pm.tradeGoal
		if !due {
			continue
		}
		after := e.metricsFor(pm.target)
		effectiveness := rate(e.baselineWinRate(pm.target), after.WinRate)
		if err := e.knowledge.RateAdaptation(id, after, effectiveness); err != nil {
			e.logger.Warn("failed to rate adaptation", zap.String("id", id), zap.Error(err))
			continue
		}
		delete(e.pending, id)
	}
}

func (e *Engine) baselineWinRate(target string) float64 {
	ctx := e.knowledge.Context()
	if s, ok := ctx.CoinSummaries[target]; ok {
		return s.WinRate
	}
	return 0
}

// rate implements spec §4.6's effectiveness thresholds on absolute win-rate
// improvement.
func rate(before, after float64) types.Effectiveness {
	delta := after - before
	switch {
	case delta > 0.20:
		return types.EffHighlyEffective
	case delta >= 0.05:
		return types.EffEffective
	case delta >= -0.05:
		return types.EffNeutral
	case delta >= -0.10:
		return types.EffIneffective
	default:
		return types.EffHarmful
	}
}
