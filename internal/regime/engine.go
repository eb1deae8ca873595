package regime

import (
	"time"

	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RuleStore is the subset of internal/knowledge.Store the engine needs.
type RuleStore interface {
	SetRuleActive(ruleID, description string, action types.RegimeAction, sizeFactor decimal.Decimal, active bool) error
}

// Engine feeds a market-wide Classifier from price ticks and mirrors stable
// classifications into a small fixed set of built-in RegimeRules. Unlike
// reflection-sourced CREATE_RULE adaptations (also RegimeRules, applied via
// KnowledgeStore.ApplyAdaptation), these rules are mechanically derived from
// the classifier rather than proposed by the reasoning service.
type Engine struct {
	logger     *zap.Logger
	classifier *Classifier
	rules      RuleStore

	lastCoin  string
	lastPrice decimal.Decimal
}

// builtinRule is one of the fixed classifier-driven rules.
type builtinRule struct {
	id          string
	description string
	action      types.RegimeAction
	sizeFactor  decimal.Decimal
	matches     func(State) bool
}

var builtinRules = []builtinRule{
	{
		id:          "regime_high_vol_reduce",
		description: "classifier: high volatility, reduce size",
		action:      types.RegimeReduceSize,
		sizeFactor:  decimal.NewFromFloat(0.5),
		matches:     func(s State) bool { return s.Primary == TypeHighVol },
	},
	{
		id:          "regime_bear_skip",
		description: "classifier: bear trend, skip new entries",
		action:      types.RegimeSkip,
		sizeFactor:  decimal.NewFromInt(0),
		matches:     func(s State) bool { return s.Primary == TypeBear },
	},
	{
		id:          "regime_bull_favor",
		description: "classifier: bull trend, favor new entries",
		action:      types.RegimeFavor,
		sizeFactor:  decimal.NewFromFloat(1.2),
		matches:     func(s State) bool { return s.Primary == TypeBull },
	},
	{
		id:          "regime_low_vol_favor",
		description: "classifier: low volatility, favor larger size",
		action:      types.RegimeFavor,
		sizeFactor:  decimal.NewFromFloat(1.3),
		matches:     func(s State) bool { return s.Primary == TypeLowVol },
	},
}

// NewEngine builds an Engine over a fresh Classifier.
func NewEngine(logger *zap.Logger, cfg Config, rules RuleStore) *Engine {
	return &Engine{
		logger:     logger.Named("regime"),
		classifier: NewClassifier(logger, cfg),
		rules:      rules,
	}
}

// OnPrice feeds a price tick into the classifier. It matches
// internal/feed.Feed.OnPriceChange's callback signature directly. Only the
// first coin seen drives the market-wide return series; callers typically
// register this once per representative symbol (e.g. the universe's primary
// coin), matching RegimeRule's market-wide (not per-coin) scope.
func (e *Engine) OnPrice(coin string, price decimal.Decimal, _ time.Time) {
	if e.lastCoin != "" && e.lastCoin != coin {
		return
	}
	e.lastCoin = coin
	if !e.lastPrice.IsZero() {
		ret, _ := price.Sub(e.lastPrice).Div(e.lastPrice).Float64()
		e.classifier.AddReturn(ret)
	}
	e.lastPrice = price
}

// Sync reconciles builtinRules against the classifier's current state,
// activating the matching rule (if the regime has held stably) and
// deactivating every other builtin. Call periodically (e.g. once per
// reflection cycle) rather than on every tick, since RegimeRule activation
// is a low-frequency signal.
func (e *Engine) Sync() {
	state := e.classifier.Current()
	stable := e.classifier.Stable()

	for _, r := range builtinRules {
		active := stable && r.matches(state)
		if err := e.rules.SetRuleActive(r.id, r.description, r.action, r.sizeFactor, active); err != nil {
			e.logger.Warn("failed to sync regime rule", zap.String("rule_id", r.id), zap.Error(err))
		}
	}
}

// Current exposes the classifier's state for telemetry/logging.
func (e *Engine) Current() State {
	return e.classifier.Current()
}
