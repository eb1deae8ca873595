// Package proposer implements the StrategyProposer: it consults the
// reasoning service for candidate trades, validates and sizes the
// survivors, and hands the executor a fresh TradeCondition set (spec §4.2).
package proposer

import (
	"context"

	"github.com/atlas-desktop/paperengine/pkg/money"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxNewConditions bounds how many conditions a single propose cycle emits.
const MaxNewConditions = 10

// Reasoner is the subset of internal/reasoning.Client the proposer needs.
type Reasoner interface {
	Propose(ctx context.Context, snapshot types.MarketState, knowledge types.KnowledgeContext) []types.RawProposal
}

// Knowledge is the subset of internal/knowledge.Store the proposer reads.
type Knowledge interface {
	Context() types.KnowledgeContext
	CoinScore(coin string) (types.CoinScore, bool)
	ActiveRules() []types.RegimeRule
}

// Proposer produces TradeConditions from a market snapshot and the current
// knowledge context.
type Proposer struct {
	logger    *zap.Logger
	reasoner  Reasoner
	knowledge Knowledge
	cfg       types.EngineConfig
}

// New builds a Proposer.
func New(logger *zap.Logger, reasoner Reasoner, knowledge Knowledge, cfg types.EngineConfig) *Proposer {
	return &Proposer{
		logger:    logger.Named("proposer"),
		reasoner:  reasoner,
		knowledge: knowledge,
		cfg:       cfg,
	}
}

// Propose runs one proposal cycle against the given snapshot. It never
// returns an error; a reasoning-service failure or an entirely-rejected
// batch simply yields an empty set, per spec §4.2's failure semantics.
func (p *Proposer) Propose(ctx context.Context, snapshot types.MarketState) []types.TradeCondition {
	knowledge := p.knowledge.Context()

	raw := p.reasoner.Propose(ctx, snapshot, knowledge)
	if len(raw) == 0 {
		return nil
	}

	regimeModifier := p.regimeModifier(p.knowledge.ActiveRules())

	conditions := make([]types.TradeCondition, 0, MaxNewConditions)
	for _, rp := range raw {
		if len(conditions) >= MaxNewConditions {
			break
		}
		cond, ok := p.validate(rp, snapshot, regimeModifier)
		if !ok {
			continue
		}
		conditions = append(conditions, cond)
	}
	return conditions
}

func (p *Proposer) validate(rp types.RawProposal, snapshot types.MarketState, regimeModifier decimal.Decimal) (types.TradeCondition, bool) {
	coinState, known := snapshot.Coins[rp.Coin]
	if !known {
		p.logger.Debug("rejected proposal: unknown coin", zap.String("coin", rp.Coin))
		return types.TradeCondition{}, false
	}

	score, _ := p.knowledge.CoinScore(rp.Coin)
	if score.Status == types.StatusBlacklisted {
		p.logger.Debug("rejected proposal: blacklisted coin", zap.String("coin", rp.Coin))
		return types.TradeCondition{}, false
	}

	if p.gatedBySkip(rp.Coin) {
		p.logger.Debug("rejected proposal: gated by SKIP regime rule", zap.String("coin", rp.Coin))
		return types.TradeCondition{}, false
	}

	spot := coinState.Price
	if spot.IsZero() {
		return types.TradeCondition{}, false
	}
	drift := money.PercentChange(spot, rp.EntryPrice).Abs()
	if drift.GreaterThan(decimal.NewFromFloat(p.cfg.Thresholds.MaxEntryDrift)) {
		p.logger.Debug("rejected proposal: entry drift too large", zap.String("coin", rp.Coin), zap.String("drift", drift.String()))
		return types.TradeCondition{}, false
	}

	if !stopOnCorrectSide(rp) {
		p.logger.Debug("rejected proposal: stop_loss on wrong side of entry", zap.String("coin", rp.Coin))
		return types.TradeCondition{}, false
	}

	if !takeProfitImproves(rp) {
		p.logger.Debug("rejected proposal: take_profit not better than entry", zap.String("coin", rp.Coin))
		return types.TradeCondition{}, false
	}

	sizeUSD := p.size(score, regimeModifier)
	if sizeUSD.IsZero() {
		return types.TradeCondition{}, false
	}

	return types.TradeCondition{
		ConditionID: money.GenerateConditionID(),
		Coin:        rp.Coin,
		Direction:   rp.Direction,
		EntryPrice:  money.Round(rp.EntryPrice),
		StopLoss:    money.Round(rp.StopLoss),
		TakeProfit:  money.Round(rp.TakeProfit),
		SizeUSD:     money.Round(sizeUSD),
		ExpiresAt:   snapshot.Timestamp.Add(p.cfg.ConditionTTL),
		PatternID:   rp.PatternID,
		CreatedAt:   snapshot.Timestamp,
	}, true
}

func stopOnCorrectSide(rp types.RawProposal) bool {
	if rp.Direction == types.DirectionLong {
		return rp.StopLoss.LessThan(rp.EntryPrice)
	}
	return rp.StopLoss.GreaterThan(rp.EntryPrice)
}

func takeProfitImproves(rp types.RawProposal) bool {
	if rp.Direction == types.DirectionLong {
		return rp.TakeProfit.GreaterThan(rp.EntryPrice)
	}
	return rp.TakeProfit.LessThan(rp.EntryPrice)
}

// size computes BASE_SIZE × coin_modifier × regime_modifier, clamped to
// [MIN_SIZE, MAX_SIZE] (spec §4.2 step 4).
func (p *Proposer) size(score types.CoinScore, regimeModifier decimal.Decimal) decimal.Decimal {
	raw := p.cfg.BaseSizeUSD.Mul(score.SizeModifier()).Mul(regimeModifier)
	if raw.IsZero() {
		return decimal.Zero
	}
	return money.Clamp(raw, p.cfg.MinSizeUSD, p.cfg.MaxSizeUSD)
}

// regimeModifier is the product of active rules' size factors for
// REDUCE_SIZE/FAVOR actions.
func (p *Proposer) regimeModifier(rules []types.RegimeRule) decimal.Decimal {
	modifier := decimal.NewFromInt(1)
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		switch r.Action {
		case types.RegimeReduceSize, types.RegimeFavor:
			modifier = modifier.Mul(r.SizeFactor)
		}
	}
	return modifier
}

// gatedBySkip reports whether any active SKIP rule applies. Regime rule
// predicates are opaque structured conditions (§3); admission gating beyond
// the coin-agnostic SKIP action lives in internal/regime.
func (p *Proposer) gatedBySkip(coin string) bool {
	for _, r := range p.knowledge.ActiveRules() {
		if r.IsActive && r.Action == types.RegimeSkip {
			return true
		}
	}
	return false
}
