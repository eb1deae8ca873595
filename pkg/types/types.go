// Package types provides the shared domain model for the paper-trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is long or short.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// CoinStatus is the discrete label driving position sizing and admission.
type CoinStatus string

const (
	StatusUnknown     CoinStatus = "UNKNOWN"
	StatusNormal      CoinStatus = "NORMAL"
	StatusFavored     CoinStatus = "FAVORED"
	StatusReduced     CoinStatus = "REDUCED"
	StatusBlacklisted CoinStatus = "BLACKLISTED"
)

// ExitReason records why a Position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitExpired    ExitReason = "EXPIRED"
	ExitManual     ExitReason = "MANUAL"
)

// RegimeAction is the admission/sizing effect of an active RegimeRule.
type RegimeAction string

const (
	RegimeReduceSize RegimeAction = "REDUCE_SIZE"
	RegimeSkip       RegimeAction = "SKIP"
	RegimeFavor      RegimeAction = "FAVOR"
)

// AdaptationKind is the taxonomy of knowledge mutations.
type AdaptationKind string

const (
	AdaptBlacklist         AdaptationKind = "BLACKLIST"
	AdaptFavor             AdaptationKind = "FAVOR"
	AdaptReduce            AdaptationKind = "REDUCE"
	AdaptUnblacklist       AdaptationKind = "UNBLACKLIST"
	AdaptDeactivatePattern AdaptationKind = "DEACTIVATE_PATTERN"
	AdaptCreateRule        AdaptationKind = "CREATE_RULE"
	AdaptAdjustParams      AdaptationKind = "ADJUST_PARAMS"
)

// Effectiveness is the after-the-fact rating of an Adaptation.
type Effectiveness string

const (
	EffPending          Effectiveness = "PENDING"
	EffHighlyEffective   Effectiveness = "HIGHLY_EFFECTIVE"
	EffEffective         Effectiveness = "EFFECTIVE"
	EffNeutral           Effectiveness = "NEUTRAL"
	EffIneffective       Effectiveness = "INEFFECTIVE"
	EffHarmful           Effectiveness = "HARMFUL"
)

// AdaptationState is the lifecycle of an Adaptation record.
type AdaptationState string

const (
	AdaptationPending    AdaptationState = "PENDING"
	AdaptationRated      AdaptationState = "RATED"
	AdaptationRolledBack AdaptationState = "ROLLED_BACK"
)

// MaxOutcomeHistory bounds CoinScore.LastOutcomes (§3 invariant: ≤20 booleans).
const MaxOutcomeHistory = 20

// RecentWindow bounds TradingPattern.RecentOutcomes, the window recent_perf
// is computed over (§4.5 step 4, Open Question 1 resolved at window=10).
const RecentWindow = 10

// CoinScore is the mutable per-coin performance record the loop steers by.
// Owned exclusively by the KnowledgeStore.
type CoinScore struct {
	Coin             string     `json:"coin"`
	TotalTrades      int        `json:"total_trades"`
	Wins             int        `json:"wins"`
	Losses           int        `json:"losses"`
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	CurrentStreak    int        `json:"current_streak"` // signed: positive=win streak, negative=loss streak
	LastOutcomes     []bool     `json:"last_outcomes"`  // newest last, bounded to MaxOutcomeHistory
	Status           CoinStatus `json:"status"`
	BlacklistReason  string     `json:"blacklist_reason,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// WinRate returns wins/total_trades, 0 if no trades.
func (c *CoinScore) WinRate() float64 {
	if c.TotalTrades == 0 {
		return 0
	}
	return float64(c.Wins) / float64(c.TotalTrades)
}

// SizeModifier returns the coin_modifier applied to proposal sizing (§4.2 step 4).
func (c *CoinScore) SizeModifier() decimal.Decimal {
	switch c.Status {
	case StatusFavored:
		return decimal.NewFromFloat(1.5)
	case StatusNormal, StatusUnknown:
		return decimal.NewFromInt(1)
	case StatusReduced:
		return decimal.NewFromFloat(0.5)
	default: // BLACKLISTED, and any other status including the empty zero value
		return decimal.Zero
	}
}

// TradingPattern is a reusable entry/exit predicate with tracked confidence.
// Owned exclusively by the KnowledgeStore.
type TradingPattern struct {
	PatternID      string    `json:"pattern_id"`
	Description    string    `json:"description"`
	EntryPredicate string    `json:"entry_predicate"` // abstract structured condition, opaque to this core
	ExitPredicate  string    `json:"exit_predicate"`
	TimesUsed      int       `json:"times_used"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	Confidence     float64   `json:"confidence"` // ∈ [0,1]
	IsActive       bool      `json:"is_active"`
	RecentOutcomes []bool    `json:"recent_outcomes"` // newest last, bounded to RecentWindow
	CreatedAt      time.Time `json:"created_at"`
	LastUsedAt     time.Time `json:"last_used_at"`
}

// RegimeRule is a conditional size or admission modifier triggered by market state.
// Owned exclusively by the KnowledgeStore.
type RegimeRule struct {
	RuleID       string       `json:"rule_id"`
	Description  string       `json:"description"`
	Action       RegimeAction `json:"action"`
	SizeFactor   decimal.Decimal `json:"size_factor"` // multiplier applied when Action==REDUCE_SIZE or FAVOR
	IsActive     bool         `json:"is_active"`
	TriggerCount int          `json:"trigger_count"`
	CreatedAt    time.Time    `json:"created_at"`
}

// TradeCondition is a standing instruction emitted by the proposer: open a
// position when price crosses entry_price. Owned by the ConditionExecutor
// from the moment it is admitted into the active set.
type TradeCondition struct {
	ConditionID string          `json:"condition_id"`
	Coin        string          `json:"coin"`
	Direction   Direction       `json:"direction"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
	SizeUSD     decimal.Decimal `json:"size_usd"`
	ExpiresAt   time.Time       `json:"expires_at"`
	PatternID   string          `json:"pattern_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Position is an open, simulated trade. Owned exclusively by the ConditionExecutor.
type Position struct {
	PositionID  string          `json:"position_id"`
	ConditionID string          `json:"condition_id"`
	Coin        string          `json:"coin"`
	Direction   Direction       `json:"direction"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	EntryTime   time.Time       `json:"entry_time"`
	SizeUSD     decimal.Decimal `json:"size_usd"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
	PatternID   string          `json:"pattern_id,omitempty"`
}

// TradeEvent is the immutable closed-trade record — the unit of learning.
// Owned exclusively by the Journal once written.
type TradeEvent struct {
	TradeID    string          `json:"trade_id"`
	Coin       string          `json:"coin"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	SizeUSD    decimal.Decimal `json:"size_usd"`
	PnLUSD     decimal.Decimal `json:"pnl_usd"`
	ExitReason ExitReason      `json:"exit_reason"`
	PatternID  string          `json:"pattern_id,omitempty"`
}

// Won reports whether the trade was profitable.
func (e *TradeEvent) Won() bool {
	return e.PnLUSD.GreaterThan(decimal.Zero)
}

// Adaptation records a knowledge mutation and its measured effect.
// Owned exclusively by the KnowledgeStore.
type Adaptation struct {
	ID             string          `json:"id"`
	Kind           AdaptationKind  `json:"kind"`
	Target         string          `json:"target"` // coin, pattern_id, or rule_id
	Reason         string          `json:"reason"`
	AppliedAt      time.Time       `json:"applied_at"`
	MetricsBefore  Metrics         `json:"metrics_before"`
	MetricsAfter   *Metrics        `json:"metrics_after,omitempty"`
	Effectiveness  Effectiveness   `json:"effectiveness"`
	State          AdaptationState `json:"state"`
	RolledBack     bool            `json:"rolled_back"`
	MeasureAt      time.Time       `json:"measure_at"`
	PostTradeGoal  int             `json:"post_trade_goal"`
	PostTradeCount int             `json:"post_trade_count"`
}

// Metrics is a point-in-time snapshot used for before/after effectiveness comparison.
type Metrics struct {
	WinRate float64         `json:"win_rate"`
	PnL     decimal.Decimal `json:"pnl"`
	Trades  int             `json:"trades"`
}

// Insight is a transient reasoning-service output consumed by AdaptationApplier.
type Insight struct {
	Kind            AdaptationKind `json:"kind"`
	Target          string         `json:"target"`
	Evidence        string         `json:"evidence"`
	SuggestedAction string         `json:"suggested_action"`
	Confidence      float64        `json:"confidence"`
}

// RawProposal is the wire shape the reasoning service returns for a candidate
// TradeCondition, before validation and sizing (§4.2 step 3).
type RawProposal struct {
	Coin       string          `json:"coin"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	PatternID  string          `json:"pattern_id,omitempty"`
}

// OHLCV is a single closed candle.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// CoinState is one coin's entry in a MarketState snapshot.
type CoinState struct {
	Coin             string          `json:"coin"`
	Price            decimal.Decimal `json:"price"`
	Change24h        decimal.Decimal `json:"change_24h"`
	RollingVolatility decimal.Decimal `json:"rolling_volatility"`
	Stale            bool            `json:"stale"`
}

// MarketState is a coherent, point-in-time read across the coin universe.
type MarketState struct {
	Coins         map[string]CoinState `json:"coins"`
	BTCChange1h   decimal.Decimal      `json:"btc_change_1h"`
	BTCChange24h  decimal.Decimal      `json:"btc_change_24h"`
	Sentiment     string               `json:"sentiment"`
	Timestamp     time.Time            `json:"timestamp"`
}

// KnowledgeContext is the packaged view of KnowledgeStore state the
// StrategyProposer sends to the reasoning service (§4.2 step 1).
type KnowledgeContext struct {
	CoinSummaries  map[string]CoinSummary `json:"coin_summaries"`
	Blacklist      []string               `json:"blacklist"`
	Favored        []string               `json:"favored"`
	ActivePatterns []TradingPattern       `json:"active_patterns"`
	ActiveRules    []RegimeRule           `json:"active_rules"`
	RecentWinRate  float64                `json:"recent_win_rate"`
	RecentPnL      decimal.Decimal        `json:"recent_pnl"`
}

// CoinSummary is the short per-coin text used inside a KnowledgeContext.
type CoinSummary struct {
	Status  CoinStatus `json:"status"`
	WinRate float64    `json:"win_rate"`
	Trades  int        `json:"trades"`
}
