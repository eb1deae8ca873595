// Package executor implements the ConditionExecutor: the latency-critical
// component that evaluates active TradeConditions against every price tick
// and manages open Positions (spec §4.3).
package executor

import (
	"sync"
	"time"

	"github.com/atlas-desktop/paperengine/pkg/money"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradeEventSink receives TradeEvents as positions close.
type TradeEventSink interface {
	Publish(event types.TradeEvent)
}

// Executor holds the active condition and position sets. All mutation goes
// through a single critical section: simplicity over cross-coin
// parallelism, since this core's condition/position counts are small enough
// that a held mutex never approaches the ordering guarantee's latency
// budget. Ordering is therefore trivially per-coin (and global).
type Executor struct {
	logger       *zap.Logger
	sink         TradeEventSink
	maxPositions int

	mu               sync.Mutex
	conditions       map[string]types.TradeCondition // by condition_id
	positions        map[string]types.Position       // by position_id
	conditionsByCoin map[string]map[string]struct{}  // coin -> condition_ids
	positionsByCoin  map[string]map[string]struct{}  // coin -> position_ids
	lastPrice        map[string]decimal.Decimal
}

// New builds an Executor. maxPositions caps the number of simultaneously
// open positions (spec testable property #6: sum of open position notional
// never exceeds max_concurrent_positions * max_size_usd); a condition that
// triggers once the cap is held is dropped rather than opened. <= 0 means
// unbounded.
func New(logger *zap.Logger, sink TradeEventSink, maxPositions int) *Executor {
	return &Executor{
		logger:           logger.Named("condition-executor"),
		sink:             sink,
		maxPositions:     maxPositions,
		conditions:       make(map[string]types.TradeCondition),
		positions:        make(map[string]types.Position),
		conditionsByCoin: make(map[string]map[string]struct{}),
		positionsByCoin:  make(map[string]map[string]struct{}),
		lastPrice:        make(map[string]decimal.Decimal),
	}
}

// SetConditions atomically swaps the active condition set: conditions in
// newSet are added or replaced by condition_id, and any existing condition
// whose id is absent from newSet expires immediately.
func (e *Executor) SetConditions(newSet []types.TradeCondition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keep := make(map[string]struct{}, len(newSet))
	for _, c := range newSet {
		keep[c.ConditionID] = struct{}{}
	}

	for id, existing := range e.conditions {
		if _, ok := keep[id]; !ok {
			e.removeCondition(id, existing.Coin)
		}
	}
	for _, c := range newSet {
		e.addCondition(c)
	}
}

func (e *Executor) addCondition(c types.TradeCondition) {
	e.conditions[c.ConditionID] = c
	if e.conditionsByCoin[c.Coin] == nil {
		e.conditionsByCoin[c.Coin] = make(map[string]struct{})
	}
	e.conditionsByCoin[c.Coin][c.ConditionID] = struct{}{}
}

func (e *Executor) removeCondition(id, coin string) {
	delete(e.conditions, id)
	if set := e.conditionsByCoin[coin]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(e.conditionsByCoin, coin)
		}
	}
}

// OnPrice is invoked for every tick. It opens positions for triggered
// conditions and evaluates exits for open positions on coin, in O(k) where k
// is the number of conditions/positions touching coin. A panic evaluating
// one condition or position is caught, logged, and that record is dropped;
// the rest of the tick proceeds.
func (e *Executor) OnPrice(coin string, price decimal.Decimal, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPrice[coin] = price

	for id := range e.conditionsByCoin[coin] {
		e.evaluateConditionSafely(id, price, ts)
	}
	for id := range e.positionsByCoin[coin] {
		e.evaluatePositionSafely(id, price, ts)
	}
}

func (e *Executor) evaluateConditionSafely(id string, price decimal.Decimal, ts time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("condition evaluation panicked, dropping condition",
				zap.String("condition_id", id), zap.Any("panic", r))
			if c, ok := e.conditions[id]; ok {
				e.removeCondition(id, c.Coin)
			}
		}
	}()

	cond, ok := e.conditions[id]
	if !ok {
		return
	}
	triggered := false
	switch cond.Direction {
	case types.DirectionLong:
		triggered = price.LessThanOrEqual(cond.EntryPrice)
	case types.DirectionShort:
		triggered = price.GreaterThanOrEqual(cond.EntryPrice)
	}
	if !triggered {
		return
	}

	e.removeCondition(id, cond.Coin)
	if e.maxPositions > 0 && len(e.positions) >= e.maxPositions {
		e.logger.Debug("dropping triggered condition, at max concurrent positions",
			zap.String("condition_id", id), zap.Int("max_positions", e.maxPositions))
		return
	}
	e.openPosition(cond, price, ts)
}

func (e *Executor) openPosition(cond types.TradeCondition, price decimal.Decimal, ts time.Time) {
	pos := types.Position{
		PositionID:  money.GeneratePositionID(),
		ConditionID: cond.ConditionID,
		Coin:        cond.Coin,
		Direction:   cond.Direction,
		EntryPrice:  price,
		EntryTime:   ts,
		SizeUSD:     cond.SizeUSD,
		StopLoss:    cond.StopLoss,
		TakeProfit:  cond.TakeProfit,
		PatternID:   cond.PatternID,
	}
	e.positions[pos.PositionID] = pos
	if e.positionsByCoin[pos.Coin] == nil {
		e.positionsByCoin[pos.Coin] = make(map[string]struct{})
	}
	e.positionsByCoin[pos.Coin][pos.PositionID] = struct{}{}
}

func (e *Executor) evaluatePositionSafely(id string, price decimal.Decimal, ts time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("position evaluation panicked, dropping position",
				zap.String("position_id", id), zap.Any("panic", r))
			if p, ok := e.positions[id]; ok {
				e.removePosition(id, p.Coin)
			}
		}
	}()

	pos, ok := e.positions[id]
	if !ok {
		return
	}

	// STOP_LOSS before TAKE_PROFIT: a single tick crossing both is conservative.
	if stopHit(pos, price) {
		e.closeAndEmit(pos, price, ts, types.ExitStopLoss)
		return
	}
	if takeProfitHit(pos, price) {
		e.closeAndEmit(pos, price, ts, types.ExitTakeProfit)
	}
}

func stopHit(pos types.Position, price decimal.Decimal) bool {
	if pos.Direction == types.DirectionLong {
		return price.LessThanOrEqual(pos.StopLoss)
	}
	return price.GreaterThanOrEqual(pos.StopLoss)
}

func takeProfitHit(pos types.Position, price decimal.Decimal) bool {
	if pos.Direction == types.DirectionLong {
		return price.GreaterThanOrEqual(pos.TakeProfit)
	}
	return price.LessThanOrEqual(pos.TakeProfit)
}

func (e *Executor) removePosition(id, coin string) {
	delete(e.positions, id)
	if set := e.positionsByCoin[coin]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(e.positionsByCoin, coin)
		}
	}
}

func (e *Executor) closeAndEmit(pos types.Position, exitPrice decimal.Decimal, ts time.Time, reason types.ExitReason) {
	e.removePosition(pos.PositionID, pos.Coin)
	event := types.TradeEvent{
		TradeID:    money.GenerateTradeID(),
		Coin:       pos.Coin,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		EntryTime:  pos.EntryTime,
		ExitTime:   ts,
		SizeUSD:    pos.SizeUSD,
		PnLUSD:     money.Round(pnl(pos, exitPrice)),
		ExitReason: reason,
		PatternID:  pos.PatternID,
	}
	e.sink.Publish(event)
}

// pnl computes (exit-entry)*size_usd/entry for LONG, negated for SHORT.
func pnl(pos types.Position, exitPrice decimal.Decimal) decimal.Decimal {
	raw := exitPrice.Sub(pos.EntryPrice).Mul(pos.SizeUSD).Div(pos.EntryPrice)
	if pos.Direction == types.DirectionShort {
		return raw.Neg()
	}
	return raw
}

// CloseManual force-closes an open position at its last known price.
func (e *Executor) CloseManual(positionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[positionID]
	if !ok {
		return false
	}
	price, ok := e.lastPrice[pos.Coin]
	if !ok {
		price = pos.EntryPrice
	}
	e.closeAndEmit(pos, price, time.Now(), types.ExitManual)
	return true
}

// ExpireTick removes conditions whose expires_at has passed. Called at
// ≥1/s cadence. Expiry never produces a TradeEvent — the condition never
// became a trade.
func (e *Executor) ExpireTick(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	expired := 0
	for id, c := range e.conditions {
		if c.ExpiresAt.Before(now) {
			e.removeCondition(id, c.Coin)
			expired++
		}
	}
	return expired
}

// DrainAtPrices force-closes every open position at its last known price
// with exit_reason=MANUAL, for graceful shutdown (spec §5).
func (e *Executor) DrainAtPrices() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.positions))
	for id := range e.positions {
		ids = append(ids, id)
	}
	for _, id := range ids {
		pos := e.positions[id]
		price, ok := e.lastPrice[pos.Coin]
		if !ok {
			price = pos.EntryPrice
		}
		e.closeAndEmit(pos, price, time.Now(), types.ExitManual)
	}
	return len(ids)
}

// OpenPositionCount reports the number of live positions, for admission
// checks against MaxConcurrentPositions.
func (e *Executor) OpenPositionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.positions)
}
