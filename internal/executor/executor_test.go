package executor_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/paperengine/internal/executor"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeSink struct {
	events []types.TradeEvent
}

func (f *fakeSink) Publish(event types.TradeEvent) {
	f.events = append(f.events, event)
}

func condition(coin string, direction types.Direction, entry, stop, tp decimal.Decimal, expiresIn time.Duration) types.TradeCondition {
	return types.TradeCondition{
		ConditionID: coin + "-cond",
		Coin:        coin,
		Direction:   direction,
		EntryPrice:  entry,
		StopLoss:    stop,
		TakeProfit:  tp,
		SizeUSD:     decimal.NewFromInt(100),
		ExpiresAt:   time.Now().Add(expiresIn),
		CreatedAt:   time.Now(),
	}
}

func TestOnPriceOpensPositionWhenLongConditionTriggers(t *testing.T) {
	sink := &fakeSink{}
	exec := executor.New(zap.NewNop(), sink, 0)
	exec.SetConditions([]types.TradeCondition{
		condition("BTC-USD", types.DirectionLong, decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(120), time.Hour),
	})

	exec.OnPrice("BTC-USD", decimal.NewFromInt(99), time.Now())

	if exec.OpenPositionCount() != 1 {
		t.Fatalf("OpenPositionCount = %d, want 1 after the entry price is touched", exec.OpenPositionCount())
	}
}

func TestOnPriceClosesPositionOnStopLossBeforeTakeProfit(t *testing.T) {
	sink := &fakeSink{}
	exec := executor.New(zap.NewNop(), sink, 0)
	exec.SetConditions([]types.TradeCondition{
		condition("BTC-USD", types.DirectionLong, decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(110), time.Hour),
	})
	exec.OnPrice("BTC-USD", decimal.NewFromInt(100), time.Now())
	if exec.OpenPositionCount() != 1 {
		t.Fatalf("precondition: expected an open position, got %d", exec.OpenPositionCount())
	}

	// A single tick below stop-loss and above take-profit is impossible here,
	// but confirm stop-loss wins when it is the one hit.
	exec.OnPrice("BTC-USD", decimal.NewFromInt(85), time.Now())

	if exec.OpenPositionCount() != 0 {
		t.Fatalf("OpenPositionCount = %d, want 0 after stop-loss is hit", exec.OpenPositionCount())
	}
	if len(sink.events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(sink.events))
	}
	if sink.events[0].ExitReason != types.ExitStopLoss {
		t.Errorf("ExitReason = %s, want STOP_LOSS", sink.events[0].ExitReason)
	}
	if !sink.events[0].PnLUSD.LessThan(decimal.Zero) {
		t.Errorf("PnLUSD = %s, want negative on a stop-loss exit", sink.events[0].PnLUSD)
	}
}

func TestOnPriceClosesPositionOnTakeProfit(t *testing.T) {
	sink := &fakeSink{}
	exec := executor.New(zap.NewNop(), sink, 0)
	exec.SetConditions([]types.TradeCondition{
		condition("BTC-USD", types.DirectionLong, decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(110), time.Hour),
	})
	exec.OnPrice("BTC-USD", decimal.NewFromInt(100), time.Now())
	exec.OnPrice("BTC-USD", decimal.NewFromInt(115), time.Now())

	if exec.OpenPositionCount() != 0 {
		t.Fatalf("OpenPositionCount = %d, want 0 after take-profit is hit", exec.OpenPositionCount())
	}
	if len(sink.events) != 1 || sink.events[0].ExitReason != types.ExitTakeProfit {
		t.Fatalf("events = %+v, want one TAKE_PROFIT exit", sink.events)
	}
	if !sink.events[0].PnLUSD.GreaterThan(decimal.Zero) {
		t.Errorf("PnLUSD = %s, want positive on a take-profit exit", sink.events[0].PnLUSD)
	}
}

func TestSetConditionsExpiresRemovedConditions(t *testing.T) {
	sink := &fakeSink{}
	exec := executor.New(zap.NewNop(), sink, 0)
	exec.SetConditions([]types.TradeCondition{
		condition("BTC-USD", types.DirectionLong, decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(110), time.Hour),
	})
	exec.SetConditions(nil)

	// The removed condition must no longer trigger.
	exec.OnPrice("BTC-USD", decimal.NewFromInt(50), time.Now())
	if exec.OpenPositionCount() != 0 {
		t.Errorf("OpenPositionCount = %d, want 0: condition was swapped out before price touched entry", exec.OpenPositionCount())
	}
}

func TestExpireTickRemovesExpiredConditionsWithoutEmitting(t *testing.T) {
	sink := &fakeSink{}
	exec := executor.New(zap.NewNop(), sink, 0)
	exec.SetConditions([]types.TradeCondition{
		condition("BTC-USD", types.DirectionLong, decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(110), -time.Second),
	})

	expired := exec.ExpireTick(time.Now())
	if expired != 1 {
		t.Fatalf("ExpireTick = %d, want 1", expired)
	}

	exec.OnPrice("BTC-USD", decimal.NewFromInt(50), time.Now())
	if exec.OpenPositionCount() != 0 {
		t.Error("an expired condition must never open a position")
	}
	if len(sink.events) != 0 {
		t.Error("expiry must never emit a TradeEvent")
	}
}

func TestDrainAtPricesClosesEveryPositionAsManual(t *testing.T) {
	sink := &fakeSink{}
	exec := executor.New(zap.NewNop(), sink, 0)
	exec.SetConditions([]types.TradeCondition{
		condition("BTC-USD", types.DirectionLong, decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(110), time.Hour),
	})
	exec.OnPrice("BTC-USD", decimal.NewFromInt(100), time.Now())
	if exec.OpenPositionCount() != 1 {
		t.Fatalf("precondition failed: expected one open position")
	}

	closed := exec.DrainAtPrices()
	if closed != 1 {
		t.Fatalf("DrainAtPrices = %d, want 1", closed)
	}
	if exec.OpenPositionCount() != 0 {
		t.Error("DrainAtPrices should leave no open positions")
	}
	if len(sink.events) != 1 || sink.events[0].ExitReason != types.ExitManual {
		t.Fatalf("events = %+v, want one MANUAL exit", sink.events)
	}
}

func TestCloseManualReturnsFalseForUnknownPosition(t *testing.T) {
	exec := executor.New(zap.NewNop(), &fakeSink{}, 0)
	if exec.CloseManual("missing") {
		t.Error("CloseManual should return false for an id it never opened")
	}
}

func TestOnPriceDropsTriggeredConditionAtMaxPositions(t *testing.T) {
	sink := &fakeSink{}
	exec := executor.New(zap.NewNop(), sink, 1)
	exec.SetConditions([]types.TradeCondition{
		condition("BTC-USD", types.DirectionLong, decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(120), time.Hour),
		condition("ETH-USD", types.DirectionLong, decimal.NewFromInt(100), decimal.NewFromInt(90), decimal.NewFromInt(120), time.Hour),
	})

	exec.OnPrice("BTC-USD", decimal.NewFromInt(99), time.Now())
	if exec.OpenPositionCount() != 1 {
		t.Fatalf("precondition: expected 1 open position, got %d", exec.OpenPositionCount())
	}

	// A second condition triggers while already at the cap: it must be
	// dropped rather than opened, and must never resurface afterwards.
	exec.OnPrice("ETH-USD", decimal.NewFromInt(99), time.Now())
	if exec.OpenPositionCount() != 1 {
		t.Errorf("OpenPositionCount = %d, want 1: a second trigger must not exceed max_concurrent_positions", exec.OpenPositionCount())
	}

	exec.OnPrice("ETH-USD", decimal.NewFromInt(50), time.Now())
	if exec.OpenPositionCount() != 1 {
		t.Error("a dropped condition must not re-trigger on a later tick")
	}
}
