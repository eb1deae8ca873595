package journal_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/paperengine/internal/journal"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func event(id, coin string, exitTime time.Time, pnl int64) types.TradeEvent {
	return types.TradeEvent{
		TradeID:    id,
		Coin:       coin,
		Direction:  types.DirectionLong,
		EntryPrice: decimal.NewFromInt(100),
		ExitPrice:  decimal.NewFromInt(100).Add(decimal.NewFromInt(pnl)),
		EntryTime:  exitTime.Add(-time.Hour),
		ExitTime:   exitTime,
		SizeUSD:    decimal.NewFromInt(100),
		PnLUSD:     decimal.NewFromInt(pnl),
		ExitReason: types.ExitTakeProfit,
	}
}

func TestRecordAndGet(t *testing.T) {
	j, err := journal.New(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e := event("trd_1", "BTC-USD", time.Now(), 10)
	if err := j.Record(e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, ok := j.Get("trd_1")
	if !ok {
		t.Fatal("Get did not find recorded event")
	}
	if !got.PnLUSD.Equal(decimal.NewFromInt(10)) {
		t.Errorf("PnLUSD = %s, want 10", got.PnLUSD)
	}

	if _, ok := j.Get("nonexistent"); ok {
		t.Error("Get found an event that was never recorded")
	}
}

func TestRecordSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	j1, err := journal.New(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := j1.Record(event("trd_1", "BTC-USD", time.Now(), 5)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	j2, err := journal.New(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("reopening journal: %v", err)
	}
	got, ok := j2.Get("trd_1")
	if !ok {
		t.Fatal("reloaded journal lost the recorded event")
	}
	if got.TradeID != "trd_1" {
		t.Errorf("TradeID = %s, want trd_1", got.TradeID)
	}
}

func TestSinceFiltersByExitTime(t *testing.T) {
	j, err := journal.New(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Now()
	j.Record(event("trd_old", "BTC-USD", base.Add(-2*time.Hour), 1))
	j.Record(event("trd_new", "BTC-USD", base, 1))

	since := j.Since(base.Add(-time.Hour))
	if len(since) != 1 || since[0].TradeID != "trd_new" {
		t.Errorf("Since returned %v, want only trd_new", since)
	}
}

func TestRecentReturnsNewestLast(t *testing.T) {
	j, err := journal.New(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Now()
	j.Record(event("trd_1", "BTC-USD", base.Add(-2*time.Hour), 1))
	j.Record(event("trd_2", "BTC-USD", base.Add(-time.Hour), 1))
	j.Record(event("trd_3", "BTC-USD", base, 1))

	recent := j.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[len(recent)-1].TradeID != "trd_3" {
		t.Errorf("last entry = %s, want trd_3 (most recent)", recent[len(recent)-1].TradeID)
	}

	all := j.Recent(100)
	if len(all) != 3 {
		t.Errorf("Recent(100) with 3 events = %d entries, want 3 (not more)", len(all))
	}
}

func TestCountsByCoin(t *testing.T) {
	j, err := journal.New(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Now()
	j.Record(event("trd_1", "BTC-USD", base, 10))
	j.Record(event("trd_2", "BTC-USD", base, -5))
	j.Record(event("trd_3", "ETH-USD", base, 20))

	counts := j.CountsByCoin(base.Add(-time.Minute))
	if counts["BTC-USD"].Trades != 2 || counts["BTC-USD"].Wins != 1 {
		t.Errorf("BTC-USD counts = %+v, want Trades=2 Wins=1", counts["BTC-USD"])
	}
	if counts["ETH-USD"].Trades != 1 || counts["ETH-USD"].Wins != 1 {
		t.Errorf("ETH-USD counts = %+v, want Trades=1 Wins=1", counts["ETH-USD"])
	}
}
