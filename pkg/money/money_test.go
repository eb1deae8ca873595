package money_test

import (
	"strings"
	"testing"

	"github.com/atlas-desktop/paperengine/pkg/money"
	"github.com/shopspring/decimal"
)

func TestRound(t *testing.T) {
	got := money.Round(decimal.NewFromFloat(1.123456789))
	want := decimal.NewFromFloat(1.12345679)
	if !got.Equal(want) {
		t.Errorf("Round = %s, want %s", got, want)
	}
}

func TestClamp(t *testing.T) {
	min := decimal.NewFromInt(10)
	max := decimal.NewFromInt(100)

	cases := []struct {
		value decimal.Decimal
		want  decimal.Decimal
	}{
		{decimal.NewFromInt(5), min},
		{decimal.NewFromInt(50), decimal.NewFromInt(50)},
		{decimal.NewFromInt(200), max},
	}
	for _, c := range cases {
		got := money.Clamp(c.value, min, max)
		if !got.Equal(c.want) {
			t.Errorf("Clamp(%s) = %s, want %s", c.value, got, c.want)
		}
	}
}

func TestMinMax(t *testing.T) {
	a := decimal.NewFromInt(3)
	b := decimal.NewFromInt(7)
	if !money.Min(a, b).Equal(a) {
		t.Errorf("Min(3,7) = %s, want 3", money.Min(a, b))
	}
	if !money.Max(a, b).Equal(b) {
		t.Errorf("Max(3,7) = %s, want 7", money.Max(a, b))
	}
}

func TestPercentChange(t *testing.T) {
	got := money.PercentChange(decimal.NewFromInt(100), decimal.NewFromInt(110))
	if !got.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("PercentChange(100,110) = %s, want 0.1", got)
	}
	if !money.PercentChange(decimal.Zero, decimal.NewFromInt(10)).IsZero() {
		t.Error("PercentChange with zero base should return zero, not divide by zero")
	}
}

func TestReturns(t *testing.T) {
	prices := []decimal.Decimal{
		decimal.NewFromInt(100),
		decimal.NewFromInt(110),
		decimal.NewFromInt(99),
	}
	rets := money.Returns(prices)
	if len(rets) != 2 {
		t.Fatalf("len(rets) = %d, want 2", len(rets))
	}
	if rets[0] < 0.0999 || rets[0] > 0.1001 {
		t.Errorf("rets[0] = %v, want ~0.1", rets[0])
	}
	if rets[1] >= 0 {
		t.Errorf("rets[1] = %v, want negative", rets[1])
	}
	if money.Returns([]decimal.Decimal{decimal.NewFromInt(1)}) != nil {
		t.Error("Returns with fewer than 2 prices should return nil")
	}
}

func TestMeanAndStdDev(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if mean := money.Mean(values); mean != 3 {
		t.Errorf("Mean = %v, want 3", mean)
	}
	if money.Mean(nil) != 0 {
		t.Error("Mean of empty slice should be 0")
	}
	if sd := money.StdDev(values); sd < 1.58 || sd > 1.58114 {
		t.Errorf("StdDev = %v, want ~1.5811", sd)
	}
	if money.StdDev([]float64{1}) != 0 {
		t.Error("StdDev of a single value should be 0")
	}
}

func TestWinRate(t *testing.T) {
	pnls := []decimal.Decimal{
		decimal.NewFromInt(10),
		decimal.NewFromInt(-5),
		decimal.NewFromInt(3),
		decimal.Zero,
	}
	got := money.WinRate(pnls)
	if got != 0.5 {
		t.Errorf("WinRate = %v, want 0.5", got)
	}
	if money.WinRate(nil) != 0 {
		t.Error("WinRate of empty slice should be 0")
	}
}

func TestEMA(t *testing.T) {
	ema := money.NewEMA(3)
	first := ema.Add(decimal.NewFromInt(10))
	if !first.Equal(decimal.NewFromInt(10)) {
		t.Errorf("first EMA value = %s, want 10 (seeds at first observation)", first)
	}
	second := ema.Add(decimal.NewFromInt(20))
	if !second.GreaterThan(first) {
		t.Errorf("second EMA value %s should move toward 20", second)
	}
	if !ema.Current().Equal(second) {
		t.Errorf("Current() = %s, want %s", ema.Current(), second)
	}
}

func TestGenerateIDPrefixes(t *testing.T) {
	cases := []struct {
		generate func() string
		prefix   string
	}{
		{money.GenerateConditionID, "cond_"},
		{money.GeneratePositionID, "pos_"},
		{money.GenerateTradeID, "trd_"},
		{money.GenerateAdaptationID, "adp_"},
		{money.GeneratePatternID, "pat_"},
		{money.GenerateRuleID, "rule_"},
	}
	for _, c := range cases {
		id := c.generate()
		if !strings.HasPrefix(id, c.prefix) {
			t.Errorf("id %q does not have prefix %q", id, c.prefix)
		}
	}
	if a, b := money.GenerateTradeID(), money.GenerateTradeID(); a == b {
		t.Errorf("GenerateTradeID produced a duplicate: %s", a)
	}
}
