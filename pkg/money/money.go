// Package money provides fixed-scale decimal helpers shared across components.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the internal decimal precision used for all persisted prices and
// sizes (spec numeric policy: 8 decimal places).
const Scale = 8

// Round rounds a decimal to the internal storage scale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Clamp bounds value to [min, max].
func Clamp(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}

// Min returns the lesser of two decimals.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the greater of two decimals.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// PercentChange returns (new-old)/old, zero if old is zero.
func PercentChange(old, new decimal.Decimal) decimal.Decimal {
	if old.IsZero() {
		return decimal.Zero
	}
	return new.Sub(old).Div(old)
}

// Returns computes simple period returns from a price series.
func Returns(prices []decimal.Decimal) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1].IsZero() {
			out[i-1] = 0
			continue
		}
		out[i-1], _ = prices[i].Sub(prices[i-1]).Div(prices[i-1]).Float64()
	}
	return out
}

// Mean returns the arithmetic mean of a float series.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation of a float series.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// WinRate returns the fraction of positive values in pnls.
func WinRate(pnls []decimal.Decimal) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, pnl := range pnls {
		if pnl.GreaterThan(decimal.Zero) {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}

// EMA is a streaming exponential moving average.
type EMA struct {
	multiplier decimal.Decimal
	current    decimal.Decimal
	count      int
}

// NewEMA creates an EMA over the given period.
func NewEMA(period int) *EMA {
	return &EMA{multiplier: decimal.NewFromFloat(2.0 / float64(period+1))}
}

// Add feeds a value and returns the updated EMA.
func (e *EMA) Add(value decimal.Decimal) decimal.Decimal {
	e.count++
	if e.count == 1 {
		e.current = value
		return e.current
	}
	e.current = value.Sub(e.current).Mul(e.multiplier).Add(e.current)
	return e.current
}

// Current returns the last computed EMA value.
func (e *EMA) Current() decimal.Decimal {
	return e.current
}
