// Package regime classifies market-wide conditions from the price-return
// stream and turns a classification into RegimeRule triggers feeding the
// proposer's regime_modifier and admission gating (spec.md §3 "RegimeRule").
package regime

import (
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/paperengine/pkg/money"
	"go.uber.org/zap"
)

// Type is a market regime label.
type Type string

const (
	TypeBull          Type = "bull"
	TypeBear          Type = "bear"
	TypeHighVol       Type = "high_vol"
	TypeLowVol        Type = "low_vol"
	TypeMeanReverting Type = "mean_reverting"
	TypeUnknown       Type = "unknown"
)

// State is the classifier's current read of the market.
type State struct {
	Primary       Type
	Confidence    float64
	Duration      time.Duration
	StartedAt     time.Time
	Volatility    float64
	Trend         float64
	MeanReversion float64
	Probabilities map[Type]float64
}

// Config tunes the classifier's windows and thresholds.
type Config struct {
	WindowSize        int
	MinRegimeDuration time.Duration
	VolatilityWindow  int
	NumStates         int
	VolThreshold      float64
	TrendThreshold    float64
	MRThreshold       float64
	ConfidenceMin     float64
}

// DefaultConfig matches the magnitudes the teacher's own regime detector used.
func DefaultConfig() Config {
	return Config{
		WindowSize:        100,
		MinRegimeDuration: time.Hour,
		VolatilityWindow:  20,
		NumStates:         4, // bull, bear, high_vol, low_vol
		VolThreshold:      0.25,
		TrendThreshold:    0.3,
		MRThreshold:       -0.1,
		ConfidenceMin:     0.6,
	}
}

// Classifier tracks a rolling return series and classifies the current
// regime via a lightweight HMM (forward algorithm only; parameters are
// smoothed online rather than fit with full Baum-Welch).
type Classifier struct {
	logger *zap.Logger
	cfg    Config

	mu      sync.RWMutex
	current *State

	transition [][]float64
	emitMean   []float64
	emitVar    []float64

	returns []float64
}

// NewClassifier builds a Classifier with an initial uniform-transition HMM.
func NewClassifier(logger *zap.Logger, cfg Config) *Classifier {
	c := &Classifier{
		logger:  logger.Named("regime"),
		cfg:     cfg,
		returns: make([]float64, 0, cfg.WindowSize*2),
	}
	c.initHMM()
	return c
}

func (c *Classifier) initHMM() {
	n := c.cfg.NumStates
	c.transition = make([][]float64, n)
	for i := 0; i < n; i++ {
		c.transition[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				c.transition[i][j] = 0.9
			} else {
				c.transition[i][j] = 0.1 / float64(n-1)
			}
		}
	}
	c.emitMean = []float64{0.001, -0.001, 0.0, 0.0}
	c.emitVar = []float64{0.0001, 0.0001, 0.0004, 0.00005}
}

// AddReturn feeds a single period return and recomputes the current state.
func (c *Classifier) AddReturn(ret float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.returns = append(c.returns, ret)
	if len(c.returns) > c.cfg.WindowSize*2 {
		c.returns = c.returns[len(c.returns)-c.cfg.WindowSize:]
	}
	if len(c.returns) < c.cfg.WindowSize {
		return
	}

	window := c.returns[len(c.returns)-c.cfg.WindowSize:]
	trend := c.trend(window)
	vol := money.StdDev(window) * math.Sqrt(252)
	mr := c.meanReversion(window)
	probs := c.stateProbabilities(window)

	primary, confidence := c.classify(trend, vol, mr, probs)

	state := &State{
		Primary:       primary,
		Confidence:    confidence,
		Volatility:    vol,
		Trend:         trend,
		MeanReversion: mr,
		Probabilities: probs,
		StartedAt:     time.Now(),
	}
	if c.current != nil && c.current.Primary == primary {
		state.StartedAt = c.current.StartedAt
		state.Duration = time.Since(c.current.StartedAt)
	}
	c.current = state

	c.updateEmissions(window)
}

func (c *Classifier) trend(window []float64) float64 {
	sum := 0.0
	for _, r := range window {
		sum += r
	}
	sd := money.StdDev(window)
	if sd == 0 {
		return 0
	}
	t := sum / (sd * math.Sqrt(float64(len(window))))
	if t > 1 {
		return 1
	}
	if t < -1 {
		return -1
	}
	return t
}

func (c *Classifier) meanReversion(window []float64) float64 {
	n := len(window)
	if n < 3 {
		return 0
	}
	mean := money.Mean(window)
	var autocov, variance float64
	for i := 1; i < n; i++ {
		autocov += (window[i] - mean) * (window[i-1] - mean)
		variance += (window[i] - mean) * (window[i] - mean)
	}
	if variance == 0 {
		return 0
	}
	return autocov / variance
}

func (c *Classifier) stateProbabilities(window []float64) map[Type]float64 {
	n := c.cfg.NumStates
	alpha := make([]float64, n)
	for i := range alpha {
		alpha[i] = 1.0 / float64(n)
	}
	for _, ret := range window {
		next := make([]float64, n)
		for j := 0; j < n; j++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += alpha[i] * c.transition[i][j]
			}
			next[j] = sum * gaussianPDF(ret, c.emitMean[j], c.emitVar[j])
		}
		total := 0.0
		for _, a := range next {
			total += a
		}
		if total > 0 {
			for j := range next {
				next[j] /= total
			}
		}
		alpha = next
	}

	types := []Type{TypeBull, TypeBear, TypeHighVol, TypeLowVol}
	probs := make(map[Type]float64, len(types))
	for i, t := range types {
		if i < len(alpha) {
			probs[t] = alpha[i]
		}
	}
	return probs
}

func gaussianPDF(x, mean, variance float64) float64 {
	if variance <= 0 {
		variance = 0.0001
	}
	diff := x - mean
	return math.Exp(-0.5*diff*diff/variance) / math.Sqrt(2*math.Pi*variance)
}

func (c *Classifier) classify(trend, vol, mr float64, probs map[Type]float64) (Type, float64) {
	maxProb, maxType := 0.0, TypeUnknown
	for t, p := range probs {
		if p > maxProb {
			maxProb, maxType = p, t
		}
	}

	if vol > c.cfg.VolThreshold && maxProb < 0.7 {
		maxType, maxProb = TypeHighVol, 0.5+vol/2
	} else if vol < c.cfg.VolThreshold/2 && maxProb < 0.7 {
		maxType, maxProb = TypeLowVol, 0.5+(c.cfg.VolThreshold-vol)/c.cfg.VolThreshold
	}

	if math.Abs(trend) > c.cfg.TrendThreshold && maxType != TypeHighVol {
		if trend > 0 {
			maxType, maxProb = TypeBull, 0.5+trend/2
		} else {
			maxType, maxProb = TypeBear, 0.5+math.Abs(trend)/2
		}
	}

	if mr < c.cfg.MRThreshold && maxProb < 0.6 {
		maxType, maxProb = TypeMeanReverting, 0.5+math.Abs(mr)
	}

	if maxProb > 1 {
		maxProb = 1
	}
	return maxType, maxProb
}

// updateEmissions nudges emission parameters toward the window's observed
// returns, a simplified (non-Baum-Welch) online analogue of the teacher's
// exponential-smoothing update.
func (c *Classifier) updateEmissions(window []float64) {
	groups := make([][]float64, c.cfg.NumStates)
	for _, ret := range window {
		var state int
		switch {
		case math.Abs(ret) > 0.02:
			state = 2
		case ret > 0.01:
			state = 0
		case ret < -0.01:
			state = 1
		default:
			state = 3
		}
		if state < c.cfg.NumStates {
			groups[state] = append(groups[state], ret)
		}
	}
	const alpha = 0.1
	for i, g := range groups {
		if len(g) <= 10 {
			continue
		}
		mean := money.Mean(g)
		variance := money.StdDev(g) * money.StdDev(g)
		c.emitMean[i] = (1-alpha)*c.emitMean[i] + alpha*mean
		c.emitVar[i] = (1-alpha)*c.emitVar[i] + alpha*variance
	}
}

// Current returns the classifier's most recent state, TypeUnknown if not
// enough data has been seen yet.
func (c *Classifier) Current() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return State{Primary: TypeUnknown}
	}
	s := *c.current
	s.Duration = time.Since(s.StartedAt)
	return s
}

// Stable reports whether the current regime has held for at least
// MinRegimeDuration at or above ConfidenceMin, the bar for acting on it.
func (c *Classifier) Stable() bool {
	s := c.Current()
	return s.Primary != TypeUnknown && s.Confidence >= c.cfg.ConfidenceMin && s.Duration >= c.cfg.MinRegimeDuration
}
