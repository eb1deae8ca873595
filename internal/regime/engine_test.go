package regime_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/paperengine/internal/regime"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeRuleStore struct {
	active map[string]bool
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{active: make(map[string]bool)}
}

func (f *fakeRuleStore) SetRuleActive(ruleID, description string, action types.RegimeAction, sizeFactor decimal.Decimal, active bool) error {
	f.active[ruleID] = active
	return nil
}

func TestEngineOnPriceIgnoresSecondCoin(t *testing.T) {
	cfg := regime.DefaultConfig()
	cfg.WindowSize = 10
	cfg.MinRegimeDuration = 0
	cfg.ConfidenceMin = 0
	store := newFakeRuleStore()
	eng := regime.NewEngine(zap.NewNop(), cfg, store)

	now := time.Now()
	price := decimal.NewFromInt(100)
	for i := 0; i < 20; i++ {
		price = price.Mul(decimal.NewFromFloat(1.01))
		eng.OnPrice("BTC-USD", price, now)
	}
	// A different coin's ticks must not perturb the market-wide series.
	eng.OnPrice("ETH-USD", decimal.NewFromInt(1), now)

	state := eng.Current()
	if state.Primary != regime.TypeBull {
		t.Errorf("Primary = %s, want bull after a steady rally on the tracked coin", state.Primary)
	}
}

func TestEngineSyncActivatesMatchingBuiltinRule(t *testing.T) {
	cfg := regime.DefaultConfig()
	cfg.WindowSize = 10
	cfg.MinRegimeDuration = 0
	cfg.ConfidenceMin = 0
	store := newFakeRuleStore()
	eng := regime.NewEngine(zap.NewNop(), cfg, store)

	now := time.Now()
	price := decimal.NewFromInt(100)
	for i := 0; i < 20; i++ {
		price = price.Mul(decimal.NewFromFloat(1.01))
		eng.OnPrice("BTC-USD", price, now)
	}

	eng.Sync()

	if !store.active["regime_bull_favor"] {
		t.Error("regime_bull_favor should be active after a sustained rally")
	}
	if store.active["regime_bear_skip"] {
		t.Error("regime_bear_skip should not be active during a rally")
	}
}

func TestEngineSyncDeactivatesOnceRegimeEnds(t *testing.T) {
	cfg := regime.DefaultConfig()
	cfg.WindowSize = 10
	cfg.MinRegimeDuration = 0
	cfg.ConfidenceMin = 0
	store := newFakeRuleStore()
	eng := regime.NewEngine(zap.NewNop(), cfg, store)

	now := time.Now()
	price := decimal.NewFromInt(100)
	for i := 0; i < 20; i++ {
		price = price.Mul(decimal.NewFromFloat(1.01))
		eng.OnPrice("BTC-USD", price, now)
	}
	eng.Sync()
	if !store.active["regime_bull_favor"] {
		t.Fatal("expected regime_bull_favor active after rally, precondition failed")
	}

	for i := 0; i < 20; i++ {
		price = price.Mul(decimal.NewFromFloat(0.99))
		eng.OnPrice("BTC-USD", price, now)
	}
	eng.Sync()

	if store.active["regime_bull_favor"] {
		t.Error("regime_bull_favor should deactivate once the rally reverses")
	}
}
