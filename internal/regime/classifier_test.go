package regime_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/paperengine/internal/regime"
	"go.uber.org/zap"
)

func TestCurrentUnknownBeforeWindowFills(t *testing.T) {
	c := regime.NewClassifier(zap.NewNop(), regime.DefaultConfig())
	state := c.Current()
	if state.Primary != regime.TypeUnknown {
		t.Errorf("Primary = %s, want unknown before any returns are fed", state.Primary)
	}
	if c.Stable() {
		t.Error("Stable() = true before any returns are fed")
	}
}

func TestAddReturnClassifiesTrendingMarket(t *testing.T) {
	cfg := regime.DefaultConfig()
	cfg.WindowSize = 30
	c := regime.NewClassifier(zap.NewNop(), cfg)

	for i := 0; i < 40; i++ {
		c.AddReturn(0.01)
	}

	state := c.Current()
	if state.Primary != regime.TypeBull {
		t.Errorf("Primary = %s, want bull for a steady positive-return series", state.Primary)
	}
	if state.Trend <= 0 {
		t.Errorf("Trend = %v, want positive", state.Trend)
	}
}

func TestAddReturnClassifiesBearMarket(t *testing.T) {
	cfg := regime.DefaultConfig()
	cfg.WindowSize = 30
	c := regime.NewClassifier(zap.NewNop(), cfg)

	for i := 0; i < 40; i++ {
		c.AddReturn(-0.01)
	}

	state := c.Current()
	if state.Primary != regime.TypeBear {
		t.Errorf("Primary = %s, want bear for a steady negative-return series", state.Primary)
	}
}

func TestStableRequiresConfidenceAndDuration(t *testing.T) {
	cfg := regime.DefaultConfig()
	cfg.WindowSize = 30
	cfg.MinRegimeDuration = 24 * time.Hour
	c := regime.NewClassifier(zap.NewNop(), cfg)

	for i := 0; i < 40; i++ {
		c.AddReturn(0.01)
	}

	if c.Stable() {
		t.Error("Stable() = true immediately after the regime started, want false until MinRegimeDuration elapses")
	}
}

func TestStableTrueWithZeroMinDuration(t *testing.T) {
	cfg := regime.DefaultConfig()
	cfg.WindowSize = 30
	cfg.MinRegimeDuration = 0
	cfg.ConfidenceMin = 0
	c := regime.NewClassifier(zap.NewNop(), cfg)

	for i := 0; i < 40; i++ {
		c.AddReturn(0.01)
	}

	if !c.Stable() {
		t.Error("Stable() = false, want true once a regime is classified with zero duration/confidence bars")
	}
}
