package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EngineConfig is the complete configuration surface of §6: sizing, timing,
// thresholds, and the ambient server settings. Loaded by internal/config.
type EngineConfig struct {
	Universe []string `json:"universe"`

	BaseSizeUSD decimal.Decimal `json:"base_size_usd"`
	MinSizeUSD  decimal.Decimal `json:"min_size_usd"`
	MaxSizeUSD  decimal.Decimal `json:"max_size_usd"`

	MaxConcurrentPositions int `json:"max_concurrent_positions"`

	ConditionTTL       time.Duration `json:"condition_ttl_seconds"`
	ReflectInterval    time.Duration `json:"reflect_interval_seconds"`
	ReflectMaxQueue    int           `json:"reflect_max_queue"`
	MeasureWindow      time.Duration `json:"measure_window_hours"`
	MeasurePostTrades  int           `json:"measure_post_trades"`
	StalePriceThreshold time.Duration `json:"stale_price_threshold_seconds"`

	Thresholds ScoreThresholds `json:"thresholds"`

	Reasoning ReasoningConfig `json:"reasoning"`
	Server    ServerConfig    `json:"server"`
}

// ScoreThresholds are the win-rate boundaries driving status derivation
// (§4.5 step 2) and pattern deactivation (§4.5 step 4).
type ScoreThresholds struct {
	BlacklistWinRate       float64 `json:"blacklist_wr"`
	ReduceWinRate          float64 `json:"reduce_wr"`
	FavorWinRate           float64 `json:"favor_wr"`
	MinTradesForAdaptation int     `json:"min_trades_adaptation"`
	DeactivatePatternConf  float64 `json:"deactivate_pattern_conf"`
	MaxEntryDrift          float64 `json:"max_entry_drift"`
	InsightMinConfidence   float64 `json:"insight_min_confidence"`
	MinTradesToReflect     int     `json:"min_trades_to_reflect"`
}

// DefaultScoreThresholds returns spec.md §6's stated defaults.
func DefaultScoreThresholds() ScoreThresholds {
	return ScoreThresholds{
		BlacklistWinRate:       0.30,
		ReduceWinRate:          0.45,
		FavorWinRate:           0.60,
		MinTradesForAdaptation: 5,
		DeactivatePatternConf:  0.20,
		MaxEntryDrift:          0.02,
		InsightMinConfidence:   0.4,
		MinTradesToReflect:     5,
	}
}

// ReasoningConfig configures the outbound reasoning-service client (§6).
type ReasoningConfig struct {
	Endpoint       string        `json:"endpoint"`
	Model          string        `json:"model"`
	ProposeTimeout time.Duration `json:"propose_timeout"`
	ReflectTimeout time.Duration `json:"reflect_timeout"`
}

// ServerConfig is the ambient healthz/metrics HTTP surface (not the excluded
// consumer-facing trading API).
type ServerConfig struct {
	MetricsHost string `json:"metrics_host"`
	MetricsPort int    `json:"metrics_port"`
}

// DefaultEngineConfig returns the spec's stated defaults (§6), to be
// overridden by file + environment configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BaseSizeUSD:            decimal.NewFromInt(100),
		MinSizeUSD:             decimal.NewFromInt(10),
		MaxSizeUSD:             decimal.NewFromInt(200),
		MaxConcurrentPositions: 5,
		ConditionTTL:           900 * time.Second,
		ReflectInterval:        3600 * time.Second,
		ReflectMaxQueue:        50,
		MeasureWindow:          24 * time.Hour,
		MeasurePostTrades:      10,
		StalePriceThreshold:    10 * time.Second,
		Thresholds:             DefaultScoreThresholds(),
		Reasoning: ReasoningConfig{
			ProposeTimeout: 30 * time.Second,
			ReflectTimeout: 120 * time.Second,
		},
		Server: ServerConfig{
			MetricsHost: "0.0.0.0",
			MetricsPort: 9090,
		},
	}
}
