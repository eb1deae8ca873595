// Package config loads the engine's configuration surface (spec §6) from a
// YAML file with environment-variable overrides, via viper — present but
// unused in the teacher's go.mod, wired here for real.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/atlas-desktop/paperengine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment-variable prefix for overrides, e.g.
// PAPERENGINE_BASE_SIZE_USD overrides base_size_usd.
const EnvPrefix = "PAPERENGINE"

// Load reads configuration from path (if non-empty and present) layered
// under spec.md §6's defaults, then applies PAPERENGINE_-prefixed
// environment overrides.
func Load(path string) (types.EngineConfig, error) {
	v := viper.New()
	setDefaults(v, types.DefaultEngineConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return types.EngineConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

func setDefaults(v *viper.Viper, d types.EngineConfig) {
	v.SetDefault("universe", d.Universe)
	v.SetDefault("base_size_usd", d.BaseSizeUSD.String())
	v.SetDefault("min_size_usd", d.MinSizeUSD.String())
	v.SetDefault("max_size_usd", d.MaxSizeUSD.String())
	v.SetDefault("max_concurrent_positions", d.MaxConcurrentPositions)
	v.SetDefault("condition_ttl_seconds", int(d.ConditionTTL.Seconds()))
	v.SetDefault("reflect_interval_seconds", int(d.ReflectInterval.Seconds()))
	v.SetDefault("reflect_max_queue", d.ReflectMaxQueue)
	v.SetDefault("measure_window_hours", d.MeasureWindow.Hours())
	v.SetDefault("measure_post_trades", d.MeasurePostTrades)
	v.SetDefault("stale_price_threshold_seconds", int(d.StalePriceThreshold.Seconds()))

	v.SetDefault("thresholds.blacklist_wr", d.Thresholds.BlacklistWinRate)
	v.SetDefault("thresholds.reduce_wr", d.Thresholds.ReduceWinRate)
	v.SetDefault("thresholds.favor_wr", d.Thresholds.FavorWinRate)
	v.SetDefault("thresholds.min_trades_adaptation", d.Thresholds.MinTradesForAdaptation)
	v.SetDefault("thresholds.deactivate_pattern_conf", d.Thresholds.DeactivatePatternConf)
	v.SetDefault("thresholds.max_entry_drift", d.Thresholds.MaxEntryDrift)
	v.SetDefault("thresholds.insight_min_confidence", d.Thresholds.InsightMinConfidence)
	v.SetDefault("thresholds.min_trades_to_reflect", d.Thresholds.MinTradesToReflect)

	v.SetDefault("reasoning.endpoint", d.Reasoning.Endpoint)
	v.SetDefault("reasoning.model", d.Reasoning.Model)
	v.SetDefault("reasoning.propose_timeout_seconds", int(d.Reasoning.ProposeTimeout.Seconds()))
	v.SetDefault("reasoning.reflect_timeout_seconds", int(d.Reasoning.ReflectTimeout.Seconds()))

	v.SetDefault("server.metrics_host", d.Server.MetricsHost)
	v.SetDefault("server.metrics_port", d.Server.MetricsPort)
}

func decode(v *viper.Viper) (types.EngineConfig, error) {
	baseSize, err := decimal.NewFromString(v.GetString("base_size_usd"))
	if err != nil {
		return types.EngineConfig{}, fmt.Errorf("base_size_usd: %w", err)
	}
	minSize, err := decimal.NewFromString(v.GetString("min_size_usd"))
	if err != nil {
		return types.EngineConfig{}, fmt.Errorf("min_size_usd: %w", err)
	}
	maxSize, err := decimal.NewFromString(v.GetString("max_size_usd"))
	if err != nil {
		return types.EngineConfig{}, fmt.Errorf("max_size_usd: %w", err)
	}

	cfg := types.EngineConfig{
		Universe:               v.GetStringSlice("universe"),
		BaseSizeUSD:             baseSize,
		MinSizeUSD:              minSize,
		MaxSizeUSD:              maxSize,
		MaxConcurrentPositions:  v.GetInt("max_concurrent_positions"),
		ConditionTTL:            time.Duration(v.GetInt("condition_ttl_seconds")) * time.Second,
		ReflectInterval:         time.Duration(v.GetInt("reflect_interval_seconds")) * time.Second,
		ReflectMaxQueue:         v.GetInt("reflect_max_queue"),
		MeasureWindow:           time.Duration(v.GetFloat64("measure_window_hours") * float64(time.Hour)),
		MeasurePostTrades:       v.GetInt("measure_post_trades"),
		StalePriceThreshold:     time.Duration(v.GetInt("stale_price_threshold_seconds")) * time.Second,
		Thresholds: types.ScoreThresholds{
			BlacklistWinRate:       v.GetFloat64("thresholds.blacklist_wr"),
			ReduceWinRate:          v.GetFloat64("thresholds.reduce_wr"),
			FavorWinRate:           v.GetFloat64("thresholds.favor_wr"),
			MinTradesForAdaptation: v.GetInt("thresholds.min_trades_adaptation"),
			DeactivatePatternConf:  v.GetFloat64("thresholds.deactivate_pattern_conf"),
			MaxEntryDrift:          v.GetFloat64("thresholds.max_entry_drift"),
			InsightMinConfidence:   v.GetFloat64("thresholds.insight_min_confidence"),
			MinTradesToReflect:     v.GetInt("thresholds.min_trades_to_reflect"),
		},
		Reasoning: types.ReasoningConfig{
			Endpoint:       v.GetString("reasoning.endpoint"),
			Model:          v.GetString("reasoning.model"),
			ProposeTimeout: time.Duration(v.GetInt("reasoning.propose_timeout_seconds")) * time.Second,
			ReflectTimeout: time.Duration(v.GetInt("reasoning.reflect_timeout_seconds")) * time.Second,
		},
		Server: types.ServerConfig{
			MetricsHost: v.GetString("server.metrics_host"),
			MetricsPort: v.GetInt("server.metrics_port"),
		},
	}
	return cfg, nil
}
