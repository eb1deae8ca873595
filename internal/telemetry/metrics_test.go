package telemetry_test

import (
	"testing"

	"github.com/atlas-desktop/paperengine/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)

	m.QueueDepth.WithLabelValues("reflection").Set(5)
	m.QueueDrops.WithLabelValues("reflection").Inc()
	m.HandlerLatency.WithLabelValues("executor").Observe(0.01)
	m.TradesRecorded.Inc()
	m.AdaptationsSeen.WithLabelValues("BLACKLIST").Inc()
	m.OpenPositions.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 6 {
		t.Errorf("len(families) = %d, want 6 registered collectors", len(families))
	}
}

func TestNewMetricsPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	telemetry.NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering the same collectors twice against one registry should panic")
		}
	}()
	telemetry.NewMetrics(reg)
}
