package telemetry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/atlas-desktop/paperengine/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestHealthzReturnsOKWhenHealthy(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := telemetry.NewServer(zap.NewNop(), "127.0.0.1", 18081, reg, func() bool { return true })
	go srv.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	}()
	waitForServer(t, "http://127.0.0.1:18081/healthz")

	resp, err := http.Get("http://127.0.0.1:18081/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHealthzReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := telemetry.NewServer(zap.NewNop(), "127.0.0.1", 18082, reg, func() bool { return false })
	go srv.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	}()
	waitForServer(t, "http://127.0.0.1:18082/healthz")

	resp, err := http.Get("http://127.0.0.1:18082/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	m.TradesRecorded.Inc()
	srv := telemetry.NewServer(zap.NewNop(), "127.0.0.1", 18083, reg, func() bool { return true })
	go srv.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	}()
	waitForServer(t, "http://127.0.0.1:18083/metrics")

	resp, err := http.Get("http://127.0.0.1:18083/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func waitForServer(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err := http.Get(url); err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never became reachable", url)
}
