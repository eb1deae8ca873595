package reasoning_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlas-desktop/paperengine/internal/reasoning"
	"github.com/atlas-desktop/paperengine/pkg/types"
	"go.uber.org/zap"
)

func testConfig(endpoint string) types.ReasoningConfig {
	return types.ReasoningConfig{
		Endpoint:       endpoint,
		Model:          "test-model",
		ProposeTimeout: time.Second,
		ReflectTimeout: time.Second,
	}
}

func TestProposeParsesProposalArray(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"content": `[{"coin":"BTC-USD","direction":"LONG","entry_price":"100","stop_loss":"90","take_profit":"120"}]`,
		})
	}))
	defer ts.Close()

	client := reasoning.New(zap.NewNop(), testConfig(ts.URL))
	proposals := client.Propose(context.Background(), types.MarketState{}, types.KnowledgeContext{})
	if len(proposals) != 1 {
		t.Fatalf("len(proposals) = %d, want 1", len(proposals))
	}
	if proposals[0].Coin != "BTC-USD" {
		t.Errorf("Coin = %s, want BTC-USD", proposals[0].Coin)
	}
}

func TestProposeStripsMarkdownCodeFence(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"content": "```json\n[{\"coin\":\"ETH-USD\",\"direction\":\"SHORT\",\"entry_price\":\"10\",\"stop_loss\":\"11\",\"take_profit\":\"8\"}]\n```",
		})
	}))
	defer ts.Close()

	client := reasoning.New(zap.NewNop(), testConfig(ts.URL))
	proposals := client.Propose(context.Background(), types.MarketState{}, types.KnowledgeContext{})
	if len(proposals) != 1 || proposals[0].Coin != "ETH-USD" {
		t.Fatalf("proposals = %+v, want one ETH-USD proposal", proposals)
	}
}

func TestProposeReturnsNilOnMalformedJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"content": "not json"})
	}))
	defer ts.Close()

	client := reasoning.New(zap.NewNop(), testConfig(ts.URL))
	proposals := client.Propose(context.Background(), types.MarketState{}, types.KnowledgeContext{})
	if proposals != nil {
		t.Errorf("proposals = %+v, want nil on malformed content", proposals)
	}
}

func TestProposeReturnsNilOnServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := reasoning.New(zap.NewNop(), testConfig(ts.URL))
	proposals := client.Propose(context.Background(), types.MarketState{}, types.KnowledgeContext{})
	if proposals != nil {
		t.Errorf("proposals = %+v, want nil on a non-200 response", proposals)
	}
}

func TestProposeReturnsNilOnTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]string{"content": "[]"})
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.ProposeTimeout = time.Millisecond
	client := reasoning.New(zap.NewNop(), cfg)

	proposals := client.Propose(context.Background(), types.MarketState{}, types.KnowledgeContext{})
	if proposals != nil {
		t.Errorf("proposals = %+v, want nil when the call exceeds ProposeTimeout", proposals)
	}
}

func TestReflectParsesInsightArray(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"content": `[{"category":"PATTERN","target":"pat_1","evidence":"5 losses","suggested_action":"DEACTIVATE_PATTERN","confidence":0.9}]`,
		})
	}))
	defer ts.Close()

	client := reasoning.New(zap.NewNop(), testConfig(ts.URL))
	insights, err := client.Reflect(context.Background(), reasoning.ReflectionSummary{})
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if len(insights) != 1 || insights[0].Target != "pat_1" {
		t.Fatalf("insights = %+v, want one insight targeting pat_1", insights)
	}
}

func TestReflectReturnsErrorOnTransportFailure(t *testing.T) {
	client := reasoning.New(zap.NewNop(), testConfig("http://127.0.0.1:0"))
	_, err := client.Reflect(context.Background(), reasoning.ReflectionSummary{})
	if err == nil {
		t.Error("Reflect should surface an error when the transport call fails, unlike Propose")
	}
}

func TestReflectReturnsNilInsightsOnMalformedJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"content": "not json"})
	}))
	defer ts.Close()

	client := reasoning.New(zap.NewNop(), testConfig(ts.URL))
	insights, err := client.Reflect(context.Background(), reasoning.ReflectionSummary{})
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if insights != nil {
		t.Errorf("insights = %+v, want nil on malformed content", insights)
	}
}
