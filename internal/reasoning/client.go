// Package reasoning wraps the external reasoning service shared by the
// strategy proposer and the reflection engine. Malformed output always
// degrades to an empty result rather than an error. Propose also degrades to
// an empty result on timeout or transport failure, so the hot path never
// blocks on a flaky model; Reflect returns those failures as errors.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/atlas-desktop/paperengine/pkg/types"
	"go.uber.org/zap"
)

// Client calls a configured reasoning endpoint over HTTP and decodes its
// JSON-array responses into domain proposals or insights.
type Client struct {
	logger *zap.Logger
	cfg    types.ReasoningConfig
	http   *http.Client
}

// New builds a Client over its own zero-value http.Client, which sets no
// timeout; request deadlines come from the context of each call
// (ProposeTimeout/ReflectTimeout).
func New(logger *zap.Logger, cfg types.ReasoningConfig) *Client {
	return &Client{
		logger: logger.Named("reasoning"),
		cfg:    cfg,
		http:   &http.Client{},
	}
}

type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// Propose asks the reasoning service for new trade proposals given the
// current market snapshot and knowledge context. Any failure (timeout,
// transport error, malformed JSON) is logged and yields an empty slice.
func (c *Client) Propose(ctx context.Context, snapshot types.MarketState, knowledge types.KnowledgeContext) []types.RawProposal {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProposeTimeout)
	defer cancel()

	prompt := buildProposePrompt(snapshot, knowledge)
	content, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.Warn("propose call failed", zap.Error(err))
		return nil
	}

	var proposals []types.RawProposal
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(content)), &proposals); err != nil {
		c.logger.Warn("propose response unparseable", zap.Error(err), zap.String("content", truncate(content, 500)))
		return nil
	}
	return proposals
}

// ReflectionSummary is the structured input to a reflection call: per-coin,
// per-hour and per-pattern win-rate trends plus a knowledge snapshot.
type ReflectionSummary struct {
	ByCoin    map[string]types.CoinSummary
	ByHour    map[int]float64
	ByPattern map[string]float64
	Knowledge types.KnowledgeContext
	Window    time.Duration
}

// Reflect asks the reasoning service for insights derived from recent trade
// history. Unlike Propose, a failure here IS surfaced as an error: per spec
// §4.6, a reasoning-service failure during reflection means the drained
// batch gets requeued rather than silently treated as zero insights found.
func (c *Client) Reflect(ctx context.Context, summary ReflectionSummary) ([]types.Insight, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReflectTimeout)
	defer cancel()

	prompt := buildReflectPrompt(summary)
	content, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("reflect call failed: %w", err)
	}

	var insights []types.Insight
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(content)), &insights); err != nil {
		c.logger.Warn("reflect response unparseable, treating as no insights", zap.Error(err), zap.String("content", truncate(content, 500)))
		return nil, nil
	}
	return insights, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{Model: c.cfg.Model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Content, nil
}

var codeBlockPattern = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// stripMarkdownCodeBlock removes a wrapping ```json ... ``` fence when the
// model echoes one, leaving bare responses untouched.
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if m := codeBlockPattern.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return response
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
