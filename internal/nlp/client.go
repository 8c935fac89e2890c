// Package nlp talks to the external entity recogniser. The recogniser is a
// collaborator, not part of this module: it is consumed strictly through
// its per-block HTTP contract, and every failure is soft: a block that
// cannot be analysed keeps its rule-only detections.
package nlp

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/docmask/docmask/internal/blocks"
	"github.com/docmask/docmask/internal/detect"
)

// DefaultMethod tags NLP detections whose method field arrived empty.
const DefaultMethod = "nlp"

// Config configures the recogniser client.
type Config struct {
	Endpoint    string
	Timeout     time.Duration
	Concurrency int
	RateLimit   float64 // requests per second, 0 = unlimited
}

// BlockPayload is one submitted block.
type BlockPayload struct {
	Content   string `json:"content"`
	BlockID   string `json:"block_id"`
	BlockType string `json:"block_type"`
}

// AnalyzeRequest is the recogniser request body.
type AnalyzeRequest struct {
	Blocks  []BlockPayload         `json:"blocks"`
	Options map[string]interface{} `json:"options"`
}

// PositionPayload is a zero-based half-open interval over the submitted content.
type PositionPayload struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// DetectionPayload is one entity in the recogniser response.
type DetectionPayload struct {
	Category   string          `json:"category"`
	Value      string          `json:"original_value"`
	Confidence float64         `json:"confidence"`
	Position   PositionPayload `json:"position"`
	Method     string          `json:"method"`
	BlockID    string          `json:"block_id"`
}

// AnalyzeResponse is the recogniser response body.
type AnalyzeResponse struct {
	Success         bool               `json:"success"`
	Detections      []DetectionPayload `json:"detections"`
	TotalDetections int                `json:"total_detections"`
	BlocksProcessed int                `json:"blocks_processed"`
}

// Client submits one block per request and validates what comes back.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	cache    *DetectionCache
	endpoint string
	logger   *zap.Logger
}

// NewClient creates a recogniser client. cache may be nil.
func NewClient(cfg Config, cache *DetectionCache, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		http:     httpClient,
		limiter:  limiter,
		cache:    cache,
		endpoint: cfg.Endpoint,
		logger:   logger,
	}
}

// Endpoint returns the configured recogniser URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// AnalyzeBlock submits one block and returns its validated detections.
func (c *Client) AnalyzeBlock(ctx context.Context, block *blocks.Block) ([]detect.Detection, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, block.Text); ok {
			for i := range cached {
				cached[i].BlockID = block.ID
			}
			return cached, nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req := AnalyzeRequest{
		Blocks: []BlockPayload{{
			Content:   block.Text,
			BlockID:   block.ID,
			BlockType: string(block.Kind),
		}},
		Options: map[string]interface{}{},
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&AnalyzeResponse{}).
		Post("/analyze")
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("analyze request: status %s", resp.Status())
	}

	result, ok := resp.Result().(*AnalyzeResponse)
	if !ok || result == nil {
		return nil, fmt.Errorf("analyze request: malformed response body")
	}
	if !result.Success {
		return nil, fmt.Errorf("analyze request: recogniser reported failure")
	}

	detections := c.convert(block, result.Detections)

	if c.cache != nil {
		if err := c.cache.Store(ctx, block.Text, detections); err != nil {
			c.logger.Debug("detection cache store failed", zap.Error(err))
		}
	}
	return detections, nil
}

// convert validates payload records against the submitted text. Spans out
// of range and values that disagree with their span are dropped: the merge
// invariant requires value == text[start:end].
func (c *Client) convert(block *blocks.Block, payloads []DetectionPayload) []detect.Detection {
	runes := []rune(block.Text)

	var out []detect.Detection
	for _, p := range payloads {
		if p.Position.Start < 0 || p.Position.End > len(runes) || p.Position.Start >= p.Position.End {
			c.logger.Warn("dropping entity with out-of-range span",
				zap.String("block_id", block.ID),
				zap.Int("start", p.Position.Start),
				zap.Int("end", p.Position.End))
			continue
		}

		spanned := string(runes[p.Position.Start:p.Position.End])
		value := p.Value
		if value == "" {
			value = spanned
		}
		if value != spanned {
			c.logger.Warn("dropping entity whose value disagrees with its span",
				zap.String("block_id", block.ID),
				zap.String("category", p.Category))
			continue
		}

		method := p.Method
		if method == "" {
			method = DefaultMethod
		}

		out = append(out, detect.Detection{
			BlockID:    block.ID,
			Category:   p.Category,
			Value:      value,
			Span:       detect.Span{Start: p.Position.Start, End: p.Position.End},
			Confidence: p.Confidence,
			Source:     detect.SourceNLP,
			Method:     method,
		})
	}
	return out
}
