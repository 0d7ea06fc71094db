// Package anthropic is a thin wrapper over anthropic-sdk-go exposing the
// single-turn completion shape the extraction stage needs. Callers hold the
// Client interface and never see SDK types.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client is the messages API surface used by the pipeline.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is one user turn plus the system prompt.
type Request struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	User        string
	Temperature *float64
}

// SystemBlock is a system prompt segment. A non-empty CacheTTL marks it as
// a prompt-cache breakpoint ("5m" or "1h").
type SystemBlock struct {
	Text     string
	CacheTTL string
}

// CachedSystem wraps a system prompt in a single 1-hour cache block. The
// prompt is identical for every chunk in a run, so all requests after the
// first read it from the warm cache.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheTTL: "1h"}}
}

// Response is the completion with text blocks already joined.
type Response struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      Usage
}

// Usage tracks token consumption for one completion.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

type rates struct{ in, out float64 }

// $/MTok for models the pipeline is allowed to run.
var pricing = map[string]rates{
	"claude-haiku-4-5-20251001":  {in: 0.80, out: 4.00},
	"claude-sonnet-4-5-20250929": {in: 3.00, out: 15.00},
}

// Cost estimates USD spend for the usage. Cache writes bill at 1.25x the
// input rate, cache reads at 0.1x. Unknown models cost 0.
func (u Usage) Cost(model string) float64 {
	r, ok := pricing[model]
	if !ok {
		return 0
	}
	const mtok = 1e6
	return float64(u.Input)/mtok*r.in +
		float64(u.Output)/mtok*r.out +
		float64(u.CacheWrite)/mtok*r.in*1.25 +
		float64(u.CacheRead)/mtok*r.in*0.1
}

// Log emits a cost attribution record for the given model and stage.
func (u Usage) Log(model, stage string) {
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Float64("estimated_cost_usd", u.Cost(model)),
	)
}

type messagesClient struct {
	api sdk.Client
}

// NewClient returns a Client backed by the official SDK.
func NewClient(apiKey string) Client {
	return &messagesClient{api: sdk.NewClient(option.WithAPIKey(apiKey))}
}

func (c *messagesClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		System:    systemParams(req.System),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.User)),
		},
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: complete")
	}
	return fromMessage(msg), nil
}

func systemParams(blocks []SystemBlock) []sdk.TextBlockParam {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{Text: b.Text}
		if b.CacheTTL != "" {
			cc := sdk.NewCacheControlEphemeralParam()
			cc.TTL = sdk.CacheControlEphemeralTTL(b.CacheTTL)
			out[i].CacheControl = cc
		}
	}
	return out
}

func fromMessage(msg *sdk.Message) *Response {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &Response{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			Input:      msg.Usage.InputTokens,
			Output:     msg.Usage.OutputTokens,
			CacheWrite: msg.Usage.CacheCreationInputTokens,
			CacheRead:  msg.Usage.CacheReadInputTokens,
		},
	}
}
