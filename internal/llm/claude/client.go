// Package claude phrases incident text with the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/faultline/internal/incident"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

const defaultMaxTokens = 1024

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("claude: empty response")

// Client implements incident.Narrator.
type Client struct {
	api       anthropic.Client
	model     string
	maxTokens int64
	logger    log.Logger
}

var _ incident.Narrator = (*Client)(nil)

// New creates a Claude narrator. Extra request options are passed to the SDK
// client, which is how tests point it at a local server.
func New(apiKey, model string, logger log.Logger, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = log.Nop()
	}
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(120 * time.Second),
	}, opts...)
	return &Client{
		api:       anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: defaultMaxTokens,
		logger:    logger,
	}
}

// Narrate sends one system+user exchange and returns the concatenated text
// blocks of the reply.
func (c *Client) Narrate(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()
	msg, err := c.api.Messages.New(ctx, buildParams(c.model, c.maxTokens, system, prompt))
	if err != nil {
		return "", fmt.Errorf("claude: create message: %w", err)
	}

	text := responseText(msg)
	c.logger.Info(ctx, "narration complete",
		"model", c.model,
		"stop_reason", string(msg.StopReason),
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"duration", time.Since(start),
	)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func buildParams(model string, maxTokens int64, system, prompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func responseText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}
