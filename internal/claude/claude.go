package claude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joshharrison/goalplan/internal/logging"
	"github.com/joshharrison/goalplan/internal/planner"
)

const systemPrompt = "You are a helpful project planning assistant. You answer with JSON only."

// Config configures the Claude text generator.
type Config struct {
	APIKey      string // defaults to ANTHROPIC_API_KEY
	Model       string // defaults to Claude Sonnet
	BackupModel string // optional, tried when the primary model fails
	MaxRetries  int    // SDK-level retries per model
	BaseURL     string // optional API endpoint override
	Logger      *slog.Logger
}

// Client wraps the Anthropic SDK and implements planner.TextGenerator.
type Client struct {
	inner  anthropic.Client
	models []anthropic.Model
	logger *slog.Logger
}

var _ planner.TextGenerator = (*Client)(nil)

// NewClient creates a Claude client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0, got %d", cfg.MaxRetries)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	models := []anthropic.Model{anthropic.ModelClaudeSonnet4_6}
	if cfg.Model != "" {
		models[0] = anthropic.Model(cfg.Model)
	}
	if cfg.BackupModel != "" && cfg.BackupModel != string(models[0]) {
		models = append(models, anthropic.Model(cfg.BackupModel))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Client{inner: anthropic.NewClient(opts...), models: models, logger: logger}, nil
}

// Models returns the models tried, in order.
func (c *Client) Models() []string {
	out := make([]string, len(c.models))
	for i, m := range c.models {
		out[i] = string(m)
	}
	return out
}

// Generate sends prompt to each configured model in turn and returns the
// first successful response's text. Cancellation or an expired deadline stops
// the fallthrough to the backup model.
func (c *Client) Generate(ctx context.Context, prompt string, params planner.GenerateParams) (string, error) {
	var errs []error
	for _, model := range c.models {
		text, err := c.generate(ctx, model, prompt, params)
		if err == nil {
			return text, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", model, err))
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("claude model failed", "model", model, "error", err)
	}
	return "", fmt.Errorf("claude API call: %w", errors.Join(errs...))
}

func (c *Client) generate(ctx context.Context, model anthropic.Model, prompt string, params planner.GenerateParams) (string, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       model,
		MaxTokens:   int64(params.MaxTokens),
		Temperature: anthropic.Float(params.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	// Extract text from response
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if resp.StopReason == anthropic.StopReasonMaxTokens {
		c.logger.Warn("claude response truncated at max tokens", "model", model, "max_tokens", params.MaxTokens)
	}
	return strings.TrimSpace(text.String()), nil
}
