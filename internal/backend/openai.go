package backend

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/pmmresearch/config"
	"github.com/mohammad-safakhou/pmmresearch/internal/logging"
	"github.com/mohammad-safakhou/pmmresearch/internal/telemetry"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// chatCompleter is the subset of *openai.Client used here.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient talks to any OpenAI-compatible chat endpoint (DeepSeek, Groq).
type OpenAIClient struct {
	name    string
	model   string
	api     chatCompleter
	timeout time.Duration
	backoff Backoff

	// defaults applied when a call leaves the field zero
	temperature float32
	maxTokens   int
	logger      *zap.Logger
	tele        *telemetry.Telemetry
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds each attempt, separately from backoff sleeps.
	Timeout time.Duration
	Backoff Backoff

	// Temperature and MaxTokens are used when Submit options leave them zero.
	Temperature float32
	MaxTokens   int
}

// NewOpenAI builds a client for cfg.
func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger, tele *telemetry.Telemetry) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return newOpenAIWith(cfg, openai.NewClientWithConfig(oc), logger, tele), nil
}

func newOpenAIWith(cfg OpenAIConfig, api chatCompleter, logger *zap.Logger, tele *telemetry.Telemetry) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		name:        cfg.Name,
		model:       cfg.Model,
		api:         api,
		timeout:     cfg.Timeout,
		backoff:     cfg.Backoff.normalized(),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.With(zap.String("backend", cfg.Name), zap.String("model", cfg.Model)),
		tele:        tele,
	}
}

// NewFromConfig returns nil when the backend has no API key, so callers can
// treat an absent credential as a disabled variant.
func NewFromConfig(cfg config.BackendConfig, retry config.RetryConfig, logger *zap.Logger, tele *telemetry.Telemetry) Client {
	if !cfg.Enabled() {
		return nil
	}
	switch cfg.Type {
	case "", "openai":
	default:
		logging.OrNop(logger).Warn("unsupported backend type", zap.String("backend", cfg.Name), zap.String("type", cfg.Type))
		return nil
	}
	c, err := NewOpenAI(OpenAIConfig{
		Name:        cfg.Name,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Timeout:     cfg.Timeout,
		Temperature: float32(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
		Backoff: Backoff{
			Attempts:   retry.MaxAttempts,
			Base:       retry.BaseDelay,
			Multiplier: retry.Multiplier,
		},
	}, logger, tele)
	if err != nil {
		return nil
	}
	return c
}

func (c *OpenAIClient) Name() string  { return c.name }
func (c *OpenAIClient) Model() string { return c.model }

// Submit sends the prompts, retrying rate-limit failures with backoff.
func (c *OpenAIClient) Submit(ctx context.Context, system, user string, opts Options) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})
	if opts.Temperature == 0 {
		opts.Temperature = c.temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = c.maxTokens
	}
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	for attempt := 1; ; attempt++ {
		text, err := c.complete(ctx, req)
		if err == nil {
			c.tele.RecordBackendCall(c.name, "ok")
			return text, nil
		}

		kind := classify(err)
		if ctx.Err() != nil {
			kind = Permanent
		}
		if kind == Transient && attempt < c.backoff.Attempts {
			delay := c.backoff.Delay(attempt)
			c.logger.Info("rate limited, backing off", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			c.tele.RecordRetry(c.name)
			if serr := c.backoff.Sleep(ctx, delay); serr != nil {
				c.tele.RecordBackendCall(c.name, "error")
				return "", &Error{Backend: c.name, Kind: Permanent, Attempts: attempt, Err: serr}
			}
			continue
		}

		c.tele.RecordBackendCall(c.name, "error")
		c.logger.Warn("completion failed", zap.Int("attempt", attempt), zap.Stringer("kind", kind), zap.Error(err))
		return "", &Error{Backend: c.name, Kind: kind, Attempts: attempt, Err: err}
	}
}

func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
