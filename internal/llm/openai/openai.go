package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"wraith/internal/domain"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// Generator answers chat conversations through an OpenAI-compatible API.
type Generator struct {
	client   *openai.Client
	model    string
	defaults domain.GenerateOptions
	logger   *zap.Logger
}

var _ domain.Generator = (*Generator)(nil)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float32 // nil selects DefaultTemperature
	MaxTokens   int
	Timeout     time.Duration
	Logger      *zap.Logger
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai generator: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	temperature := float32(DefaultTemperature)
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Generator{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		defaults: domain.GenerateOptions{Temperature: temperature, MaxTokens: cfg.MaxTokens},
		logger:   cfg.Logger,
	}, nil
}

// Generate sends messages as one chat completion. Zero options fall back to
// the configured defaults, which may themselves request temperature 0.
func (g *Generator) Generate(ctx context.Context, messages []domain.ChatMessage, opts domain.GenerateOptions) (string, error) {
	if opts.Temperature <= 0 {
		opts.Temperature = g.defaults.Temperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = g.defaults.MaxTokens
	}
	if opts.Temperature == 0 {
		// the client omits a zero temperature, which the API reads as 1
		opts.Temperature = math.SmallestNonzeroFloat32
	}
	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrGeneration, ctxErr)
		}
		return "", parseAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", domain.ErrGeneration)
	}
	g.logger.Debug("completion created",
		zap.String("model", g.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("took", time.Since(start)),
	)
	return resp.Choices[0].Message.Content, nil
}

func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return markRetryable(reqErr.HTTPStatusCode,
			fmt.Errorf("%w: completion API error %d: %s", domain.ErrGeneration, reqErr.HTTPStatusCode, string(reqErr.Body)))
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return markRetryable(apiErr.HTTPStatusCode,
			fmt.Errorf("%w: completion API error %d: %s", domain.ErrGeneration, apiErr.HTTPStatusCode, apiErr.Message))
	}
	wrapped := fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.Retryable(wrapped)
	}
	return wrapped
}

// markRetryable flags rate limits and server errors; other statuses are final.
func markRetryable(status int, err error) error {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return domain.Retryable(err)
	}
	return err
}
