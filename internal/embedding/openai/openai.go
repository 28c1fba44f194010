package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"wraith/internal/domain"
)

const DefaultModel = "text-embedding-3-small"

// Embedder calls an OpenAI-compatible embeddings endpoint.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	logger     *zap.Logger
}

var _ domain.Embedder = (*Embedder)(nil)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	Logger     *zap.Logger
}

func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("openai embedder: invalid dimensions %d", cfg.Dimensions)
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
	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		logger:     cfg.Logger,
	}, nil
}

func (e *Embedder) Dimensions() int { return e.dimensions }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		Dimensions:     e.dimensions,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, ctxErr)
		}
		return nil, parseAPIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", domain.ErrEmbedding)
	}
	v := resp.Data[0].Embedding
	if len(v) != e.dimensions {
		return nil, fmt.Errorf("%w: model %s returned %d dimensions, expected %d",
			domain.ErrEmbedding, e.model, len(v), e.dimensions)
	}
	e.logger.Debug("embedding created",
		zap.String("model", string(e.model)),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("took", time.Since(start)),
	)
	return v, nil
}

func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return markRetryable(reqErr.HTTPStatusCode,
			fmt.Errorf("%w: embedding API error %d: %s", domain.ErrEmbedding, reqErr.HTTPStatusCode, string(reqErr.Body)))
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return markRetryable(apiErr.HTTPStatusCode,
			fmt.Errorf("%w: embedding API error %d: %s", domain.ErrEmbedding, apiErr.HTTPStatusCode, apiErr.Message))
	}
	wrapped := fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
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
