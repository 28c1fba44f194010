//go:build cgo

// Package onnx runs a sentence-transformer model (all-MiniLM-L6-v2 by default)
// locally through ONNX Runtime. Requires CGO and the onnxruntime shared library.
package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"wraith/internal/domain"
)

type Config struct {
	ModelPath   string
	VocabPath   string
	LibraryPath string
	Dimensions  int
	MaxTokens   int
}

// Embedder mean-pools the model's last hidden state over attended tokens
// and L2-normalizes the result.
type Embedder struct {
	session    *ort.AdvancedSession
	tokenizer  *WordPiece
	dimensions int
	maxTokens  int

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	hidden        *ort.Tensor[float32]
	mu            sync.Mutex
}

var _ domain.Embedder = (*Embedder)(nil)

func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	tokenizer, err := LoadVocab(cfg.VocabPath)
	if err != nil {
		return nil, err
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	e := &Embedder{tokenizer: tokenizer, dimensions: cfg.Dimensions, maxTokens: cfg.MaxTokens}
	shape := ort.NewShape(1, int64(cfg.MaxTokens))
	if e.inputIDs, err = ort.NewTensor(shape, make([]int64, cfg.MaxTokens)); err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	if e.attentionMask, err = ort.NewTensor(shape, make([]int64, cfg.MaxTokens)); err != nil {
		e.destroy()
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	if e.tokenTypeIDs, err = ort.NewTensor(shape, make([]int64, cfg.MaxTokens)); err != nil {
		e.destroy()
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	hiddenShape := ort.NewShape(1, int64(cfg.MaxTokens), int64(cfg.Dimensions))
	if e.hidden, err = ort.NewTensor(hiddenShape, make([]float32, cfg.MaxTokens*cfg.Dimensions)); err != nil {
		e.destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{e.inputIDs, e.attentionMask, e.tokenTypeIDs},
		[]ort.ArbitraryTensor{e.hidden},
		nil,
	)
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return e, nil
}

func (e *Embedder) Dimensions() int { return e.dimensions }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	ids, mask, types := e.tokenizer.Encode(text, e.maxTokens)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("%w: onnx embedder is closed", domain.ErrEmbedding)
	}
	copy(e.inputIDs.GetData(), ids)
	copy(e.attentionMask.GetData(), mask)
	copy(e.tokenTypeIDs.GetData(), types)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: inference: %w", domain.ErrEmbedding, err)
	}
	return meanPool(e.hidden.GetData(), mask, e.dimensions), nil
}

// Close releases the session and tensors.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	e.destroy()
	return err
}

func (e *Embedder) destroy() {
	for _, t := range []*ort.Tensor[int64]{e.inputIDs, e.attentionMask, e.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if e.hidden != nil {
		_ = e.hidden.Destroy()
	}
	e.inputIDs, e.attentionMask, e.tokenTypeIDs, e.hidden = nil, nil, nil, nil
}
