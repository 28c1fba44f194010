//go:build !cgo

package onnx

import (
	"context"
	"errors"
)

// Embedder is unavailable without CGO (see onnx.go).
type Embedder struct{}

type Config struct {
	ModelPath   string
	VocabPath   string
	LibraryPath string
	Dimensions  int
	MaxTokens   int
}

func NewEmbedder(Config) (*Embedder, error) {
	return nil, errors.New("onnx embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

func (*Embedder) Dimensions() int { return 0 }

func (*Embedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("onnx embedder requires CGO")
}

func (*Embedder) Close() error { return nil }
