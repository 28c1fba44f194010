package domain

import "context"

// Chunk is one segment produced by a Chunker, before embedding.
type Chunk struct {
	Text  string
	Index int
}

// DocumentChunk is a unit of stored knowledge.
type DocumentChunk struct {
	Content    string
	Embedding  []float32
	Metadata   Metadata
	Source     string
	ChunkIndex int
}

// SearchResult represents a matching chunk ranked by similarity in [0,1].
type SearchResult struct {
	ID         string
	Content    string
	Metadata   Metadata
	Source     string
	ChunkIndex int
	Similarity float64
}

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one role-tagged message sent to a Generator.
type ChatMessage struct {
	Role    Role
	Content string
}

// GenerateOptions tunes a completion. Zero values select the adapter defaults.
type GenerateOptions struct {
	Temperature float32
	MaxTokens   int
}

// Embedder converts free text into a fixed-length vector.
// Failures wrap ErrEmbedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Generator turns a conversation into a generated answer.
// Failures wrap ErrGeneration.
type Generator interface {
	Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error)
}

// VectorStore persists chunks and answers similarity queries.
type VectorStore interface {
	InsertDocuments(ctx context.Context, chunks []DocumentChunk) error
	SearchSimilar(ctx context.Context, query []float32, limit int) ([]SearchResult, error)
	Close() error
}

// DocumentSource turns a file into plain text.
type DocumentSource interface {
	Supports(path string) bool
	Extract(ctx context.Context, path string) (string, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(content string, chunkSize int) ([]Chunk, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
