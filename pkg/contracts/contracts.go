// Package contracts holds the narrow interfaces the core orchestration
// plane uses to reach pluggable collaborators: embedding generation and
// vector storage for the Reasoning-Aware Memory Retrieval module.
package contracts

import (
	"context"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// ── Embedding Driver ─────────────────────────────────────────

// EmbeddingDriver generates vector embeddings from text.
// Ships: OpenAI (text-embedding-3-small/large), Ollama (nomic-embed-text).
type EmbeddingDriver interface {
	// Kind returns a short identifier (e.g. "openai", "ollama").
	Kind() string

	// Embed generates vector embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector dimensionality for this model.
	Dimensions() int

	// MaxBatchSize returns the maximum texts per Embed call.
	MaxBatchSize() int

	// HealthCheck verifies the embedding service is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Vector Store Driver ──────────────────────────────────────

// VectorStoreDriver provides vector storage and similarity search over the
// memory index. Ships: embedded (in-memory brute-force), pgvector.
type VectorStoreDriver interface {
	// Kind returns a short identifier (e.g. "embedded", "pgvector").
	Kind() string

	// Upsert inserts or updates documents in the vector index, scoped to
	// a session id or "global".
	Upsert(ctx context.Context, scope string, docs []models.VectorDoc) error

	// Search performs similarity search returning top-k results.
	Search(ctx context.Context, scope string, vector []float64, topK int, filter map[string]string) ([]models.SearchResult, error)

	// Delete removes documents by ID from the vector index.
	Delete(ctx context.Context, scope string, ids []string) error

	// Count returns the number of documents in the index for a scope.
	Count(ctx context.Context, scope string) (int, error)

	// HealthCheck verifies the vector store is reachable.
	HealthCheck(ctx context.Context) error
}
