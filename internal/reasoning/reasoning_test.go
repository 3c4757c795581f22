package reasoning_test

import (
	"context"
	"strings"
	"testing"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/reasoning"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/internal/vectorstore"
	"github.com/avimaybee/twinclaw/pkg/models"
)

type constantEmbedding struct{ dim int }

func (e constantEmbedding) Kind() string { return "mock" }
func (e constantEmbedding) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, e.dim)
		for j := range v {
			v[j] = 1.0
		}
		out[i] = v
	}
	return out, nil
}
func (e constantEmbedding) Dimensions() int             { return e.dim }
func (e constantEmbedding) MaxBatchSize() int           { return 32 }
func (e constantEmbedding) HealthCheck(context.Context) error { return nil }

func newTestRetriever(t *testing.T) (*reasoning.Retriever, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	r := reasoning.NewRetriever(s, constantEmbedding{dim: 4}, vectorstore.NewEmbeddedStore(), config.MemoryConfig{TopK: 5})
	return r, s
}

func TestChunkTextPassthroughForShortText(t *testing.T) {
	chunks := reasoning.ChunkText("a short turn", reasoning.DefaultChunkerConfig())
	if len(chunks) != 1 {
		t.Fatalf("ChunkText() = %d chunks, want 1 for text under the chunk size", len(chunks))
	}
	if chunks[0].Text != "a short turn" {
		t.Errorf("ChunkText()[0].Text = %q, want the original text unchanged", chunks[0].Text)
	}
}

func TestChunkTextSplitsLongText(t *testing.T) {
	paragraph := strings.Repeat("word ", 20) + "\n\n"
	long := strings.Repeat(paragraph, 20)

	chunks := reasoning.ChunkText(long, reasoning.ChunkerConfig{ChunkSize: 100, ChunkOverlap: 10, Separator: "\n\n"})
	if len(chunks) < 2 {
		t.Fatalf("ChunkText() = %d chunks, want more than 1 for text well over the chunk size", len(chunks))
	}
	for _, c := range chunks {
		if c.Text == "" {
			t.Error("ChunkText() produced an empty chunk")
		}
	}
}

func TestIngestAndRetrieveRoundTrip(t *testing.T) {
	r, _ := newTestRetriever(t)
	ctx := context.Background()

	if err := r.Ingest(ctx, "s1", "The deploy window is Tuesday at noon."); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	memCtx, err := r.Retrieve(ctx, "s1", "when is the deploy window")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(memCtx.Snippets) == 0 {
		t.Fatal("Retrieve() returned no snippets after an ingest into the same session scope")
	}
}

func TestRetrieveDetectsContradiction(t *testing.T) {
	r, _ := newTestRetriever(t)
	ctx := context.Background()

	if err := r.Ingest(ctx, "s1", "The meeting is at 3pm."); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if err := r.Ingest(ctx, "s1", "The meeting is not at 3pm."); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	memCtx, err := r.Retrieve(ctx, "s1", "what time is the meeting")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(memCtx.Contradictions) == 0 {
		t.Error("Retrieve() should surface a contradiction between the two opposing claims about the meeting time")
	}
}

func TestFormatMemoryContextEmpty(t *testing.T) {
	if got := reasoning.FormatMemoryContext(&models.MemoryContext{}); got != "no relevant memory found" {
		t.Errorf("FormatMemoryContext() = %q, want the empty-context message", got)
	}
}

func TestFormatMemoryContextRendersSnippetsAndContradictions(t *testing.T) {
	memCtx := &models.MemoryContext{
		Snippets: []models.SearchResult{{Doc: models.VectorDoc{Text: "the sky is blue"}}},
		Contradictions: []models.ContradictionSignal{{ClaimKey: "abc123"}},
	}
	got := reasoning.FormatMemoryContext(memCtx)
	if !strings.Contains(got, "the sky is blue") {
		t.Errorf("FormatMemoryContext() = %q, want it to include the snippet text", got)
	}
	if !strings.Contains(got, "abc123") {
		t.Errorf("FormatMemoryContext() = %q, want it to include the contradiction claim key", got)
	}
}
