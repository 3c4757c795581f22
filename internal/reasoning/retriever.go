package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avimaybee/twinclaw/internal/config"
	"github.com/avimaybee/twinclaw/internal/store"
	"github.com/avimaybee/twinclaw/pkg/contracts"
	"github.com/avimaybee/twinclaw/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const globalScope = "global"

// metaNodeKey is the VectorDoc.Metadata key holding the reasoning node a
// chunk was filed under — Retrieve reads it back instead of a reverse
// provenance lookup, since the store only persists provenance for audit,
// not for reads.
const metaNodeKey = "reasoningNodeId"

// Retriever is the Reasoning-Aware Memory Retrieval module: it ingests
// conversation turns into a scoped vector index annotated with a reasoning
// graph, and answers queries with similarity hits plus the graph evidence
// reachable from them.
type Retriever struct {
	store      store.Store
	embeddings contracts.EmbeddingDriver
	vectors    contracts.VectorStoreDriver
	chunker    ChunkerConfig
	cfg        config.MemoryConfig
}

// NewRetriever wires an embedding driver and vector store into the
// reasoning graph kept in store.Store.
func NewRetriever(s store.Store, embeddings contracts.EmbeddingDriver, vectors contracts.VectorStoreDriver, cfg config.MemoryConfig) *Retriever {
	return &Retriever{
		store:      s,
		embeddings: embeddings,
		vectors:    vectors,
		chunker:    DefaultChunkerConfig(),
		cfg:        cfg,
	}
}

// Ingest chunks, embeds, and indexes a turn's text under sessionID, filing
// each chunk into the reasoning graph by claim key and linking opposing
// claims with a "contradicts" edge.
func (r *Retriever) Ingest(ctx context.Context, sessionID, text string) error {
	if text == "" {
		return nil
	}
	chunks := ChunkText(text, r.chunker)

	batch := r.embeddings.MaxBatchSize()
	if batch <= 0 {
		batch = len(chunks)
	}

	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		slice := chunks[start:end]

		texts := make([]string, len(slice))
		for i, c := range slice {
			texts[i] = c.Text
		}
		vectors, err := r.embeddings.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunk batch: %w", err)
		}

		for i, c := range slice {
			node, err := r.fileClaim(ctx, sessionID, c.Text)
			if err != nil {
				log.Warn().Err(err).Msg("reasoning: claim filing failed, indexing chunk without graph linkage")
			}

			doc := models.VectorDoc{
				ID:        uuid.NewString(),
				Namespace: "turn",
				Text:      c.Text,
				Vector:    vectors[i],
				Metadata:  map[string]string{},
				CreatedAt: time.Now().UTC(),
			}
			if node != nil {
				doc.Metadata[metaNodeKey] = node.ID
			}
			if err := r.vectors.Upsert(ctx, sessionID, []models.VectorDoc{doc}); err != nil {
				return fmt.Errorf("upsert vector doc: %w", err)
			}
			if node != nil {
				_ = r.store.PutProvenance(ctx, &models.MemoryProvenance{
					ID:              uuid.NewString(),
					VectorDocID:     doc.ID,
					ReasoningNodeID: node.ID,
					Label:           fmt.Sprintf("[#%s]", node.ID[:8]),
				})
			}
		}
	}
	return nil
}

// fileClaim upserts the chunk's claim node, and when a node already exists
// under the same key with opposing polarity, links the two with a
// "contradicts" edge (both directions, since traversal only walks
// ListEdgesFrom). A same-polarity repeat returns the existing node and adds
// no edge.
func (r *Retriever) fileClaim(ctx context.Context, sessionID, text string) (*models.ReasoningNode, error) {
	key := claimKey(text)
	pol := polarity(text)
	now := time.Now().UTC()

	existing, err := r.store.GetReasoningNodeByClaimKey(ctx, key)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); !ok {
			return nil, err
		}
		existing = nil
	}

	node := &models.ReasoningNode{
		ID:        uuid.NewString(),
		ClaimKey:  key,
		Polarity:  pol,
		Text:      text,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		if existing.Polarity == pol {
			// Same claim resurfacing — nothing new to link, reuse the node.
			return existing, nil
		}
		if err := r.store.UpsertReasoningNode(ctx, node); err != nil {
			return nil, err
		}
		relation := models.RelationContradicts
		edge := &models.ReasoningEdge{ID: uuid.NewString(), FromID: node.ID, ToID: existing.ID, Relation: relation, UpdatedAt: now}
		if err := r.store.UpsertReasoningEdge(ctx, edge); err != nil {
			return node, err
		}
		back := &models.ReasoningEdge{ID: uuid.NewString(), FromID: existing.ID, ToID: node.ID, Relation: relation, UpdatedAt: now}
		if err := r.store.UpsertReasoningEdge(ctx, back); err != nil {
			return node, err
		}
		return node, nil
	}

	if err := r.store.UpsertReasoningNode(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// Retrieve embeds query and returns scoped-then-global similarity hits
// along with reasoning-graph evidence and contradiction signals reachable
// from those hits within the configured traversal bounds.
func (r *Retriever) Retrieve(ctx context.Context, sessionID, query string) (*models.MemoryContext, error) {
	vectors, err := r.embeddings.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec := vectors[0]

	topK := r.cfg.TopK
	if topK <= 0 {
		topK = 6
	}

	hits, err := r.vectors.Search(ctx, sessionID, vec, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("search session scope: %w", err)
	}
	if len(hits) < topK {
		globalHits, err := r.vectors.Search(ctx, globalScope, vec, topK-len(hits), nil)
		if err == nil {
			hits = append(hits, globalHits...)
		}
	}

	memCtx := &models.MemoryContext{Snippets: hits}

	visited := map[string]bool{}
	seenEdges := map[string]bool{}
	contradicted := map[string][]string{}

	var frontier []string
	for _, hit := range hits {
		if id := hit.Doc.Metadata[metaNodeKey]; id != "" {
			frontier = append(frontier, id)
		}
	}

	maxDepth := r.cfg.MaxTraversalDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	maxEdges := r.cfg.MaxTraversalEdges
	if maxEdges <= 0 {
		maxEdges = 25
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0 && len(memCtx.Evidence) < maxEdges; depth++ {
		var next []string
		for _, nodeID := range frontier {
			if visited[nodeID] {
				continue
			}
			visited[nodeID] = true

			edges, err := r.store.ListEdgesFrom(ctx, nodeID)
			if err != nil {
				continue
			}
			for _, edge := range edges {
				if len(memCtx.Evidence) >= maxEdges {
					break
				}
				edgeKey := edge.FromID + "|" + edge.ToID + "|" + string(edge.Relation)
				if seenEdges[edgeKey] {
					continue
				}
				seenEdges[edgeKey] = true
				memCtx.Evidence = append(memCtx.Evidence, edge)
				next = append(next, edge.ToID)

				if edge.Relation == models.RelationContradicts {
					node, err := r.store.GetReasoningNode(ctx, edge.FromID)
					if err == nil {
						contradicted[node.ClaimKey] = appendUnique(contradicted[node.ClaimKey], edge.FromID, edge.ToID)
					}
				}
			}
		}
		frontier = next
	}

	for claimKey, nodeIDs := range contradicted {
		memCtx.Contradictions = append(memCtx.Contradictions, models.ContradictionSignal{ClaimKey: claimKey, NodeIDs: nodeIDs})
	}

	return memCtx, nil
}

func appendUnique(existing []string, ids ...string) []string {
	for _, id := range ids {
		found := false
		for _, e := range existing {
			if e == id {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, id)
		}
	}
	return existing
}

// FormatMemoryContext renders a MemoryContext as plain text, for a tool
// result or any other caller that needs memory outside the Gateway's own
// system-message assembly.
func FormatMemoryContext(memCtx *models.MemoryContext) string {
	if memCtx == nil || len(memCtx.Snippets) == 0 {
		return "no relevant memory found"
	}
	var b strings.Builder
	for _, s := range memCtx.Snippets {
		fmt.Fprintf(&b, "- %s\n", s.Doc.Text)
	}
	for _, c := range memCtx.Contradictions {
		fmt.Fprintf(&b, "Note: conflicting statements were made about claim %s.\n", c.ClaimKey)
	}
	return b.String()
}
