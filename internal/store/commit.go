package store

import (
	"context"
	"fmt"

	"github.com/nicodishanthj/echogarden/internal/common"
)

// IngestCommit bundles everything an ingest pipeline produces for one blob:
// the card, its embeddings, and the graph delta from graph_builder.
type IngestCommit struct {
	Card       MemoryCard
	Embeddings []Embedding
	Nodes      []GraphNode
	Edges      []GraphEdge
	TraceID    string
}

// CommitIngest atomically persists a pipeline result: the card (idempotent
// on blob_id/trace_id), its embedding rows, the graph upserts, and the trace
// finish. When the card already exists the transaction is a no-op beyond
// returning the existing memory_id.
func (s *Store) CommitIngest(ctx context.Context, commit IngestCommit) (string, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin ingest commit: %w", err)
	}
	defer tx.Rollback()

	memoryID, existed, err := insertCardTx(ctx, tx, commit.Card)
	if err != nil {
		return "", false, err
	}
	if existed {
		if commit.TraceID != "" {
			if err := finishTrace(ctx, tx, commit.TraceID, TraceOK); err != nil {
				return "", false, err
			}
		}
		if err := tx.Commit(); err != nil {
			return "", false, fmt.Errorf("commit replay: %w", err)
		}
		return memoryID, true, nil
	}

	for _, embedding := range commit.Embeddings {
		if embedding.EmbeddingID == "" {
			embedding.EmbeddingID = common.NewID("emb")
		}
		embedding.MemoryID = memoryID
		_, err := tx.ExecContext(ctx,
			`INSERT INTO embedding (embedding_id, memory_id, modality, vector_ref)
                         VALUES (?, ?, ?, ?)`,
			embedding.EmbeddingID, embedding.MemoryID, embedding.Modality, embedding.VectorRef)
		if err != nil {
			return "", false, fmt.Errorf("insert embedding: %w", err)
		}
	}
	if err := upsertNodes(ctx, tx, commit.Nodes); err != nil {
		return "", false, err
	}
	if err := upsertEdges(ctx, tx, commit.Edges); err != nil {
		return "", false, err
	}
	if commit.TraceID != "" {
		if err := finishTrace(ctx, tx, commit.TraceID, TraceOK); err != nil {
			return "", false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit ingest: %w", err)
	}
	return memoryID, false, nil
}
