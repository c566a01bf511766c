package tools

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"os"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/llm"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/vector"
)

// TextEmbedTool encodes text with the configured provider and upserts the
// vector into the index. The returned vector_ref is the point id.
type TextEmbedTool struct {
	provider llm.Provider
	index    vector.Store
}

func NewTextEmbedTool(provider llm.Provider, index vector.Store) *TextEmbedTool {
	return &TextEmbedTool{provider: provider, index: index}
}

func (t *TextEmbedTool) Spec() Spec {
	return Spec{
		Name:         "text_embed",
		Description:  "Embed text into the text modality of the vector index.",
		Required:     []string{"text"},
		InputSchema:  map[string]string{"text": "string", "memory_id": "string"},
		OutputSchema: map[string]string{"vector_ref": "string"},
		TimeoutMS:    10000,
	}
}

func (t *TextEmbedTool) Run(ctx context.Context, in Inputs) (Outputs, error) {
	vectors, err := t.provider.Embed(ctx, []string{in.String("text")})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned no vector")
	}
	ref := common.NewID("vec")
	point := vector.Point{
		ID:       ref,
		MemoryID: in.String("memory_id"),
		Modality: vector.ModalityText,
		Vector:   vectors[0],
	}
	if err := t.index.Upsert(ctx, []vector.Point{point}); err != nil {
		return nil, fmt.Errorf("upsert vector: %w", err)
	}
	return Outputs{"vector_ref": ref}, nil
}

// EmbedQuery encodes a query without indexing it; the retriever uses this
// for the semantic signal so queries and cards share one encoder.
func (t *TextEmbedTool) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := t.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vector")
	}
	return vectors[0], nil
}

const visionEmbedDim = 128

// VisionEmbedTool encodes an image blob into the vision modality. Stub mode
// derives a deterministic vector from the image bytes; local mode requires
// the vision encoder engine.
type VisionEmbedTool struct {
	store *store.Store
	index vector.Store
	mode  config.Mode
}

func NewVisionEmbedTool(st *store.Store, index vector.Store, mode config.Mode) *VisionEmbedTool {
	return &VisionEmbedTool{store: st, index: index, mode: mode}
}

func (t *VisionEmbedTool) Spec() Spec {
	return Spec{
		Name:         "vision_embed",
		Description:  "Embed an image blob into the vision modality of the vector index.",
		Required:     []string{"blob_id"},
		InputSchema:  map[string]string{"blob_id": "string", "memory_id": "string"},
		OutputSchema: map[string]string{"vector_ref": "string"},
		TimeoutMS:    10000,
	}
}

func (t *VisionEmbedTool) Run(ctx context.Context, in Inputs) (Outputs, error) {
	blob, err := t.store.GetBlob(ctx, in.String("blob_id"))
	if err != nil {
		return nil, fmt.Errorf("load blob: %w", err)
	}
	if t.mode == config.ModeLocal {
		return nil, fmt.Errorf("vision encoder not attached")
	}
	data, err := os.ReadFile(blob.Path)
	if err != nil {
		return nil, fmt.Errorf("read blob bytes: %w", err)
	}
	ref := common.NewID("vec")
	point := vector.Point{
		ID:       ref,
		MemoryID: in.String("memory_id"),
		Modality: vector.ModalityVision,
		Vector:   bytesEmbed(data),
	}
	if err := t.index.Upsert(ctx, []vector.Point{point}); err != nil {
		return nil, fmt.Errorf("upsert vector: %w", err)
	}
	return Outputs{"vector_ref": ref}, nil
}

// bytesEmbed folds a sha256 of the content into a unit vector, giving
// identical images identical vectors and distinct images near-orthogonal
// ones.
func bytesEmbed(data []byte) []float32 {
	digest := sha256.Sum256(data)
	out := make([]float32, visionEmbedDim)
	for i := 0; i < visionEmbedDim; i++ {
		b := digest[i%len(digest)]
		shift := uint(i/len(digest)) % 7
		out[i] = float32(int8(b<<shift)) / 128
	}
	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range out {
			out[i] *= scale
		}
	}
	return out
}
