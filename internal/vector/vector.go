package vector

import "context"

// Modalities recognized by the index.
const (
	ModalityText   = "text"
	ModalityVision = "vision"
)

// Point is one stored vector. ID doubles as the embedding's vector_ref.
type Point struct {
	ID       string    `json:"id"`
	MemoryID string    `json:"memory_id"`
	Modality string    `json:"modality"`
	Vector   []float32 `json:"vector"`
}

// Result is one similarity hit; Score is cosine similarity in [0,1].
type Result struct {
	ID       string  `json:"id"`
	MemoryID string  `json:"memory_id"`
	Score    float64 `json:"score"`
}

// Store is the vector-index contract. Upserts are idempotent by point id;
// concurrent reads and writes are allowed.
type Store interface {
	Available() bool
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, modality string, limit int) ([]Result, error)
	Delete(ctx context.Context, ids []string) error
}
