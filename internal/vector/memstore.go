package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemStore is a brute-force in-process cosine index. It is the offline
// default; a configured endpoint swaps in the HTTP client instead.
type MemStore struct {
	mu     sync.RWMutex
	points map[string]Point
}

func NewMemStore() *MemStore {
	return &MemStore{points: make(map[string]Point)}
}

func (m *MemStore) Available() bool {
	return m != nil
}

func (m *MemStore) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, point := range points {
		if point.ID == "" || len(point.Vector) == 0 {
			continue
		}
		stored := point
		stored.Vector = append([]float32(nil), point.Vector...)
		m.points[point.ID] = stored
	}
	return nil
}

func (m *MemStore) Search(ctx context.Context, vector []float32, modality string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]Result, 0, len(m.points))
	for _, point := range m.points {
		if modality != "" && point.Modality != modality {
			continue
		}
		score := cosine(vector, point.Vector)
		if score <= 0 {
			continue
		}
		results = append(results, Result{ID: point.ID, MemoryID: point.MemoryID, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemStore) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

// Len reports the number of stored points.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp tiny float drift so scores stay inside [0, 1].
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
