package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/graph"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/vector"
)

const (
	defaultTopK      = 8
	candidateLimit   = 50
	recencyPoolLimit = 100
	recencyTauDays   = 14.0
	minScore         = 0.05
)

// Source-type boosts applied after fusion.
var sourceBoosts = map[string]float64{
	"browser_highlight": 0.05,
	"document":          0.03,
}

// QueryEmbedder encodes queries with the same model used at ingestion.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Filters narrow the candidate set.
type Filters struct {
	SourceType string `json:"source_type,omitempty"`
	CardType   string `json:"card_type,omitempty"`
	TimeMin    string `json:"time_min,omitempty"`
	TimeMax    string `json:"time_max,omitempty"`
}

// Request is one hybrid retrieval call.
type Request struct {
	Query   string  `json:"query"`
	TopK    int     `json:"top_k"`
	Filters Filters `json:"filters"`
}

// Signals is the per-hit explainability breakdown.
type Signals struct {
	FTS         float64 `json:"fts"`
	Semantic    float64 `json:"semantic"`
	Graph       float64 `json:"graph"`
	Recency     float64 `json:"recency"`
	SourceBoost float64 `json:"source_boost"`
}

// Hit is one ranked result with the reasons it surfaced.
type Hit struct {
	MemoryID   string   `json:"memory_id"`
	Summary    string   `json:"summary"`
	Title      string   `json:"title"`
	SourceType string   `json:"source_type,omitempty"`
	CardType   string   `json:"card_type"`
	CreatedAt  string   `json:"created_at"`
	FinalScore float64  `json:"final_score"`
	Signals    Signals  `json:"signals"`
	Reasons    []string `json:"reasons"`
	Snippet    string   `json:"snippet,omitempty"`
}

// Response carries the ranked hits plus a degradation note when a signal
// backend was unavailable.
type Response struct {
	Results  []Hit  `json:"results"`
	Degraded string `json:"trace,omitempty"`
}

// Service fuses FTS, semantic, graph and recency signals into one ranking.
type Service struct {
	store    *store.Store
	index    vector.Store
	graph    *graph.Service
	embedder QueryEmbedder
	weights  config.Weights
}

func NewService(st *store.Store, index vector.Store, graphSvc *graph.Service, embedder QueryEmbedder, weights config.Weights) *Service {
	if weights == (config.Weights{}) {
		weights = config.DefaultWeights()
	}
	return &Service{store: st, index: index, graph: graphSvc, embedder: embedder, weights: weights}
}

type candidate struct {
	fts      float64
	semantic float64
	graph    float64
	recency  float64
	hasFTS   bool
	hasSem   bool
	hasGraph bool
	hasRec   bool
}

// Retrieve runs the four candidate generators in parallel, normalizes each
// signal within its own candidate set, and fuses with the configured
// weights. Ties break by memory_id ascending so identical inputs rank
// identically.
func (s *Service) Retrieve(ctx context.Context, req Request) (Response, error) {
	logger := common.Logger()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Response{}, nil
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	var (
		ftsHits   []store.FTSHit
		semHits   []vector.Result
		graphHits map[string]float64
		recent    []store.MemoryCard
		degraded  string
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		hits, err := s.store.SearchCards(groupCtx, query, candidateLimit)
		if err != nil {
			return err
		}
		ftsHits = hits
		return nil
	})
	group.Go(func() error {
		if s.index == nil || !s.index.Available() || s.embedder == nil {
			degraded = "vector index unavailable; fts-only semantic signal"
			return nil
		}
		queryVector, err := s.embedder.EmbedQuery(groupCtx, query)
		if err != nil {
			logger.Warn("retrieval: query embed failed, degrading to fts", "error", err)
			degraded = "vector index unavailable; fts-only semantic signal"
			return nil
		}
		hits, err := s.index.Search(groupCtx, queryVector, vector.ModalityText, candidateLimit)
		if err != nil {
			logger.Warn("retrieval: vector search failed, degrading to fts", "error", err)
			degraded = "vector index unavailable; fts-only semantic signal"
			return nil
		}
		semHits = hits
		return nil
	})
	group.Go(func() error {
		if s.graph == nil {
			return nil
		}
		hits, err := s.graph.CardsMentioning(groupCtx, query, candidateLimit)
		if err != nil {
			return err
		}
		graphHits = hits
		return nil
	})
	group.Go(func() error {
		cards, err := s.store.RecentCards(groupCtx, recencyPoolLimit)
		if err != nil {
			return err
		}
		recent = cards
		return nil
	})
	if err := group.Wait(); err != nil {
		return Response{}, err
	}

	candidates := make(map[string]*candidate)
	ensure := func(memoryID string) *candidate {
		entry := candidates[memoryID]
		if entry == nil {
			entry = &candidate{}
			candidates[memoryID] = entry
		}
		return entry
	}
	for _, hit := range ftsHits {
		entry := ensure(hit.MemoryID)
		// bm25 ranks are lower-is-better; negate so min-max keeps order.
		entry.fts = -hit.Rank
		entry.hasFTS = true
	}
	for _, hit := range semHits {
		if hit.MemoryID == "" {
			continue
		}
		entry := ensure(hit.MemoryID)
		if hit.Score > entry.semantic {
			entry.semantic = hit.Score
		}
		entry.hasSem = true
	}
	for memoryID, score := range graphHits {
		entry := ensure(memoryID)
		entry.graph = score
		entry.hasGraph = true
	}
	now := time.Now().UTC()
	for _, card := range recent {
		entry := ensure(card.MemoryID)
		entry.recency = recencyScore(card.CreatedAt, now)
		entry.hasRec = entry.recency > 0
	}
	if len(candidates) == 0 {
		return Response{Degraded: degraded}, nil
	}

	normalizeSignal(candidates, func(c *candidate) (float64, bool) { return c.fts, c.hasFTS },
		func(c *candidate, v float64) { c.fts = v })
	normalizeSignal(candidates, func(c *candidate) (float64, bool) { return c.semantic, c.hasSem },
		func(c *candidate, v float64) { c.semantic = v })
	normalizeSignal(candidates, func(c *candidate) (float64, bool) { return c.graph, c.hasGraph },
		func(c *candidate, v float64) { c.graph = v })
	normalizeSignal(candidates, func(c *candidate) (float64, bool) { return c.recency, c.hasRec },
		func(c *candidate, v float64) { c.recency = v })

	ids := make([]string, 0, len(candidates))
	for memoryID := range candidates {
		ids = append(ids, memoryID)
	}
	cards, err := s.store.GetCards(ctx, ids)
	if err != nil {
		return Response{}, err
	}

	hits := make([]Hit, 0, len(candidates))
	for memoryID, entry := range candidates {
		card, ok := cards[memoryID]
		if !ok {
			continue
		}
		meta := decodeMetadata(card.Metadata)
		sourceType, _ := meta["source_type"].(string)
		if !passesFilters(card, sourceType, req.Filters) {
			continue
		}
		boost := sourceBoosts[card.Type]
		if boost == 0 {
			boost = sourceBoosts[sourceType]
		}
		final := s.weights.Semantic*entry.semantic +
			s.weights.FTS*entry.fts +
			s.weights.Graph*entry.graph +
			s.weights.Recency*entry.recency +
			boost
		if final < minScore {
			continue
		}
		var reasons []string
		if entry.hasFTS && entry.fts > 0 {
			reasons = append(reasons, "fts")
		}
		if entry.hasSem && entry.semantic > 0 {
			reasons = append(reasons, "semantic")
		}
		if entry.hasGraph && entry.graph > 0 {
			reasons = append(reasons, "graph")
		}
		if entry.hasRec && entry.recency > 0 {
			reasons = append(reasons, "recency")
		}
		if boost > 0 {
			reasons = append(reasons, "source_boost")
		}
		if len(reasons) == 0 {
			continue
		}
		hits = append(hits, Hit{
			MemoryID:   memoryID,
			Summary:    card.Summary,
			Title:      cardTitle(card, meta),
			SourceType: sourceType,
			CardType:   card.Type,
			CreatedAt:  card.CreatedAt,
			FinalScore: round6(final),
			Signals: Signals{
				FTS:         round6(entry.fts),
				Semantic:    round6(entry.semantic),
				Graph:       round6(entry.graph),
				Recency:     round6(entry.recency),
				SourceBoost: boost,
			},
			Reasons: reasons,
			Snippet: snippet(card.ContentText),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].FinalScore == hits[j].FinalScore {
			return hits[i].MemoryID < hits[j].MemoryID
		}
		return hits[i].FinalScore > hits[j].FinalScore
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	logger.Debug("retrieval: fused", "query", query, "candidates", len(candidates), "returned", len(hits))
	return Response{Results: hits, Degraded: degraded}, nil
}

func normalizeSignal(candidates map[string]*candidate,
	get func(*candidate) (float64, bool), set func(*candidate, float64)) {
	minValue := math.Inf(1)
	maxValue := math.Inf(-1)
	var seen bool
	for _, entry := range candidates {
		value, has := get(entry)
		if !has {
			continue
		}
		seen = true
		if value < minValue {
			minValue = value
		}
		if value > maxValue {
			maxValue = value
		}
	}
	if !seen {
		return
	}
	span := maxValue - minValue
	for _, entry := range candidates {
		value, has := get(entry)
		if !has {
			set(entry, 0)
			continue
		}
		if span == 0 {
			set(entry, 1)
			continue
		}
		set(entry, (value-minValue)/span)
	}
}

func recencyScore(createdAt string, now time.Time) float64 {
	created := store.ParseTime(createdAt)
	if created.IsZero() {
		return 0
	}
	ageDays := now.Sub(created).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	score := math.Exp(-ageDays / recencyTauDays)
	if score > 1 {
		score = 1
	}
	return score
}

func passesFilters(card store.MemoryCard, sourceType string, filters Filters) bool {
	if filters.CardType != "" && card.Type != filters.CardType {
		return false
	}
	if filters.SourceType != "" && sourceType != filters.SourceType && card.Type != filters.SourceType {
		return false
	}
	if filters.TimeMin != "" && card.CreatedAt < filters.TimeMin {
		return false
	}
	if filters.TimeMax != "" && card.CreatedAt > filters.TimeMax {
		return false
	}
	return true
}

func cardTitle(card store.MemoryCard, meta map[string]interface{}) string {
	if filePath, _ := meta["file_path"].(string); filePath != "" {
		if idx := strings.LastIndexAny(filePath, "/\\"); idx >= 0 {
			return filePath[idx+1:]
		}
		return filePath
	}
	if url, _ := meta["url"].(string); url != "" {
		return url
	}
	if card.Summary != "" {
		if len(card.Summary) > 60 {
			return strings.TrimSpace(card.Summary[:60])
		}
		return card.Summary
	}
	return card.MemoryID
}

func snippet(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	if len(normalized) > 240 {
		return normalized[:240]
	}
	return normalized
}

func round6(value float64) float64 {
	return math.Round(value*1e6) / 1e6
}
