package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/graph"
	"github.com/nicodishanthj/echogarden/internal/llm/providers"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/tools"
	"github.com/nicodishanthj/echogarden/internal/vector"
)

type fixture struct {
	store   *store.Store
	index   *vector.MemStore
	embed   *tools.TextEmbedTool
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "retrieval.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	index := vector.NewMemStore()
	embed := tools.NewTextEmbedTool(providers.NewLocalProvider(), index)
	service := NewService(st, index, graph.NewService(st), embed, config.DefaultWeights())
	return &fixture{store: st, index: index, embed: embed, service: service}
}

func (f *fixture) addCard(t *testing.T, memoryID, cardType, text, metadata string) {
	t.Helper()
	ctx := context.Background()
	if metadata == "" {
		metadata = "{}"
	}
	if _, _, err := f.store.UpsertCard(ctx, store.MemoryCard{
		MemoryID: memoryID, Type: cardType, Summary: text, ContentText: text, Metadata: metadata,
	}); err != nil {
		t.Fatalf("card %s: %v", memoryID, err)
	}
	if _, err := f.embed.Run(ctx, tools.Inputs{"text": text, "memory_id": memoryID}); err != nil {
		t.Fatalf("embed %s: %v", memoryID, err)
	}
}

func TestRetrieveCombinesFTSAndSemantic(t *testing.T) {
	f := newFixture(t)
	f.addCard(t, "mem_a", "note", "EchoGarden is a local-first knowledge garden.", "")
	f.addCard(t, "mem_b", "note", "Shopping list: milk, eggs, coffee.", "")

	resp, err := f.service.Retrieve(context.Background(), Request{Query: "knowledge garden", TopK: 5})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected at least one result")
	}
	top := resp.Results[0]
	if top.MemoryID != "mem_a" {
		t.Fatalf("expected mem_a on top, got %s", top.MemoryID)
	}
	if top.FinalScore < 0.2 {
		t.Fatalf("expected final_score >= 0.2, got %v", top.FinalScore)
	}
	var hasFTS, hasSemantic bool
	for _, reason := range top.Reasons {
		switch reason {
		case "fts":
			hasFTS = true
		case "semantic":
			hasSemantic = true
		}
	}
	if !hasFTS || !hasSemantic {
		t.Fatalf("expected fts and semantic reasons, got %v", top.Reasons)
	}
}

func TestRetrieveReasonsMatchPositiveSignals(t *testing.T) {
	f := newFixture(t)
	f.addCard(t, "mem_a", "note", "Gardening notes about tomato plants.", "")
	resp, err := f.service.Retrieve(context.Background(), Request{Query: "tomato", TopK: 5})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, hit := range resp.Results {
		if len(hit.Reasons) == 0 {
			t.Fatalf("hit %s has no reasons", hit.MemoryID)
		}
		for _, reason := range hit.Reasons {
			var value float64
			switch reason {
			case "fts":
				value = hit.Signals.FTS
			case "semantic":
				value = hit.Signals.Semantic
			case "graph":
				value = hit.Signals.Graph
			case "recency":
				value = hit.Signals.Recency
			case "source_boost":
				value = hit.Signals.SourceBoost
			default:
				t.Fatalf("unknown reason %q", reason)
			}
			if value <= 0 {
				t.Fatalf("reason %q listed with non-positive contribution %v", reason, value)
			}
		}
	}
}

func TestRetrieveDeterministicTieBreak(t *testing.T) {
	f := newFixture(t)
	// Identical content so every signal ties; order must fall back to id.
	f.addCard(t, "mem_b", "note", "duplicate entry text", "")
	f.addCard(t, "mem_a", "note", "duplicate entry text", "")
	// Pin both cards to one created_at so the recency signal ties too.
	if _, err := f.store.DB().Exec(
		`UPDATE memory_card SET created_at = (SELECT MIN(created_at) FROM memory_card)`); err != nil {
		t.Fatalf("pin created_at: %v", err)
	}
	first, err := f.service.Retrieve(context.Background(), Request{Query: "duplicate entry", TopK: 5})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	second, err := f.service.Retrieve(context.Background(), Request{Query: "duplicate entry", TopK: 5})
	if err != nil {
		t.Fatalf("retrieve again: %v", err)
	}
	if len(first.Results) != 2 || len(second.Results) != 2 {
		t.Fatalf("expected both cards each run: %d / %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		if first.Results[i].MemoryID != second.Results[i].MemoryID {
			t.Fatalf("ordering not deterministic: %v vs %v", first.Results, second.Results)
		}
	}
	if first.Results[0].MemoryID != "mem_a" {
		t.Fatalf("tie should break by memory_id ascending, got %s first", first.Results[0].MemoryID)
	}
}

func TestRetrieveAppliesSourceBoost(t *testing.T) {
	f := newFixture(t)
	f.addCard(t, "mem_doc", "document", "quarterly planning meeting notes", "")
	resp, err := f.service.Retrieve(context.Background(), Request{Query: "planning meeting", TopK: 5})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected a result")
	}
	hit := resp.Results[0]
	if hit.Signals.SourceBoost != 0.03 {
		t.Fatalf("document boost missing: %+v", hit.Signals)
	}
	var boosted bool
	for _, reason := range hit.Reasons {
		if reason == "source_boost" {
			boosted = true
		}
	}
	if !boosted {
		t.Fatalf("source_boost reason missing: %v", hit.Reasons)
	}
}

func TestRetrieveFiltersByCardType(t *testing.T) {
	f := newFixture(t)
	f.addCard(t, "mem_note", "note", "tomato sauce recipe", "")
	f.addCard(t, "mem_doc", "document", "tomato sauce industrial process", "")
	resp, err := f.service.Retrieve(context.Background(), Request{
		Query: "tomato sauce", TopK: 5, Filters: Filters{CardType: "note"},
	})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, hit := range resp.Results {
		if hit.CardType != "note" {
			t.Fatalf("filter leaked card type %s", hit.CardType)
		}
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected exactly the note, got %d", len(resp.Results))
	}
}

type unavailableIndex struct{}

func (unavailableIndex) Available() bool { return false }
func (unavailableIndex) Upsert(ctx context.Context, points []vector.Point) error {
	return nil
}
func (unavailableIndex) Search(ctx context.Context, v []float32, modality string, limit int) ([]vector.Result, error) {
	return nil, nil
}
func (unavailableIndex) Delete(ctx context.Context, ids []string) error { return nil }

func TestRetrieveDegradesToFTSOnly(t *testing.T) {
	f := newFixture(t)
	f.addCard(t, "mem_a", "note", "EchoGarden is a local-first knowledge garden.", "")
	degradedService := NewService(f.store, unavailableIndex{}, graph.NewService(f.store), f.embed, config.DefaultWeights())
	resp, err := degradedService.Retrieve(context.Background(), Request{Query: "knowledge garden", TopK: 5})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if resp.Degraded == "" {
		t.Fatal("expected a degradation note")
	}
	if len(resp.Results) == 0 {
		t.Fatal("fts-only retrieval should still return results")
	}
	for _, reason := range resp.Results[0].Reasons {
		if reason == "semantic" {
			t.Fatal("semantic reason should be absent when the index is down")
		}
	}
}

func TestRetrieveGraphSignal(t *testing.T) {
	f := newFixture(t)
	f.addCard(t, "mem_g", "note", "Planning the rock garden layout.", "")
	ctx := context.Background()
	if err := f.store.UpsertNodes(ctx, []store.GraphNode{
		{NodeID: "mem:mem_g", NodeType: "MemoryCard", Props: `{"label":"mem g"}`},
		{NodeID: "ent:xeriscaping", NodeType: "Concept", Props: `{"label":"Xeriscaping"}`},
	}); err != nil {
		t.Fatalf("nodes: %v", err)
	}
	if err := f.store.UpsertEdges(ctx, []store.GraphEdge{{
		EdgeID: "mentions:mem_g:xeriscaping", FromNode: "mem:mem_g",
		ToNode: "ent:xeriscaping", EdgeType: "MENTIONS", Weight: 0.9,
	}}); err != nil {
		t.Fatalf("edges: %v", err)
	}
	resp, err := f.service.Retrieve(ctx, Request{Query: "xeriscaping", TopK: 5})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("graph signal should surface mem_g")
	}
	var hasGraph bool
	for _, reason := range resp.Results[0].Reasons {
		if reason == "graph" {
			hasGraph = true
		}
	}
	if !hasGraph {
		t.Fatalf("expected graph reason, got %v", resp.Results[0].Reasons)
	}
}
