package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nicodishanthj/echogarden/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st), st
}

// seedChain builds mem:a -> ent:x -> mem:b (via MENTIONS edges in both
// directions of traversal) plus a weaker ent:y branch.
func seedChain(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	nodes := []store.GraphNode{
		{NodeID: "mem:a", NodeType: "MemoryCard", Props: `{"label":"card a"}`},
		{NodeID: "mem:b", NodeType: "MemoryCard", Props: `{"label":"card b"}`},
		{NodeID: "ent:x", NodeType: "Concept", Props: `{"label":"Xylophone"}`},
		{NodeID: "ent:y", NodeType: "Concept", Props: `{"label":"Yarn"}`},
	}
	if err := svc.UpsertNodes(ctx, nodes); err != nil {
		t.Fatalf("seed nodes: %v", err)
	}
	edges := []store.GraphEdge{
		{EdgeID: "e1", FromNode: "mem:a", ToNode: "ent:x", EdgeType: "MENTIONS", Weight: 0.9, ValidFrom: "2026-01-02T00:00:00Z"},
		{EdgeID: "e2", FromNode: "mem:b", ToNode: "ent:x", EdgeType: "MENTIONS", Weight: 0.8, ValidFrom: "2026-01-03T00:00:00Z"},
		{EdgeID: "e3", FromNode: "mem:a", ToNode: "ent:y", EdgeType: "MENTIONS", Weight: 0.2, ValidFrom: "2026-01-01T00:00:00Z"},
	}
	if err := svc.UpsertEdges(ctx, edges); err != nil {
		t.Fatalf("seed edges: %v", err)
	}
}

func TestExpandTwoHopsIsSupersetOfOne(t *testing.T) {
	svc, _ := newTestService(t)
	seedChain(t, svc)
	ctx := context.Background()

	oneHop, err := svc.Expand(ctx, ExpandRequest{Seeds: []string{"mem:a"}, Hops: 1, MaxNodes: 100, MaxEdges: 100})
	if err != nil {
		t.Fatalf("one hop: %v", err)
	}
	twoHop, err := svc.Expand(ctx, ExpandRequest{Seeds: []string{"mem:a"}, Hops: 2, MaxNodes: 100, MaxEdges: 100})
	if err != nil {
		t.Fatalf("two hop: %v", err)
	}
	oneIDs := map[string]struct{}{}
	for _, node := range oneHop.Nodes {
		oneIDs[node.NodeID] = struct{}{}
	}
	twoIDs := map[string]struct{}{}
	for _, node := range twoHop.Nodes {
		twoIDs[node.NodeID] = struct{}{}
	}
	for id := range oneIDs {
		if _, ok := twoIDs[id]; !ok {
			t.Fatalf("two-hop result missing one-hop node %s", id)
		}
	}
	if _, ok := twoIDs["mem:b"]; !ok {
		t.Fatal("two-hop expansion should reach mem:b through ent:x")
	}
	if _, ok := oneIDs["mem:b"]; ok {
		t.Fatal("one-hop expansion should not reach mem:b")
	}
}

func TestExpandHonorsMaxNodes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	nodes := []store.GraphNode{{NodeID: "mem:hub", NodeType: "MemoryCard", Props: `{"label":"hub"}`}}
	var edges []store.GraphEdge
	for i := 0; i < 20; i++ {
		nodeID := fmt.Sprintf("ent:spoke-%02d", i)
		nodes = append(nodes, store.GraphNode{NodeID: nodeID, NodeType: "Concept", Props: `{"label":"spoke"}`})
		edges = append(edges, store.GraphEdge{
			EdgeID: fmt.Sprintf("spoke-%02d", i), FromNode: "mem:hub", ToNode: nodeID,
			EdgeType: "MENTIONS", Weight: 0.5,
		})
	}
	if err := svc.UpsertNodes(ctx, nodes); err != nil {
		t.Fatalf("nodes: %v", err)
	}
	if err := svc.UpsertEdges(ctx, edges); err != nil {
		t.Fatalf("edges: %v", err)
	}
	subgraph, err := svc.Expand(ctx, ExpandRequest{Seeds: []string{"mem:hub"}, Hops: 2, MaxNodes: 5, MaxEdges: 100})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(subgraph.Nodes) > 5 {
		t.Fatalf("max_nodes violated: %d", len(subgraph.Nodes))
	}
}

func TestExpandPrefersHigherWeightAtBoundary(t *testing.T) {
	svc, _ := newTestService(t)
	seedChain(t, svc)
	// Room for the seed plus exactly one neighbor: the heavier edge wins.
	subgraph, err := svc.Expand(context.Background(), ExpandRequest{
		Seeds: []string{"mem:a"}, Hops: 1, MaxNodes: 2, MaxEdges: 1,
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(subgraph.Edges) != 1 || subgraph.Edges[0].EdgeID != "e1" {
		t.Fatalf("expected heaviest edge e1 first, got %+v", subgraph.Edges)
	}
}

func TestExpandFiltersEdgeTypes(t *testing.T) {
	svc, _ := newTestService(t)
	seedChain(t, svc)
	ctx := context.Background()
	if err := svc.UpsertEdges(ctx, []store.GraphEdge{{
		EdgeID: "rel1", FromNode: "ent:x", ToNode: "ent:y", EdgeType: "RELATED_TO", Weight: 0.7,
	}}); err != nil {
		t.Fatalf("edge: %v", err)
	}
	subgraph, err := svc.Expand(ctx, ExpandRequest{
		Seeds: []string{"ent:x"}, Hops: 1, EdgeTypes: []string{"RELATED_TO"},
		MaxNodes: 10, MaxEdges: 10,
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	for _, edge := range subgraph.Edges {
		if edge.EdgeType != "RELATED_TO" {
			t.Fatalf("edge type filter leaked %s", edge.EdgeType)
		}
	}
	if len(subgraph.Edges) != 1 {
		t.Fatalf("expected exactly the RELATED_TO edge, got %d", len(subgraph.Edges))
	}
}

func TestSearchPrefixBeforeSubstring(t *testing.T) {
	svc, _ := newTestService(t)
	seedChain(t, svc)
	ctx := context.Background()
	if err := svc.UpsertNodes(ctx, []store.GraphNode{
		{NodeID: "ent:xyl2", NodeType: "Concept", Props: `{"label":"Another Xylophone"}`},
	}); err != nil {
		t.Fatalf("node: %v", err)
	}
	nodes, err := svc.Search(ctx, "xylo", "", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(nodes) < 2 {
		t.Fatalf("expected both xylophone nodes, got %d", len(nodes))
	}
	if nodes[0].NodeID != "ent:x" {
		t.Fatalf("prefix match should rank first, got %s", nodes[0].NodeID)
	}
}

func TestCardsMentioningAveragesEdgeWeight(t *testing.T) {
	svc, _ := newTestService(t)
	seedChain(t, svc)
	scores, err := svc.CardsMentioning(context.Background(), "Xylophone", 10)
	if err != nil {
		t.Fatalf("cards mentioning: %v", err)
	}
	want := map[string]float64{"a": 0.9, "b": 0.8}
	if diff := cmp.Diff(want, scores); diff != "" {
		t.Fatalf("unexpected scores (-want +got):\n%s", diff)
	}
}
