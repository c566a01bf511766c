package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nicodishanthj/echogarden/internal/llm/providers"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/vector"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

type echoTool struct{}

func (echoTool) Spec() Spec {
	return Spec{
		Name:         "echo",
		Description:  "Echo the input text.",
		Required:     []string{"text"},
		InputSchema:  map[string]string{"text": "string"},
		OutputSchema: map[string]string{"text": "string"},
		TimeoutMS:    1000,
	}
}

func (echoTool) Run(ctx context.Context, in Inputs) (Outputs, error) {
	return Outputs{"text": in.String("text")}, nil
}

type failingTool struct{}

func (failingTool) Spec() Spec {
	return Spec{Name: "boom", Required: []string{"text"}, TimeoutMS: 1000}
}

func (failingTool) Run(ctx context.Context, in Inputs) (Outputs, error) {
	return nil, fmt.Errorf("deliberate failure")
}

func TestDispatchValidatesRequiredInputs(t *testing.T) {
	st := openTestStore(t)
	registry := NewRegistry(st)
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := registry.Dispatch(context.Background(), "echo", Inputs{}, ""); err == nil {
		t.Fatal("expected missing-input error")
	}
	out, callID, err := registry.Dispatch(context.Background(), "echo", Inputs{"text": "hi"}, "")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out["text"] != "hi" || callID == "" {
		t.Fatalf("unexpected dispatch result: %v / %q", out, callID)
	}
}

func TestDispatchRecordsToolCall(t *testing.T) {
	st := openTestStore(t)
	registry := NewRegistry(st)
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(failingTool{}); err != nil {
		t.Fatalf("register failing: %v", err)
	}
	ctx := context.Background()
	traceID, err := st.CreateTrace(ctx, "", "{}")
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if _, _, err := registry.Dispatch(ctx, "echo", Inputs{"text": "hi"}, traceID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, _, err := registry.Dispatch(ctx, "boom", Inputs{"text": "hi"}, traceID); err == nil {
		t.Fatal("expected failing dispatch to error")
	}
	calls, err := st.ListToolCalls(ctx, traceID, 10)
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected two recorded calls, got %d", len(calls))
	}
	statuses := map[string]string{}
	for _, call := range calls {
		statuses[call.ToolName] = call.Status
	}
	if statuses["echo"] != "ok" || statuses["boom"] != "error" {
		t.Fatalf("unexpected call statuses: %v", statuses)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	registry := NewRegistry(openTestStore(t))
	if _, _, err := registry.Dispatch(context.Background(), "nope", Inputs{}, ""); err == nil {
		t.Fatal("expected unknown tool error")
	}
}

func TestExtractorRespectsCaps(t *testing.T) {
	tool := NewExtractorTool()
	var builder strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&builder, "Entity%c%d is working with Partner%c%d. ", 'A'+i%26, i, 'A'+i%26, i)
	}
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&builder, "#tag%d ", i)
	}
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&builder, "\nTODO: follow up on item %d", i)
	}
	out, err := tool.Run(context.Background(), Inputs{"text": builder.String()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	entities := out["entities"].([]interface{})
	tags := out["tags"].([]interface{})
	actions := out["actions"].([]interface{})
	if len(entities) > 30 {
		t.Fatalf("entities cap violated: %d", len(entities))
	}
	if len(tags) > 12 {
		t.Fatalf("tags cap violated: %d", len(tags))
	}
	if len(actions) > 10 {
		t.Fatalf("actions cap violated: %d", len(actions))
	}
}

func TestExtractorFindsNamedEntities(t *testing.T) {
	tool := NewExtractorTool()
	out, err := tool.Run(context.Background(),
		Inputs{"text": "Ada Lovelace wrote about the Analytical Engine. #history"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	entities := out["entities"].([]interface{})
	var found bool
	for _, raw := range entities {
		entry := raw.(map[string]interface{})
		if entry["canonical"] == "Ada Lovelace" {
			found = true
			if entry["type"] != "Person" {
				t.Fatalf("expected Person type for Ada Lovelace, got %v", entry["type"])
			}
		}
	}
	if !found {
		t.Fatalf("Ada Lovelace not extracted: %v", entities)
	}
	tags := out["tags"].([]interface{})
	if len(tags) == 0 || tags[0] != "history" {
		t.Fatalf("hashtag not extracted: %v", tags)
	}
}

func TestSummarizerCapsLength(t *testing.T) {
	tool := NewSummarizerTool(providers.NewLocalProvider())
	long := strings.Repeat("This is a fairly long sentence about nothing in particular. ", 40)
	out, err := tool.Run(context.Background(), Inputs{"text": long})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	summary := out["summary"].(string)
	if len(summary) == 0 || len(summary) > 400 {
		t.Fatalf("summary length out of bounds: %d", len(summary))
	}
}

func TestGraphBuilderEmitsNamespacedNodes(t *testing.T) {
	tool := NewGraphBuilderTool()
	out, err := tool.Run(context.Background(), Inputs{
		"memory_id": "mem_7",
		"entities":  []Entity{{Canonical: "Ada Lovelace", Type: "Person"}},
		"label":     "notes.txt",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	nodes := out["nodes"].([]store.GraphNode)
	edges := out["edges"].([]store.GraphEdge)
	if len(nodes) != 2 {
		t.Fatalf("expected mem + ent node, got %d", len(nodes))
	}
	if nodes[0].NodeID != "mem:mem_7" || nodes[1].NodeID != "ent:ada-lovelace" {
		t.Fatalf("unexpected node ids: %s, %s", nodes[0].NodeID, nodes[1].NodeID)
	}
	if len(edges) != 1 || edges[0].EdgeType != "MENTIONS" {
		t.Fatalf("unexpected edges: %+v", edges)
	}
	if edges[0].Weight < 0 || edges[0].Weight > 1 {
		t.Fatalf("edge weight outside [0,1]: %v", edges[0].Weight)
	}
}

func TestTextEmbedStoresPoint(t *testing.T) {
	index := vector.NewMemStore()
	tool := NewTextEmbedTool(providers.NewLocalProvider(), index)
	out, err := tool.Run(context.Background(), Inputs{"text": "knowledge garden", "memory_id": "mem_9"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	ref := out["vector_ref"].(string)
	if ref == "" {
		t.Fatal("expected a vector_ref")
	}
	if index.Len() != 1 {
		t.Fatalf("expected one stored point, got %d", index.Len())
	}
	query, err := tool.EmbedQuery(context.Background(), "knowledge garden")
	if err != nil {
		t.Fatalf("embed query: %v", err)
	}
	results, err := index.Search(context.Background(), query, vector.ModalityText, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].MemoryID != "mem_9" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Score < 0.99 {
		t.Fatalf("identical text should score ~1, got %v", results[0].Score)
	}
}

func TestCanonicalSlug(t *testing.T) {
	cases := map[string]string{
		"Ada Lovelace":   "ada-lovelace",
		"  Go  ":         "go",
		"C++ (language)": "c-language",
	}
	for input, want := range cases {
		if got := CanonicalSlug(input); got != want {
			t.Fatalf("slug(%q) = %q, want %q", input, got, want)
		}
	}
}
