package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nicodishanthj/echogarden/internal/store"
)

// GraphBuilderTool turns a card plus its extracted entities into graph
// upserts: the mem: node, one ent: node per entity, and MENTIONS edges.
type GraphBuilderTool struct{}

func NewGraphBuilderTool() *GraphBuilderTool {
	return &GraphBuilderTool{}
}

func (t *GraphBuilderTool) Spec() Spec {
	return Spec{
		Name:        "graph_builder",
		Description: "Derive graph nodes and MENTIONS edges for a memory card.",
		Required:    []string{"memory_id", "entities"},
		InputSchema: map[string]string{
			"memory_id": "string", "entities": "[]{canonical,type}",
			"label": "string", "trace_id": "string",
		},
		OutputSchema: map[string]string{"nodes": "[]node", "edges": "[]edge"},
		TimeoutMS:    10000,
	}
}

func (t *GraphBuilderTool) Run(ctx context.Context, in Inputs) (Outputs, error) {
	memoryID := in.String("memory_id")
	if strings.TrimSpace(memoryID) == "" {
		return nil, fmt.Errorf("memory_id required")
	}
	entities, err := coerceEntities(in["entities"])
	if err != nil {
		return nil, err
	}
	label := in.String("label")
	if label == "" {
		label = memoryID
	}
	traceID := in.String("trace_id")

	memNode := "mem:" + memoryID
	nodes := []store.GraphNode{{
		NodeID:   memNode,
		NodeType: "MemoryCard",
		Props:    propsJSON(map[string]interface{}{"label": label, "memory_id": memoryID}),
	}}
	var edges []store.GraphEdge
	for _, entity := range entities {
		slug := CanonicalSlug(entity.Canonical)
		if slug == "" {
			continue
		}
		entNode := "ent:" + slug
		nodes = append(nodes, store.GraphNode{
			NodeID:   entNode,
			NodeType: entityNodeType(entity.Type),
			Props:    propsJSON(map[string]interface{}{"label": entity.Canonical}),
		})
		edges = append(edges, store.GraphEdge{
			EdgeID:     "mentions:" + memoryID + ":" + slug,
			FromNode:   memNode,
			ToNode:     entNode,
			EdgeType:   "MENTIONS",
			Weight:     0.5,
			CreatedBy:  "graph_builder",
			Confidence: 0.6,
			TraceID:    traceID,
		})
	}
	return Outputs{"nodes": nodes, "edges": edges}, nil
}

func entityNodeType(entityType string) string {
	switch entityType {
	case "Person", "Organization", "Location", "Topic", "Concept":
		return entityType
	default:
		return "Entity"
	}
}

// CanonicalSlug normalizes an entity label into its ent: namespace key.
func CanonicalSlug(canonical string) string {
	lower := strings.ToLower(strings.TrimSpace(canonical))
	var builder strings.Builder
	lastDash := true
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				builder.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(builder.String(), "-")
}

// coerceEntities accepts both the typed form produced in-process and the
// decoded-JSON form arriving through the dev dispatch endpoint.
func coerceEntities(raw interface{}) ([]Entity, error) {
	switch value := raw.(type) {
	case nil:
		return nil, nil
	case []Entity:
		return value, nil
	case []interface{}:
		out := make([]Entity, 0, len(value))
		for _, item := range value {
			entry, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("entity entries must be objects")
			}
			canonical, _ := entry["canonical"].(string)
			entityType, _ := entry["type"].(string)
			if strings.TrimSpace(canonical) == "" {
				continue
			}
			out = append(out, Entity{Canonical: canonical, Type: entityType})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported entities payload %T", raw)
	}
}

func propsJSON(props map[string]interface{}) string {
	encoded, err := json.Marshal(props)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
