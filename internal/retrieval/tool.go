package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nicodishanthj/echogarden/internal/tools"
)

// decodeMetadata tolerates malformed metadata rather than failing a query.
func decodeMetadata(metadata string) map[string]interface{} {
	if metadata == "" {
		return map[string]interface{}{}
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(metadata), &decoded); err != nil {
		return map[string]interface{}{}
	}
	return decoded
}

// Tool exposes the hybrid retriever through the registry so chat retrieval
// steps are recorded like every other dispatch.
type Tool struct {
	service *Service
}

func NewTool(service *Service) *Tool {
	return &Tool{service: service}
}

func (t *Tool) Spec() tools.Spec {
	return tools.Spec{
		Name:        "retrieval",
		Description: "Hybrid search across fts, semantic, graph and recency signals.",
		Required:    []string{"query"},
		InputSchema: map[string]string{
			"query": "string", "top_k": "int", "filters": "{source_type,card_type,time_min,time_max}",
		},
		OutputSchema: map[string]string{"results": "[]hit", "trace": "string"},
		TimeoutMS:    10000,
	}
}

func (t *Tool) Run(ctx context.Context, in tools.Inputs) (tools.Outputs, error) {
	req := Request{
		Query: in.String("query"),
		TopK:  in.Int("top_k"),
	}
	if rawFilters, ok := in["filters"]; ok && rawFilters != nil {
		if err := coerceFilters(rawFilters, &req.Filters); err != nil {
			return nil, err
		}
	}
	resp, err := t.service.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	return tools.Outputs{"results": resp.Results, "trace": resp.Degraded}, nil
}

func coerceFilters(raw interface{}, out *Filters) error {
	switch value := raw.(type) {
	case Filters:
		*out = value
		return nil
	case map[string]interface{}:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode filters: %w", err)
		}
		return json.Unmarshal(encoded, out)
	default:
		return fmt.Errorf("unsupported filters payload %T", raw)
	}
}
