package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/store"
)

// Inputs and Outputs are the typed payload envelopes crossing the registry
// boundary. Validation happens at dispatch, not inside tools.
type (
	Inputs  map[string]interface{}
	Outputs map[string]interface{}
)

// Spec declares a tool's contract: its required input keys, the shape of
// both payloads for introspection, and the dispatch timeout.
type Spec struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Required     []string          `json:"required"`
	InputSchema  map[string]string `json:"input_schema"`
	OutputSchema map[string]string `json:"output_schema"`
	TimeoutMS    int64             `json:"timeout_ms"`
}

// Tool is a named, schema-typed function dispatched through the registry.
type Tool interface {
	Spec() Spec
	Run(ctx context.Context, in Inputs) (Outputs, error)
}

const snapshotLimit = 4096

// Registry is the process-wide tool table. Every ingestion and chat step
// goes through Dispatch so each call is recorded with timing and payload
// snapshots.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	store *store.Store
}

func NewRegistry(st *store.Store) *Registry {
	return &Registry{tools: make(map[string]Tool), store: st}
}

// Register adds a tool at init time. Duplicate names are a wiring bug.
func (r *Registry) Register(tool Tool) error {
	spec := tool.Spec()
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return fmt.Errorf("tool requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Names lists the registered tools, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns a tool's contract for introspection.
func (r *Registry) Schema(name string) (Spec, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Spec{}, fmt.Errorf("unknown tool %q", name)
	}
	return tool.Spec(), nil
}

// Dispatch runs a named tool, enforcing its declared required inputs and
// timeout, and records a ToolCall row with input/output snapshots. The
// returned call id links exec nodes to their dispatch record.
func (r *Registry) Dispatch(ctx context.Context, name string, in Inputs, traceID string) (Outputs, string, error) {
	logger := common.Logger()
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("unknown tool %q", name)
	}
	spec := tool.Spec()
	for _, key := range spec.Required {
		if _, present := in[key]; !present {
			return nil, "", fmt.Errorf("tool %s: missing required input %q", name, key)
		}
	}

	callID := common.NewID("call")
	runCtx := ctx
	if spec.TimeoutMS > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	out, err := tool.Run(runCtx, in)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		if runCtx.Err() == context.DeadlineExceeded {
			status = "timeout"
		}
	}
	call := store.ToolCall{
		CallID:    callID,
		ToolName:  name,
		Inputs:    snapshot(in),
		Outputs:   snapshot(out),
		Status:    status,
		ElapsedMS: elapsed.Milliseconds(),
		TraceID:   traceID,
	}
	if r.store != nil {
		if recordErr := r.store.InsertToolCall(context.WithoutCancel(ctx), call); recordErr != nil {
			logger.Warn("registry: tool call record failed", "tool", name, "error", recordErr)
		}
	}
	if err != nil {
		logger.Debug("registry: dispatch failed", "tool", name, "status", status, "error", err, "dur", elapsed)
		return nil, callID, fmt.Errorf("dispatch %s: %w", name, err)
	}
	logger.Debug("registry: dispatch ok", "tool", name, "dur", elapsed)
	return out, callID, nil
}

func snapshot(payload interface{}) string {
	if payload == nil {
		return "{}"
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	if len(encoded) > snapshotLimit {
		truncated := map[string]interface{}{
			"truncated": true,
			"bytes":     len(encoded),
			"head":      string(encoded[:snapshotLimit]),
		}
		encoded, _ = json.Marshal(truncated)
	}
	return string(encoded)
}

// String pulls a string-valued input key, tolerating absence.
func (in Inputs) String(key string) string {
	value, _ := in[key].(string)
	return value
}

// Int pulls an integer-valued input key; JSON decoding yields float64.
func (in Inputs) Int(key string) int {
	switch v := in[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
