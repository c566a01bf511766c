package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/tools"
)

// JobPayload is the ingest_blob job body produced by the watcher and the
// capture endpoints.
type JobPayload struct {
	BlobID    string `json:"blob_id"`
	SHA256    string `json:"sha256"`
	Mime      string `json:"mime"`
	SizeBytes int64  `json:"size_bytes"`
	TraceID   string `json:"trace_id"`
}

// IngestResult reports what a pipeline produced.
type IngestResult struct {
	MemoryID string `json:"memory_id"`
	TraceID  string `json:"trace_id"`
	Pipeline string `json:"pipeline"`
	Replayed bool   `json:"replayed,omitempty"`
}

// Orchestrator routes blobs onto pipelines, drives each tool through the
// registry, records the exec DAG, and commits the resulting card.
type Orchestrator struct {
	store    *store.Store
	registry *tools.Registry
	cfg      config.Config
}

func New(st *store.Store, registry *tools.Registry, cfg config.Config) *Orchestrator {
	return &Orchestrator{store: st, registry: registry, cfg: cfg}
}

// IngestBlob processes one ingest_blob job. It is deterministic for a given
// (blob_id, trace_id): a replay returns the already-committed card.
func (o *Orchestrator) IngestBlob(ctx context.Context, payload JobPayload) (IngestResult, error) {
	logger := common.Logger()
	blob, err := o.store.GetBlob(ctx, payload.BlobID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("load blob %s: %w", payload.BlobID, err)
	}

	if payload.TraceID != "" {
		if card, err := o.store.FindCardByBlobTrace(ctx, payload.BlobID, payload.TraceID); err == nil {
			logger.Info("orchestrator: replay detected, returning existing card",
				"blob", payload.BlobID, "memory", card.MemoryID)
			return IngestResult{MemoryID: card.MemoryID, TraceID: payload.TraceID, Replayed: true}, nil
		}
	}

	// A retried job gets a fresh trace so exec rows stay append-only; the
	// watcher-minted id is used only when still unclaimed.
	traceID, err := o.store.CreateTrace(ctx, payload.TraceID, `{"kind":"ingest_blob"}`)
	if err != nil {
		traceID, err = o.store.CreateTrace(ctx, "", `{"kind":"ingest_blob"}`)
		if err != nil {
			return IngestResult{}, err
		}
	}

	pipeline := ChoosePipeline(blob.Mime, blob.Path)
	if payload.SizeBytes > int64(o.cfg.MaxFileMB)*1024*1024 {
		pipeline = PipelinePlaceholder
	}
	logger.Info("orchestrator: pipeline selected",
		"blob", blob.BlobID, "mime", blob.Mime, "pipeline", pipeline, "trace", traceID)

	if pipeline == PipelinePlaceholder {
		return o.commitPlaceholder(ctx, blob, traceID, "unsupported or oversize content")
	}

	memoryID := common.NewID("mem")
	steps := o.buildSteps(pipeline, blob, memoryID, traceID)
	results, runErr := newDagRunner(o.store, o.registry, traceID).run(ctx, steps)
	if runErr != nil {
		if errors.Is(runErr, tools.ErrUnparseable) {
			logger.Warn("orchestrator: parse failed, committing placeholder",
				"blob", blob.BlobID, "error", runErr)
			return o.commitPlaceholder(ctx, blob, traceID, runErr.Error())
		}
		if err := o.store.FinishTrace(context.WithoutCancel(ctx), traceID, store.TraceError); err != nil {
			logger.Warn("orchestrator: trace finish failed", "trace", traceID, "error", err)
		}
		return IngestResult{TraceID: traceID, Pipeline: pipeline}, runErr
	}

	commit := o.buildCommit(pipeline, blob, memoryID, traceID, results)
	committedID, replayed, err := o.store.CommitIngest(ctx, commit)
	if err != nil {
		if finishErr := o.store.FinishTrace(context.WithoutCancel(ctx), traceID, store.TraceError); finishErr != nil {
			logger.Warn("orchestrator: trace finish failed", "trace", traceID, "error", finishErr)
		}
		return IngestResult{TraceID: traceID, Pipeline: pipeline}, err
	}
	logger.Info("orchestrator: ingest committed",
		"memory", committedID, "pipeline", pipeline, "trace", traceID, "replayed", replayed)
	return IngestResult{MemoryID: committedID, TraceID: traceID, Pipeline: pipeline, Replayed: replayed}, nil
}

// buildSteps assembles the pipeline DAG. The image branch runs ocr and
// vision_embed from a common start and joins both before summarizer.
func (o *Orchestrator) buildSteps(pipeline string, blob store.Blob, memoryID, traceID string) []Step {
	blobInputs := func(map[string]tools.Outputs) tools.Inputs {
		return tools.Inputs{"blob_id": blob.BlobID}
	}
	textOf := func(results map[string]tools.Outputs, sources ...string) string {
		var parts []string
		for _, source := range sources {
			if out, ok := results[source]; ok {
				if text, _ := out["text"].(string); strings.TrimSpace(text) != "" {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	}

	var (
		steps       []Step
		contentDeps []string
	)
	switch pipeline {
	case PipelineOCR:
		steps = append(steps,
			Step{Tool: "ocr", Inputs: blobInputs},
			Step{Tool: "vision_embed", Inputs: func(map[string]tools.Outputs) tools.Inputs {
				return tools.Inputs{"blob_id": blob.BlobID, "memory_id": memoryID}
			}},
		)
		contentDeps = []string{"ocr", "vision_embed"}
	case PipelineASR:
		steps = append(steps, Step{Tool: "asr", Inputs: blobInputs})
		contentDeps = []string{"asr"}
	default:
		steps = append(steps, Step{Tool: "doc_parse", Inputs: blobInputs})
		contentDeps = []string{"doc_parse"}
	}
	textSources := contentDeps[:1:1]

	steps = append(steps,
		Step{Tool: "summarizer", DependsOn: contentDeps,
			Inputs: func(results map[string]tools.Outputs) tools.Inputs {
				return tools.Inputs{"text": textOf(results, textSources...)}
			}},
		Step{Tool: "extractor", DependsOn: []string{"summarizer"},
			Inputs: func(results map[string]tools.Outputs) tools.Inputs {
				return tools.Inputs{"text": textOf(results, textSources...)}
			}},
		Step{Tool: "text_embed", DependsOn: []string{"extractor"},
			Inputs: func(results map[string]tools.Outputs) tools.Inputs {
				text := textOf(results, textSources...)
				if summary, _ := results["summarizer"]["summary"].(string); summary != "" {
					text = summary + "\n" + text
				}
				return tools.Inputs{"text": text, "memory_id": memoryID}
			}},
		Step{Tool: "graph_builder", DependsOn: []string{"text_embed"},
			Inputs: func(results map[string]tools.Outputs) tools.Inputs {
				return tools.Inputs{
					"memory_id": memoryID,
					"entities":  results["extractor"]["entities"],
					"label":     filepath.Base(blob.Path),
					"trace_id":  traceID,
				}
			}},
	)
	return steps
}

func (o *Orchestrator) buildCommit(pipeline string, blob store.Blob, memoryID, traceID string,
	results map[string]tools.Outputs) store.IngestCommit {
	var content string
	for _, source := range []string{"doc_parse", "ocr", "asr"} {
		if out, ok := results[source]; ok {
			if text, _ := out["text"].(string); text != "" {
				content = text
				break
			}
		}
	}
	summary, _ := results["summarizer"]["summary"].(string)

	metadata := map[string]interface{}{
		"mime":             blob.Mime,
		"pipeline":         pipeline,
		"pipeline_version": PipelineVersion,
		"file_path":        blob.Path,
		"source_type":      "filesystem",
		"blob_id":          blob.BlobID,
		"media_url":        "/blobs/" + blob.BlobID,
	}
	if strings.HasPrefix(blob.Mime, "image/") {
		metadata["thumb_url"] = "/blobs/" + blob.BlobID
	}
	if out, ok := results["extractor"]; ok {
		metadata["entities"] = out["entities"]
		metadata["tags"] = out["tags"]
		metadata["actions"] = out["actions"]
	}

	var embeddings []store.Embedding
	if out, ok := results["text_embed"]; ok {
		if ref, _ := out["vector_ref"].(string); ref != "" {
			embeddings = append(embeddings, store.Embedding{Modality: "text", VectorRef: ref})
		}
	}
	if out, ok := results["vision_embed"]; ok {
		if ref, _ := out["vector_ref"].(string); ref != "" {
			embeddings = append(embeddings, store.Embedding{Modality: "vision", VectorRef: ref})
		}
	}
	var (
		nodes []store.GraphNode
		edges []store.GraphEdge
	)
	if out, ok := results["graph_builder"]; ok {
		nodes, _ = out["nodes"].([]store.GraphNode)
		edges, _ = out["edges"].([]store.GraphEdge)
	}
	return store.IngestCommit{
		Card: store.MemoryCard{
			MemoryID:    memoryID,
			Type:        cardTypeFor(pipeline),
			SourceTime:  blob.CreatedAt,
			Summary:     summary,
			ContentText: content,
			Metadata:    encodeMetadata(metadata),
			BlobID:      blob.BlobID,
			TraceID:     traceID,
		},
		Embeddings: embeddings,
		Nodes:      nodes,
		Edges:      edges,
		TraceID:    traceID,
	}
}

// commitPlaceholder keeps unparseable or oversize artifacts visible as
// minimal cards.
func (o *Orchestrator) commitPlaceholder(ctx context.Context, blob store.Blob, traceID, reason string) (IngestResult, error) {
	name := filepath.Base(blob.Path)
	metadata := map[string]interface{}{
		"mime":             blob.Mime,
		"pipeline":         PipelinePlaceholder,
		"pipeline_version": PipelineVersion,
		"file_path":        blob.Path,
		"source_type":      "filesystem",
		"blob_id":          blob.BlobID,
		"error":            reason,
	}
	memoryID, replayed, err := o.store.CommitIngest(ctx, store.IngestCommit{
		Card: store.MemoryCard{
			MemoryID:    common.NewID("mem"),
			Type:        "placeholder",
			SourceTime:  blob.CreatedAt,
			Summary:     fmt.Sprintf("Captured %s (%d bytes, %s)", name, blob.SizeBytes, blob.Mime),
			ContentText: "",
			Metadata:    encodeMetadata(metadata),
			BlobID:      blob.BlobID,
			TraceID:     traceID,
		},
		TraceID: traceID,
	})
	if err != nil {
		return IngestResult{TraceID: traceID, Pipeline: PipelinePlaceholder}, err
	}
	return IngestResult{MemoryID: memoryID, TraceID: traceID, Pipeline: PipelinePlaceholder, Replayed: replayed}, nil
}

// IngestText runs the inline text pipeline for /ingest and the browser
// capture endpoints: summarize, extract, embed, graph, commit — no blob.
func (o *Orchestrator) IngestText(ctx context.Context, text, cardType string, extraMeta map[string]interface{}) (IngestResult, error) {
	if strings.TrimSpace(text) == "" {
		return IngestResult{}, fmt.Errorf("text required")
	}
	if cardType == "" {
		cardType = "note"
	}
	traceID, err := o.store.CreateTrace(ctx, "", `{"kind":"ingest_text"}`)
	if err != nil {
		return IngestResult{}, err
	}
	memoryID := common.NewID("mem")
	label := cardType
	if title, _ := extraMeta["title"].(string); title != "" {
		label = title
	}
	steps := []Step{
		{Tool: "summarizer", Inputs: func(map[string]tools.Outputs) tools.Inputs {
			return tools.Inputs{"text": text}
		}},
		{Tool: "extractor", DependsOn: []string{"summarizer"},
			Inputs: func(map[string]tools.Outputs) tools.Inputs {
				return tools.Inputs{"text": text}
			}},
		{Tool: "text_embed", DependsOn: []string{"extractor"},
			Inputs: func(map[string]tools.Outputs) tools.Inputs {
				return tools.Inputs{"text": text, "memory_id": memoryID}
			}},
		{Tool: "graph_builder", DependsOn: []string{"text_embed"},
			Inputs: func(results map[string]tools.Outputs) tools.Inputs {
				return tools.Inputs{
					"memory_id": memoryID,
					"entities":  results["extractor"]["entities"],
					"label":     label,
					"trace_id":  traceID,
				}
			}},
	}
	results, runErr := newDagRunner(o.store, o.registry, traceID).run(ctx, steps)
	if runErr != nil {
		if err := o.store.FinishTrace(context.WithoutCancel(ctx), traceID, store.TraceError); err != nil {
			common.Logger().Warn("orchestrator: trace finish failed", "trace", traceID, "error", err)
		}
		return IngestResult{TraceID: traceID, Pipeline: PipelineText}, runErr
	}

	metadata := map[string]interface{}{
		"pipeline":         PipelineText,
		"pipeline_version": PipelineVersion,
		"source_type":      "api",
	}
	for key, value := range extraMeta {
		metadata[key] = value
	}
	if out, ok := results["extractor"]; ok {
		metadata["entities"] = out["entities"]
		metadata["tags"] = out["tags"]
		metadata["actions"] = out["actions"]
	}
	summary, _ := results["summarizer"]["summary"].(string)
	var embeddings []store.Embedding
	if ref, _ := results["text_embed"]["vector_ref"].(string); ref != "" {
		embeddings = append(embeddings, store.Embedding{Modality: "text", VectorRef: ref})
	}
	var (
		nodes []store.GraphNode
		edges []store.GraphEdge
	)
	if out, ok := results["graph_builder"]; ok {
		nodes, _ = out["nodes"].([]store.GraphNode)
		edges, _ = out["edges"].([]store.GraphEdge)
	}
	memoryID, _, err = o.store.CommitIngest(ctx, store.IngestCommit{
		Card: store.MemoryCard{
			MemoryID:    memoryID,
			Type:        cardType,
			Summary:     summary,
			ContentText: text,
			Metadata:    encodeMetadata(metadata),
			TraceID:     traceID,
		},
		Embeddings: embeddings,
		Nodes:      nodes,
		Edges:      edges,
		TraceID:    traceID,
	})
	if err != nil {
		return IngestResult{TraceID: traceID, Pipeline: PipelineText}, err
	}
	return IngestResult{MemoryID: memoryID, TraceID: traceID, Pipeline: PipelineText}, nil
}

func encodeMetadata(metadata map[string]interface{}) string {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
