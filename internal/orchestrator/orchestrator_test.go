package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/llm/providers"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/tools"
	"github.com/nicodishanthj/echogarden/internal/vector"
)

type fixture struct {
	store *store.Store
	orch  *Orchestrator
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "orch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Config{
		MaxFileMB: 20, WhisperMode: config.ModeStub, VisionMode: config.ModeStub,
		FusionWeights: config.DefaultWeights(),
	}
	provider := providers.NewLocalProvider()
	index := vector.NewMemStore()
	registry := tools.NewRegistry(st)
	for _, tool := range []tools.Tool{
		tools.NewDocParseTool(st),
		tools.NewOCRTool(st, cfg.VisionMode),
		tools.NewASRTool(st, cfg.WhisperMode),
		tools.NewTextEmbedTool(provider, index),
		tools.NewVisionEmbedTool(st, index, cfg.VisionMode),
		tools.NewSummarizerTool(provider),
		tools.NewExtractorTool(),
		tools.NewGraphBuilderTool(),
	} {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return &fixture{store: st, orch: New(st, registry, cfg), dir: dir}
}

// captureBlob writes a file and records its source/blob rows the way the
// watcher would.
func (f *fixture) captureBlob(t *testing.T, name string, contents []byte, mimeType string) store.Blob {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	sourceID, err := f.store.UpsertSource(ctx, "filesystem", path)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	blobID, err := f.store.InsertBlob(ctx, store.Blob{
		SHA256: "deadbeef", Path: path, Mime: mimeType,
		SizeBytes: int64(len(contents)), SourceID: sourceID,
	})
	if err != nil {
		t.Fatalf("blob: %v", err)
	}
	blob, err := f.store.GetBlob(ctx, blobID)
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	return blob
}

func TestChoosePipeline(t *testing.T) {
	cases := []struct {
		mime, path, want string
	}{
		{"text/plain", "/w/a.txt", PipelineDoc},
		{"application/pdf", "/w/a.pdf", PipelineDoc},
		{"image/png", "/w/a.png", PipelineOCR},
		{"application/octet-stream", "/w/photo.jpeg", PipelineOCR},
		{"audio/mpeg", "/w/a.mp3", PipelineASR},
		{"application/octet-stream", "/w/a.flac", PipelineASR},
		{"application/octet-stream", "/w/a.bin", PipelinePlaceholder},
	}
	for _, tc := range cases {
		if got := ChoosePipeline(tc.mime, tc.path); got != tc.want {
			t.Fatalf("ChoosePipeline(%q, %q) = %q, want %q", tc.mime, tc.path, got, tc.want)
		}
	}
}

func TestIngestTextRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, err := f.orch.IngestText(ctx, "EchoGarden is a local-first knowledge garden.", "note", nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	card, err := f.store.GetCard(ctx, result.MemoryID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if card.ContentText != "EchoGarden is a local-first knowledge garden." {
		t.Fatalf("content round trip failed: %q", card.ContentText)
	}
	if card.Summary == "" {
		t.Fatal("expected non-empty summary")
	}
	if len(card.Summary) > 400 {
		t.Fatalf("summary too long: %d", len(card.Summary))
	}
	trace, err := f.store.GetTrace(ctx, result.TraceID)
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if trace.Status != store.TraceOK {
		t.Fatalf("trace should be ok, got %s", trace.Status)
	}
	if _, err := f.store.GetNode(ctx, "mem:"+result.MemoryID); err != nil {
		t.Fatalf("mem node missing: %v", err)
	}
}

func TestIngestBlobDocPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := f.captureBlob(t, "notes.txt", []byte("Meeting notes about the Garden Project."), "text/plain")

	result, err := f.orch.IngestBlob(ctx, JobPayload{
		BlobID: blob.BlobID, SHA256: blob.SHA256, Mime: blob.Mime,
		SizeBytes: blob.SizeBytes, TraceID: "tr_doc_1",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Pipeline != PipelineDoc {
		t.Fatalf("expected doc pipeline, got %s", result.Pipeline)
	}
	card, err := f.store.GetCard(ctx, result.MemoryID)
	if err != nil {
		t.Fatalf("card: %v", err)
	}
	if card.Type != "document" || card.BlobID != blob.BlobID {
		t.Fatalf("unexpected card: %+v", card)
	}
	embeddings, err := f.store.CardEmbeddings(ctx, result.MemoryID)
	if err != nil {
		t.Fatalf("embeddings: %v", err)
	}
	if len(embeddings) != 1 || embeddings[0].Modality != "text" {
		t.Fatalf("expected one text embedding, got %+v", embeddings)
	}
}

func TestIngestBlobReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := f.captureBlob(t, "replay.txt", []byte("Replay me."), "text/plain")
	payload := JobPayload{
		BlobID: blob.BlobID, SHA256: blob.SHA256, Mime: blob.Mime,
		SizeBytes: blob.SizeBytes, TraceID: "tr_replay",
	}
	first, err := f.orch.IngestBlob(ctx, payload)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := f.orch.IngestBlob(ctx, payload)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !second.Replayed {
		t.Fatal("second run should be detected as a replay")
	}
	if first.MemoryID != second.MemoryID {
		t.Fatalf("replay produced a different card: %s vs %s", first.MemoryID, second.MemoryID)
	}
	count, err := f.store.CountCards(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one card, got %d", count)
	}
}

func TestImageIngestExecTraceShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := f.captureBlob(t, "photo.png", []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}, "image/png")

	result, err := f.orch.IngestBlob(ctx, JobPayload{
		BlobID: blob.BlobID, SHA256: blob.SHA256, Mime: blob.Mime,
		SizeBytes: blob.SizeBytes, TraceID: "tr_img",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	nodes, err := f.store.TraceNodes(ctx, result.TraceID)
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	wantTools := map[string]bool{
		"ocr": false, "vision_embed": false, "summarizer": false,
		"extractor": false, "text_embed": false, "graph_builder": false,
	}
	nodeIDByTool := map[string]string{}
	for _, node := range nodes {
		if _, wanted := wantTools[node.ToolName]; wanted {
			wantTools[node.ToolName] = true
			nodeIDByTool[node.ToolName] = node.ExecNodeID
		}
		if node.State != store.NodeOK {
			t.Fatalf("node %s not ok: %s", node.ToolName, node.State)
		}
	}
	for tool, seen := range wantTools {
		if !seen {
			t.Fatalf("exec trace missing node for %s", tool)
		}
	}
	edges, err := f.store.TraceEdges(ctx, result.TraceID)
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	intoSummarizer := map[string]bool{}
	for _, edge := range edges {
		if edge.ToNode == nodeIDByTool["summarizer"] {
			if edge.Condition != store.EdgeOnOK {
				t.Fatalf("summarizer edge condition %s", edge.Condition)
			}
			intoSummarizer[edge.FromNode] = true
		}
	}
	if !intoSummarizer[nodeIDByTool["ocr"]] || !intoSummarizer[nodeIDByTool["vision_embed"]] {
		t.Fatal("summarizer should join both ocr and vision_embed")
	}
	embeddings, err := f.store.CardEmbeddings(ctx, result.MemoryID)
	if err != nil {
		t.Fatalf("embeddings: %v", err)
	}
	modalities := map[string]bool{}
	for _, embedding := range embeddings {
		modalities[embedding.Modality] = true
	}
	if !modalities["text"] || !modalities["vision"] {
		t.Fatalf("expected text and vision embeddings, got %+v", embeddings)
	}
}

func TestUnparseableBlobCommitsPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	binary := make([]byte, 64)
	for i := range binary {
		binary[i] = byte(i % 7)
	}
	blob := f.captureBlob(t, "data.txt", binary, "text/plain")
	result, err := f.orch.IngestBlob(ctx, JobPayload{
		BlobID: blob.BlobID, Mime: blob.Mime, SizeBytes: blob.SizeBytes, TraceID: "tr_bin",
	})
	if err != nil {
		t.Fatalf("ingest should fall back to placeholder: %v", err)
	}
	card, err := f.store.GetCard(ctx, result.MemoryID)
	if err != nil {
		t.Fatalf("card: %v", err)
	}
	if card.Type != "placeholder" {
		t.Fatalf("expected placeholder card, got %s", card.Type)
	}
}

func TestOversizeBlobSkipsContentPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blob := f.captureBlob(t, "big.txt", []byte("small on disk"), "text/plain")
	result, err := f.orch.IngestBlob(ctx, JobPayload{
		BlobID: blob.BlobID, Mime: blob.Mime,
		SizeBytes: 21 * 1024 * 1024, TraceID: "tr_big",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Pipeline != PipelinePlaceholder {
		t.Fatalf("oversize blob should take the placeholder path, got %s", result.Pipeline)
	}
	card, err := f.store.GetCard(ctx, result.MemoryID)
	if err != nil {
		t.Fatalf("card: %v", err)
	}
	if card.ContentText != "" {
		t.Fatal("oversize blob content must not be parsed")
	}
}
