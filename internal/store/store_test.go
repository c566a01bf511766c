package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCardIdempotencyByBlobTrace(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first := MemoryCard{
		MemoryID: "mem_1", Type: "document", Summary: "a summary",
		ContentText: "hello world", BlobID: "blob_1", TraceID: "tr_1",
	}
	id, existed, err := st.UpsertCard(ctx, first)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if existed || id != "mem_1" {
		t.Fatalf("expected fresh insert of mem_1, got id=%s existed=%v", id, existed)
	}

	replay := first
	replay.MemoryID = "mem_2"
	id, existed, err = st.UpsertCard(ctx, replay)
	if err != nil {
		t.Fatalf("replay upsert: %v", err)
	}
	if !existed || id != "mem_1" {
		t.Fatalf("replay should return existing mem_1, got id=%s existed=%v", id, existed)
	}
	count, err := st.CountCards(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one card, got %d", count)
	}
}

func TestFTSSearchFindsCardText(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, _, err := st.UpsertCard(ctx, MemoryCard{
		MemoryID: "mem_fts", Type: "note",
		Summary:     "EchoGarden is a local-first knowledge garden.",
		ContentText: "EchoGarden is a local-first knowledge garden.",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	hits, err := st.SearchCards(ctx, "knowledge garden", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one fts hit")
	}
	if hits[0].MemoryID != "mem_fts" {
		t.Fatalf("unexpected hit %q", hits[0].MemoryID)
	}
}

func TestFTSQuerySurvivesPunctuation(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.SearchCards(context.Background(), `"quoted" (parens) 'odd`, 10); err != nil {
		t.Fatalf("punctuated query should not error: %v", err)
	}
}

func TestJobLeaseFailRetryDead(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	jobID, err := st.EnqueueJob(ctx, "ingest_blob", `{"blob_id":"b"}`, "tr_x")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := st.LeaseJob(ctx, "w1", []string{"ingest_blob"}, time.Now())
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if job.JobID != jobID || job.Status != JobRunning {
		t.Fatalf("unexpected lease result: %+v", job)
	}
	// A second lease must find nothing while the job is running.
	if _, err := st.LeaseJob(ctx, "w2", []string{"ingest_blob"}, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no leasable jobs, got err=%v", err)
	}

	if err := st.FailJob(ctx, jobID, "boom", 2); err != nil {
		t.Fatalf("fail: %v", err)
	}
	failed, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.Status != JobError || failed.Attempts != 1 {
		t.Fatalf("expected error status with one attempt, got %+v", failed)
	}
	if failed.NextRunMS <= time.Now().UnixMilli() {
		t.Fatal("backoff should schedule the retry in the future")
	}
	// Not due yet.
	if _, err := st.LeaseJob(ctx, "w1", []string{"ingest_blob"}, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected backoff to hide the job, got err=%v", err)
	}
	// Due at its scheduled time.
	due := time.UnixMilli(failed.NextRunMS + 1)
	if _, err := st.LeaseJob(ctx, "w1", []string{"ingest_blob"}, due); err != nil {
		t.Fatalf("lease after backoff: %v", err)
	}
	if err := st.FailJob(ctx, jobID, "boom again", 2); err != nil {
		t.Fatalf("second fail: %v", err)
	}
	dead, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get dead: %v", err)
	}
	if dead.Status != JobDead || dead.Attempts != 2 {
		t.Fatalf("expected dead job after max attempts, got %+v", dead)
	}
}

func TestJobFIFOWithinType(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	first, _ := st.EnqueueJob(ctx, "ingest_blob", `{}`, "")
	time.Sleep(2 * time.Millisecond)
	if _, err := st.EnqueueJob(ctx, "ingest_blob", `{}`, ""); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	job, err := st.LeaseJob(ctx, "w1", []string{"ingest_blob"}, time.Now())
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if job.JobID != first {
		t.Fatalf("expected oldest job first, got %s want %s", job.JobID, first)
	}
}

func TestGraphUpsertIdempotentAndWeightAccumulates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	nodes := []GraphNode{
		{NodeID: "mem:1", NodeType: "MemoryCard", Props: `{"label":"one"}`},
		{NodeID: "ent:go", NodeType: "Concept", Props: `{"label":"Go"}`},
	}
	if err := st.UpsertNodes(ctx, nodes); err != nil {
		t.Fatalf("upsert nodes: %v", err)
	}
	if err := st.UpsertNodes(ctx, nodes); err != nil {
		t.Fatalf("repeat upsert nodes: %v", err)
	}
	counts, err := st.CountNodes(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["MemoryCard"] != 1 || counts["Concept"] != 1 {
		t.Fatalf("repeated upsert changed row counts: %v", counts)
	}

	edge := GraphEdge{
		EdgeID: "mentions:1:go", FromNode: "mem:1", ToNode: "ent:go",
		EdgeType: "MENTIONS", Weight: 0.5,
	}
	if err := st.UpsertEdges(ctx, []GraphEdge{edge}); err != nil {
		t.Fatalf("upsert edge: %v", err)
	}
	if err := st.UpsertEdges(ctx, []GraphEdge{edge}); err != nil {
		t.Fatalf("repeat upsert edge: %v", err)
	}
	edges, err := st.EdgesTouching(ctx, "mem:1", "out", nil)
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected one edge, got %d", len(edges))
	}
	if edges[0].Weight <= 0.5 || edges[0].Weight > 1 {
		t.Fatalf("repeat upsert should accumulate weight in (0.5, 1], got %v", edges[0].Weight)
	}
}

func TestEdgeEndpointsMustExist(t *testing.T) {
	st := openTestStore(t)
	err := st.UpsertEdges(context.Background(), []GraphEdge{{
		EdgeID: "e1", FromNode: "mem:missing", ToNode: "ent:missing", EdgeType: "MENTIONS",
	}})
	if err == nil {
		t.Fatal("expected error for dangling edge endpoints")
	}
}

func TestExecTraceLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	traceID, err := st.CreateTrace(ctx, "", `{"kind":"test"}`)
	if err != nil {
		t.Fatalf("create trace: %v", err)
	}
	firstNode, err := st.CreateExecNode(ctx, ExecNode{TraceID: traceID, ToolName: "doc_parse", TimeoutMS: 1000})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	if err := st.FinishExecNode(ctx, firstNode, NodeOK, "call_1", ""); err != nil {
		t.Fatalf("finish node: %v", err)
	}
	secondNode, err := st.CreateExecNode(ctx, ExecNode{TraceID: traceID, ToolName: "summarizer", TimeoutMS: 1000})
	if err != nil {
		t.Fatalf("create second node: %v", err)
	}
	if err := st.FinishExecNode(ctx, secondNode, NodeOK, "call_2", ""); err != nil {
		t.Fatalf("finish second node: %v", err)
	}
	if err := st.CreateExecEdge(ctx, traceID, firstNode, secondNode, EdgeOnOK); err != nil {
		t.Fatalf("create edge: %v", err)
	}
	if err := st.FinishTrace(ctx, traceID, TraceOK); err != nil {
		t.Fatalf("finish trace: %v", err)
	}

	trace, err := st.GetTrace(ctx, traceID)
	if err != nil {
		t.Fatalf("get trace: %v", err)
	}
	if trace.Status != TraceOK || trace.FinishedMS == 0 {
		t.Fatalf("trace not sealed: %+v", trace)
	}
	nodes, err := st.TraceNodes(ctx, traceID)
	if err != nil {
		t.Fatalf("trace nodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected two nodes, got %d", len(nodes))
	}
	edges, err := st.TraceEdges(ctx, traceID)
	if err != nil {
		t.Fatalf("trace edges: %v", err)
	}
	if len(edges) != 1 || edges[0].Condition != EdgeOnOK {
		t.Fatalf("unexpected edges: %+v", edges)
	}
	// Causal order: the predecessor finished before the successor started.
	byID := map[string]ExecNode{}
	for _, node := range nodes {
		byID[node.ExecNodeID] = node
	}
	if byID[firstNode].FinishedMS > byID[secondNode].StartedMS {
		t.Fatalf("edge violates causal order: %d > %d",
			byID[firstNode].FinishedMS, byID[secondNode].StartedMS)
	}
}

func TestConversationTurnsAndCitations(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	conversationID, err := st.EnsureConversation(ctx, "", "What is EchoGarden?")
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}
	turnID, err := st.AppendTurn(ctx, Turn{
		ConversationID: conversationID,
		UserText:       "What is EchoGarden?",
		AssistantText:  "A knowledge garden. [notes.txt]",
		Verdict:        "pass",
	}, []ChatCitation{{MemoryID: "mem_1", Quote: "A knowledge garden."}})
	if err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if turnID == "" {
		t.Fatal("expected a turn id")
	}
	turns, err := st.ConversationTurns(ctx, conversationID)
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(turns) != 1 || turns[0].Verdict != "pass" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
	if _, err := st.ConversationTurns(ctx, "conv_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown conversation, got %v", err)
	}
}

func TestSearchHistoryRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.LogSearch(ctx, SearchQuery{QueryText: "garden", ResultCount: 3}); err != nil {
		t.Fatalf("log: %v", err)
	}
	history, err := st.SearchHistory(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].QueryText != "garden" || history[0].ResultCount != 3 {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestDeleteCardCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	memoryID, _, err := st.CommitIngest(ctx, IngestCommit{
		Card: MemoryCard{MemoryID: "mem_del", Type: "note", Summary: "s", ContentText: "c"},
		Embeddings: []Embedding{
			{Modality: "text", VectorRef: "vec_1"},
		},
		Nodes: []GraphNode{
			{NodeID: "mem:mem_del", NodeType: "MemoryCard", Props: `{"label":"s"}`},
			{NodeID: "ent:thing", NodeType: "Concept", Props: `{"label":"Thing"}`},
		},
		Edges: []GraphEdge{{
			EdgeID: "mentions:mem_del:thing", FromNode: "mem:mem_del",
			ToNode: "ent:thing", EdgeType: "MENTIONS", Weight: 0.5,
		}},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := st.DeleteCard(ctx, memoryID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetCard(ctx, memoryID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("card should be gone, got %v", err)
	}
	embeddings, err := st.CardEmbeddings(ctx, memoryID)
	if err != nil {
		t.Fatalf("embeddings: %v", err)
	}
	if len(embeddings) != 0 {
		t.Fatalf("embeddings should cascade, got %d", len(embeddings))
	}
	pruned, err := st.PruneOrphanEntities(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected one orphan entity pruned, got %d", pruned)
	}
}
