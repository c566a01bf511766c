package store

// Source is one external origin of captured artifacts.
type Source struct {
	SourceID   string `db:"source_id" json:"source_id"`
	SourceType string `db:"source_type" json:"source_type"`
	URI        string `db:"uri" json:"uri"`
	CreatedAt  string `db:"created_at" json:"created_at"`
}

// Blob is a content-addressed captured binary.
type Blob struct {
	BlobID    string `db:"blob_id" json:"blob_id"`
	SHA256    string `db:"sha256" json:"sha256"`
	Path      string `db:"path" json:"path"`
	Mime      string `db:"mime" json:"mime"`
	SizeBytes int64  `db:"size_bytes" json:"size_bytes"`
	SourceID  string `db:"source_id" json:"source_id"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

// FileState tracks the last observed stat of a watched path.
type FileState struct {
	Path       string `db:"path" json:"path"`
	MtimeNS    int64  `db:"mtime_ns" json:"mtime_ns"`
	SizeBytes  int64  `db:"size_bytes" json:"size_bytes"`
	SHA256     string `db:"sha256" json:"sha256"`
	LastSeenAt string `db:"last_seen_at" json:"last_seen_at"`
}

// Job statuses.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobError   = "error"
	JobDead    = "dead"
)

// Job is one queued unit of work.
type Job struct {
	JobID     string `db:"job_id" json:"job_id"`
	Type      string `db:"type" json:"type"`
	Status    string `db:"status" json:"status"`
	Attempts  int    `db:"attempts" json:"attempts"`
	NextRunMS int64  `db:"next_run_ms" json:"next_run_ms"`
	Payload   string `db:"payload" json:"payload"`
	ErrorText string `db:"error_text" json:"error_text,omitempty"`
	TraceID   string `db:"trace_id" json:"trace_id,omitempty"`
	WorkerID  string `db:"worker_id" json:"worker_id,omitempty"`
	CreatedMS int64  `db:"created_ms" json:"created_ms"`
	UpdatedMS int64  `db:"updated_ms" json:"updated_ms"`
}

// MemoryCard is the atomic knowledge unit.
type MemoryCard struct {
	MemoryID    string `db:"memory_id" json:"memory_id"`
	Type        string `db:"type" json:"type"`
	SourceTime  string `db:"source_time" json:"source_time,omitempty"`
	CreatedAt   string `db:"created_at" json:"created_at"`
	Summary     string `db:"summary" json:"summary"`
	ContentText string `db:"content_text" json:"content_text"`
	Metadata    string `db:"metadata" json:"-"`
	BlobID      string `db:"blob_id" json:"blob_id,omitempty"`
	TraceID     string `db:"trace_id" json:"trace_id,omitempty"`
}

// Embedding references a vector-index point for one card modality.
type Embedding struct {
	EmbeddingID string `db:"embedding_id" json:"embedding_id"`
	MemoryID    string `db:"memory_id" json:"memory_id"`
	Modality    string `db:"modality" json:"modality"`
	VectorRef   string `db:"vector_ref" json:"vector_ref"`
}

// GraphNode is one node of the knowledge graph.
type GraphNode struct {
	NodeID    string `db:"node_id" json:"node_id"`
	NodeType  string `db:"node_type" json:"node_type"`
	Props     string `db:"props" json:"props"`
	UpdatedAt string `db:"updated_at" json:"updated_at"`
}

// GraphEdge is one weighted, time-scoped edge of the knowledge graph.
type GraphEdge struct {
	EdgeID     string  `db:"edge_id" json:"edge_id"`
	FromNode   string  `db:"from_node" json:"from"`
	ToNode     string  `db:"to_node" json:"to"`
	EdgeType   string  `db:"edge_type" json:"edge_type"`
	Weight     float64 `db:"weight" json:"weight"`
	ValidFrom  string  `db:"valid_from" json:"valid_from,omitempty"`
	ValidTo    string  `db:"valid_to" json:"valid_to,omitempty"`
	CreatedBy  string  `db:"created_by" json:"created_by,omitempty"`
	Confidence float64 `db:"confidence" json:"confidence,omitempty"`
	TraceID    string  `db:"trace_id" json:"trace_id,omitempty"`
}

// Trace statuses.
const (
	TraceRunning   = "running"
	TraceOK        = "ok"
	TraceError     = "error"
	TraceCancelled = "cancelled"
)

// ExecTrace is one top-level operation's execution record.
type ExecTrace struct {
	TraceID    string `db:"trace_id" json:"trace_id"`
	StartedMS  int64  `db:"started_ms" json:"started_ms"`
	FinishedMS int64  `db:"finished_ms" json:"finished_ms,omitempty"`
	Status     string `db:"status" json:"status"`
	RootCallID string `db:"root_call_id" json:"root_call_id,omitempty"`
	Metadata   string `db:"metadata" json:"metadata,omitempty"`
}

// Exec node states.
const (
	NodePending = "pending"
	NodeRunning = "running"
	NodeOK      = "ok"
	NodeError   = "error"
	NodeTimeout = "timeout"
)

// ExecNode is a single tool invocation inside a trace.
type ExecNode struct {
	ExecNodeID string `db:"exec_node_id" json:"exec_node_id"`
	TraceID    string `db:"trace_id" json:"trace_id"`
	CallID     string `db:"call_id" json:"call_id,omitempty"`
	ToolName   string `db:"tool_name" json:"tool_name"`
	State      string `db:"state" json:"state"`
	Attempt    int    `db:"attempt" json:"attempt"`
	TimeoutMS  int64  `db:"timeout_ms" json:"timeout_ms"`
	StartedMS  int64  `db:"started_ms" json:"started_ms"`
	FinishedMS int64  `db:"finished_ms" json:"finished_ms,omitempty"`
	ErrorText  string `db:"error_text" json:"error_text,omitempty"`
}

// Exec edge conditions.
const (
	EdgeAlways  = "always"
	EdgeOnOK    = "on_ok"
	EdgeOnError = "on_error"
)

// ExecEdge is a dependency between two exec nodes.
type ExecEdge struct {
	ID        int64  `db:"id" json:"-"`
	TraceID   string `db:"trace_id" json:"trace_id"`
	FromNode  string `db:"from_node" json:"from"`
	ToNode    string `db:"to_node" json:"to"`
	Condition string `db:"condition" json:"condition"`
}

// ToolCall is one registry dispatch record.
type ToolCall struct {
	CallID    string `db:"call_id" json:"call_id"`
	ToolName  string `db:"tool_name" json:"tool_name"`
	TSMS      int64  `db:"ts_ms" json:"ts_ms"`
	Inputs    string `db:"inputs" json:"inputs"`
	Outputs   string `db:"outputs" json:"outputs"`
	Status    string `db:"status" json:"status"`
	ElapsedMS int64  `db:"elapsed_ms" json:"elapsed_ms"`
	TraceID   string `db:"trace_id" json:"trace_id,omitempty"`
}

// Conversation groups ordered turns.
type Conversation struct {
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	Title          string `db:"title" json:"title"`
	CreatedAt      string `db:"created_at" json:"created_at"`
}

// Turn is one user/assistant exchange.
type Turn struct {
	TurnID         string `db:"turn_id" json:"turn_id"`
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	UserText       string `db:"user_text" json:"user_text"`
	AssistantText  string `db:"assistant_text" json:"assistant_text"`
	Verdict        string `db:"verdict" json:"verdict"`
	TraceID        string `db:"trace_id" json:"trace_id,omitempty"`
	CitationsJSON  string `db:"citations_json" json:"citations_json"`
	EvidenceJSON   string `db:"evidence_json" json:"evidence_json"`
	CreatedAt      string `db:"created_at" json:"created_at"`
}

// ChatCitation ties a turn to one cited memory.
type ChatCitation struct {
	CitationID string `db:"citation_id" json:"citation_id"`
	TurnID     string `db:"turn_id" json:"turn_id"`
	MemoryID   string `db:"memory_id" json:"memory_id"`
	Quote      string `db:"quote" json:"quote"`
	SpanStart  int    `db:"span_start" json:"span_start"`
	SpanEnd    int    `db:"span_end" json:"span_end"`
}

// SearchQuery is one logged retrieval request.
type SearchQuery struct {
	SearchID    string `db:"search_id" json:"search_id"`
	QueryText   string `db:"query_text" json:"query_text"`
	Filters     string `db:"filters" json:"filters"`
	ResultCount int    `db:"result_count" json:"result_count"`
	TraceID     string `db:"trace_id" json:"trace_id,omitempty"`
	CreatedAt   string `db:"created_at" json:"created_at"`
}
