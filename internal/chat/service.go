package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/retrieval"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/tools"
)

const (
	maxMessageChars    = 4000
	maxBinaryByteRatio = 0.10
)

// ErrInvalidInput marks messages rejected by the security filter.
var ErrInvalidInput = errors.New("invalid chat input")

// Request is one chat message.
type Request struct {
	Message        string `json:"message"`
	TopK           int    `json:"top_k"`
	UseGraph       bool   `json:"use_graph"`
	Hops           int    `json:"hops"`
	ConversationID string `json:"conversation_id"`
}

// Citation references one memory backing the answer.
type Citation struct {
	MemoryID  string `json:"memory_id"`
	Quote     string `json:"quote"`
	SpanStart int    `json:"span_start"`
	SpanEnd   int    `json:"span_end"`
}

// Response is the grounded answer with its verification verdict.
type Response struct {
	TraceID        string     `json:"trace_id"`
	Answer         string     `json:"answer"`
	Verdict        string     `json:"verdict"`
	Citations      []Citation `json:"citations"`
	Evidence       []Evidence `json:"evidence"`
	ConversationID string     `json:"conversation_id"`
}

// Service runs the retrieve → weave → verify chain and persists the turn.
type Service struct {
	store    *store.Store
	registry *tools.Registry
}

func NewService(st *store.Store, registry *tools.Registry) *Service {
	return &Service{store: st, registry: registry}
}

// Handle processes one chat message. Missing evidence never surfaces as an
// internal error: the verifier abstains and the refusal is returned.
func (s *Service) Handle(ctx context.Context, req Request) (Response, error) {
	logger := common.Logger()
	message := strings.TrimSpace(req.Message)
	if err := filterInput(message); err != nil {
		return Response{}, err
	}

	conversationID, err := s.store.EnsureConversation(ctx, req.ConversationID, title(message))
	if err != nil {
		return Response{}, err
	}
	traceID, err := s.store.CreateTrace(ctx, "", `{"kind":"chat"}`)
	if err != nil {
		return Response{}, err
	}

	rec := newRecorder(s.store, s.registry, traceID)

	retrievalOut, err := rec.dispatch(ctx, "retrieval", tools.Inputs{
		"query": message,
		"top_k": req.TopK,
	})
	if err != nil {
		s.finishTrace(ctx, traceID, err)
		return Response{}, fmt.Errorf("retrieval step: %w", err)
	}
	evidence := evidenceFromResults(retrievalOut["results"])

	weaveOut, err := rec.dispatch(ctx, "weaver", tools.Inputs{
		"query":    message,
		"evidence": evidence,
	})
	if err != nil {
		s.finishTrace(ctx, traceID, err)
		return Response{}, fmt.Errorf("weave step: %w", err)
	}
	answer, _ := weaveOut["answer"].(string)
	citedIDs := stringSlice(weaveOut["cited_memory_ids"])

	verifyOut, err := rec.dispatch(ctx, "verifier", tools.Inputs{
		"query":    message,
		"answer":   answer,
		"evidence": evidence,
	})
	if err != nil {
		s.finishTrace(ctx, traceID, err)
		return Response{}, fmt.Errorf("verify step: %w", err)
	}
	verdict, _ := verifyOut["verdict"].(string)
	switch verdict {
	case VerdictRevise:
		if revised, _ := verifyOut["revised_answer"].(string); strings.TrimSpace(revised) != "" {
			answer = revised
		}
	case VerdictAbstain:
		answer = RefusalText
		citedIDs = nil
	}

	citations := buildCitations(citedIDs, evidence, answer)
	if err := s.persistTurn(ctx, conversationID, traceID, message, answer, verdict, citations, evidence); err != nil {
		logger.Error("chat: turn persistence failed", "error", err)
	}
	if err := s.store.FinishTrace(ctx, traceID, store.TraceOK); err != nil {
		logger.Warn("chat: trace finish failed", "trace", traceID, "error", err)
	}
	return Response{
		TraceID:        traceID,
		Answer:         answer,
		Verdict:        verdict,
		Citations:      citations,
		Evidence:       evidence,
		ConversationID: conversationID,
	}, nil
}

func (s *Service) finishTrace(ctx context.Context, traceID string, cause error) {
	status := store.TraceError
	if errors.Is(cause, context.Canceled) {
		status = store.TraceCancelled
	}
	if err := s.store.FinishTrace(context.WithoutCancel(ctx), traceID, status); err != nil {
		common.Logger().Warn("chat: trace finish failed", "trace", traceID, "error", err)
	}
}

// recorder threads exec graph rows around chat dispatches so /exec shows
// the retrieve → weave → verify chain.
type recorder struct {
	store    *store.Store
	registry *tools.Registry
	traceID  string
	prevNode string
}

func newRecorder(st *store.Store, registry *tools.Registry, traceID string) *recorder {
	return &recorder{store: st, registry: registry, traceID: traceID}
}

func (r *recorder) dispatch(ctx context.Context, tool string, in tools.Inputs) (tools.Outputs, error) {
	spec, err := r.registry.Schema(tool)
	if err != nil {
		return nil, err
	}
	nodeID, err := r.store.CreateExecNode(ctx, store.ExecNode{
		TraceID:   r.traceID,
		ToolName:  tool,
		State:     store.NodeRunning,
		TimeoutMS: spec.TimeoutMS,
	})
	if err != nil {
		return nil, err
	}
	out, callID, err := r.registry.Dispatch(ctx, tool, in, r.traceID)
	state := store.NodeOK
	errText := ""
	if err != nil {
		state = store.NodeError
		errText = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			state = store.NodeTimeout
		}
	}
	finishCtx := context.WithoutCancel(ctx)
	if finishErr := r.store.FinishExecNode(finishCtx, nodeID, state, callID, errText); finishErr != nil {
		common.Logger().Warn("chat: exec node finish failed", "node", nodeID, "error", finishErr)
	}
	if r.prevNode != "" {
		condition := store.EdgeOnOK
		if err != nil {
			condition = store.EdgeOnError
		}
		if edgeErr := r.store.CreateExecEdge(finishCtx, r.traceID, r.prevNode, nodeID, condition); edgeErr != nil {
			common.Logger().Warn("chat: exec edge insert failed", "error", edgeErr)
		}
	}
	if err != nil {
		return nil, err
	}
	r.prevNode = nodeID
	return out, nil
}

func (s *Service) persistTurn(ctx context.Context, conversationID, traceID, userText, answer, verdict string,
	citations []Citation, evidence []Evidence) error {
	citationsJSON, _ := json.Marshal(citations)
	evidenceJSON, _ := json.Marshal(evidence)
	rows := make([]store.ChatCitation, 0, len(citations))
	for _, citation := range citations {
		rows = append(rows, store.ChatCitation{
			MemoryID:  citation.MemoryID,
			Quote:     citation.Quote,
			SpanStart: citation.SpanStart,
			SpanEnd:   citation.SpanEnd,
		})
	}
	_, err := s.store.AppendTurn(ctx, store.Turn{
		ConversationID: conversationID,
		UserText:       userText,
		AssistantText:  answer,
		Verdict:        verdict,
		TraceID:        traceID,
		CitationsJSON:  string(citationsJSON),
		EvidenceJSON:   string(evidenceJSON),
	}, rows)
	return err
}

// filterInput rejects oversized messages and probable binary pastes.
func filterInput(message string) error {
	if message == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	if len(message) > maxMessageChars {
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, maxMessageChars)
	}
	var binary int
	for _, r := range message {
		if r == unicode.ReplacementChar || (r < 0x20 && r != '\n' && r != '\r' && r != '\t') {
			binary++
		}
	}
	if float64(binary)/float64(len(message)) > maxBinaryByteRatio {
		return fmt.Errorf("%w: message looks like binary data", ErrInvalidInput)
	}
	return nil
}

func evidenceFromResults(raw interface{}) []Evidence {
	hits, ok := raw.([]retrieval.Hit)
	if !ok {
		return nil
	}
	out := make([]Evidence, 0, len(hits))
	for _, hit := range hits {
		out = append(out, Evidence{
			MemoryID: hit.MemoryID,
			Title:    hit.Title,
			Summary:  hit.Summary,
			Snippet:  hit.Snippet,
			Score:    hit.FinalScore,
		})
	}
	return out
}

func buildCitations(citedIDs []string, evidence []Evidence, answer string) []Citation {
	byID := make(map[string]Evidence, len(evidence))
	for _, ev := range evidence {
		byID[ev.MemoryID] = ev
	}
	citations := make([]Citation, 0, len(citedIDs))
	for _, memoryID := range citedIDs {
		ev, known := byID[memoryID]
		if !known {
			continue
		}
		quote := ev.Summary
		if quote == "" {
			quote = ev.Snippet
		}
		if len(quote) > 120 {
			quote = quote[:120]
		}
		citation := Citation{MemoryID: memoryID, Quote: quote}
		token := "[" + ev.Title + "]"
		if idx := strings.Index(answer, token); idx >= 0 {
			citation.SpanStart = idx
			citation.SpanEnd = idx + len(token)
		}
		citations = append(citations, citation)
	}
	return citations
}

func stringSlice(raw interface{}) []string {
	switch value := raw.(type) {
	case []string:
		return value
	case []interface{}:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func title(message string) string {
	if len(message) > 64 {
		return message[:64]
	}
	return message
}
