package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nicodishanthj/echogarden/internal/common"
)

// CreateTrace opens a new exec trace and returns its id.
func (s *Store) CreateTrace(ctx context.Context, traceID, metadata string) (string, error) {
	if traceID == "" {
		traceID = common.NewID("tr")
	}
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exec_trace (trace_id, started_ms, status, metadata)
                 VALUES (?, ?, 'running', ?)`,
		traceID, nowMS(), metadata)
	if err != nil {
		return "", fmt.Errorf("create trace: %w", err)
	}
	return traceID, nil
}

// FinishTrace seals a trace. Exec rows are append-only afterwards.
func (s *Store) FinishTrace(ctx context.Context, traceID, status string) error {
	return finishTrace(ctx, s.db, traceID, status)
}

func finishTrace(ctx context.Context, tx execQuerier, traceID, status string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE exec_trace SET status = ?, finished_ms = ? WHERE trace_id = ? AND finished_ms = 0`,
		status, nowMS(), traceID)
	if err != nil {
		return fmt.Errorf("finish trace: %w", err)
	}
	return nil
}

// SetTraceRoot records the root call of a trace.
func (s *Store) SetTraceRoot(ctx context.Context, traceID, rootCallID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE exec_trace SET root_call_id = ? WHERE trace_id = ? AND root_call_id = ''`,
		rootCallID, traceID)
	if err != nil {
		return fmt.Errorf("set trace root: %w", err)
	}
	return nil
}

// GetTrace fetches one trace by id.
func (s *Store) GetTrace(ctx context.Context, traceID string) (ExecTrace, error) {
	var trace ExecTrace
	err := s.db.GetContext(ctx, &trace, `SELECT * FROM exec_trace WHERE trace_id = ?`, traceID)
	if errors.Is(err, sql.ErrNoRows) {
		return ExecTrace{}, ErrNotFound
	}
	if err != nil {
		return ExecTrace{}, fmt.Errorf("get trace: %w", err)
	}
	return trace, nil
}

// CreateExecNode inserts a node in the running state.
func (s *Store) CreateExecNode(ctx context.Context, node ExecNode) (string, error) {
	if node.ExecNodeID == "" {
		node.ExecNodeID = common.NewID("node")
	}
	if node.State == "" {
		node.State = NodeRunning
	}
	if node.Attempt <= 0 {
		node.Attempt = 1
	}
	if node.StartedMS == 0 {
		node.StartedMS = nowMS()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exec_node
                        (exec_node_id, trace_id, call_id, tool_name, state, attempt, timeout_ms, started_ms)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ExecNodeID, node.TraceID, node.CallID, node.ToolName, node.State,
		node.Attempt, node.TimeoutMS, node.StartedMS)
	if err != nil {
		return "", fmt.Errorf("create exec node: %w", err)
	}
	return node.ExecNodeID, nil
}

// FinishExecNode finalizes a node's state, call link and error text.
func (s *Store) FinishExecNode(ctx context.Context, execNodeID, state, callID, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE exec_node SET state = ?, call_id = ?, error_text = ?, finished_ms = ?
                 WHERE exec_node_id = ?`,
		state, callID, errText, nowMS(), execNodeID)
	if err != nil {
		return fmt.Errorf("finish exec node: %w", err)
	}
	return nil
}

// CreateExecEdge records a dependency between two exec nodes.
func (s *Store) CreateExecEdge(ctx context.Context, traceID, fromNode, toNode, condition string) error {
	if condition == "" {
		condition = EdgeOnOK
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exec_edge (trace_id, from_node, to_node, condition) VALUES (?, ?, ?, ?)`,
		traceID, fromNode, toNode, condition)
	if err != nil {
		return fmt.Errorf("create exec edge: %w", err)
	}
	return nil
}

// TraceNodes returns a trace's nodes in start order.
func (s *Store) TraceNodes(ctx context.Context, traceID string) ([]ExecNode, error) {
	var nodes []ExecNode
	err := s.db.SelectContext(ctx, &nodes,
		`SELECT * FROM exec_node WHERE trace_id = ? ORDER BY started_ms, exec_node_id`, traceID)
	if err != nil {
		return nil, fmt.Errorf("trace nodes: %w", err)
	}
	return nodes, nil
}

// TraceEdges returns a trace's edges in insertion order.
func (s *Store) TraceEdges(ctx context.Context, traceID string) ([]ExecEdge, error) {
	var edges []ExecEdge
	err := s.db.SelectContext(ctx, &edges,
		`SELECT * FROM exec_edge WHERE trace_id = ? ORDER BY id`, traceID)
	if err != nil {
		return nil, fmt.Errorf("trace edges: %w", err)
	}
	return edges, nil
}

// InsertToolCall records one registry dispatch.
func (s *Store) InsertToolCall(ctx context.Context, call ToolCall) error {
	if call.CallID == "" {
		return errors.New("tool call requires call_id")
	}
	if call.TSMS == 0 {
		call.TSMS = nowMS()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_call (call_id, tool_name, ts_ms, inputs, outputs, status, elapsed_ms, trace_id)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		call.CallID, call.ToolName, call.TSMS, call.Inputs, call.Outputs,
		call.Status, call.ElapsedMS, call.TraceID)
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// ListToolCalls returns dispatch records, newest first, optionally scoped to
// one trace.
func (s *Store) ListToolCalls(ctx context.Context, traceID string, limit int) ([]ToolCall, error) {
	if limit <= 0 {
		limit = 50
	}
	var calls []ToolCall
	var err error
	if traceID != "" {
		err = s.db.SelectContext(ctx, &calls,
			`SELECT * FROM tool_call WHERE trace_id = ? ORDER BY ts_ms DESC LIMIT ?`, traceID, limit)
	} else {
		err = s.db.SelectContext(ctx, &calls,
			`SELECT * FROM tool_call ORDER BY ts_ms DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	return calls, nil
}
