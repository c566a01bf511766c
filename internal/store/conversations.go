package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nicodishanthj/echogarden/internal/common"
)

// EnsureConversation returns the conversation id, creating the row when the
// id is empty or unknown.
func (s *Store) EnsureConversation(ctx context.Context, conversationID, title string) (string, error) {
	if conversationID != "" {
		var existing string
		err := s.db.GetContext(ctx, &existing,
			`SELECT conversation_id FROM conversation WHERE conversation_id = ?`, conversationID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("lookup conversation: %w", err)
		}
	} else {
		conversationID = common.NewID("conv")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation (conversation_id, title, created_at) VALUES (?, ?, ?)
                 ON CONFLICT(conversation_id) DO NOTHING`,
		conversationID, title, nowText())
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return conversationID, nil
}

// AppendTurn persists a turn and its citations in one transaction.
func (s *Store) AppendTurn(ctx context.Context, turn Turn, citations []ChatCitation) (string, error) {
	if turn.TurnID == "" {
		turn.TurnID = common.NewID("turn")
	}
	if turn.CreatedAt == "" {
		turn.CreatedAt = nowText()
	}
	if turn.CitationsJSON == "" {
		turn.CitationsJSON = "[]"
	}
	if turn.EvidenceJSON == "" {
		turn.EvidenceJSON = "[]"
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin turn append: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO turn
                        (turn_id, conversation_id, user_text, assistant_text, verdict, trace_id, citations_json, evidence_json, created_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.TurnID, turn.ConversationID, turn.UserText, turn.AssistantText,
		turn.Verdict, turn.TraceID, turn.CitationsJSON, turn.EvidenceJSON, turn.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert turn: %w", err)
	}
	for _, citation := range citations {
		if citation.CitationID == "" {
			citation.CitationID = common.NewID("cit")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chat_citation (citation_id, turn_id, memory_id, quote, span_start, span_end)
                         VALUES (?, ?, ?, ?, ?, ?)`,
			citation.CitationID, turn.TurnID, citation.MemoryID, citation.Quote,
			citation.SpanStart, citation.SpanEnd)
		if err != nil {
			return "", fmt.Errorf("insert citation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit turn: %w", err)
	}
	return turn.TurnID, nil
}

// ListConversations returns conversation summaries, newest first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	var conversations []Conversation
	err := s.db.SelectContext(ctx, &conversations,
		`SELECT * FROM conversation ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

// ConversationTurns returns a conversation's turns in order.
func (s *Store) ConversationTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	var turns []Turn
	err := s.db.SelectContext(ctx, &turns,
		`SELECT * FROM turn WHERE conversation_id = ? ORDER BY created_at, turn_id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation turns: %w", err)
	}
	if len(turns) == 0 {
		var exists int
		if err := s.db.GetContext(ctx, &exists,
			`SELECT COUNT(*) FROM conversation WHERE conversation_id = ?`, conversationID); err != nil {
			return nil, fmt.Errorf("check conversation: %w", err)
		}
		if exists == 0 {
			return nil, ErrNotFound
		}
	}
	return turns, nil
}

// LogSearch appends a retrieval request to the search history.
func (s *Store) LogSearch(ctx context.Context, query SearchQuery) error {
	if query.SearchID == "" {
		query.SearchID = common.NewID("srch")
	}
	if query.CreatedAt == "" {
		query.CreatedAt = nowText()
	}
	if query.Filters == "" {
		query.Filters = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_query (search_id, query_text, filters, result_count, trace_id, created_at)
                 VALUES (?, ?, ?, ?, ?, ?)`,
		query.SearchID, query.QueryText, query.Filters, query.ResultCount,
		query.TraceID, query.CreatedAt)
	if err != nil {
		return fmt.Errorf("log search: %w", err)
	}
	return nil
}

// SearchHistory returns recent retrieval requests, newest first.
func (s *Store) SearchHistory(ctx context.Context, limit int) ([]SearchQuery, error) {
	if limit <= 0 {
		limit = 50
	}
	var queries []SearchQuery
	err := s.db.SelectContext(ctx, &queries,
		`SELECT * FROM search_query ORDER BY created_at DESC, search_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	return queries, nil
}
