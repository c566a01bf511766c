package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CardFilter narrows card listing and search.
type CardFilter struct {
	CardType   string
	SourceType string
	TimeMin    string
	TimeMax    string
}

// UpsertCard inserts a memory card, refreshing the FTS index in the same
// transaction. When a card with the same (blob_id, trace_id) already exists
// the existing memory_id is returned and nothing is written.
func (s *Store) UpsertCard(ctx context.Context, card MemoryCard) (string, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin card upsert: %w", err)
	}
	defer tx.Rollback()
	id, existed, err := insertCardTx(ctx, tx, card)
	if err != nil {
		return "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit card upsert: %w", err)
	}
	return id, existed, nil
}

func insertCardTx(ctx context.Context, tx execQuerier, card MemoryCard) (string, bool, error) {
	if card.BlobID != "" && card.TraceID != "" {
		var existing string
		err := tx.GetContext(ctx, &existing,
			`SELECT memory_id FROM memory_card WHERE blob_id = ? AND trace_id = ?`,
			card.BlobID, card.TraceID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", false, fmt.Errorf("card idempotency check: %w", err)
		}
	}
	if card.CreatedAt == "" {
		card.CreatedAt = nowText()
	}
	if card.Metadata == "" {
		card.Metadata = "{}"
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO memory_card
                        (memory_id, type, source_time, created_at, summary, content_text, metadata, blob_id, trace_id)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.MemoryID, card.Type, card.SourceTime, card.CreatedAt,
		card.Summary, card.ContentText, card.Metadata, card.BlobID, card.TraceID)
	if err != nil {
		return "", false, fmt.Errorf("insert card: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_card_fts WHERE memory_id = ?`, card.MemoryID); err != nil {
		return "", false, fmt.Errorf("refresh fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_card_fts (memory_id, summary, content_text) VALUES (?, ?, ?)`,
		card.MemoryID, card.Summary, card.ContentText); err != nil {
		return "", false, fmt.Errorf("index fts: %w", err)
	}
	return card.MemoryID, false, nil
}

// FindCardByBlobTrace returns the card committed for an idempotency key,
// or ErrNotFound.
func (s *Store) FindCardByBlobTrace(ctx context.Context, blobID, traceID string) (MemoryCard, error) {
	var card MemoryCard
	err := s.db.GetContext(ctx, &card,
		`SELECT * FROM memory_card WHERE blob_id = ? AND trace_id = ?`, blobID, traceID)
	if errors.Is(err, sql.ErrNoRows) {
		return MemoryCard{}, ErrNotFound
	}
	if err != nil {
		return MemoryCard{}, fmt.Errorf("find card by blob/trace: %w", err)
	}
	return card, nil
}

// GetCard fetches one card by id.
func (s *Store) GetCard(ctx context.Context, memoryID string) (MemoryCard, error) {
	var card MemoryCard
	err := s.db.GetContext(ctx, &card,
		`SELECT * FROM memory_card WHERE memory_id = ?`, memoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return MemoryCard{}, ErrNotFound
	}
	if err != nil {
		return MemoryCard{}, fmt.Errorf("get card: %w", err)
	}
	return card, nil
}

// GetCards bulk-fetches cards by id; missing ids are silently skipped.
func (s *Store) GetCards(ctx context.Context, memoryIDs []string) (map[string]MemoryCard, error) {
	out := make(map[string]MemoryCard, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlxIn(`SELECT * FROM memory_card WHERE memory_id IN (?)`, memoryIDs)
	if err != nil {
		return nil, err
	}
	var cards []MemoryCard
	if err := s.db.SelectContext(ctx, &cards, query, args...); err != nil {
		return nil, fmt.Errorf("get cards: %w", err)
	}
	for _, card := range cards {
		out[card.MemoryID] = card
	}
	return out, nil
}

// ListCards returns cards matching the filter, newest first.
func (s *Store) ListCards(ctx context.Context, filter CardFilter, limit, offset int) ([]MemoryCard, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		clauses []string
		args    []interface{}
	)
	if filter.CardType != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, filter.CardType)
	}
	if filter.SourceType != "" {
		clauses = append(clauses, "json_extract(metadata, '$.source_type') = ?")
		args = append(args, filter.SourceType)
	}
	if filter.TimeMin != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.TimeMin)
	}
	if filter.TimeMax != "" {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.TimeMax)
	}
	query := `SELECT * FROM memory_card`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, memory_id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	var cards []MemoryCard
	if err := s.db.SelectContext(ctx, &cards, query, args...); err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return cards, nil
}

// CountCards returns the number of cards in the catalog.
func (s *Store) CountCards(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM memory_card`); err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return count, nil
}

// FTSHit is one full-text match with the engine's bm25 rank (lower is better).
type FTSHit struct {
	MemoryID string  `db:"memory_id"`
	Rank     float64 `db:"rank"`
}

// SearchCards runs an FTS5 query over summaries and content text.
func (s *Store) SearchCards(ctx context.Context, query string, limit int) ([]FTSHit, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	var hits []FTSHit
	err := s.db.SelectContext(ctx, &hits,
		`SELECT memory_id, bm25(memory_card_fts) AS rank
                 FROM memory_card_fts
                 WHERE memory_card_fts MATCH ?
                 ORDER BY rank LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	return hits, nil
}

// buildMatchQuery quotes each token so user punctuation cannot break the
// FTS5 query syntax; tokens are OR-ed for recall.
func buildMatchQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		cleaned := strings.Map(func(r rune) rune {
			if r == '"' || r == '\'' {
				return -1
			}
			return r
		}, field)
		if cleaned == "" {
			continue
		}
		terms = append(terms, `"`+cleaned+`"`)
	}
	return strings.Join(terms, " OR ")
}

// RecentCards returns the newest cards, bounded.
func (s *Store) RecentCards(ctx context.Context, limit int) ([]MemoryCard, error) {
	if limit <= 0 {
		limit = 50
	}
	var cards []MemoryCard
	err := s.db.SelectContext(ctx, &cards,
		`SELECT * FROM memory_card ORDER BY created_at DESC, memory_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent cards: %w", err)
	}
	return cards, nil
}

// CardEmbeddings returns the embedding rows owned by a card.
func (s *Store) CardEmbeddings(ctx context.Context, memoryID string) ([]Embedding, error) {
	var rows []Embedding
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM embedding WHERE memory_id = ?`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("card embeddings: %w", err)
	}
	return rows, nil
}

// DeleteCard removes a card, its FTS row, its embeddings (cascade) and its
// mem: graph node with attached edges.
func (s *Store) DeleteCard(ctx context.Context, memoryID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin card delete: %w", err)
	}
	defer tx.Rollback()
	nodeID := "mem:" + memoryID
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM graph_edge WHERE from_node = ? OR to_node = ?`, nodeID, nodeID); err != nil {
		return fmt.Errorf("delete card edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_node WHERE node_id = ?`, nodeID); err != nil {
		return fmt.Errorf("delete card node: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_card_fts WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("delete card fts: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM memory_card WHERE memory_id = ?`, memoryID)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
