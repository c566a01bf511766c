package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps a pooled sqlx.DB connection to the EchoGarden catalog.
type Store struct {
	db *sqlx.DB
}

// Open constructs a Store backed by the SQLite database at the provided
// path. The schema is migrated on first use.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", abs)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(15 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying sqlx.DB for advanced callers.
func (s *Store) DB() *sqlx.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	// Journal mode cannot change inside an explicit transaction.
	for _, pragma := range pragmaStatements {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply pragma: %w", err)
		}
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

var pragmaStatements = []string{
	`PRAGMA journal_mode = WAL;`,
	`PRAGMA foreign_keys = ON;`,
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS source (
                source_id TEXT PRIMARY KEY,
                source_type TEXT NOT NULL,
                uri TEXT NOT NULL UNIQUE,
                created_at TEXT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS blob (
                blob_id TEXT PRIMARY KEY,
                sha256 TEXT NOT NULL,
                path TEXT NOT NULL,
                mime TEXT NOT NULL,
                size_bytes INTEGER NOT NULL,
                source_id TEXT NOT NULL REFERENCES source(source_id),
                created_at TEXT NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_blob_sha ON blob(sha256);`,
	`CREATE INDEX IF NOT EXISTS idx_blob_path ON blob(path);`,
	`CREATE TABLE IF NOT EXISTS file_state (
                path TEXT PRIMARY KEY,
                mtime_ns INTEGER NOT NULL,
                size_bytes INTEGER NOT NULL,
                sha256 TEXT NOT NULL,
                last_seen_at TEXT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS job (
                job_id TEXT PRIMARY KEY,
                type TEXT NOT NULL,
                status TEXT NOT NULL DEFAULT 'queued',
                attempts INTEGER NOT NULL DEFAULT 0,
                next_run_ms INTEGER NOT NULL DEFAULT 0,
                payload TEXT NOT NULL,
                error_text TEXT NOT NULL DEFAULT '',
                trace_id TEXT NOT NULL DEFAULT '',
                worker_id TEXT NOT NULL DEFAULT '',
                created_ms INTEGER NOT NULL,
                updated_ms INTEGER NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_job_lease ON job(status, type, next_run_ms, created_ms);`,
	`CREATE TABLE IF NOT EXISTS memory_card (
                memory_id TEXT PRIMARY KEY,
                type TEXT NOT NULL,
                source_time TEXT NOT NULL DEFAULT '',
                created_at TEXT NOT NULL,
                summary TEXT NOT NULL DEFAULT '',
                content_text TEXT NOT NULL DEFAULT '',
                metadata TEXT NOT NULL DEFAULT '{}',
                blob_id TEXT NOT NULL DEFAULT '',
                trace_id TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_card_blob_trace ON memory_card(blob_id, trace_id)
                WHERE blob_id != '' AND trace_id != '';`,
	`CREATE INDEX IF NOT EXISTS idx_card_created ON memory_card(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_card_type ON memory_card(type);`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS memory_card_fts USING fts5(
                memory_id UNINDEXED,
                summary,
                content_text
        );`,
	`CREATE TABLE IF NOT EXISTS embedding (
                embedding_id TEXT PRIMARY KEY,
                memory_id TEXT NOT NULL REFERENCES memory_card(memory_id) ON DELETE CASCADE,
                modality TEXT NOT NULL,
                vector_ref TEXT NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_embedding_card ON embedding(memory_id);`,
	`CREATE TABLE IF NOT EXISTS graph_node (
                node_id TEXT PRIMARY KEY,
                node_type TEXT NOT NULL,
                props TEXT NOT NULL DEFAULT '{}',
                updated_at TEXT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS graph_edge (
                edge_id TEXT PRIMARY KEY,
                from_node TEXT NOT NULL REFERENCES graph_node(node_id),
                to_node TEXT NOT NULL REFERENCES graph_node(node_id),
                edge_type TEXT NOT NULL,
                weight REAL NOT NULL DEFAULT 0.5,
                valid_from TEXT NOT NULL DEFAULT '',
                valid_to TEXT NOT NULL DEFAULT '',
                created_by TEXT NOT NULL DEFAULT '',
                confidence REAL NOT NULL DEFAULT 0,
                trace_id TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE INDEX IF NOT EXISTS idx_edge_from ON graph_edge(from_node, edge_type);`,
	`CREATE INDEX IF NOT EXISTS idx_edge_to ON graph_edge(to_node, edge_type);`,
	`CREATE TABLE IF NOT EXISTS exec_trace (
                trace_id TEXT PRIMARY KEY,
                started_ms INTEGER NOT NULL,
                finished_ms INTEGER NOT NULL DEFAULT 0,
                status TEXT NOT NULL DEFAULT 'running',
                root_call_id TEXT NOT NULL DEFAULT '',
                metadata TEXT NOT NULL DEFAULT '{}'
        );`,
	`CREATE TABLE IF NOT EXISTS exec_node (
                exec_node_id TEXT PRIMARY KEY,
                trace_id TEXT NOT NULL REFERENCES exec_trace(trace_id),
                call_id TEXT NOT NULL DEFAULT '',
                tool_name TEXT NOT NULL DEFAULT '',
                state TEXT NOT NULL DEFAULT 'pending',
                attempt INTEGER NOT NULL DEFAULT 1,
                timeout_ms INTEGER NOT NULL DEFAULT 0,
                started_ms INTEGER NOT NULL DEFAULT 0,
                finished_ms INTEGER NOT NULL DEFAULT 0,
                error_text TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE INDEX IF NOT EXISTS idx_exec_node_trace ON exec_node(trace_id);`,
	`CREATE TABLE IF NOT EXISTS exec_edge (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                trace_id TEXT NOT NULL,
                from_node TEXT NOT NULL,
                to_node TEXT NOT NULL,
                condition TEXT NOT NULL DEFAULT 'on_ok'
        );`,
	`CREATE INDEX IF NOT EXISTS idx_exec_edge_trace ON exec_edge(trace_id);`,
	`CREATE TABLE IF NOT EXISTS tool_call (
                call_id TEXT PRIMARY KEY,
                tool_name TEXT NOT NULL,
                ts_ms INTEGER NOT NULL,
                inputs TEXT NOT NULL DEFAULT '{}',
                outputs TEXT NOT NULL DEFAULT '{}',
                status TEXT NOT NULL DEFAULT 'ok',
                elapsed_ms INTEGER NOT NULL DEFAULT 0,
                trace_id TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE INDEX IF NOT EXISTS idx_tool_call_trace ON tool_call(trace_id);`,
	`CREATE TABLE IF NOT EXISTS conversation (
                conversation_id TEXT PRIMARY KEY,
                title TEXT NOT NULL DEFAULT '',
                created_at TEXT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS turn (
                turn_id TEXT PRIMARY KEY,
                conversation_id TEXT NOT NULL REFERENCES conversation(conversation_id),
                user_text TEXT NOT NULL,
                assistant_text TEXT NOT NULL DEFAULT '',
                verdict TEXT NOT NULL DEFAULT '',
                trace_id TEXT NOT NULL DEFAULT '',
                citations_json TEXT NOT NULL DEFAULT '[]',
                evidence_json TEXT NOT NULL DEFAULT '[]',
                created_at TEXT NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_turn_conversation ON turn(conversation_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS chat_citation (
                citation_id TEXT PRIMARY KEY,
                turn_id TEXT NOT NULL REFERENCES turn(turn_id),
                memory_id TEXT NOT NULL,
                quote TEXT NOT NULL DEFAULT '',
                span_start INTEGER NOT NULL DEFAULT 0,
                span_end INTEGER NOT NULL DEFAULT 0
        );`,
	`CREATE TABLE IF NOT EXISTS search_query (
                search_id TEXT PRIMARY KEY,
                query_text TEXT NOT NULL,
                filters TEXT NOT NULL DEFAULT '{}',
                result_count INTEGER NOT NULL DEFAULT 0,
                trace_id TEXT NOT NULL DEFAULT '',
                created_at TEXT NOT NULL
        );`,
}

func nowText() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

// ParseTime parses the RFC3339 timestamps the store writes. The zero time is
// returned for empty or malformed values.
func ParseTime(value string) time.Time {
	if strings.TrimSpace(value) == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
