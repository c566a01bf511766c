package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nicodishanthj/echogarden/internal/common"
)

// UpsertSource returns the source id for the given uri, creating the row on
// first sight. Sources are immutable after creation.
func (s *Store) UpsertSource(ctx context.Context, sourceType, uri string) (string, error) {
	var existing string
	err := s.db.GetContext(ctx, &existing, `SELECT source_id FROM source WHERE uri = ?`, uri)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup source: %w", err)
	}
	id := common.NewID("src")
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO source (source_id, source_type, uri, created_at) VALUES (?, ?, ?, ?)
                 ON CONFLICT(uri) DO NOTHING`,
		id, sourceType, uri, nowText())
	if err != nil {
		return "", fmt.Errorf("insert source: %w", err)
	}
	// A concurrent writer may have won the conflict; read back the row.
	if err := s.db.GetContext(ctx, &existing, `SELECT source_id FROM source WHERE uri = ?`, uri); err != nil {
		return "", fmt.Errorf("reread source: %w", err)
	}
	return existing, nil
}

// InsertBlob records a content-addressed binary. Distinct paths produce
// distinct blobs even when the bytes (and so the sha) are identical.
func (s *Store) InsertBlob(ctx context.Context, blob Blob) (string, error) {
	if blob.BlobID == "" {
		blob.BlobID = common.NewID("blob")
	}
	if blob.CreatedAt == "" {
		blob.CreatedAt = nowText()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blob (blob_id, sha256, path, mime, size_bytes, source_id, created_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		blob.BlobID, blob.SHA256, blob.Path, blob.Mime, blob.SizeBytes, blob.SourceID, blob.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert blob: %w", err)
	}
	return blob.BlobID, nil
}

// GetBlob fetches one blob by id.
func (s *Store) GetBlob(ctx context.Context, blobID string) (Blob, error) {
	var blob Blob
	err := s.db.GetContext(ctx, &blob, `SELECT * FROM blob WHERE blob_id = ?`, blobID)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, fmt.Errorf("get blob: %w", err)
	}
	return blob, nil
}

// FindBlobBySha returns the newest blob carrying the given content hash.
func (s *Store) FindBlobBySha(ctx context.Context, sha256 string) (Blob, error) {
	var blob Blob
	err := s.db.GetContext(ctx, &blob,
		`SELECT * FROM blob WHERE sha256 = ? ORDER BY created_at DESC LIMIT 1`, sha256)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, fmt.Errorf("find blob: %w", err)
	}
	return blob, nil
}

// FindBlobByPath returns the newest blob recorded for a path.
func (s *Store) FindBlobByPath(ctx context.Context, path string) (Blob, error) {
	var blob Blob
	err := s.db.GetContext(ctx, &blob,
		`SELECT * FROM blob WHERE path = ? ORDER BY created_at DESC LIMIT 1`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, fmt.Errorf("find blob by path: %w", err)
	}
	return blob, nil
}

// CountBlobs returns the number of recorded blobs.
func (s *Store) CountBlobs(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM blob`); err != nil {
		return 0, fmt.Errorf("count blobs: %w", err)
	}
	return count, nil
}

// GetFileState returns the last observed stat for a path.
func (s *Store) GetFileState(ctx context.Context, path string) (FileState, error) {
	var state FileState
	err := s.db.GetContext(ctx, &state, `SELECT * FROM file_state WHERE path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return FileState{}, ErrNotFound
	}
	if err != nil {
		return FileState{}, fmt.Errorf("get file state: %w", err)
	}
	return state, nil
}

// UpsertFileState records the latest stat/hash observation for a path.
func (s *Store) UpsertFileState(ctx context.Context, state FileState) error {
	if state.LastSeenAt == "" {
		state.LastSeenAt = nowText()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_state (path, mtime_ns, size_bytes, sha256, last_seen_at)
                 VALUES (?, ?, ?, ?, ?)
                 ON CONFLICT(path) DO UPDATE SET
                        mtime_ns = excluded.mtime_ns,
                        size_bytes = excluded.size_bytes,
                        sha256 = excluded.sha256,
                        last_seen_at = excluded.last_seen_at`,
		state.Path, state.MtimeNS, state.SizeBytes, state.SHA256, state.LastSeenAt)
	if err != nil {
		return fmt.Errorf("upsert file state: %w", err)
	}
	return nil
}

// CountFileStates returns the number of tracked paths.
func (s *Store) CountFileStates(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM file_state`); err != nil {
		return 0, fmt.Errorf("count file states: %w", err)
	}
	return count, nil
}
