package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/store"
)

func newTestWatcher(t *testing.T) (*Watcher, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "watch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	watchRoot := filepath.Join(dir, "watch")
	if err := os.MkdirAll(watchRoot, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfg := config.Config{WatchPath: watchRoot, PollInterval: time.Second, MaxFileMB: 20}
	return New(st, cfg), st, watchRoot
}

func TestProcessFileEnqueuesOnce(t *testing.T) {
	w, st, root := newTestWatcher(t)
	ctx := context.Background()
	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("hello watcher"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	changed, err := w.ProcessFile(ctx, path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !changed {
		t.Fatal("first sight should register as a change")
	}
	// Unchanged stat skips the file entirely.
	changed, err = w.ProcessFile(ctx, path)
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if changed {
		t.Fatal("unchanged file must be skipped")
	}
	jobs, err := st.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(jobs))
	}
	if jobs[0].Type != "ingest_blob" || jobs[0].TraceID == "" {
		t.Fatalf("unexpected job: %+v", jobs[0])
	}
	state, err := st.GetFileState(ctx, path)
	if err != nil {
		t.Fatalf("file state: %v", err)
	}
	if state.SHA256 == "" {
		t.Fatal("file state should carry the hash")
	}
}

func TestDuplicateContentDistinctPaths(t *testing.T) {
	w, st, root := newTestWatcher(t)
	ctx := context.Background()
	contents := []byte("identical bytes in two files")
	pathA := filepath.Join(root, "a.txt")
	pathB := filepath.Join(root, "b.txt")
	for _, path := range []string{pathA, pathB} {
		if err := os.WriteFile(path, contents, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := w.ProcessFile(ctx, path); err != nil {
			t.Fatalf("process %s: %v", path, err)
		}
	}
	blobA, err := st.FindBlobByPath(ctx, pathA)
	if err != nil {
		t.Fatalf("blob a: %v", err)
	}
	blobB, err := st.FindBlobByPath(ctx, pathB)
	if err != nil {
		t.Fatalf("blob b: %v", err)
	}
	if blobA.BlobID == blobB.BlobID {
		t.Fatal("distinct paths must produce distinct blobs")
	}
	if blobA.SHA256 != blobB.SHA256 {
		t.Fatal("identical content must share a sha256")
	}
	jobs, err := st.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected two jobs, got %d", len(jobs))
	}
	// A rescan with unchanged files produces no third job.
	for _, path := range []string{pathA, pathB} {
		if _, err := w.ProcessFile(ctx, path); err != nil {
			t.Fatalf("rescan %s: %v", path, err)
		}
	}
	jobs, err = st.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("jobs after rescan: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("rescan must not enqueue again, got %d jobs", len(jobs))
	}
}

func TestModifiedFileReenqueues(t *testing.T) {
	w, st, root := newTestWatcher(t)
	ctx := context.Background()
	path := filepath.Join(root, "grows.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.ProcessFile(ctx, path); err != nil {
		t.Fatalf("process v1: %v", err)
	}
	if err := os.WriteFile(path, []byte("v2 with more bytes"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	changed, err := w.ProcessFile(ctx, path)
	if err != nil {
		t.Fatalf("process v2: %v", err)
	}
	if !changed {
		t.Fatal("size change must re-trigger ingestion")
	}
	jobs, err := st.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected two jobs after modification, got %d", len(jobs))
	}
}

func TestScanSkipsHiddenAndIgnoredDirs(t *testing.T) {
	w, st, root := newTestWatcher(t)
	ctx := context.Background()
	if err := os.MkdirAll(filepath.Join(root, "node_modules"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".hidden"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		filepath.Join(root, "node_modules", "dep.js"): "ignored",
		filepath.Join(root, ".hidden", "secret.txt"):  "ignored",
		filepath.Join(root, ".dotfile"):               "ignored",
		filepath.Join(root, "visible.txt"):            "captured",
	}
	for path, contents := range files {
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	w.scanOnce(ctx)
	jobs, err := st.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected only visible.txt to enqueue, got %d jobs", len(jobs))
	}
}
