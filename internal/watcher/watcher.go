package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/store"
)

const hashChunkSize = 64 * 1024

// Directories skipped by name during the walk.
var ignoredDirs = map[string]struct{}{
	"node_modules": {}, ".git": {}, ".svn": {}, "__pycache__": {}, ".DS_Store": {},
}

// Watcher polls the watch root for new or changed files, hashes them,
// records Source/Blob/FileState rows and enqueues ingest_blob jobs. The
// poll is cron-scheduled with an overlap guard; fsnotify events nudge an
// immediate scan so fresh files don't wait for the next tick.
type Watcher struct {
	store *store.Store
	cfg   config.Config

	cron     *cron.Cron
	notify   *fsnotify.Watcher
	kick     chan struct{}
	scans    atomic.Int64
	enqueued atomic.Int64
}

func New(st *store.Store, cfg config.Config) *Watcher {
	return &Watcher{
		store: st,
		cfg:   cfg,
		kick:  make(chan struct{}, 1),
	}
}

// Run blocks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	logger := common.Logger()
	if err := os.MkdirAll(w.cfg.WatchPath, 0o755); err != nil {
		return fmt.Errorf("create watch root: %w", err)
	}

	// SkipIfStillRunning gives the re-entrancy guarantee: a slow scan never
	// overlaps the next tick on the same root.
	w.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})))
	spec := fmt.Sprintf("@every %s", w.cfg.PollInterval)
	if _, err := w.cron.AddFunc(spec, func() { w.scanOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule watcher: %w", err)
	}

	notify, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watcher: fsnotify unavailable, polling only", "error", err)
	} else {
		w.notify = notify
		defer notify.Close()
		if err := notify.Add(w.cfg.WatchPath); err != nil {
			logger.Warn("watcher: fsnotify add failed, polling only", "path", w.cfg.WatchPath, "error", err)
		}
		go w.notifyLoop(ctx)
	}

	logger.Info("watcher: started", "root", w.cfg.WatchPath, "interval", w.cfg.PollInterval)
	w.scanOnce(ctx)
	w.cron.Start()
	defer w.cron.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopping")
			return nil
		case <-w.kick:
			w.scanOnce(ctx)
		}
	}
}

func (w *Watcher) notifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.notify.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				select {
				case w.kick <- struct{}{}:
				default:
				}
			}
		case _, ok := <-w.notify.Errors:
			if !ok {
				return
			}
		}
	}
}

// Status describes the watcher for /capture/status.
type Status struct {
	Roots        []string `json:"roots"`
	PollInterval string   `json:"poll_interval"`
	Scans        int64    `json:"scans"`
	Enqueued     int64    `json:"enqueued"`
}

func (w *Watcher) Status() Status {
	return Status{
		Roots:        []string{w.cfg.WatchPath},
		PollInterval: w.cfg.PollInterval.String(),
		Scans:        w.scans.Load(),
		Enqueued:     w.enqueued.Load(),
	}
}

// scanOnce walks the root and processes every eligible file.
func (w *Watcher) scanOnce(ctx context.Context) {
	logger := common.Logger()
	w.scans.Add(1)
	var seen, changed int
	err := filepath.WalkDir(w.cfg.WatchPath, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := entry.Name()
		if entry.IsDir() {
			if path == w.cfg.WatchPath {
				return nil
			}
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if _, ignored := ignoredDirs[name]; ignored {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		seen++
		didChange, err := w.ProcessFile(ctx, path)
		if err != nil {
			logger.Error("watcher: file processing failed", "path", path, "error", err)
			return nil
		}
		if didChange {
			changed++
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("watcher: scan failed", "error", err)
	}
	if changed > 0 {
		logger.Info("watcher: scan complete", "files", seen, "changed", changed)
	}
}

// ProcessFile checks one file against file_state, hashes it when changed,
// upserts the capture rows and enqueues an ingest job. It reports whether
// the file was new or modified.
func (w *Watcher) ProcessFile(ctx context.Context, path string) (bool, error) {
	logger := common.Logger()
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat: %w", err)
	}
	mtimeNS := info.ModTime().UnixNano()
	sizeBytes := info.Size()

	state, err := w.store.GetFileState(ctx, path)
	if err == nil && state.MtimeNS == mtimeNS && state.SizeBytes == sizeBytes {
		return false, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	sha, err := hashFile(path)
	if err != nil {
		return false, fmt.Errorf("hash: %w", err)
	}
	logger.Info("watcher: change detected", "path", path, "size", sizeBytes, "sha", sha[:12])

	if err := w.store.UpsertFileState(ctx, store.FileState{
		Path: path, MtimeNS: mtimeNS, SizeBytes: sizeBytes, SHA256: sha,
	}); err != nil {
		return false, err
	}
	sourceID, err := w.store.UpsertSource(ctx, "filesystem", path)
	if err != nil {
		return false, err
	}
	mimeType := detectMime(path)
	blobID, err := w.store.InsertBlob(ctx, store.Blob{
		SHA256: sha, Path: path, Mime: mimeType, SizeBytes: sizeBytes, SourceID: sourceID,
	})
	if err != nil {
		return false, err
	}

	traceID := common.NewID("tr")
	payload, err := json.Marshal(map[string]interface{}{
		"blob_id":    blobID,
		"sha256":     sha,
		"mime":       mimeType,
		"size_bytes": sizeBytes,
		"trace_id":   traceID,
	})
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}
	jobID, err := w.store.EnqueueJob(ctx, "ingest_blob", string(payload), traceID)
	if err != nil {
		return false, err
	}
	w.enqueued.Add(1)
	logger.Info("watcher: ingest enqueued", "path", path, "blob", blobID, "job", jobID)
	return true, nil
}

// hashFile streams SHA-256 in chunks so large files never load fully.
func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	digest := sha256.New()
	buffer := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(digest, file, buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func detectMime(path string) string {
	if mimeType := mime.TypeByExtension(filepath.Ext(path)); mimeType != "" {
		if idx := strings.Index(mimeType, ";"); idx > 0 {
			return mimeType[:idx]
		}
		return mimeType
	}
	return "application/octet-stream"
}

// cronLogger adapts slog to the cron.Logger contract so skip decisions show
// up in the shared log stream.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug("watcher: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	c.logger.Error("watcher: "+msg, args...)
}

var _ cron.Logger = cronLogger{}

// Interval exposes the configured poll period.
func (w *Watcher) Interval() time.Duration {
	return w.cfg.PollInterval
}
