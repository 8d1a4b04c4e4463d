// Package spool watches the capture directory for images dropped by the
// camera pipeline and turns each one into a scan submission. Files are
// ingested once they stop changing, then moved to an archive subdirectory so
// a restart never double-ingests.
//
// File names carry the tree code: everything before the first underscore,
// e.g. A-001_20260828T101500.jpg.
package spool

import (
	"context"
	"encoding/base64"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arborsense/leafvault/pkg/types"
)

// archiveDir is where ingested files are moved, relative to the capture dir.
const archiveDir = "archive"

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// SubmitFunc accepts one scan request, typically scan.Service.Submit behind
// a small adapter.
type SubmitFunc func(ctx context.Context, req *types.ScanRequest) error

// Watcher ingests captured images from a directory.
type Watcher struct {
	dir    string
	userID int64
	submit SubmitFunc
	logger *log.Logger

	// settle is how long a file must be quiet before ingestion.
	settle time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	stop   chan struct{}
	done   chan struct{}
}

// NewWatcher creates a watcher over dir. If logger is nil, a default logger
// writing to stderr is used.
func NewWatcher(dir string, userID int64, submit SubmitFunc, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.New(os.Stderr, "[spool] ", log.LstdFlags)
	}
	return &Watcher{
		dir:    dir,
		userID: userID,
		submit: submit,
		logger: logger,
		settle: 500 * time.Millisecond,
		timers: make(map[string]*time.Timer),
	}
}

// Start begins watching. Files already present in the directory are ingested
// first, then filesystem events drive the rest.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(w.dir, archiveDir), 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}

	w.mu.Lock()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	stop, done := w.stop, w.done
	w.mu.Unlock()

	w.ingestExisting(ctx)

	go func() {
		defer close(done)
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				w.scheduleIngest(ctx, event.Name)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Printf("WARNING: watch error: %v", err)
			}
		}
	}()
	return nil
}

// Stop halts the watcher and waits for the event loop to exit. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.stop, w.done = nil, nil
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (w *Watcher) ingestExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Printf("WARNING: listing capture dir: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.ingest(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

// scheduleIngest arms (or re-arms) the settle timer for a path. The file is
// read only after it has been quiet for the settle window, so a capture
// still being written is left alone.
func (w *Watcher) scheduleIngest(ctx context.Context, path string) {
	if mimeByExt[strings.ToLower(filepath.Ext(path))] == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop == nil {
		return
	}
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

// ingest reads one capture, submits it as a scan, and archives the file.
func (w *Watcher) ingest(ctx context.Context, path string) {
	mimeType := mimeByExt[strings.ToLower(filepath.Ext(path))]
	if mimeType == "" {
		return
	}
	code := treeCodeFromName(filepath.Base(path))
	if code == "" {
		w.logger.Printf("WARNING: skipping capture with no tree code: %s", filepath.Base(path))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Printf("WARNING: reading capture %s: %v", path, err)
		return
	}

	req := &types.ScanRequest{
		UserID:    w.userID,
		TreeCode:  code,
		ImageData: base64.StdEncoding.EncodeToString(data),
		MimeType:  mimeType,
	}
	if err := w.submit(ctx, req); err != nil {
		// The queue path already absorbed transient failures; an error here
		// means the capture itself is unusable. Archive it anyway so it does
		// not wedge the directory.
		w.logger.Printf("WARNING: scan for %s not accepted: %v", filepath.Base(path), err)
	}

	dest := filepath.Join(w.dir, archiveDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.logger.Printf("WARNING: archiving %s: %v", path, err)
		return
	}
	w.logger.Printf("ingested capture %s (tree %s)", filepath.Base(path), code)
}

// treeCodeFromName extracts the tree code from a capture file name.
func treeCodeFromName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.Index(base, "_"); i > 0 {
		return base[:i]
	}
	return base
}
