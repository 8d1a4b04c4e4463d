package spool

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborsense/leafvault/pkg/types"
)

type recorder struct {
	mu   sync.Mutex
	reqs []*types.ScanRequest
}

func (r *recorder) submit(ctx context.Context, req *types.ScanRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func (r *recorder) get(i int) *types.ScanRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[i]
}

func setupWatcher(t *testing.T) (string, *recorder, *Watcher) {
	t.Helper()
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher(dir, 7, rec.submit, nil)
	w.settle = 20 * time.Millisecond
	return dir, rec, w
}

func TestTreeCodeFromName(t *testing.T) {
	assert.Equal(t, "A-001", treeCodeFromName("A-001_20260828T101500.jpg"))
	assert.Equal(t, "A-001", treeCodeFromName("A-001.jpg"))
	assert.Equal(t, "B-17", treeCodeFromName("B-17_x_y.png"))
}

func TestIngestsDroppedFile(t *testing.T) {
	dir, rec, w := setupWatcher(t)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	payload := []byte{0xff, 0xd8, 0xff}
	path := filepath.Join(dir, "A-001_capture.jpg")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 3*time.Second, 10*time.Millisecond)

	req := rec.get(0)
	assert.Equal(t, "A-001", req.TreeCode)
	assert.Equal(t, int64(7), req.UserID)
	assert.Equal(t, "image/jpeg", req.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), req.ImageData)

	// The file moved to the archive.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, archiveDir, "A-001_capture.jpg"))
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestIngestsPreexistingFiles(t *testing.T) {
	dir, rec, w := setupWatcher(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A-002_old.png"), []byte{0x89, 0x50}, 0o644))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool { return rec.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "image/png", rec.get(0).MimeType)
}

func TestIgnoresNonImageFiles(t *testing.T) {
	dir, rec, w := setupWatcher(t)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0o644))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestStopIdempotent(t *testing.T) {
	_, _, w := setupWatcher(t)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
