// Package sqlite implements the durable persistence adapter for Leafvault.
// It mirrors the in-memory entity store, the pending-operation queue, trash
// metadata, and sync cursors to an on-device SQLite database so state
// survives process restarts.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/arborsense/leafvault/pkg/types"
)

// Backend is the SQLite-backed durable store. It is opened once at startup
// via Attach and closed implicitly on process exit; Detach exists for tests
// and orderly shutdown.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	logger   *log.Logger

	// degraded tracks collections whose namespace could not be created.
	// Those collections keep working memory-only for the session.
	degraded map[string]bool
}

// Compile-time interface checks against the storage contracts.
var (
	_ types.Persister    = (*Backend)(nil)
	_ types.PendingStore = (*Backend)(nil)
	_ types.TrashStore   = (*Backend)(nil)
	_ types.CursorStore  = (*Backend)(nil)
)

// NewBackend creates an unattached backend. If logger is nil, a default
// logger writing to stderr is used.
func NewBackend(logger *log.Logger) *Backend {
	if logger == nil {
		logger = log.New(os.Stderr, "[sqlite] ", log.LstdFlags)
	}
	return &Backend{
		logger:   logger,
		degraded: make(map[string]bool),
	}
}

// Attach opens the database under config.DataDir and creates missing object
// stores without destroying existing data. A collection namespace that cannot
// be created is logged and degraded to memory-only; Attach itself fails only
// when the database cannot be opened at all.
// Returns ErrAlreadyAttached if called while attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "leafvault.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return fmt.Errorf("enabling WAL: %w", err)
	}

	// Engine stores are required; without them no pending action or trash
	// state can be held durably.
	for _, ddl := range engineDDL {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating engine stores: %w", err)
		}
	}

	b.db = db
	b.config = config
	b.attached = true

	// Entity namespaces are best-effort: a failure degrades that collection
	// to memory-only for the session instead of failing startup.
	for _, c := range types.Collections {
		if err := b.ensureCollectionLocked(c); err != nil {
			b.logger.Printf("WARNING: collection %s degraded to memory-only: %v", c, err)
		}
	}

	return nil
}

// Detach closes the database. Idempotent; after Detach all operations return
// ErrDetached.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	b.degraded = make(map[string]bool)
	return nil
}

// Degraded reports whether the collection is running memory-only.
func (b *Backend) Degraded(collection string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.degraded[collection]
}

// ensureCollectionLocked creates the collection's namespace on first use and
// records a degradation on failure. The caller must hold b.mu.
func (b *Backend) ensureCollectionLocked(collection string) error {
	if b.degraded[collection] {
		return types.ErrCollectionDegraded
	}
	if _, err := b.db.Exec(entityTableDDL(collection)); err != nil {
		b.degraded[collection] = true
		return fmt.Errorf("%w: %v", types.ErrCollectionDegraded, err)
	}
	return nil
}

// checkAttached returns ErrDetached when the backend is not attached.
// The caller must hold b.mu (read or write).
func (b *Backend) checkAttached() error {
	if !b.attached {
		return types.ErrDetached
	}
	return nil
}

// newUUID generates a UUID v7 string, falling back to v4 if v7 generation
// fails.
func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
