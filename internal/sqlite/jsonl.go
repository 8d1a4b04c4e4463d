// JSONL snapshot export with atomic persistence, used by "leafvault export"
// to produce portable per-collection dumps.
package sqlite

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arborsense/leafvault/pkg/types"
)

// ExportJSONL writes one <collection>.jsonl file per collection into destDir,
// one entity per line. Degraded collections are skipped with a warning.
// Returns the number of files written.
func (b *Backend) ExportJSONL(destDir string) (int, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("creating export dir: %w", err)
	}

	written := 0
	for _, collection := range types.Collections {
		if b.Degraded(collection) {
			b.logger.Printf("WARNING: skipping export of degraded collection %s", collection)
			continue
		}
		entities, err := b.Load(collection)
		if err != nil {
			return written, fmt.Errorf("exporting %s: %w", collection, err)
		}

		records := make([]json.RawMessage, 0, len(entities))
		for _, e := range entities {
			data, err := json.Marshal(e)
			if err != nil {
				return written, fmt.Errorf("marshaling %s/%s: %w", collection, e.ID, err)
			}
			records = append(records, data)
		}

		path := filepath.Join(destDir, collection+".jsonl")
		if err := writeJSONL(path, records); err != nil {
			return written, fmt.Errorf("writing %s: %w", path, err)
		}
		written++
	}
	return written, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
