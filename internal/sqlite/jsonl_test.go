package sqlite

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborsense/leafvault/pkg/types"
)

func TestExportJSONLWritesEveryCollection(t *testing.T) {
	b := setupBackend(t)

	require.NoError(t, b.Save(types.CollectionTrees, makeEntity(t, "t1", "T-100")))
	require.NoError(t, b.Save(types.CollectionTrees, makeEntity(t, "t2", "T-200")))

	dest := t.TempDir()
	written, err := b.ExportJSONL(dest)
	require.NoError(t, err)
	assert.Equal(t, len(types.Collections), written)

	path := filepath.Join(dest, types.CollectionTrees+".jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e types.Entity
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e), "every line is a valid entity")
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestExportJSONLEmptyCollections(t *testing.T) {
	b := setupBackend(t)

	dest := t.TempDir()
	written, err := b.ExportJSONL(dest)
	require.NoError(t, err)
	assert.Equal(t, len(types.Collections), written)

	data, err := os.ReadFile(filepath.Join(dest, types.CollectionImages+".jsonl"))
	require.NoError(t, err)
	assert.Empty(t, data)
}
