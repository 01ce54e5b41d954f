package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStoreLoadsCatalog(t *testing.T) {
	store, status, err := NewStore("testdata/catalog", zaptest.NewLogger(t))
	require.NoError(t, err)

	// Both good recipes load; broken.json is rejected; schema.json and
	// non-JSON files are skipped without being counted.
	assert.Equal(t, 2, status.Loaded)
	require.Len(t, status.Errors, 1)
	assert.Equal(t, "broken.json", status.Errors[0].File)
	assert.Contains(t, status.Errors[0].Reason, "jump target 99")

	assert.Equal(t, []string{"cancel_marine_order", "update_telco_customer"}, store.Types())

	rc, ok := store.Get("cancel_marine_order")
	require.True(t, ok)
	assert.Equal(t, 1, rc.EntryStep())

	_, ok = store.Get("broken_recipe")
	assert.False(t, ok)
}

func TestStoreRejectsDuplicateTypes(t *testing.T) {
	dir := t.TempDir()
	src, err := os.ReadFile("testdata/catalog/update_telco_customer.json")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), src, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), src, 0o644))

	_, status, err := NewStore(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, status.Loaded)
	require.Len(t, status.Errors, 1)
	assert.Contains(t, status.Errors[0].Reason, "duplicate work_order_type")
}

func TestStoreReloadSwapsAtomically(t *testing.T) {
	dir := t.TempDir()
	src, err := os.ReadFile("testdata/catalog/update_telco_customer.json")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), src, 0o644))

	store, status, err := NewStore(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 1, status.Loaded)

	more, err := os.ReadFile("testdata/catalog/cancel_marine_order.json")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), more, 0o644))

	status, err = store.Reload()
	require.NoError(t, err)
	assert.Equal(t, 2, status.Loaded)
	assert.Len(t, store.ListAll(), 2)
}

func TestStoreMissingDirectory(t *testing.T) {
	_, _, err := NewStore(filepath.Join(t.TempDir(), "nope"), zaptest.NewLogger(t))
	require.Error(t, err)
}
