package scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestScanFindsOnlyTopLevelCSVs(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 5, 13, 10, 0, 0, 0, time.UTC)

	writeFile(t, dir, "b.csv", "x", base.Add(2*time.Minute))
	writeFile(t, dir, "a.csv", "y", base)
	writeFile(t, dir, "c.CSV", "z", base.Add(time.Minute))
	writeFile(t, dir, "notes.txt", "skip", base)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "processed"), 0755))
	writeFile(t, filepath.Join(dir, "processed"), "old.csv", "done", base)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "error"), 0755))
	writeFile(t, filepath.Join(dir, "error"), "bad.csv", "bad", base)

	files, err := Scan(dir)
	require.NoError(t, err)

	require.Len(t, files, 3)
	// Oldest first
	assert.Equal(t, "a.csv", files[0].Name)
	assert.Equal(t, "c.CSV", files[1].Name)
	assert.Equal(t, "b.csv", files[2].Name)
}

func TestScanEmptyDir(t *testing.T) {
	files, err := Scan(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScanMissingDir(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.csv", "ma_hang,sl\nSP01,2\n", time.Now())

	hash, err := HashFile(path)
	require.NoError(t, err)
	assert.Len(t, hash, 32)

	// Same content, different name: same hash
	other := writeFile(t, dir, "copy.csv", "ma_hang,sl\nSP01,2\n", time.Now())
	otherHash, err := HashFile(other)
	require.NoError(t, err)
	assert.Equal(t, hash, otherHash)

	changed := writeFile(t, dir, "changed.csv", "ma_hang,sl\nSP01,3\n", time.Now())
	changedHash, err := HashFile(changed)
	require.NoError(t, err)
	assert.NotEqual(t, hash, changedHash)
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
