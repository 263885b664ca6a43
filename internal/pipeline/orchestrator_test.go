package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiotdata/retail-ingest/internal/cleaning"
	"github.com/kiotdata/retail-ingest/internal/dedup"
	"github.com/kiotdata/retail-ingest/internal/scan"
)

const sampleCSV = `Mã giao dịch,Mã hàng,Thờigian,SL,Giá bán/SP,Giá vốn/SP,Chi nhánh
TX001,SP01,2024-05-13 08:15:00,2,10000,7000,Hà Nội
TX002,SP02,2024-05-13 09:00:00,1,5000,4000,Hà Nội
`

type fakeSink struct {
	calls int
	rows  int
	err   error
}

func (f *fakeSink) InsertTransactions(ctx context.Context, t *cleaning.Table) (int, error) {
	return f.record(t)
}

func (f *fakeSink) InsertTable(ctx context.Context, t *cleaning.Table) (int, error) {
	return f.record(t)
}

func (f *fakeSink) record(t *cleaning.Table) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.calls++
	f.rows += len(t.Rows)
	return len(t.Rows), nil
}

type testHarness struct {
	orch     *Orchestrator
	store    *dedup.Store
	op       *fakeSink
	an       *fakeSink
	inputDir string
	outDir   string
}

func setupOrchestrator(t *testing.T) *testHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := dedup.New(client)

	inputDir := t.TempDir()
	outDir := t.TempDir()
	op := &fakeSink{}
	an := &fakeSink{}

	orch, err := New(Config{
		InputDir:  inputDir,
		OutputDir: outDir,
		LockTTL:   time.Minute,
		DedupTTL:  24 * time.Hour,
	}, store, op, an)
	require.NoError(t, err)
	orch.now = func() time.Time { return time.Date(2024, 5, 13, 10, 30, 0, 0, time.UTC) }

	return &testHarness{orch: orch, store: store, op: op, an: an, inputDir: inputDir, outDir: outDir}
}

func (h *testHarness) dropFile(t *testing.T, name, content string) scan.File {
	t.Helper()
	path := filepath.Join(h.inputDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return scan.File{Path: path, Name: name, Size: info.Size(), ModTime: info.ModTime()}
}

func TestProcessFileCompletes(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()
	f := h.dropFile(t, "sales.csv", sampleCSV)

	hash, err := scan.HashFile(f.Path)
	require.NoError(t, err)

	assert.Equal(t, outcomeProcessed, h.orch.ProcessFile(ctx, f))
	assert.Equal(t, 1, h.op.calls)
	assert.Equal(t, 1, h.an.calls)
	assert.Equal(t, 2, h.op.rows)

	// Original moved into processed/ with a timestamp prefix
	_, err = os.Stat(f.Path)
	assert.True(t, os.IsNotExist(err))
	moved, err := filepath.Glob(filepath.Join(h.inputDir, "processed", "*_sales.csv"))
	require.NoError(t, err)
	assert.Len(t, moved, 1)

	// Cleaned artifact written to the output dir
	artifacts, err := filepath.Glob(filepath.Join(h.outDir, "cleaned_*_sales.csv"))
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)

	// Content hash recorded for replay protection
	dup, err := h.store.IsDuplicate(ctx, hash)
	require.NoError(t, err)
	assert.True(t, dup)

	// Job status reached completed
	status, err := h.store.GetStatus(ctx, "csv_"+hash[:16]+"_103000")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, "sales.csv", status.Metadata["file"])
	assert.Equal(t, "2", status.Metadata["rows_processed"])
}

func TestProcessFileDuplicateSkipped(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()
	f := h.dropFile(t, "sales.csv", sampleCSV)

	hash, err := scan.HashFile(f.Path)
	require.NoError(t, err)
	require.NoError(t, h.store.MarkSeen(ctx, hash, time.Hour))

	assert.Equal(t, outcomeSkipped, h.orch.ProcessFile(ctx, f))
	assert.Zero(t, h.op.calls)
	assert.Zero(t, h.an.calls)

	// Duplicate files stay in place
	_, err = os.Stat(f.Path)
	assert.NoError(t, err)
}

func TestProcessFileSameContentTwice(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()

	first := h.dropFile(t, "monday.csv", sampleCSV)
	assert.Equal(t, outcomeProcessed, h.orch.ProcessFile(ctx, first))

	// Identical content under a new name is recognized and skipped
	second := h.dropFile(t, "monday_copy.csv", sampleCSV)
	assert.Equal(t, outcomeSkipped, h.orch.ProcessFile(ctx, second))
	assert.Equal(t, 1, h.op.calls)
}

func TestProcessFileLockContention(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()
	f := h.dropFile(t, "sales.csv", sampleCSV)

	hash, err := scan.HashFile(f.Path)
	require.NoError(t, err)

	// Another worker holds the content lock
	locked, err := h.store.AcquireLock(ctx, "file:"+hash, time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	assert.Equal(t, outcomeSkipped, h.orch.ProcessFile(ctx, f))
	assert.Zero(t, h.op.calls)

	// File and dedup state untouched, so the other worker finishes it
	_, err = os.Stat(f.Path)
	assert.NoError(t, err)
	dup, err := h.store.IsDuplicate(ctx, hash)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestProcessFileLockReleased(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()
	f := h.dropFile(t, "sales.csv", sampleCSV)

	hash, err := scan.HashFile(f.Path)
	require.NoError(t, err)
	require.Equal(t, outcomeProcessed, h.orch.ProcessFile(ctx, f))

	locked, err := h.store.AcquireLock(ctx, "file:"+hash, time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestProcessFileSinkErrorQuarantines(t *testing.T) {
	h := setupOrchestrator(t)
	h.op.err = assert.AnError
	ctx := context.Background()
	f := h.dropFile(t, "broken.csv", sampleCSV)

	hash, err := scan.HashFile(f.Path)
	require.NoError(t, err)

	assert.Equal(t, outcomeError, h.orch.ProcessFile(ctx, f))

	// Quarantined under the original name
	_, err = os.Stat(filepath.Join(h.inputDir, "error", "broken.csv"))
	assert.NoError(t, err)

	// Not marked processed: a fixed environment can replay it
	dup, err := h.store.IsDuplicate(ctx, hash)
	require.NoError(t, err)
	assert.False(t, dup)

	status, err := h.store.GetStatus(ctx, "csv_"+hash[:16]+"_103000")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "error", status.Status)
	assert.Contains(t, status.Metadata["error"], "postgres insert")

	// Lock released despite the failure
	locked, err := h.store.AcquireLock(ctx, "file:"+hash, time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestProcessFileEmptyTableQuarantined(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()

	// Header only: cleaning succeeds but yields zero rows
	f := h.dropFile(t, "empty.csv", "Mã giao dịch,SL\n")

	hash, err := scan.HashFile(f.Path)
	require.NoError(t, err)

	assert.Equal(t, outcomeError, h.orch.ProcessFile(ctx, f))
	assert.Zero(t, h.op.calls)
	assert.Zero(t, h.an.calls)

	// Quarantined, not completed
	_, err = os.Stat(filepath.Join(h.inputDir, "error", "empty.csv"))
	assert.NoError(t, err)

	// Not marked seen: a corrected re-export of the same name replays
	dup, err := h.store.IsDuplicate(ctx, hash)
	require.NoError(t, err)
	assert.False(t, dup)

	status, err := h.store.GetStatus(ctx, "csv_"+hash[:16]+"_103000")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "error", status.Status)
	assert.Contains(t, status.Metadata["error"], "no rows")
}

func TestProcessFileRenameFailureQuarantines(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()
	f := h.dropFile(t, "sales.csv", sampleCSV)

	hash, err := scan.HashFile(f.Path)
	require.NoError(t, err)

	// Make the final move fail: processed/ is now a regular file
	processedDir := filepath.Join(h.inputDir, "processed")
	require.NoError(t, os.RemoveAll(processedDir))
	require.NoError(t, os.WriteFile(processedDir, []byte("x"), 0644))

	assert.Equal(t, outcomeError, h.orch.ProcessFile(ctx, f))

	// The failure is recorded and the file quarantined
	_, err = os.Stat(filepath.Join(h.inputDir, "error", "sales.csv"))
	assert.NoError(t, err)

	status, err := h.store.GetStatus(ctx, "csv_"+hash[:16]+"_103000")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "error", status.Status)
	assert.Contains(t, status.Metadata["error"], "moving to processed")

	// Sink writes committed, so the hash stays marked
	dup, err := h.store.IsDuplicate(ctx, hash)
	require.NoError(t, err)
	assert.True(t, dup)

	count, err := h.store.GetCounter(ctx, "files_processed")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunOncePass(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()

	h.dropFile(t, "a.csv", sampleCSV)
	h.dropFile(t, "b.csv", "Mã giao dịch,SL\nTX900,5\n")
	h.dropFile(t, "notes.txt", "ignored")

	stats, err := h.orch.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Found: 2, Processed: 2}, stats)
	assert.Equal(t, 2, h.op.calls)

	// Second pass finds nothing: both moved to processed/
	stats, err = h.orch.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	count, err := h.store.GetCounter(ctx, "files_processed")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRunSinglePassFlushesReports(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()
	h.dropFile(t, "a.csv", sampleCSV)

	stats, err := h.orch.Run(ctx, false, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)

	// The report batch drained at shutdown, leaving nothing pending
	remaining, err := h.store.FlushBatch(ctx, reportBatchKey)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRunFlushesReportsOnScanError(t *testing.T) {
	h := setupOrchestrator(t)
	ctx := context.Background()

	h.orch.pushReport(ctx, "stale.csv", "completed", nil)

	// The input directory disappearing fails the pass
	require.NoError(t, os.RemoveAll(h.inputDir))

	_, err := h.orch.Run(ctx, false, time.Second)
	require.Error(t, err)

	// The pending report still drained on the way out
	remaining, err := h.store.FlushBatch(ctx, reportBatchKey)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	h := setupOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Stats, 1)
	go func() {
		stats, _ := h.orch.Run(ctx, true, 10*time.Millisecond)
		done <- stats
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
