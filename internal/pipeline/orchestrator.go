// Package pipeline drives dropped CSV files through the processing
// lifecycle: discovered, processing, then completed, skipped, or
// error. Exactly-once semantics and cross-instance coordination rest
// entirely on the shared Redis store.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kiotdata/retail-ingest/internal/cleaning"
	"github.com/kiotdata/retail-ingest/internal/dedup"
	"github.com/kiotdata/retail-ingest/internal/scan"
	"github.com/kiotdata/retail-ingest/internal/sink"
)

// OperationalSink receives cleaned tables for the normalized
// operational store.
type OperationalSink interface {
	InsertTransactions(ctx context.Context, t *cleaning.Table) (int, error)
}

// AnalyticalSink receives cleaned tables for the fact table.
type AnalyticalSink interface {
	InsertTable(ctx context.Context, t *cleaning.Table) (int, error)
}

// Stats counts per-pass outcomes.
type Stats struct {
	Found     int
	Processed int
	Skipped   int
	Errors    int
}

// reportBatchSize is how many per-file summaries accumulate in Redis
// before a batch drains for the reporting feed.
const reportBatchSize = 10

const reportBatchKey = "file_reports"

// Config carries the orchestrator's directory layout and TTLs.
type Config struct {
	InputDir  string
	OutputDir string
	LockTTL   time.Duration
	DedupTTL  time.Duration
}

// Orchestrator owns one processing run over the watched directory.
type Orchestrator struct {
	store       *dedup.Store
	engine      *cleaning.Engine
	operational OperationalSink
	analytical  AnalyticalSink

	inputDir     string
	outputDir    string
	processedDir string
	errorDir     string
	lockTTL      time.Duration
	dedupTTL     time.Duration

	runID string
	now   func() time.Time
}

// New builds an orchestrator and creates the output, processed, and
// error directories if missing.
func New(cfg Config, store *dedup.Store, operational OperationalSink, analytical AnalyticalSink) (*Orchestrator, error) {
	o := &Orchestrator{
		store:        store,
		engine:       cleaning.NewEngine(),
		operational:  operational,
		analytical:   analytical,
		inputDir:     cfg.InputDir,
		outputDir:    cfg.OutputDir,
		processedDir: filepath.Join(cfg.InputDir, "processed"),
		errorDir:     filepath.Join(cfg.InputDir, "error"),
		lockTTL:      cfg.LockTTL,
		dedupTTL:     cfg.DedupTTL,
		runID:        uuid.New().String(),
		now:          time.Now,
	}
	if o.lockTTL <= 0 {
		o.lockTTL = time.Minute
	}
	if o.dedupTTL <= 0 {
		o.dedupTTL = dedup.DefaultDedupTTL
	}

	for _, dir := range []string{o.outputDir, o.processedDir, o.errorDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return o, nil
}

// RunOnce scans the input directory and processes every discovered
// file in mtime order. The pass continues past individual file errors.
func (o *Orchestrator) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	files, err := scan.Scan(o.inputDir)
	if err != nil {
		return stats, err
	}
	stats.Found = len(files)

	if len(files) == 0 {
		log.Printf("[pipeline] No CSV files found in %s", o.inputDir)
		return stats, nil
	}
	log.Printf("[pipeline] Found %d CSV file(s) to process", len(files))

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		log.Printf("[pipeline] [%d/%d] Processing %s", i+1, len(files), f.Name)

		switch outcome := o.ProcessFile(ctx, f); outcome {
		case outcomeProcessed:
			stats.Processed++
		case outcomeSkipped:
			stats.Skipped++
		default:
			stats.Errors++
		}
	}

	log.Printf("[pipeline] Pass complete: found=%d processed=%d skipped=%d errors=%d",
		stats.Found, stats.Processed, stats.Skipped, stats.Errors)
	return stats, nil
}

// Run executes one pass, or polls at the given interval until the
// context is canceled. The returned stats accumulate across passes.
func (o *Orchestrator) Run(ctx context.Context, continuous bool, interval time.Duration) (Stats, error) {
	var total Stats
	for {
		stats, err := o.RunOnce(ctx)
		total.Found += stats.Found
		total.Processed += stats.Processed
		total.Skipped += stats.Skipped
		total.Errors += stats.Errors
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("[pipeline] Pass failed: %v", err)
			if !continuous {
				o.flushReports(context.WithoutCancel(ctx))
				return total, err
			}
		}
		if !continuous {
			break
		}

		select {
		case <-ctx.Done():
			o.flushReports(context.WithoutCancel(ctx))
			return total, nil
		case <-time.After(interval):
		}
	}

	o.flushReports(context.WithoutCancel(ctx))
	return total, nil
}

// Outcome is the terminal state of one file in one pass.
type Outcome int

const (
	outcomeProcessed Outcome = iota
	outcomeSkipped
	outcomeError
)

// ProcessFile advances one file through the full lifecycle. The
// content lock is released on every exit path; the file moves out of
// the input directory only as the final action, after all sink writes
// succeeded (completed) or the failure is recorded (error).
func (o *Orchestrator) ProcessFile(ctx context.Context, f scan.File) Outcome {
	hash, err := scan.HashFile(f.Path)
	if err != nil {
		log.Printf("[pipeline] Failed to hash %s: %v", f.Name, err)
		return outcomeError
	}
	jobID := fmt.Sprintf("csv_%s_%s", hash[:16], o.now().Format("150405"))

	log.Printf("[pipeline] Processing: %s (hash %s, job %s)", f.Name, hash, jobID)
	o.setStatus(ctx, jobID, "discovered", map[string]string{"file": f.Name})

	dup, err := o.store.IsDuplicate(ctx, hash)
	if err != nil {
		return o.fail(ctx, jobID, f, fmt.Errorf("duplicate check: %w", err))
	}
	if dup {
		log.Printf("[pipeline] File already processed, skipping: %s", f.Name)
		o.setStatus(ctx, jobID, "skipped", map[string]string{"file": f.Name, "reason": "duplicate"})
		return outcomeSkipped
	}

	locked, err := o.store.AcquireLock(ctx, "file:"+hash, o.lockTTL)
	if err != nil {
		return o.fail(ctx, jobID, f, fmt.Errorf("lock acquire: %w", err))
	}
	if !locked {
		log.Printf("[pipeline] File locked by another worker, skipping: %s", f.Name)
		o.setStatus(ctx, jobID, "skipped", map[string]string{"file": f.Name, "reason": "locked"})
		return outcomeSkipped
	}
	defer func() {
		if err := o.store.ReleaseLock(context.WithoutCancel(ctx), "file:"+hash); err != nil {
			log.Printf("[pipeline] Failed to release lock for %s: %v", f.Name, err)
		}
	}()

	o.setStatus(ctx, jobID, "processing", map[string]string{"file": f.Name})

	table, report, err := o.engine.CleanFile(f.Path)
	if err != nil {
		return o.fail(ctx, jobID, f, fmt.Errorf("cleaning: %w", err))
	}
	if len(table.Rows) == 0 {
		return o.fail(ctx, jobID, f, sink.ErrEmptyTable)
	}

	outputName := fmt.Sprintf("cleaned_%s_%s", o.now().Format("20060102_150405"), f.Name)
	outputPath := filepath.Join(o.outputDir, outputName)
	if err := cleaning.WriteCSV(table, outputPath); err != nil {
		return o.fail(ctx, jobID, f, fmt.Errorf("writing cleaned file: %w", err))
	}
	log.Printf("[pipeline] Saved cleaned file: %s", outputPath)

	if _, err := o.operational.InsertTransactions(ctx, table); err != nil {
		return o.fail(ctx, jobID, f, fmt.Errorf("postgres insert: %w", err))
	}
	if _, err := o.analytical.InsertTable(ctx, table); err != nil {
		return o.fail(ctx, jobID, f, fmt.Errorf("warehouse insert: %w", err))
	}

	if err := o.store.MarkSeen(ctx, hash, o.dedupTTL); err != nil {
		return o.fail(ctx, jobID, f, fmt.Errorf("marking processed: %w", err))
	}

	o.setStatus(ctx, jobID, "completed", map[string]string{
		"file":           f.Name,
		"rows_processed": strconv.Itoa(len(table.Rows)),
		"output_file":    outputName,
	})
	o.pushReport(ctx, f.Name, "completed", report)

	processedPath := filepath.Join(o.processedDir, o.now().Format("20060102_150405")+"_"+f.Name)
	if err := os.Rename(f.Path, processedPath); err != nil {
		return o.fail(ctx, jobID, f, fmt.Errorf("moving to processed: %w", err))
	}
	o.incrCounter(ctx, "files_processed")
	log.Printf("[pipeline] Successfully processed: %s", f.Name)
	return outcomeProcessed
}

// fail records the error status, quarantines the file under its
// original name, and bumps the error counter.
func (o *Orchestrator) fail(ctx context.Context, jobID string, f scan.File, cause error) Outcome {
	log.Printf("[pipeline] Error processing %s: %v", f.Name, cause)
	o.setStatus(ctx, jobID, "error", map[string]string{
		"file":  f.Name,
		"error": cause.Error(),
	})
	o.incrCounter(ctx, "files_error")

	errorPath := filepath.Join(o.errorDir, f.Name)
	if err := os.Rename(f.Path, errorPath); err != nil {
		log.Printf("[pipeline] Could not move %s to error folder: %v", f.Name, err)
	} else {
		log.Printf("[pipeline] Moved to error folder: %s", errorPath)
	}
	return outcomeError
}

// setStatus is best-effort: a failed status write never changes a
// file's outcome.
func (o *Orchestrator) setStatus(ctx context.Context, jobID, status string, metadata map[string]string) {
	metadata["run_id"] = o.runID
	if err := o.store.SetStatus(ctx, jobID, status, metadata); err != nil {
		log.Printf("[pipeline] Failed to set status %s for %s: %v", status, jobID, err)
	}
}

func (o *Orchestrator) incrCounter(ctx context.Context, name string) {
	if _, err := o.store.IncrCounter(ctx, name, 1); err != nil {
		log.Printf("[pipeline] Failed to increment %s: %v", name, err)
	}
}

// fileReport is one entry in the batched reporting feed.
type fileReport struct {
	File              string    `json:"file"`
	Status            string    `json:"status"`
	Rows              int       `json:"rows"`
	DuplicatesRemoved int       `json:"duplicates_removed"`
	ProcessedAt       time.Time `json:"processed_at"`
}

// pushReport appends a per-file summary to the reporting batch and
// logs any batch that drained full.
func (o *Orchestrator) pushReport(ctx context.Context, file, status string, report *cleaning.Report) {
	entry := fileReport{
		File:        file,
		Status:      status,
		ProcessedAt: o.now(),
	}
	if report != nil {
		entry.Rows = report.TotalRows
		entry.DuplicatesRemoved = report.DuplicatesRemoved
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}

	drained, err := o.store.PushBatch(ctx, reportBatchKey, string(payload), reportBatchSize)
	if err != nil {
		log.Printf("[pipeline] Failed to push file report: %v", err)
		return
	}
	if len(drained) > 0 {
		log.Printf("[pipeline] Report batch ready: %d entries", len(drained))
	}
}

// flushReports drains the partial report batch, typically at shutdown.
func (o *Orchestrator) flushReports(ctx context.Context) {
	remaining, err := o.store.FlushBatch(ctx, reportBatchKey)
	if err != nil {
		log.Printf("[pipeline] Failed to flush report batch: %v", err)
		return
	}
	if len(remaining) > 0 {
		log.Printf("[pipeline] Flushed %d pending file reports", len(remaining))
	}
}
