// Package compaction merges the small per-flush Parquet archive files into
// one file per period.
//
// The archive sink writes one file per flush. Once a period (an hour by
// default) has ended, its files are read in write order, rewritten as a
// single file and replaced. The merged file takes the name of the newest
// source so that archive order and retention by write time are unchanged.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/config"
	"github.com/xtxerr/axislog/internal/storage/parquet"
	"github.com/xtxerr/axislog/internal/storage/sink"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// Engine merges archive files period by period.
type Engine struct {
	mu sync.Mutex // serializes runs

	dir    string
	config config.CompactionConfig
	opts   parquet.Options
	logger *slog.Logger
	now    func() time.Time

	// Statistics
	stats counters
}

type counters struct {
	runs         atomic.Int64
	jobsDone     atomic.Int64
	jobsFailed   atomic.Int64
	filesRead    atomic.Int64
	filesWritten atomic.Int64
	rows         atomic.Int64
}

// Job merges the files of one period.
type Job struct {
	// Period covered by the job
	Start time.Time
	End   time.Time

	// SourceFiles in write order
	SourceFiles []string

	// OutputFile is replaced by the merged file. It is the newest source.
	OutputFile string
}

// Result holds the outcome of one compaction run.
type Result struct {
	Jobs   int
	Files  int
	Rows   int64
	Errors []error
}

// New creates an engine for the archive directory dir.
func New(dir string, cfg config.CompactionConfig, opts parquet.Options) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Engine{
		dir:    dir,
		config: cfg,
		opts:   opts,
		logger: logging.Component("compaction"),
		now:    time.Now,
	}
}

// Enabled reports whether compaction is configured.
func (e *Engine) Enabled() bool {
	return e.dir != "" && e.config.Period > 0
}

// Run compacts every cfg.Interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	if !e.Enabled() {
		return
	}

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	e.logResult(e.RunOnce(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.logResult(e.RunOnce(ctx))
		}
	}
}

func (e *Engine) logResult(result Result) {
	for _, err := range result.Errors {
		e.logger.Warn("compaction failed", "error", err)
	}
	if result.Jobs > 0 {
		e.logger.Info("archive compacted",
			"periods", result.Jobs,
			"files", result.Files,
			"rows", result.Rows,
		)
	}
}

// RunOnce plans and runs all pending jobs.
func (e *Engine) RunOnce(ctx context.Context) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.runs.Add(1)

	var result Result
	if !e.Enabled() {
		return result
	}

	jobs, err := e.Plan()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("plan: %w", err))
		return result
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)

	for _, job := range jobs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			rows, err := e.RunJob(job)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.stats.jobsFailed.Add(1)
				result.Errors = append(result.Errors, err)
				return nil
			}
			e.stats.jobsDone.Add(1)
			result.Jobs++
			result.Files += len(job.SourceFiles)
			result.Rows += rows
			return nil
		})
	}
	_ = g.Wait()

	return result
}

// Plan groups the archive files by period. Only periods that have ended
// and hold more than one file produce a job.
func (e *Engine) Plan() ([]Job, error) {
	files, err := sink.ListParquetFiles(e.dir)
	if err != nil {
		return nil, err
	}

	cutoff := e.now().Truncate(e.config.Period)
	groups := make(map[time.Time][]string)

	for _, file := range files {
		ts, err := sink.ParquetFileTime(file)
		if err != nil {
			continue
		}
		start := ts.Truncate(e.config.Period)
		if !start.Before(cutoff) {
			continue
		}
		groups[start] = append(groups[start], file)
	}

	var jobs []Job
	for start, sources := range groups {
		if len(sources) < 2 {
			continue
		}
		jobs = append(jobs, Job{
			Start:       start,
			End:         start.Add(e.config.Period),
			SourceFiles: sources,
			OutputFile:  sources[len(sources)-1],
		})
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Start.Before(jobs[j].Start)
	})
	return jobs, nil
}

// RunJob merges the source files of job into its output file and returns
// the number of rows written. The output replaces the newest source
// atomically; the older sources are removed afterwards.
func (e *Engine) RunJob(job Job) (int64, error) {
	if len(job.SourceFiles) == 0 {
		return 0, nil
	}

	var rows []types.Row
	for _, file := range job.SourceFiles {
		batch, err := parquet.ReadFile(file)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", filepath.Base(file), err)
		}
		rows = append(rows, batch...)
		e.stats.filesRead.Add(1)
	}

	tmp := filepath.Join(e.dir, fmt.Sprintf(".compact-%d.tmp", job.Start.UnixNano()))
	if err := e.write(tmp, rows); err != nil {
		return 0, fmt.Errorf("write %s: %w", filepath.Base(job.OutputFile), err)
	}

	if err := os.Rename(tmp, job.OutputFile); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("replace %s: %w", filepath.Base(job.OutputFile), err)
	}
	e.stats.filesWritten.Add(1)
	e.stats.rows.Add(int64(len(rows)))

	for _, file := range job.SourceFiles {
		if file == job.OutputFile {
			continue
		}
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			// The rows are in the merged file now; a leftover is a duplicate
			return int64(len(rows)), fmt.Errorf("remove %s: %w", filepath.Base(file), err)
		}
	}

	e.logger.Debug("period compacted",
		"start", job.Start,
		"files", len(job.SourceFiles),
		"rows", len(rows),
	)
	return int64(len(rows)), nil
}

func (e *Engine) write(path string, rows []types.Row) error {
	w, err := parquet.NewRowWriter(path, e.opts)
	if err != nil {
		return err
	}
	if err := w.Write(rows); err != nil {
		w.Abort()
		return err
	}
	if err := w.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// Stats returns current statistics.
func (e *Engine) Stats() Stats {
	return Stats{
		Runs:          e.stats.runs.Load(),
		JobsCompleted: e.stats.jobsDone.Load(),
		JobsFailed:    e.stats.jobsFailed.Load(),
		FilesRead:     e.stats.filesRead.Load(),
		FilesWritten:  e.stats.filesWritten.Load(),
		RowsProcessed: e.stats.rows.Load(),
	}
}

// Stats holds compaction statistics.
type Stats struct {
	Runs          int64
	JobsCompleted int64
	JobsFailed    int64
	FilesRead     int64
	FilesWritten  int64
	RowsProcessed int64
}
