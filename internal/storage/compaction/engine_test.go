package compaction

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/axislog/internal/storage/config"
	"github.com/xtxerr/axislog/internal/storage/parquet"
	"github.com/xtxerr/axislog/internal/storage/sink"
	"github.com/xtxerr/axislog/internal/storage/types"
)

const layout = "2006-01-02 15:04:05"

var t0 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func testConfig() config.CompactionConfig {
	return config.CompactionConfig{
		Period:   time.Hour,
		Interval: time.Minute,
		Workers:  2,
	}
}

func newEngine(t *testing.T, now time.Time) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e := New(dir, testConfig(), parquet.DefaultOptions())
	e.now = func() time.Time { return now }
	return e, dir
}

// writeFlush writes one archive file as the sink does after a flush at ts.
func writeFlush(t *testing.T, dir string, ts time.Time, values ...float64) string {
	t.Helper()

	var rows []types.Row
	for i, v := range values {
		rows = append(rows, types.NewRow(ts.Add(time.Duration(i)*time.Second), layout, v, v, v))
	}

	path := filepath.Join(dir, sink.ParquetFileName(ts))
	w, err := parquet.NewRowWriter(path, parquet.DefaultOptions())
	if err != nil {
		t.Fatalf("NewRowWriter: %v", err)
	}
	if err := w.Write(rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestEngine_Enabled(t *testing.T) {
	if New("", testConfig(), parquet.DefaultOptions()).Enabled() {
		t.Error("engine without directory should be disabled")
	}

	cfg := testConfig()
	cfg.Period = 0
	if New(t.TempDir(), cfg, parquet.DefaultOptions()).Enabled() {
		t.Error("engine without period should be disabled")
	}

	if !New(t.TempDir(), testConfig(), parquet.DefaultOptions()).Enabled() {
		t.Error("engine should be enabled")
	}
}

func TestEngine_Plan(t *testing.T) {
	e, dir := newEngine(t, t0.Add(2*time.Hour+30*time.Minute))

	// Two closed periods, one with a single file, and the current period
	writeFlush(t, dir, t0.Add(10*time.Second), 1)
	writeFlush(t, dir, t0.Add(20*time.Second), 2)
	last := writeFlush(t, dir, t0.Add(30*time.Minute), 3)
	writeFlush(t, dir, t0.Add(time.Hour+5*time.Minute), 4)
	writeFlush(t, dir, t0.Add(2*time.Hour+time.Minute), 5)
	writeFlush(t, dir, t0.Add(2*time.Hour+2*time.Minute), 6)

	// Foreign files are ignored
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	jobs, err := e.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}

	job := jobs[0]
	if !job.Start.Equal(t0) || !job.End.Equal(t0.Add(time.Hour)) {
		t.Errorf("unexpected period %v - %v", job.Start, job.End)
	}
	if len(job.SourceFiles) != 3 {
		t.Errorf("expected 3 source files, got %d", len(job.SourceFiles))
	}
	if job.OutputFile != last {
		t.Errorf("expected output %s, got %s", last, job.OutputFile)
	}
}

func TestEngine_RunOnce(t *testing.T) {
	e, dir := newEngine(t, t0.Add(3*time.Hour))

	writeFlush(t, dir, t0.Add(10*time.Second), 1, 2)
	writeFlush(t, dir, t0.Add(20*time.Second), 3)
	writeFlush(t, dir, t0.Add(30*time.Second), 4, 5)
	writeFlush(t, dir, t0.Add(time.Hour+10*time.Second), 6)
	writeFlush(t, dir, t0.Add(time.Hour+20*time.Second), 7)

	result := e.RunOnce(context.Background())
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.Jobs != 2 || result.Files != 5 || result.Rows != 7 {
		t.Errorf("unexpected result %+v", result)
	}

	files, err := sink.ListParquetFiles(dir)
	if err != nil {
		t.Fatalf("ListParquetFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files after compaction, got %d", len(files))
	}

	// Rows keep write order within and across periods
	var got []float64
	for _, file := range files {
		rows, err := parquet.ReadFile(file)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		for _, r := range rows {
			got = append(got, r.Values[types.ChannelX])
		}
	}
	want := []float64{1, 2, 3, 4, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	// No temporary files are left behind
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected only the merged files, got %d entries", len(entries))
	}

	// A second run has nothing to do
	if result := e.RunOnce(context.Background()); result.Jobs != 0 {
		t.Errorf("expected no jobs on second run, got %d", result.Jobs)
	}

	stats := e.Stats()
	if stats.Runs != 2 || stats.JobsCompleted != 2 || stats.FilesRead != 5 || stats.RowsProcessed != 7 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestEngine_MissingRowsStayMissing(t *testing.T) {
	e, dir := newEngine(t, t0.Add(2*time.Hour))

	writeFlush(t, dir, t0.Add(time.Second), 1)

	partial := types.NewRow(t0.Add(time.Minute), layout, 2, 0, 0)
	partial.Missing[types.ChannelY] = true
	partial.Missing[types.ChannelZ] = true
	path := filepath.Join(dir, sink.ParquetFileName(t0.Add(time.Minute)))
	w, err := parquet.NewRowWriter(path, parquet.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write([]types.Row{partial}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if result := e.RunOnce(context.Background()); result.Jobs != 1 {
		t.Fatalf("expected 1 job, got %+v", result)
	}

	rows, err := parquet.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1].Complete() || !rows[1].Missing[types.ChannelZ] {
		t.Error("missing cells should survive compaction")
	}
	if rows[1].Timestamp != partial.Timestamp {
		t.Errorf("expected timestamp %s, got %s", partial.Timestamp, rows[1].Timestamp)
	}
}

func TestEngine_CorruptSource(t *testing.T) {
	e, dir := newEngine(t, t0.Add(2*time.Hour))

	good := writeFlush(t, dir, t0.Add(time.Second), 1)
	bad := filepath.Join(dir, sink.ParquetFileName(t0.Add(time.Minute)))
	if err := os.WriteFile(bad, []byte("not parquet"), 0644); err != nil {
		t.Fatal(err)
	}

	result := e.RunOnce(context.Background())
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", result.Errors)
	}

	// Sources are untouched when a job fails
	for _, path := range []string{good, bad} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("source %s should remain: %v", filepath.Base(path), err)
		}
	}
	if e.Stats().JobsFailed != 1 {
		t.Errorf("expected 1 failed job, got %d", e.Stats().JobsFailed)
	}
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e, dir := newEngine(t, t0.Add(2*time.Hour))
	writeFlush(t, dir, t0.Add(time.Second), 1)
	writeFlush(t, dir, t0.Add(2*time.Second), 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	// Run compacts once immediately
	deadline := time.Now().Add(5 * time.Second)
	for e.Stats().JobsCompleted == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the first run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
