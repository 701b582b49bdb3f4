package retention

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/axislog/internal/storage/config"
	"github.com/xtxerr/axislog/internal/storage/sink"
)

func archiveName(ts time.Time) string {
	return sink.ParquetFileName(ts)
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("test"), 0644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
}

func TestManager_RunCleanup(t *testing.T) {
	tmpDir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m := New(tmpDir, config.RetentionConfig{Archive: 24 * time.Hour, Interval: time.Hour})
	m.now = func() time.Time { return now }

	writeFiles(t, tmpDir,
		archiveName(now.Add(-48*time.Hour)), // expired
		archiveName(now.Add(-25*time.Hour)), // expired
		archiveName(now.Add(-time.Hour)),    // kept
		"notes.parquet",                     // unknown, kept
		"data_store.csv",                    // ignored
	)

	result := m.RunCleanup()

	if result.FilesDeleted != 2 {
		t.Errorf("expected 2 files deleted, got %d", result.FilesDeleted)
	}

	if result.FilesSkipped != 2 {
		t.Errorf("expected 2 files skipped, got %d", result.FilesSkipped)
	}

	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	remaining, _ := os.ReadDir(tmpDir)
	if len(remaining) != 3 {
		t.Errorf("expected 3 files remaining, got %d", len(remaining))
	}
}

func TestManager_Disabled(t *testing.T) {
	tmpDir := t.TempDir()
	writeFiles(t, tmpDir, archiveName(time.Unix(0, 1)))

	m := New(tmpDir, config.RetentionConfig{})
	if m.Enabled() {
		t.Error("zero retention should disable cleanup")
	}

	if result := m.RunCleanup(); result.FilesDeleted != 0 {
		t.Errorf("disabled manager deleted %d files", result.FilesDeleted)
	}

	// Run returns immediately
	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return when disabled")
	}
}

func TestManager_MissingDir(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "missing"), config.RetentionConfig{Archive: time.Hour, Interval: time.Hour})

	result := m.RunCleanup()
	if len(result.Errors) != 0 {
		t.Errorf("missing directory should not be an error: %v", result.Errors)
	}
}

func TestManager_DryRun(t *testing.T) {
	tmpDir := t.TempDir()

	m := New(tmpDir, config.RetentionConfig{Archive: 24 * time.Hour, Interval: time.Hour})

	oldFile := archiveName(time.Date(2020, 1, 1, 10, 30, 0, 0, time.UTC))
	writeFiles(t, tmpDir, oldFile)

	result := m.DryRun()

	if result.FilesDeleted != 1 {
		t.Errorf("expected 1 file would be deleted, got %d", result.FilesDeleted)
	}

	// File should still exist (dry run)
	if _, err := os.Stat(filepath.Join(tmpDir, oldFile)); os.IsNotExist(err) {
		t.Error("file should still exist after dry run")
	}

	if m.Stats().Runs != 0 {
		t.Error("dry run should not count as a run")
	}
}

func TestManager_GetDiskUsage(t *testing.T) {
	tmpDir := t.TempDir()
	m := New(tmpDir, config.RetentionConfig{})

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		writeFiles(t, tmpDir, archiveName(t0.Add(time.Duration(i)*time.Hour)))
	}

	usage := m.GetDiskUsage()

	if usage.FileCount != 3 {
		t.Errorf("expected 3 files, got %d", usage.FileCount)
	}

	if usage.TotalSize != 12 {
		t.Errorf("expected 12 bytes, got %d", usage.TotalSize)
	}

	if !usage.Oldest.Equal(t0) || !usage.Newest.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("unexpected range: %v - %v", usage.Oldest, usage.Newest)
	}

	output := m.FormatDiskUsage()
	if !strings.Contains(output, "3 files") || !strings.Contains(output, "forever") {
		t.Errorf("unexpected output:\n%s", output)
	}
}

func TestManager_Stats(t *testing.T) {
	tmpDir := t.TempDir()

	m := New(tmpDir, config.RetentionConfig{Archive: 24 * time.Hour, Interval: time.Hour})
	writeFiles(t, tmpDir, archiveName(time.Date(2020, 1, 1, 10, 30, 0, 0, time.UTC)))

	// Initial stats
	stats := m.Stats()
	if stats.FilesDeleted != 0 {
		t.Errorf("expected 0 files deleted initially, got %d", stats.FilesDeleted)
	}

	m.RunCleanup()

	stats = m.Stats()
	if stats.FilesDeleted != 1 {
		t.Errorf("expected 1 file deleted, got %d", stats.FilesDeleted)
	}

	if stats.LastRunTime.IsZero() {
		t.Error("last run time should be set")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{500, "500 B"},
		{1024, "1.00 KB"},
		{1024 * 1024, "1.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
		{1024 * 1024 * 1024 * 1024, "1.00 TB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d): expected %s, got %s", tt.bytes, tt.expected, result)
		}
	}
}
