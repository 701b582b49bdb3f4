package sink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/axislog/internal/errors"
	"github.com/xtxerr/axislog/internal/storage/parquet"
	"github.com/xtxerr/axislog/internal/storage/types"
)

const layout = "2006-01-02 15:04:05"

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

// =============================================================================
// CSV
// =============================================================================

func TestCSV_EnsureHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data_store.csv")
	s := NewCSV(path, CSVOptions{Sync: true})

	if err := s.EnsureHeader(); err != nil {
		t.Fatalf("EnsureHeader: %v", err)
	}
	if err := s.EnsureHeader(); err != nil {
		t.Fatalf("second EnsureHeader: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), lines)
	}
	if lines[0] != "Timestamp,X-axis (py_x),Y-axis (py_y),Z-axis (py_z)" {
		t.Errorf("unexpected header: %q", lines[0])
	}
}

func TestCSV_EnsureHeaderKeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data_store.csv")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	s := NewCSV(path, CSVOptions{})
	if err := s.EnsureHeader(); err != nil {
		t.Fatalf("EnsureHeader: %v", err)
	}

	data, _ := os.ReadFile(path)
	if len(data) != 0 {
		t.Errorf("existing file must not be modified, got %q", data)
	}
}

func TestCSV_EnsureHeaderCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "log.csv")
	s := NewCSV(path, CSVOptions{})

	if err := s.EnsureHeader(); err != nil {
		t.Fatalf("EnsureHeader: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("log should exist: %v", err)
	}
}

func TestCSV_AppendRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data_store.csv")
	s := NewCSV(path, CSVOptions{Sync: true})

	if err := s.EnsureHeader(); err != nil {
		t.Fatalf("EnsureHeader: %v", err)
	}

	rows := []types.Row{
		types.NewRow(t0, layout, 1, 2, 3),
		types.NewRow(t0.Add(time.Second), layout, 4, 5, 6),
	}
	if err := s.AppendRows(rows); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}

	partial := types.NewRow(t0.Add(2*time.Second), layout, 7.25, 0, 0)
	partial.Missing[types.ChannelZ] = true
	if err := s.AppendRows([]types.Row{partial}); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}

	lines := readLines(t, path)
	want := []string{
		"Timestamp,X-axis (py_x),Y-axis (py_y),Z-axis (py_z)",
		"2024-03-01 12:00:00,1.0,2.0,3.0",
		"2024-03-01 12:00:01,4.0,5.0,6.0",
		"2024-03-01 12:00:02,7.25,0.0,",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %q", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}

	stats := s.Stats()
	if stats.Appends != 2 || stats.Rows != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCSV_AppendEmptyLeavesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data_store.csv")
	s := NewCSV(path, CSVOptions{})

	if err := s.EnsureHeader(); err != nil {
		t.Fatalf("EnsureHeader: %v", err)
	}
	before, _ := os.ReadFile(path)

	if err := s.AppendRows(nil); err != nil {
		t.Fatalf("AppendRows(nil): %v", err)
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("empty append must not change the log")
	}
}

func TestCSV_AppendFailure(t *testing.T) {
	// A directory at the log path makes every open fail
	path := filepath.Join(t.TempDir(), "data_store.csv")
	if err := os.Mkdir(path, 0755); err != nil {
		t.Fatal(err)
	}

	s := NewCSV(path, CSVOptions{})
	err := s.AppendRows([]types.Row{types.NewRow(t0, layout, 1, 2, 3)})
	if err == nil {
		t.Fatal("expected append to fail")
	}
	if !errors.IsPersistence(err) {
		t.Errorf("expected persistence error, got %v", err)
	}

	var pe *errors.PersistenceError
	if !errors.As(err, &pe) || pe.Rows != 1 || pe.Sink != "csv" {
		t.Errorf("unexpected error detail: %#v", pe)
	}
	if s.Stats().Failures != 1 {
		t.Errorf("expected 1 failure, got %d", s.Stats().Failures)
	}
}

func TestCSV_Closed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data_store.csv")
	s := NewCSV(path, CSVOptions{})
	s.Close()

	err := s.AppendRows([]types.Row{types.NewRow(t0, layout, 1, 2, 3)})
	if !errors.Is(err, errors.ErrSinkClosed) {
		t.Errorf("expected ErrSinkClosed, got %v", err)
	}
}

// =============================================================================
// Parquet
// =============================================================================

func TestParquet_AppendRows(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	s := NewParquet(dir, parquet.DefaultOptions())

	// Freeze the clock to exercise name collision handling
	s.now = func() time.Time { return t0 }

	if err := s.EnsureHeader(); err != nil {
		t.Fatalf("EnsureHeader: %v", err)
	}

	for i := 0; i < 3; i++ {
		rows := []types.Row{types.NewRow(t0.Add(time.Duration(i)*time.Second), layout, float64(i), 0, 0)}
		if err := s.AppendRows(rows); err != nil {
			t.Fatalf("AppendRows: %v", err)
		}
	}
	if err := s.AppendRows(nil); err != nil {
		t.Fatalf("AppendRows(nil): %v", err)
	}

	files, err := s.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}

	for i, f := range files {
		rows, err := parquet.ReadFile(f)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if len(rows) != 1 || rows[0].Values[types.ChannelX] != float64(i) {
			t.Errorf("file %d: unexpected rows %+v", i, rows)
		}
	}
}

// =============================================================================
// Tee
// =============================================================================

type fakeSink struct {
	name    string
	fail    bool
	rows    []types.Row
	headers int
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) EnsureHeader() error {
	f.headers++
	if f.fail {
		return errors.NewInitialization(f.name, "", errors.New("boom"))
	}
	return nil
}

func (f *fakeSink) AppendRows(rows []types.Row) error {
	if f.fail {
		return errors.NewPersistence(f.name, "", len(rows), errors.New("boom"))
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func TestTee_PrimaryHeaderFailure(t *testing.T) {
	primary := &fakeSink{name: "primary", fail: true}
	mirror := &fakeSink{name: "mirror"}
	tee := NewTee(primary, mirror)

	if err := tee.EnsureHeader(); !errors.IsInitialization(err) {
		t.Errorf("expected initialization error, got %v", err)
	}
}

func TestTee_PrimaryFailureStopsMirrors(t *testing.T) {
	primary := &fakeSink{name: "primary", fail: true}
	mirror := &fakeSink{name: "mirror"}
	tee := NewTee(primary, mirror)

	err := tee.AppendRows([]types.Row{types.NewRow(t0, layout, 1, 2, 3)})
	if !errors.IsPersistence(err) {
		t.Errorf("expected persistence error, got %v", err)
	}
	if len(mirror.rows) != 0 {
		t.Error("mirror must not receive rows the primary rejected")
	}
}

func TestTee_MirrorFailureIsNotFatal(t *testing.T) {
	primary := &fakeSink{name: "primary"}
	mirror := &fakeSink{name: "mirror", fail: true}
	tee := NewTee(primary, mirror)

	if err := tee.AppendRows([]types.Row{types.NewRow(t0, layout, 1, 2, 3)}); err != nil {
		t.Fatalf("mirror failure should not fail the append: %v", err)
	}
	if len(primary.rows) != 1 {
		t.Errorf("expected 1 row in primary, got %d", len(primary.rows))
	}
	if tee.Stats().Failures != 1 {
		t.Errorf("expected 1 mirror failure, got %d", tee.Stats().Failures)
	}

	if err := tee.EnsureHeader(); err != nil {
		t.Errorf("mirror header failure should not be returned: %v", err)
	}
	if tee.Stats().Failures != 2 {
		t.Errorf("expected 2 mirror failures, got %d", tee.Stats().Failures)
	}
	if primary.headers != 1 || mirror.headers != 1 {
		t.Error("EnsureHeader should reach every sink")
	}
	if tee.Name() != "primary" {
		t.Errorf("expected primary name, got %s", tee.Name())
	}
}

func TestParquetFileTime(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filename string
		expected time.Time
		hasError bool
	}{
		{
			name:     "archive file",
			filename: ParquetFileName(ts),
			expected: ts,
		},
		{
			name:     "full path",
			filename: filepath.Join("archive", ParquetFileName(ts)),
			expected: ts,
		},
		{
			name:     "wrong prefix",
			filename: "2026-01-15.parquet",
			hasError: true,
		},
		{
			name:     "not a number",
			filename: "rows-abc.parquet",
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParquetFileTime(tt.filename)

			if tt.hasError {
				if err == nil {
					t.Error("expected error")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if !result.Equal(tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}
