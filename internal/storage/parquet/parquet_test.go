package parquet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/axislog/internal/storage/types"
)

const layout = "2006-01-02 15:04:05"

func TestRowWriterBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.parquet")

	w, err := NewRowWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewRowWriter: %v", err)
	}

	now := time.Now()
	rows := []types.Row{
		types.NewRow(now, layout, 1, 2, 3),
		types.NewRow(now.Add(time.Second), layout, 4, 5, 6),
	}

	if err := w.Write(rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.RowCount() != 2 {
		t.Errorf("expected 2 rows written, got %d", w.RowCount())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Verify file exists
	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file should exist: %v", err)
	}
	if stat.Size() == 0 {
		t.Error("file should not be empty")
	}

	if err := w.Write(rows); err != ErrWriterClosed {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestRowWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.parquet")

	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	partial := types.NewRow(t0.Add(2*time.Second), layout, 7, 0, 0)
	partial.Missing[types.ChannelY] = true
	partial.Missing[types.ChannelZ] = true

	rows := []types.Row{
		types.NewRow(t0, layout, 1, 2, 3),
		types.NewRow(t0.Add(time.Second), layout, 0, -5.5, 6),
		partial,
	}

	opts := DefaultOptions()
	opts.Compression = CompressionSnappy
	w, err := NewRowWriter(path, opts)
	if err != nil {
		t.Fatalf("NewRowWriter: %v", err)
	}
	if err := w.Write(rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}

	if got[0].Timestamp != "2024-05-01 08:00:00" {
		t.Errorf("unexpected timestamp: %s", got[0].Timestamp)
	}
	if !got[1].Time.Equal(t0.Add(time.Second)) {
		t.Errorf("unexpected time: %v", got[1].Time)
	}

	// A zero value is a value, not a missing cell
	if v, ok := got[1].Value(types.ChannelX); !ok || v != 0 {
		t.Errorf("expected x=0 present, got %v %v", v, ok)
	}
	if v, _ := got[1].Value(types.ChannelY); v != -5.5 {
		t.Errorf("expected y=-5.5, got %v", v)
	}

	if got[2].Complete() {
		t.Error("partial row should not be complete")
	}
	if v, ok := got[2].Value(types.ChannelX); !ok || v != 7 {
		t.Errorf("expected x=7 present, got %v %v", v, ok)
	}

	info, err := GetFileInfo(path)
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.NumRows != 3 {
		t.Errorf("expected 3 rows in file info, got %d", info.NumRows)
	}
	if info.NumCols != 5 {
		t.Errorf("expected 5 columns, got %d", info.NumCols)
	}
}

func TestRowWriterAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aborted.parquet")

	w, err := NewRowWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewRowWriter: %v", err)
	}
	w.Abort()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("aborted file should be removed, stat err = %v", err)
	}
}

func TestRowReaderMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.parquet")
	if err := os.WriteFile(path, []byte("not parquet"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadFile(path); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in      string
		want    CompressionType
		wantErr bool
	}{
		{"", CompressionZstd, false},
		{"zstd", CompressionZstd, false},
		{"snappy", CompressionSnappy, false},
		{"gzip", CompressionGzip, false},
		{"lz4", CompressionLZ4, false},
		{"none", CompressionNone, false},
		{"brotli", CompressionZstd, true},
	}

	for _, tt := range tests {
		got, err := ParseCompressionType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompressionType(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
