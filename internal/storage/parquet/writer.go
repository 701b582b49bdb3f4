package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// PageBufferSize is the page buffer size in bytes
	PageBufferSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:    CompressionZstd,
		PageBufferSize: 256 * 1024,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) (CompressionType, error) {
	switch s {
	case "snappy":
		return CompressionSnappy, nil
	case "zstd", "":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "gzip":
		return CompressionGzip, nil
	case "none":
		return CompressionNone, nil
	default:
		return CompressionZstd, fmt.Errorf("unknown compression %q", s)
	}
}

// String returns the configuration name of the codec.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// ReadingRow is a log row in Parquet format. Missing channels are null.
type ReadingRow struct {
	Timestamp string   `parquet:"timestamp,dict"`
	UnixNano  int64    `parquet:"unix_nano"`
	X         *float64 `parquet:"x,optional"`
	Y         *float64 `parquet:"y,optional"`
	Z         *float64 `parquet:"z,optional"`
}

// ToReadingRow converts a log row to a ReadingRow.
func ToReadingRow(r *types.Row) ReadingRow {
	out := ReadingRow{
		Timestamp: r.Timestamp,
		UnixNano:  r.Time.UnixNano(),
	}
	dst := [types.NumChannels]**float64{&out.X, &out.Y, &out.Z}
	for _, c := range types.Channels {
		if v, ok := r.Value(c); ok {
			*dst[c] = &v
		}
	}
	return out
}

// FromReadingRow converts a ReadingRow back to a log row.
func FromReadingRow(r *ReadingRow) types.Row {
	row := types.Row{
		Time:      time.Unix(0, r.UnixNano),
		Timestamp: r.Timestamp,
	}
	for c, v := range [types.NumChannels]*float64{r.X, r.Y, r.Z} {
		if v == nil {
			row.Missing[c] = true
			continue
		}
		row.Values[c] = *v
	}
	return row
}

// RowWriter writes log rows to a Parquet file.
type RowWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ReadingRow]
	rowCount int64
	closed   bool
}

// NewRowWriter creates a new Parquet writer at path.
func NewRowWriter(path string, opts Options) (*RowWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	if opts.PageBufferSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageBufferSize))
	}

	return &RowWriter{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[ReadingRow](f, writerOpts...),
	}, nil
}

// Write writes rows to the Parquet file.
func (w *RowWriter) Write(rows []types.Row) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	out := make([]ReadingRow, len(rows))
	for i := range rows {
		out[i] = ToReadingRow(&rows[i])
	}

	n, err := w.writer.Write(out)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer, syncs and closes the file.
func (w *RowWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("sync file: %w", err)
	}

	return w.file.Close()
}

// Abort closes the writer and removes the partially written file.
func (w *RowWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		w.file.Close()
	}
	os.Remove(w.path)
}

// RowCount returns the number of rows written.
func (w *RowWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *RowWriter) Path() string {
	return w.path
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
