package sink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/axislog/internal/errors"
	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/parquet"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// ParquetFilePattern matches the files written by the Parquet sink.
const ParquetFilePattern = "rows-*.parquet"

// Parquet archives each append as one immutable Parquet file in a directory.
type Parquet struct {
	dir    string
	opts   parquet.Options
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	last   int64
	closed atomic.Bool
	stats  counters
}

// NewParquet creates a Parquet sink writing into dir.
func NewParquet(dir string, opts parquet.Options) *Parquet {
	return &Parquet{
		dir:    dir,
		opts:   opts,
		logger: logging.Component("sink").With("sink", "parquet", "dir", dir),
		now:    time.Now,
	}
}

// Name returns "parquet".
func (s *Parquet) Name() string { return "parquet" }

// Dir returns the archive directory.
func (s *Parquet) Dir() string { return s.dir }

// EnsureHeader creates the archive directory. Parquet files carry their
// own schema, so there is no header to write.
func (s *Parquet) EnsureHeader() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.NewInitialization(s.Name(), s.dir, err)
	}
	return nil
}

// AppendRows writes rows to a new file named after the current time.
// A failed write leaves no file behind.
func (s *Parquet) AppendRows(rows []types.Row) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return errors.NewPersistence(s.Name(), s.dir, len(rows), errors.ErrSinkClosed)
	}

	path := s.nextPath()
	if err := s.write(path, rows); err != nil {
		s.stats.failures.Add(1)
		return errors.NewPersistence(s.Name(), path, len(rows), err)
	}

	s.stats.success(len(rows))
	s.logger.Debug("archived rows", "file", filepath.Base(path), "rows", len(rows))
	return nil
}

// nextPath returns a file name that sorts after every earlier one.
func (s *Parquet) nextPath() string {
	ts := s.now().UnixNano()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return filepath.Join(s.dir, ParquetFileName(time.Unix(0, ts)))
}

func (s *Parquet) write(path string, rows []types.Row) error {
	w, err := parquet.NewRowWriter(path, s.opts)
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

// Files returns the archive files in write order.
func (s *Parquet) Files() ([]string, error) {
	return ListParquetFiles(s.dir)
}

// Close marks the sink closed.
func (s *Parquet) Close() error {
	s.closed.Store(true)
	return nil
}

// Stats returns sink statistics.
func (s *Parquet) Stats() Stats {
	return s.stats.stats()
}

// ListParquetFiles returns the archive files in dir in write order.
func ListParquetFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, ParquetFilePattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ParquetFileName returns the archive file name for write time ts.
func ParquetFileName(ts time.Time) string {
	return fmt.Sprintf("rows-%d.parquet", ts.UnixNano())
}

// ParquetFileTime extracts the write time from an archive file name.
// Format: rows-<unix nanoseconds>.parquet
func ParquetFileTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	nanos, ok := strings.CutPrefix(base, "rows-")
	if !ok {
		return time.Time{}, fmt.Errorf("not an archive file: %s", name)
	}

	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time of %s: %w", name, err)
	}

	return time.Unix(0, n), nil
}
