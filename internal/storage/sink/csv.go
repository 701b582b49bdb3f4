package sink

import (
	"encoding/csv"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/axislog/internal/errors"
	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// CSVOptions configures the CSV sink.
type CSVOptions struct {
	// Sync fsyncs the file before every append returns.
	Sync bool

	// Header overrides the header line. Defaults to types.Header.
	Header []string
}

// CSV is the Durable Log. The file is opened in append mode for every
// call and closed before the call returns.
type CSV struct {
	path   string
	opts   CSVOptions
	logger *slog.Logger

	mu     sync.Mutex
	closed atomic.Bool
	stats  counters
}

// NewCSV creates a CSV sink writing to path.
func NewCSV(path string, opts CSVOptions) *CSV {
	if len(opts.Header) == 0 {
		opts.Header = types.Header
	}
	return &CSV{
		path:   path,
		opts:   opts,
		logger: logging.Component("sink").With("sink", "csv", "path", path),
	}
}

// Name returns "csv".
func (s *CSV) Name() string { return "csv" }

// Path returns the log file path.
func (s *CSV) Path() string { return s.path }

// EnsureHeader creates the log with its header line if the file does not
// exist. An existing file is never touched, even if it is empty.
func (s *CSV) EnsureHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return errors.NewInitialization(s.Name(), s.path, errors.ErrSinkClosed)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewInitialization(s.Name(), s.path, err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return errors.NewInitialization(s.Name(), s.path, err)
	}

	if err := s.write(f, [][]string{s.opts.Header}); err != nil {
		f.Close()
		return errors.NewInitialization(s.Name(), s.path, err)
	}
	if err := f.Close(); err != nil {
		return errors.NewInitialization(s.Name(), s.path, err)
	}

	s.logger.Info("created log", "header", s.opts.Header)
	return nil
}

// AppendRows appends rows as (timestamp, x, y, z) records. An empty slice
// leaves the file untouched.
func (s *CSV) AppendRows(rows []types.Row) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return errors.NewPersistence(s.Name(), s.path, len(rows), errors.ErrSinkClosed)
	}

	if err := s.append(rows); err != nil {
		s.stats.failures.Add(1)
		return errors.NewPersistence(s.Name(), s.path, len(rows), err)
	}

	s.stats.success(len(rows))
	s.logger.Debug("appended rows", "rows", len(rows))
	return nil
}

func (s *CSV) append(rows []types.Row) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	records := make([][]string, len(rows))
	for i := range rows {
		records[i] = rows[i].Record()
	}

	if err := s.write(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *CSV) write(f *os.File, records [][]string) error {
	w := csv.NewWriter(f)
	for _, rec := range records {
		_ = w.Write(rec) // error is buffered; checked on Flush
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if s.opts.Sync {
		return f.Sync()
	}
	return nil
}

// Close marks the sink closed. The file itself is never held open.
func (s *CSV) Close() error {
	s.closed.Store(true)
	return nil
}

// Stats returns sink statistics.
func (s *CSV) Stats() Stats {
	return s.stats.stats()
}
