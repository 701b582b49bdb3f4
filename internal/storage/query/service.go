// Package query runs analytical SQL over the Durable Log and the Parquet
// archive using an in-memory DuckDB database.
//
// Two views are available to every query:
//
//	log      ts TIMESTAMP, x DOUBLE, y DOUBLE, z DOUBLE   (the CSV log)
//	archive  ts TIMESTAMP, x DOUBLE, y DOUBLE, z DOUBLE   (rows-*.parquet)
//
// Missing readings are NULL. Views are rebuilt by Refresh so that files
// created after New become visible.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/xtxerr/axislog/internal/storage/sink"
	"github.com/xtxerr/axislog/internal/storage/types"
	"github.com/xtxerr/axislog/internal/validation"
)

// Source names a view.
type Source string

const (
	SourceLog     Source = "log"
	SourceArchive Source = "archive"
)

// Options configures the query service.
type Options struct {
	// LogPath is the CSV Durable Log.
	LogPath string

	// ArchiveDir is the Parquet archive directory. Empty disables the view.
	ArchiveDir string

	// MemoryLimit is the DuckDB memory limit, e.g. "512MB".
	MemoryLimit string

	// Timeout bounds every query. Zero disables it.
	Timeout time.Duration

	// MaxRows caps the rows returned by ExecuteSQL and Rows.
	MaxRows int
}

// Service provides query capabilities over stored data.
type Service struct {
	mu sync.RWMutex

	opts Options
	db   *sql.DB

	// Statistics
	queries atomic.Int64
	rows    atomic.Int64
	errors  atomic.Int64
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// Range selects rows by timestamp. Zero bounds are open.
type Range struct {
	From time.Time // Inclusive
	To   time.Time // Exclusive
}

// ChannelSummary holds statistics of one channel over a range.
type ChannelSummary struct {
	Channel types.Channel
	Count   int64
	Missing int64
	Min     float64
	Max     float64
	Mean    float64
	StdDev  float64
	Median  float64
	First   time.Time
	Last    time.Time
}

// Result is the outcome of a raw SQL query.
type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// New creates a new query service.
func New(opts Options) (*Service, error) {
	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// Configure DuckDB
	if opts.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit=%s", validation.QuoteLiteral(opts.MemoryLimit)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	s := &Service{
		opts: opts,
		db:   db,
	}

	if err := s.Refresh(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// emptyView is used while a source has no data yet.
const emptyView = `SELECT NULL::TIMESTAMP AS ts, NULL::DOUBLE AS x, NULL::DOUBLE AS y, NULL::DOUBLE AS z WHERE false`

// Refresh rebuilds the log and archive views.
func (s *Service) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logView := emptyView
	if s.opts.LogPath != "" {
		if _, err := os.Stat(s.opts.LogPath); err == nil {
			logView = fmt.Sprintf(`
				SELECT TRY_CAST(ts AS TIMESTAMP) AS ts, x, y, z
				FROM read_csv(%s,
					header = true,
					delim = ',',
					columns = {'ts': 'VARCHAR', 'x': 'DOUBLE', 'y': 'DOUBLE', 'z': 'DOUBLE'})`,
				validation.QuoteLiteral(s.opts.LogPath))
		}
	}

	archiveView := emptyView
	if s.opts.ArchiveDir != "" {
		if files, err := sink.ListParquetFiles(s.opts.ArchiveDir); err == nil && len(files) > 0 {
			archiveView = fmt.Sprintf(`
				SELECT TRY_CAST("timestamp" AS TIMESTAMP) AS ts, x, y, z
				FROM read_parquet(%s)`,
				validation.QuoteLiteral(filepath.Join(s.opts.ArchiveDir, sink.ParquetFilePattern)))
		}
	}

	if _, err := s.db.Exec("CREATE OR REPLACE VIEW log AS " + logView); err != nil {
		return fmt.Errorf("create log view: %w", err)
	}
	if _, err := s.db.Exec("CREATE OR REPLACE VIEW archive AS " + archiveView); err != nil {
		return fmt.Errorf("create archive view: %w", err)
	}

	return nil
}

func (s *Service) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// where builds the timestamp filter for r.
func (r Range) where() (string, []any) {
	clause := "WHERE ts IS NOT NULL"
	var args []any
	if !r.From.IsZero() {
		clause += " AND ts >= ?"
		args = append(args, wallClock(r.From))
	}
	if !r.To.IsZero() {
		clause += " AND ts < ?"
		args = append(args, wallClock(r.To))
	}
	return clause, args
}

// wallClock re-labels t as UTC keeping its clock reading. Logged
// timestamps carry no zone, so bounds compare by clock reading.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func viewName(src Source) (string, error) {
	switch src {
	case SourceLog, "":
		return "log", nil
	case SourceArchive:
		return "archive", nil
	default:
		return "", fmt.Errorf("unknown source %q", src)
	}
}

// CountRows returns the number of rows of src within r.
func (s *Service) CountRows(ctx context.Context, src Source, r Range) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view, err := viewName(src)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.context(ctx)
	defer cancel()

	where, args := r.where()
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+view+" "+where, args...).Scan(&n); err != nil {
		s.errors.Add(1)
		return 0, fmt.Errorf("count rows: %w", err)
	}

	s.queries.Add(1)
	return n, nil
}

// Summaries returns per-channel statistics of src within r.
func (s *Service) Summaries(ctx context.Context, src Source, r Range) ([]ChannelSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view, err := viewName(src)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.context(ctx)
	defer cancel()

	where, args := r.where()
	results := make([]ChannelSummary, 0, types.NumChannels)

	for _, c := range types.Channels {
		col := validation.QuoteIdent(c.String())
		query := fmt.Sprintf(`
			SELECT
				count(%[1]s),
				count(*) - count(%[1]s),
				min(%[1]s), max(%[1]s), avg(%[1]s),
				stddev_samp(%[1]s),
				quantile_cont(%[1]s, 0.5),
				min(ts) FILTER (WHERE %[1]s IS NOT NULL),
				max(ts) FILTER (WHERE %[1]s IS NOT NULL)
			FROM %[2]s %[3]s`, col, view, where)

		var (
			sum                          ChannelSummary
			lo, hi, mean, stddev, median sql.NullFloat64
			first, last                  sql.NullTime
		)
		err := s.db.QueryRowContext(ctx, query, args...).Scan(
			&sum.Count, &sum.Missing,
			&lo, &hi, &mean, &stddev, &median,
			&first, &last,
		)
		if err != nil {
			s.errors.Add(1)
			return nil, fmt.Errorf("summarize %s: %w", c, err)
		}

		sum.Channel = c
		sum.Min = lo.Float64
		sum.Max = hi.Float64
		sum.Mean = mean.Float64
		sum.StdDev = stddev.Float64
		sum.Median = median.Float64
		sum.First = first.Time
		sum.Last = last.Time
		results = append(results, sum)
	}

	s.queries.Add(1)
	s.rows.Add(int64(len(results)))

	return results, nil
}

// Rows returns the rows of src within r, oldest first, capped at
// MaxRows when limit is not positive.
func (s *Service) Rows(ctx context.Context, src Source, r Range, limit int) ([]types.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view, err := viewName(src)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || (s.opts.MaxRows > 0 && limit > s.opts.MaxRows) {
		limit = s.opts.MaxRows
	}

	ctx, cancel := s.context(ctx)
	defer cancel()

	where, args := r.where()
	query := "SELECT ts, x, y, z FROM " + view + " " + where + " ORDER BY ts"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var results []types.Row
	for rows.Next() {
		var (
			ts      time.Time
			x, y, z sql.NullFloat64
		)
		if err := rows.Scan(&ts, &x, &y, &z); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := types.Row{Time: ts, Timestamp: ts.Format(time.DateTime)}
		for i, v := range []sql.NullFloat64{x, y, z} {
			row.Values[i] = v.Float64
			row.Missing[i] = !v.Valid
		}
		results = append(results, row)
	}

	s.queries.Add(1)
	s.rows.Add(int64(len(results)))

	return results, rows.Err()
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// This is useful for ad-hoc queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.context(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.errors.Add(1)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns}

	for rows.Next() {
		if s.opts.MaxRows > 0 && len(result.Rows) >= s.opts.MaxRows {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		result.Rows = append(result.Rows, values)
	}

	s.queries.Add(1)
	s.rows.Add(int64(len(result.Rows)))

	return result, rows.Err()
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	return Stats{
		QueriesExecuted: s.queries.Load(),
		RowsReturned:    s.rows.Load(),
		Errors:          s.errors.Load(),
	}
}

// timeLayouts are accepted by ParseTime, most specific first.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	"2006-01-02T15:04",
	time.DateOnly,
}

// ParseTime parses a range bound in local time. The empty string yields
// the zero time, an open bound.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use YYYY-MM-DD[THH:MM[:SS]])", s)
}
