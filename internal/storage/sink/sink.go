// Package sink implements the durable destinations of flushed rows.
//
// The CSV sink is the Durable Log: an append-only file whose header is
// written exactly once. The Parquet sink archives every flush as one
// immutable file. A Tee fans a flush out to a primary sink and mirrors.
package sink

import (
	"sync/atomic"

	"github.com/xtxerr/axislog/internal/storage/types"
)

// Sink is an append-only destination for log rows.
type Sink interface {
	// Name identifies the sink in logs and errors.
	Name() string

	// EnsureHeader prepares the sink. It is idempotent and returns an
	// InitializationError on failure.
	EnsureHeader() error

	// AppendRows durably appends rows in order. It returns a
	// PersistenceError on failure; the caller must then keep the rows.
	AppendRows(rows []types.Row) error

	// Close releases the sink. Later appends fail with ErrSinkClosed.
	Close() error
}

// Stats holds sink statistics.
type Stats struct {
	Appends  int64
	Rows     int64
	Failures int64
}

type counters struct {
	appends  atomic.Int64
	rows     atomic.Int64
	failures atomic.Int64
}

func (c *counters) success(rows int) {
	c.appends.Add(1)
	c.rows.Add(int64(rows))
}

func (c *counters) stats() Stats {
	return Stats{
		Appends:  c.appends.Load(),
		Rows:     c.rows.Load(),
		Failures: c.failures.Load(),
	}
}
