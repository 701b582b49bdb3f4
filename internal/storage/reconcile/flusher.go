// Package reconcile turns buffered channel readings into aligned rows and
// commits them to a durable sink.
//
// Row i is built from index i of the x, y, z and timestamp buffers. Only
// indices present in all four buffers are flushed; trailing entries of
// faster channels stay buffered until their partners arrive. Entries are
// removed only after the sink accepted them, so a failed append loses
// nothing and a retry writes the same rows again (at-least-once).
package reconcile

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/axislog/internal/errors"
	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/aggregate"
	"github.com/xtxerr/axislog/internal/storage/buffer"
	"github.com/xtxerr/axislog/internal/storage/sink"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// Checkpointer records the buffer state left after a successful flush.
type Checkpointer interface {
	Checkpoint(snap types.Snapshot) error
}

// Options configures a Flusher.
type Options struct {
	// Layout renders row timestamps. Default: "2006-01-02 15:04:05".
	Layout string

	// Checkpointer is notified after every successful flush. Optional.
	Checkpointer Checkpointer

	// Tracker summarizes flushed rows. Optional.
	Tracker *aggregate.Tracker

	// Now is the clock used for rows without a timestamp. Default: time.Now.
	Now func() time.Time
}

// Flusher drains a buffer set into a sink. Flushes must be serialized with
// the writer that logs updates to the Checkpointer; the ingestion loop
// does this by running every flush itself.
type Flusher struct {
	set    *buffer.Set
	sink   sink.Sink
	opts   Options
	logger *slog.Logger

	// ready is set once the sink header exists
	ready atomic.Bool
	// finalOnce guards the shutdown flush
	finalOnce sync.Once

	stats stats
}

// New creates a Flusher for set and s.
func New(set *buffer.Set, s sink.Sink, opts Options) *Flusher {
	if opts.Layout == "" {
		opts.Layout = "2006-01-02 15:04:05"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Flusher{
		set:    set,
		sink:   s,
		opts:   opts,
		logger: logging.Component("reconcile").With("sink", s.Name()),
	}
}

// Init prepares the sink. A failure is logged and returned but does not
// stop the Flusher: the header is retried before the next flush.
func (f *Flusher) Init() error {
	return f.ensureHeader()
}

func (f *Flusher) ensureHeader() error {
	if f.ready.Load() {
		return nil
	}

	if err := f.sink.EnsureHeader(); err != nil {
		n := f.stats.headerFailures.Add(1)
		if n > 1 {
			f.logger.Error("sink initialization keeps failing", "attempts", n, "error", err)
		} else {
			f.logger.Warn("sink initialization failed, will retry", "error", err)
		}
		return err
	}

	f.ready.Store(true)
	return nil
}

// Flush writes every aligned row to the sink in one append and removes the
// written entries. It returns the number of rows written. Empty buffers
// write nothing. On failure the buffers are left intact and the error is a
// PersistenceError (or an InitializationError if the sink is not ready).
func (f *Flusher) Flush() (int, error) {
	return f.flush(false)
}

// FinalFlush runs once at shutdown. Besides the aligned rows it also
// writes the trailing entries of channels that are ahead of the others,
// leaving the cells of lagging channels empty. Later calls return 0.
func (f *Flusher) FinalFlush() (n int, err error) {
	f.finalOnce.Do(func() {
		n, err = f.flush(true)
		if err != nil {
			f.logger.Error("final flush failed, readings remain in the write-ahead log", "error", err)
			return
		}
		f.logger.Info("final flush complete", "rows", n)
	})
	return n, err
}

func (f *Flusher) flush(final bool) (int, error) {
	start := time.Now()
	f.stats.attempts.Add(1)

	if err := f.ensureHeader(); err != nil {
		f.stats.failures.Add(1)
		f.stats.setError(err)
		return 0, err
	}

	var (
		rows  []types.Row
		ckErr error
	)

	err := f.set.Do(func(tx *buffer.Tx) error {
		if final {
			rows = f.drainRows(tx)
		} else {
			rows = f.alignedRows(tx)
		}
		if len(rows) == 0 {
			return nil
		}

		if err := f.sink.AppendRows(rows); err != nil {
			if !errors.IsPersistence(err) {
				err = errors.NewPersistence(f.sink.Name(), "", len(rows), err)
			}
			return err
		}

		tx.Discard(len(rows))
		if f.opts.Checkpointer != nil {
			ckErr = f.opts.Checkpointer.Checkpoint(tx.Snapshot())
		}
		return nil
	})

	if err != nil {
		f.stats.failures.Add(1)
		f.stats.setError(err)
		f.logger.Error("flush failed, buffers kept", "rows", len(rows), "error", err)
		return 0, err
	}

	if len(rows) == 0 {
		f.stats.empty.Add(1)
		f.stats.lastFlush.Store(start.UnixNano())
		return 0, nil
	}

	f.committed(rows, ckErr, time.Since(start))
	return len(rows), nil
}

// committed runs the bookkeeping after the sink accepted rows.
func (f *Flusher) committed(rows []types.Row, ckErr error, took time.Duration) {
	f.stats.flushes.Add(1)
	f.stats.rows.Add(int64(len(rows)))
	f.stats.lastFlush.Store(time.Now().UnixNano())
	f.stats.setError(nil)

	// A failed checkpoint only means the next replay restores rows that
	// are already in the log
	if ckErr != nil {
		f.stats.checkpointFailures.Add(1)
		f.logger.Warn("checkpoint failed", "error", ckErr)
	}

	attrs := []any{"rows", len(rows), "took", took}
	if f.opts.Tracker != nil {
		summary := f.opts.Tracker.Observe(rows)
		for _, c := range types.Channels {
			attrs = append(attrs, c.String(), summary.Channels[c])
		}
	}
	f.logger.Info("flushed rows", attrs...)
}

// alignedRows builds the rows present in all four buffers.
func (f *Flusher) alignedRows(tx *buffer.Tx) []types.Row {
	k := tx.Aligned()
	if k == 0 {
		return nil
	}

	stamps := tx.Stamps()
	var values [types.NumChannels][]float64
	for _, c := range types.Channels {
		values[c] = tx.Values(c)
	}

	rows := make([]types.Row, k)
	for i := 0; i < k; i++ {
		rows[i] = types.NewRow(stamps[i], f.opts.Layout,
			values[types.ChannelX][i], values[types.ChannelY][i], values[types.ChannelZ][i])
	}
	return rows
}

// drainRows builds one row per index of the longest buffer. Cells beyond a
// channel's length are marked missing; a missing timestamp is replaced by
// the current time.
func (f *Flusher) drainRows(tx *buffer.Tx) []types.Row {
	stamps := tx.Stamps()
	n := len(stamps)

	var values [types.NumChannels][]float64
	for _, c := range types.Channels {
		values[c] = tx.Values(c)
		n = max(n, len(values[c]))
	}
	if n == 0 {
		return nil
	}

	now := f.opts.Now()
	rows := make([]types.Row, n)
	for i := 0; i < n; i++ {
		ts := now
		if i < len(stamps) {
			ts = stamps[i]
		}
		row := types.Row{Time: ts, Timestamp: ts.Format(f.opts.Layout)}
		for _, c := range types.Channels {
			if i < len(values[c]) {
				row.Values[c] = values[c][i]
			} else {
				row.Missing[c] = true
			}
		}
		rows[i] = row
	}
	return rows
}

// Stats returns flusher statistics.
func (f *Flusher) Stats() Stats {
	return f.stats.snapshot()
}

// LastFlush returns the time of the last successful or empty flush.
func (f *Flusher) LastFlush() time.Time {
	ns := f.stats.lastFlush.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
