// Package ingestion receives channel updates from the transport and
// applies them to the channel buffers.
//
// Transport callbacks only enqueue. A single loop goroutine logs each
// batch to the write-ahead journal, appends values and timestamps to the
// buffer set, and evaluates the time-based flush trigger. All flushes run
// on that loop, so no update is applied while a flush is in progress.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/axislog/internal/errors"
	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/buffer"
	"github.com/xtxerr/axislog/internal/storage/types"
	"github.com/xtxerr/axislog/internal/storage/wal"
)

// StampMode decides which updates append a timestamp.
type StampMode int

const (
	// StampSample appends one timestamp per sample cycle, on updates of
	// the clock channel.
	StampSample StampMode = iota

	// StampUpdate appends a timestamp on every update.
	StampUpdate
)

// ParseStampMode parses "sample" or "update".
func ParseStampMode(s string) (StampMode, error) {
	switch strings.ToLower(s) {
	case "sample", "":
		return StampSample, nil
	case "update":
		return StampUpdate, nil
	default:
		return StampSample, fmt.Errorf("unknown stamp mode %q", s)
	}
}

// StampsPerRow returns the number of timestamps one sample cycle appends.
func (m StampMode) StampsPerRow() int {
	if m == StampUpdate {
		return types.NumChannels
	}
	return 1
}

// String returns the configuration name of the mode.
func (m StampMode) String() string {
	if m == StampUpdate {
		return "update"
	}
	return "sample"
}

// Flusher drains the buffers into the durable log.
type Flusher interface {
	Flush() (int, error)
	FinalFlush() (int, error)
}

// Journal logs updates before they are buffered.
type Journal interface {
	Append(entries []wal.Entry) error
}

// PressureGauge is told the buffer usage after every batch and reports
// whether a flush should run right away.
type PressureGauge interface {
	Observe(usage float64) (flush bool)
}

// Options configures a Dispatcher.
type Options struct {
	// QueueSize bounds the number of pending updates. Default: 4096.
	QueueSize int

	// FlushInterval is the minimum time between time-triggered flushes.
	// Default: 10s.
	FlushInterval time.Duration

	// IdleCheck is how often the trigger is evaluated without updates.
	// Default: 1s.
	IdleCheck time.Duration

	// StampMode and ClockChannel select when timestamps are appended.
	StampMode    StampMode
	ClockChannel types.Channel

	// Names are the source names of the channels, used in logs.
	Names [types.NumChannels]string

	// Observer receives every applied update. Optional.
	Observer func(types.Update)

	// Journal logs updates before they are applied. Optional.
	Journal Journal

	// Pressure can force early flushes. Optional.
	Pressure PressureGauge

	// Now is the wall clock. Default: time.Now.
	Now func() time.Time
}

const maxBatch = 256

// Dispatcher applies queued updates to a buffer set.
type Dispatcher struct {
	set     *buffer.Set
	flusher Flusher
	opts    Options
	logger  *slog.Logger

	// mu orders Handle against Stop so that no update is enqueued after
	// the queue has been drained
	mu      sync.RWMutex
	queue   chan types.Update
	flushCh chan struct{}

	// State
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastFlush time.Time // Loop goroutine only

	stats counters
}

// New creates a Dispatcher. It does not start the loop.
func New(set *buffer.Set, flusher Flusher, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4096
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 10 * time.Second
	}
	if opts.IdleCheck <= 0 {
		opts.IdleCheck = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	for _, c := range types.Channels {
		if opts.Names[c] == "" {
			opts.Names[c] = c.String()
		}
	}

	return &Dispatcher{
		set:     set,
		flusher: flusher,
		opts:    opts,
		logger:  logging.Component("ingestion"),
		queue:   make(chan types.Update, opts.QueueSize),
		flushCh: make(chan struct{}, 1),
	}
}

// Start starts the ingest loop. The flush interval is measured from here.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.ErrAlreadyRunning
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.lastFlush = d.opts.Now()
	d.running.Store(true)

	d.wg.Add(1)
	go d.loop()

	d.logger.Info("ingest loop started",
		"interval", d.opts.FlushInterval,
		"queue", d.opts.QueueSize,
		"stamp", d.opts.StampMode.String(),
		"clock", d.opts.Names[d.opts.ClockChannel],
	)
	return nil
}

// Stop stops the loop, applies every update still queued and runs the
// final flush. It returns the final flush error, if any.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return nil
	}
	d.running.Store(false)
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()

	// Nothing can be enqueued any more
	if n := d.drain(); n > 0 {
		d.logger.Debug("applied queued updates at shutdown", "updates", n)
	}

	n, err := d.flusher.FinalFlush()
	d.stats.flushes.Add(1)
	if err != nil {
		d.stats.flushErrors.Add(1)
		return err
	}
	d.stats.rowsFlushed.Add(int64(n))
	d.logger.Info("ingest loop stopped", "final_rows", n)
	return nil
}

// Handle enqueues an update. It never blocks: when the queue is full the
// update is dropped and ErrQueueFull is returned. A zero Time is replaced
// by the current wall-clock time.
func (d *Dispatcher) Handle(u types.Update) error {
	d.stats.received.Add(1)

	if !u.Channel.Valid() {
		d.stats.rejected.Add(1)
		return errors.NewUnknownChannel(u.Channel.String())
	}
	if u.Time.IsZero() {
		u.Time = d.opts.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.running.Load() {
		d.stats.rejected.Add(1)
		return errors.ErrNotRunning
	}

	select {
	case d.queue <- u:
		return nil
	default:
		n := d.stats.dropped.Add(1)
		// Log the first drop and then every 1000th
		if n == 1 || n%1000 == 0 {
			d.logger.Warn("update queue full, dropping readings",
				"channel", d.opts.Names[u.Channel], "dropped_total", n)
		}
		return errors.ErrQueueFull
	}
}

// Callback returns a function that stamps and enqueues values of channel c.
func (d *Dispatcher) Callback(c types.Channel) func(value float64) {
	return func(value float64) {
		_ = d.Handle(types.Update{Channel: c, Value: value, Time: d.opts.Now()})
	}
}

// RequestFlush asks the loop to flush as soon as possible.
func (d *Dispatcher) RequestFlush() {
	select {
	case d.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.IdleCheck)
	defer ticker.Stop()

	batch := make([]types.Update, 0, maxBatch)

	for {
		select {
		case <-d.ctx.Done():
			return

		case u := <-d.queue:
			batch = append(batch[:0], u)
			// Take whatever else is already waiting
		collect:
			for len(batch) < maxBatch {
				select {
				case u := <-d.queue:
					batch = append(batch, u)
				default:
					break collect
				}
			}
			d.applyBatch(batch)
			d.maybeFlush()

		case <-ticker.C:
			d.maybeFlush()

		case <-d.flushCh:
			d.flush("requested")
		}
	}
}

// drain applies every queued update. Only called once the loop has exited.
func (d *Dispatcher) drain() int {
	total := 0
	batch := make([]types.Update, 0, maxBatch)
	for {
		batch = batch[:0]
	collect:
		for len(batch) < maxBatch {
			select {
			case u := <-d.queue:
				batch = append(batch, u)
			default:
				break collect
			}
		}
		if len(batch) == 0 {
			return total
		}
		d.applyBatch(batch)
		total += len(batch)
	}
}

// applyBatch journals and applies updates in arrival order.
func (d *Dispatcher) applyBatch(batch []types.Update) {
	entries := make([]wal.Entry, len(batch))
	for i, u := range batch {
		entries[i] = wal.Entry{Update: u, Stamped: d.stamps(u)}
	}

	if d.opts.Journal != nil {
		if err := d.opts.Journal.Append(entries); err != nil {
			// The updates are still buffered, without crash protection
			d.stats.journalErrors.Add(1)
			d.logger.Error("journal append failed", "updates", len(entries), "error", err)
		}
	}

	for _, e := range entries {
		valueEvicted, stampEvicted := d.set.Apply(e.Update, e.Stamped)
		if valueEvicted || stampEvicted {
			d.stats.evicted.Add(1)
		}
		d.stats.applied.Add(1)

		d.logger.Debug("received reading", "channel", d.opts.Names[e.Update.Channel], "value", e.Update.Value)
		if d.opts.Observer != nil {
			d.opts.Observer(e.Update)
		}
	}

	if d.opts.Pressure != nil && d.opts.Pressure.Observe(d.set.MaxUsage()) {
		d.flush("pressure")
	}
}

func (d *Dispatcher) stamps(u types.Update) bool {
	return d.opts.StampMode == StampUpdate || u.Channel == d.opts.ClockChannel
}

// maybeFlush flushes when the interval has elapsed since the last attempt.
func (d *Dispatcher) maybeFlush() {
	if d.opts.Now().Sub(d.lastFlush) >= d.opts.FlushInterval {
		d.flush("interval")
	}
}

// flush runs a flush. The interval restarts on every attempt, so a failing
// sink is retried once per interval rather than on every update.
func (d *Dispatcher) flush(reason string) {
	d.lastFlush = d.opts.Now()
	d.stats.flushes.Add(1)

	n, err := d.flusher.Flush()
	if err != nil {
		d.stats.flushErrors.Add(1)
		return
	}
	d.stats.rowsFlushed.Add(int64(n))
	if n > 0 {
		d.logger.Debug("flush", "reason", reason, "rows", n)
	}
}

// IsRunning returns whether the loop is running.
func (d *Dispatcher) IsRunning() bool {
	return d.running.Load()
}

// QueueLen returns the number of updates waiting to be applied.
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Running:       d.running.Load(),
		Received:      d.stats.received.Load(),
		Applied:       d.stats.applied.Load(),
		Dropped:       d.stats.dropped.Load(),
		Rejected:      d.stats.rejected.Load(),
		Evicted:       d.stats.evicted.Load(),
		JournalErrors: d.stats.journalErrors.Load(),
		Flushes:       d.stats.flushes.Load(),
		FlushErrors:   d.stats.flushErrors.Load(),
		RowsFlushed:   d.stats.rowsFlushed.Load(),
		QueueLen:      len(d.queue),
	}
}

// Stats holds dispatcher statistics.
type Stats struct {
	Running       bool
	Received      int64
	Applied       int64
	Dropped       int64 // Queue full
	Rejected      int64 // Not running or invalid channel
	Evicted       int64 // Updates that pushed an older entry out
	JournalErrors int64
	Flushes       int64
	FlushErrors   int64
	RowsFlushed   int64
	QueueLen      int
}

type counters struct {
	received      atomic.Int64
	applied       atomic.Int64
	dropped       atomic.Int64
	rejected      atomic.Int64
	evicted       atomic.Int64
	journalErrors atomic.Int64
	flushes       atomic.Int64
	flushErrors   atomic.Int64
	rowsFlushed   atomic.Int64
}
