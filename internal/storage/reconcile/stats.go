package reconcile

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds flusher statistics.
type Stats struct {
	Attempts           int64
	Flushes            int64 // Flushes that wrote at least one row
	EmptyFlushes       int64
	Failures           int64
	RowsWritten        int64
	HeaderFailures     int64
	CheckpointFailures int64
	LastFlush          time.Time
	LastError          string
}

type stats struct {
	attempts           atomic.Int64
	flushes            atomic.Int64
	empty              atomic.Int64
	failures           atomic.Int64
	rows               atomic.Int64
	headerFailures     atomic.Int64
	checkpointFailures atomic.Int64
	lastFlush          atomic.Int64 // Unix nanoseconds

	mu      sync.Mutex
	lastErr string
}

func (s *stats) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = ""
		return
	}
	s.lastErr = err.Error()
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	lastErr := s.lastErr
	s.mu.Unlock()

	out := Stats{
		Attempts:           s.attempts.Load(),
		Flushes:            s.flushes.Load(),
		EmptyFlushes:       s.empty.Load(),
		Failures:           s.failures.Load(),
		RowsWritten:        s.rows.Load(),
		HeaderFailures:     s.headerFailures.Load(),
		CheckpointFailures: s.checkpointFailures.Load(),
		LastError:          lastErr,
	}
	if ns := s.lastFlush.Load(); ns != 0 {
		out.LastFlush = time.Unix(0, ns)
	}
	return out
}
