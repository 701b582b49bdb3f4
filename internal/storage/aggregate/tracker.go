package aggregate

import (
	"sync"

	"github.com/xtxerr/axislog/internal/storage/types"
)

// Tracker summarizes flushed rows per channel. Each call to Observe
// returns the summary of that batch and folds it into lifetime totals.
type Tracker struct {
	mu sync.RWMutex

	accuracy float64
	totals   [types.NumChannels]*Aggregate

	// Statistics
	stats TrackerStats
}

// TrackerStats holds statistics for the tracker.
type TrackerStats struct {
	BatchesObserved int64
	RowsObserved    int64
	MissingCells    int64
}

// BatchSummary holds the per-channel summaries of one flushed batch.
type BatchSummary struct {
	Rows     int
	Channels [types.NumChannels]Summary
}

// NewTracker creates a tracker with the given quantile accuracy.
func NewTracker(accuracy float64) *Tracker {
	t := &Tracker{accuracy: accuracy}
	for _, c := range types.Channels {
		t.totals[c] = New(c, accuracy)
	}
	return t
}

// Observe summarizes rows. Missing cells are skipped.
func (t *Tracker) Observe(rows []types.Row) BatchSummary {
	var batch [types.NumChannels]*Aggregate
	for _, c := range types.Channels {
		batch[c] = New(c, t.accuracy)
	}

	missing := int64(0)
	for i := range rows {
		for _, c := range types.Channels {
			v, ok := rows[i].Value(c)
			if !ok {
				missing++
				continue
			}
			batch[c].Add(v, rows[i].Time)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	summary := BatchSummary{Rows: len(rows)}
	for _, c := range types.Channels {
		summary.Channels[c] = batch[c].Result()
		t.totals[c].Merge(batch[c])
	}

	t.stats.BatchesObserved++
	t.stats.RowsObserved += int64(len(rows))
	t.stats.MissingCells += missing

	return summary
}

// Totals returns the lifetime summary of every channel.
func (t *Tracker) Totals() [types.NumChannels]Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out [types.NumChannels]Summary
	for _, c := range types.Channels {
		out[c] = t.totals[c].Result()
	}
	return out
}

// Stats returns current statistics.
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}
