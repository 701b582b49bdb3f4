package buffer

import (
	"sync"
	"time"

	"github.com/xtxerr/axislog/internal/storage/types"
)

// Set groups the three channel buffers and the timestamp buffer behind a
// single mutex. Index i of every channel buffer belongs to row i, and so do
// timestamps i*perRow through (i+1)*perRow-1.
type Set struct {
	mu     sync.Mutex
	values [types.NumChannels]*RingBuffer[float64]
	stamps *RingBuffer[time.Time]
	perRow int
}

// NewSet creates a Set whose four buffers share the given capacity and
// that holds one timestamp per row.
func NewSet(capacity int) *Set {
	return NewSetWithStamps(capacity, 1)
}

// NewSetWithStamps creates a Set in which stampsPerRow timestamps make up
// one row, as when every update is stamped. The timestamp buffer holds
// capacity rows worth of timestamps.
func NewSetWithStamps(capacity, stampsPerRow int) *Set {
	stampsPerRow = max(stampsPerRow, 1)
	s := &Set{
		stamps: New[time.Time](capacity * stampsPerRow),
		perRow: stampsPerRow,
	}
	for _, c := range types.Channels {
		s.values[c] = New[float64](capacity)
	}
	return s
}

// Cap returns the per-channel capacity.
func (s *Set) Cap() int {
	return s.values[types.ChannelX].Cap()
}

// StampsPerRow returns the number of timestamps that make up one row.
func (s *Set) StampsPerRow() int {
	return s.perRow
}

// Apply appends the update's value to its channel buffer and, if stamp is
// set, the update's time to the timestamp buffer. It reports which of the
// two pushes evicted an older entry.
func (s *Set) Apply(u types.Update, stamp bool) (valueEvicted, stampEvicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	valueEvicted = s.values[u.Channel].Push(u.Value)
	if stamp {
		stampEvicted = s.stamps.Push(u.Time)
	}
	return valueEvicted, stampEvicted
}

// Len returns the number of buffered values for channel c.
func (s *Set) Len(c types.Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[c].Len()
}

// StampLen returns the number of buffered timestamps.
func (s *Set) StampLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stamps.Len()
}

// Aligned returns the number of complete rows: rows with a value in every
// channel buffer and all of their timestamps.
func (s *Set) Aligned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aligned()
}

func (s *Set) aligned() int {
	n := s.stamps.Len() / s.perRow
	for _, b := range s.values {
		n = min(n, b.Len())
	}
	return n
}

// Empty reports whether all four buffers are empty.
func (s *Set) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stamps.IsEmpty() {
		return false
	}
	for _, b := range s.values {
		if !b.IsEmpty() {
			return false
		}
	}
	return true
}

// MaxUsage returns the highest usage ratio among the four buffers.
func (s *Set) MaxUsage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := s.stamps.UsageRatio()
	for _, b := range s.values {
		usage = max(usage, b.UsageRatio())
	}
	return usage
}

// Do runs fn with exclusive access to the buffers. No update can be applied
// while fn runs.
func (s *Set) Do(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{set: s})
}

// Snapshot returns a copy of all four buffers.
func (s *Set) Snapshot() types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Set) snapshot() types.Snapshot {
	var snap types.Snapshot
	for _, c := range types.Channels {
		snap.Values[c] = s.values[c].Items()
	}
	snap.Stamps = s.stamps.Items()
	return snap
}

// Restore replaces the buffer content with snap. Entries beyond the
// capacity are evicted oldest first, as if they had been pushed in order.
func (s *Set) Restore(snap types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range types.Channels {
		s.values[c].Clear()
		for _, v := range snap.Values[c] {
			s.values[c].Push(v)
		}
	}
	s.stamps.Clear()
	for _, ts := range snap.Stamps {
		s.stamps.Push(ts)
	}
}

// Clear empties all four buffers.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.values {
		b.Clear()
	}
	s.stamps.Clear()
}

// Stats returns the statistics of every buffer.
func (s *Set) Stats() SetStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st SetStats
	for _, c := range types.Channels {
		st.Values[c] = s.values[c].Stats()
	}
	st.Stamps = s.stamps.Stats()
	st.Aligned = s.aligned()
	return st
}

// SetStats holds the statistics of a Set.
type SetStats struct {
	Values  [types.NumChannels]BufferStats
	Stamps  BufferStats
	Aligned int
}

// Evictions returns the total number of entries overwritten before a flush.
func (st *SetStats) Evictions() int64 {
	n := st.Stamps.EvictCount
	for _, v := range st.Values {
		n += v.EvictCount
	}
	return n
}

// =============================================================================
// Tx
// =============================================================================

// Tx gives access to the buffers of a Set while its lock is held.
// It is only valid inside the function passed to Set.Do.
type Tx struct {
	set *Set
}

// Len returns the number of buffered values for channel c.
func (tx *Tx) Len(c types.Channel) int {
	return tx.set.values[c].Len()
}

// StampLen returns the number of buffered timestamps.
func (tx *Tx) StampLen() int {
	return tx.set.stamps.Len()
}

// Aligned returns the number of complete rows.
func (tx *Tx) Aligned() int {
	return tx.set.aligned()
}

// Values returns a copy of channel c's buffer, oldest first.
func (tx *Tx) Values(c types.Channel) []float64 {
	return tx.set.values[c].Items()
}

// Stamps returns one timestamp per row, oldest first. A row made up of
// several timestamps takes the newest of them, which is the time its last
// update arrived. A trailing partial row takes its newest timestamp so far.
func (tx *Tx) Stamps() []time.Time {
	raw := tx.set.stamps.Items()
	p := tx.set.perRow
	if p == 1 {
		return raw
	}

	rows := make([]time.Time, 0, (len(raw)+p-1)/p)
	for i := 0; i < len(raw); i += p {
		rows = append(rows, raw[min(i+p, len(raw))-1])
	}
	return rows
}

// Discard removes the n oldest rows: n entries of every channel buffer and
// their timestamps. Buffers holding less are emptied.
func (tx *Tx) Discard(n int) {
	for _, b := range tx.set.values {
		b.Discard(n)
	}
	tx.set.stamps.Discard(n * tx.set.perRow)
}

// Snapshot returns a copy of all four buffers.
func (tx *Tx) Snapshot() types.Snapshot {
	return tx.set.snapshot()
}
