package wal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// ReplayStats describes a replay.
type ReplayStats struct {
	Segments int
	ReaderStats

	// SkippedEntries were logged after a damaged segment and before the
	// next snapshot. They are not replayed.
	SkippedEntries int64
}

// Replay reconstructs the buffer state from the segments in dir: the last
// snapshot followed by every update logged after it. Each channel buffer
// keeps at most capacity entries and the timestamp buffer capacity *
// stampsPerRow, oldest evicted first.
//
// Updates lost in a damaged segment would shift the rows of all later
// updates. After a damaged segment, updates are skipped until the next
// snapshot.
func Replay(dir string, capacity, stampsPerRow int) (types.Snapshot, ReplayStats, error) {
	logger := logging.Component("wal").With("dir", dir)

	var stats ReplayStats
	st := newReplayState(capacity, capacity*max(stampsPerRow, 1))

	segments, err := listSegments(dir)
	if err != nil {
		return types.Snapshot{}, stats, fmt.Errorf("list segments: %w", err)
	}

	damaged := false
	for _, seg := range segments {
		records, rs, err := readSegmentTolerant(seg.path)
		if errors.Is(err, errEmptySegment) {
			continue
		}
		if err != nil {
			return types.Snapshot{}, stats, fmt.Errorf("read segment %s: %w", seg.path, err)
		}

		stats.Segments++
		stats.add(rs)

		for i := range records {
			rec := &records[i]
			if damaged && rec.Kind != KindSnapshot {
				stats.SkippedEntries += int64(len(rec.Entries))
				continue
			}
			damaged = false
			st.apply(rec)
		}

		if rs.CorruptRecords > 0 {
			logger.Warn("segment has a damaged tail", "segment", seg.path, "records", len(records))
			damaged = true
		}
	}

	if stats.SkippedEntries > 0 {
		logger.Error("updates after a damaged segment were not replayed",
			"skipped", stats.SkippedEntries,
		)
	}

	snap := st.snapshot()
	logSummary(logger, stats, &snap)
	return snap, stats, nil
}

func logSummary(logger *slog.Logger, stats ReplayStats, snap *types.Snapshot) {
	if stats.Segments == 0 {
		return
	}
	logger.Info("replayed wal",
		"segments", stats.Segments,
		"records", stats.RecordsRead,
		"entries", snap.Len(),
		"corrupt", stats.CorruptRecords,
	)
}

// replayState mirrors the buffer set while records are applied.
type replayState struct {
	capacity      int
	stampCapacity int
	values        [types.NumChannels][]float64
	stamps        []time.Time
}

func newReplayState(capacity, stampCapacity int) *replayState {
	return &replayState{capacity: capacity, stampCapacity: stampCapacity}
}

func (s *replayState) apply(rec *Record) {
	switch rec.Kind {
	case KindSnapshot:
		for _, c := range types.Channels {
			s.values[c] = append(s.values[c][:0], rec.Snapshot.Values[c]...)
		}
		s.stamps = append(s.stamps[:0], rec.Snapshot.Stamps...)
	case KindUpdates:
		for _, e := range rec.Entries {
			ch := e.Update.Channel
			s.values[ch] = trimTail(append(s.values[ch], e.Update.Value), s.capacity)
			if e.Stamped {
				s.stamps = trimTail(append(s.stamps, e.Update.Time), s.stampCapacity)
			}
		}
	}
}

// trimTail keeps the last capacity elements, compacting only once the
// slice has grown to twice the capacity.
func trimTail[T any](v []T, capacity int) []T {
	if capacity <= 0 || len(v) < 2*capacity {
		return v
	}
	n := copy(v, v[len(v)-capacity:])
	return v[:n]
}

func (s *replayState) snapshot() types.Snapshot {
	var snap types.Snapshot
	for _, c := range types.Channels {
		snap.Values[c] = lastN(s.values[c], s.capacity)
	}
	snap.Stamps = lastN(s.stamps, s.stampCapacity)
	return snap
}

func lastN[T any](v []T, n int) []T {
	if n > 0 && len(v) > n {
		v = v[len(v)-n:]
	}
	return append([]T(nil), v...)
}
