package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/axislog/internal/storage/types"
)

func TestRingBuffer_Basic(t *testing.T) {
	rb := New[float64](10)

	if rb.Cap() != 10 {
		t.Errorf("expected capacity=10, got %d", rb.Cap())
	}

	if !rb.IsEmpty() {
		t.Error("new buffer should be empty")
	}

	if rb.IsFull() {
		t.Error("new buffer should not be full")
	}

	if New[int](0).Cap() != DefaultCapacity {
		t.Errorf("expected default capacity for 0, got %d", New[int](0).Cap())
	}
}

func TestRingBuffer_PushWithinCapacity(t *testing.T) {
	rb := New[float64](5)

	for i := 0; i < 4; i++ {
		if rb.Push(float64(i)) {
			t.Errorf("push %d should not evict", i)
		}
	}

	if rb.Len() != 4 {
		t.Errorf("expected len=4, got %d", rb.Len())
	}

	items := rb.Items()
	for i, v := range items {
		if v != float64(i) {
			t.Errorf("index %d: expected %d, got %f", i, i, v)
		}
	}
}

func TestRingBuffer_PushEvictsOldest(t *testing.T) {
	rb := New[float64](5)

	for i := 0; i < 12; i++ {
		rb.Push(float64(i))
	}

	if rb.Len() != 5 {
		t.Errorf("expected len=5, got %d", rb.Len())
	}

	// The last 5 values, oldest first
	items := rb.Items()
	for i, v := range items {
		if v != float64(7+i) {
			t.Errorf("index %d: expected %d, got %f", i, 7+i, v)
		}
	}

	stats := rb.Stats()
	if stats.EvictCount != 7 {
		t.Errorf("expected 7 evictions, got %d", stats.EvictCount)
	}
}

func TestRingBuffer_CapacityTwo(t *testing.T) {
	rb := New[string](2)

	rb.Push("v1")
	rb.Push("v2")
	if !rb.Push("v3") {
		t.Error("third push should evict")
	}

	items := rb.Items()
	if len(items) != 2 || items[0] != "v2" || items[1] != "v3" {
		t.Errorf("expected [v2 v3], got %v", items)
	}
}

func TestRingBuffer_Peek(t *testing.T) {
	rb := New[float64](5)

	// Peek empty buffer
	_, ok := rb.Peek()
	if ok {
		t.Error("peek on empty buffer should fail")
	}

	rb.Push(1.0)
	rb.Push(2.0)
	rb.Push(3.0)

	oldest, ok := rb.Peek()
	if !ok {
		t.Error("peek should succeed")
	}
	if oldest != 1.0 {
		t.Errorf("expected oldest value=1, got %f", oldest)
	}

	newest, ok := rb.PeekNewest()
	if !ok {
		t.Error("peek newest should succeed")
	}
	if newest != 3.0 {
		t.Errorf("expected newest value=3, got %f", newest)
	}

	// Peek should not remove
	if rb.Len() != 3 {
		t.Errorf("peek should not remove, expected len=3, got %d", rb.Len())
	}

	if _, ok := rb.At(3); ok {
		t.Error("At beyond length should fail")
	}
}

func TestRingBuffer_Discard(t *testing.T) {
	rb := New[float64](4)

	for i := 0; i < 6; i++ {
		rb.Push(float64(i))
	}

	// Buffer holds 2,3,4,5
	if n := rb.Discard(3); n != 3 {
		t.Errorf("expected 3 discarded, got %d", n)
	}

	v, _ := rb.Peek()
	if v != 5 {
		t.Errorf("expected oldest value=5, got %f", v)
	}

	if n := rb.Discard(10); n != 1 {
		t.Errorf("expected 1 discarded, got %d", n)
	}

	if !rb.IsEmpty() {
		t.Error("buffer should be empty")
	}

	if n := rb.Discard(1); n != 0 {
		t.Errorf("discard on empty buffer should remove nothing, got %d", n)
	}

	// Wraparound after discard
	rb.Push(10)
	rb.Push(11)
	items := rb.Items()
	if len(items) != 2 || items[0] != 10 || items[1] != 11 {
		t.Errorf("expected [10 11], got %v", items)
	}
}

func TestRingBuffer_Each(t *testing.T) {
	rb := New[int](3)
	for i := 1; i <= 3; i++ {
		rb.Push(i)
	}

	var seen []int
	rb.Each(func(i, v int) bool {
		seen = append(seen, v)
		return i < 1
	})

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("expected early stop after 2 elements, got %v", seen)
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := New[float64](10)

	for i := 0; i < 5; i++ {
		rb.Push(float64(i))
	}

	rb.Clear()

	if !rb.IsEmpty() {
		t.Error("buffer should be empty after clear")
	}
	if rb.Stats().DiscardCount != 5 {
		t.Errorf("expected 5 discarded, got %d", rb.Stats().DiscardCount)
	}
}

func TestRingBuffer_Stats(t *testing.T) {
	rb := New[float64](10)

	for i := 0; i < 5; i++ {
		rb.Push(float64(i))
	}
	rb.Discard(2)

	stats := rb.Stats()

	if stats.Capacity != 10 {
		t.Errorf("expected capacity=10, got %d", stats.Capacity)
	}
	if stats.Count != 3 {
		t.Errorf("expected count=3, got %d", stats.Count)
	}
	if stats.PushCount != 5 {
		t.Errorf("expected pushCount=5, got %d", stats.PushCount)
	}
	if stats.DiscardCount != 2 {
		t.Errorf("expected discardCount=2, got %d", stats.DiscardCount)
	}
	if stats.UsageRatio != 0.3 {
		t.Errorf("expected usageRatio=0.3, got %f", stats.UsageRatio)
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := New[time.Time](1000)

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rb.Push(time.Now())
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rb.Discard(1)
			}
		}()
	}

	wg.Wait()

	stats := rb.Stats()
	if stats.PushCount != 1000 {
		t.Errorf("expected 1000 pushes, got %d", stats.PushCount)
	}
	if int64(stats.Count) != stats.PushCount-stats.DiscardCount-stats.EvictCount {
		t.Errorf("inconsistent stats: %+v", stats)
	}
}

// =============================================================================
// Set
// =============================================================================

func update(c types.Channel, v float64, ts time.Time) types.Update {
	return types.Update{Channel: c, Value: v, Time: ts}
}

func TestSet_ApplyAndAligned(t *testing.T) {
	s := NewSet(10)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Apply(update(types.ChannelX, 1, t0), true)
	s.Apply(update(types.ChannelY, 2, t0), false)

	if s.Aligned() != 0 {
		t.Errorf("expected 0 aligned entries without z, got %d", s.Aligned())
	}

	s.Apply(update(types.ChannelZ, 3, t0), false)

	if s.Aligned() != 1 {
		t.Errorf("expected 1 aligned entry, got %d", s.Aligned())
	}
	if s.StampLen() != 1 {
		t.Errorf("expected 1 timestamp, got %d", s.StampLen())
	}
	if s.Empty() {
		t.Error("set should not be empty")
	}
}

func TestSet_DoAndDiscard(t *testing.T) {
	s := NewSet(10)
	t0 := time.Now()

	for i := 0; i < 3; i++ {
		for _, c := range types.Channels {
			s.Apply(update(c, float64(i), t0), c == types.ChannelX)
		}
	}
	s.Apply(update(types.ChannelX, 99, t0), true)

	err := s.Do(func(tx *Tx) error {
		if tx.Aligned() != 3 {
			t.Errorf("expected 3 aligned, got %d", tx.Aligned())
		}
		tx.Discard(tx.Aligned())
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	if s.Len(types.ChannelX) != 1 || s.StampLen() != 1 {
		t.Errorf("trailing x entry should remain, got x=%d ts=%d", s.Len(types.ChannelX), s.StampLen())
	}
	if s.Len(types.ChannelY) != 0 {
		t.Errorf("y should be drained, got %d", s.Len(types.ChannelY))
	}
}

func TestSet_StampsPerRow(t *testing.T) {
	s := NewSetWithStamps(3, types.NumChannels)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if s.Cap() != 3 || s.StampsPerRow() != 3 {
		t.Fatalf("unexpected cap %d, stamps per row %d", s.Cap(), s.StampsPerRow())
	}

	for i := 0; i < 2; i++ {
		for j, c := range types.Channels {
			ts := t0.Add(time.Duration(i)*time.Minute + time.Duration(j)*time.Second)
			s.Apply(update(c, float64(i), ts), true)
		}
	}
	s.Apply(update(types.ChannelX, 2, t0.Add(2*time.Minute)), true)

	// Seven timestamps fit the timestamp buffer of three rows
	if st := s.Stats(); st.Evictions() != 0 {
		t.Errorf("expected no evictions, got %d", st.Evictions())
	}

	err := s.Do(func(tx *Tx) error {
		if tx.Aligned() != 2 {
			t.Errorf("expected 2 complete rows, got %d", tx.Aligned())
		}

		stamps := tx.Stamps()
		want := []time.Time{t0.Add(2 * time.Second), t0.Add(time.Minute + 2*time.Second), t0.Add(2 * time.Minute)}
		if len(stamps) != len(want) {
			t.Fatalf("expected %d row stamps, got %v", len(want), stamps)
		}
		for i := range want {
			if !stamps[i].Equal(want[i]) {
				t.Errorf("row %d: expected %v, got %v", i, want[i], stamps[i])
			}
		}

		tx.Discard(tx.Aligned())
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	if s.StampLen() != 1 || s.Len(types.ChannelX) != 1 {
		t.Errorf("expected the trailing x reading and its stamp, got x=%d ts=%d", s.Len(types.ChannelX), s.StampLen())
	}
}

func TestSet_SnapshotRestore(t *testing.T) {
	s := NewSet(3)
	t0 := time.Unix(100, 0)

	for i := 0; i < 2; i++ {
		s.Apply(update(types.ChannelX, float64(i), t0.Add(time.Duration(i)*time.Second)), true)
		s.Apply(update(types.ChannelY, float64(i)*10, t0), false)
	}

	snap := s.Snapshot()
	if snap.Len() != 6 {
		t.Errorf("expected 6 entries in snapshot, got %d", snap.Len())
	}

	other := NewSet(3)
	other.Restore(snap)

	if other.Len(types.ChannelX) != 2 || other.Len(types.ChannelY) != 2 || other.Len(types.ChannelZ) != 0 {
		t.Error("restored lengths differ from snapshot")
	}
	got := other.Snapshot()
	if !got.Stamps[1].Equal(t0.Add(time.Second)) {
		t.Errorf("unexpected restored stamp: %v", got.Stamps[1])
	}

	// Restoring more entries than fit keeps the newest
	big := types.Snapshot{Stamps: []time.Time{t0, t0, t0, t0, t0}}
	big.Values[types.ChannelZ] = []float64{1, 2, 3, 4, 5}
	other.Restore(big)
	z := other.Snapshot().Values[types.ChannelZ]
	if len(z) != 3 || z[0] != 3 {
		t.Errorf("expected [3 4 5], got %v", z)
	}
}

func TestSet_Stats(t *testing.T) {
	s := NewSet(2)
	t0 := time.Now()

	for i := 0; i < 3; i++ {
		s.Apply(update(types.ChannelX, float64(i), t0), true)
	}

	st := s.Stats()
	if st.Values[types.ChannelX].EvictCount != 1 || st.Stamps.EvictCount != 1 {
		t.Errorf("expected one eviction on x and timestamps, got %+v", st)
	}
	if st.Evictions() != 2 {
		t.Errorf("expected 2 total evictions, got %d", st.Evictions())
	}
	if s.MaxUsage() != 1.0 {
		t.Errorf("expected max usage 1.0, got %f", s.MaxUsage())
	}

	s.Clear()
	if !s.Empty() {
		t.Error("set should be empty after clear")
	}
}
