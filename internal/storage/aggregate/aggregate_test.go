package aggregate

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/axislog/internal/storage/types"
)

var t0 = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func TestAggregate_Basic(t *testing.T) {
	agg := New(types.ChannelX, 0)

	if !agg.IsEmpty() {
		t.Error("new aggregate should be empty")
	}

	agg.Add(10.0, t0)
	agg.Add(20.0, t0.Add(time.Second))
	agg.Add(30.0, t0.Add(2*time.Second))

	if agg.Count() != 3 {
		t.Errorf("expected count=3, got %d", agg.Count())
	}

	result := agg.Result()

	if result.Channel != types.ChannelX {
		t.Errorf("expected channel x, got %s", result.Channel)
	}
	if result.Sum != 60.0 {
		t.Errorf("expected sum=60, got %f", result.Sum)
	}
	if result.Min != 10.0 {
		t.Errorf("expected min=10, got %f", result.Min)
	}
	if result.Max != 30.0 {
		t.Errorf("expected max=30, got %f", result.Max)
	}
	if math.Abs(result.Mean-20.0) > 0.001 {
		t.Errorf("expected mean=20, got %f", result.Mean)
	}
	if result.Span() != 2*time.Second {
		t.Errorf("expected span=2s, got %v", result.Span())
	}
}

func TestAggregate_Quantiles(t *testing.T) {
	agg := New(types.ChannelY, 0.01)

	for i := 1; i <= 1000; i++ {
		agg.Add(float64(i), t0)
	}

	result := agg.Result()

	// DDSketch guarantees relative accuracy
	check := func(name string, got, want float64) {
		if math.Abs(got-want)/want > 0.02 {
			t.Errorf("%s: expected ~%f, got %f", name, want, got)
		}
	}
	check("p50", result.P50, 500)
	check("p90", result.P90, 900)
	check("p99", result.P99, 990)
}

func TestAggregate_SkipsNonFinite(t *testing.T) {
	agg := New(types.ChannelZ, 0)
	agg.Add(math.NaN(), t0)
	agg.Add(math.Inf(1), t0)
	agg.Add(-2, t0)

	if agg.Count() != 1 {
		t.Errorf("expected only the finite reading to count, got %d", agg.Count())
	}
}

func TestAggregate_EmptyResult(t *testing.T) {
	result := New(types.ChannelX, 0).Result()
	if result.Count != 0 || result.Min != 0 || result.Max != 0 {
		t.Errorf("empty result should be zero, got %+v", result)
	}
	if result.Span() != 0 {
		t.Errorf("empty span should be 0, got %v", result.Span())
	}
}

func TestAggregate_MergeAndReset(t *testing.T) {
	a := New(types.ChannelX, 0)
	b := New(types.ChannelX, 0)

	a.Add(5, t0.Add(time.Minute))
	b.Add(1, t0)
	b.Add(9, t0.Add(2*time.Minute))

	a.Merge(b)
	a.Merge(nil)
	a.Merge(a)

	r := a.Result()
	if r.Count != 3 || r.Min != 1 || r.Max != 9 {
		t.Errorf("unexpected merged result: %+v", r)
	}
	if !r.First.Equal(t0) || !r.Last.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("unexpected merged range: %v..%v", r.First, r.Last)
	}

	a.Reset()
	if !a.IsEmpty() {
		t.Error("aggregate should be empty after reset")
	}
}

func TestAggregate_Concurrent(t *testing.T) {
	agg := New(types.ChannelX, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				agg.Add(float64(j), t0)
			}
		}()
	}
	wg.Wait()

	if agg.Count() != 800 {
		t.Errorf("expected 800 readings, got %d", agg.Count())
	}
}

func TestTracker_Observe(t *testing.T) {
	tr := NewTracker(0.01)

	rows := []types.Row{
		types.NewRow(t0, "2006-01-02 15:04:05", 1, 2, 3),
		types.NewRow(t0.Add(time.Second), "2006-01-02 15:04:05", 4, 5, 6),
	}
	partial := types.NewRow(t0.Add(2*time.Second), "2006-01-02 15:04:05", 7, 0, 0)
	partial.Missing[types.ChannelY] = true
	partial.Missing[types.ChannelZ] = true

	batch := tr.Observe(rows)
	if batch.Rows != 2 {
		t.Errorf("expected 2 rows, got %d", batch.Rows)
	}
	if x := batch.Channels[types.ChannelX]; x.Count != 2 || x.Min != 1 || x.Max != 4 {
		t.Errorf("unexpected x summary: %+v", x)
	}

	batch = tr.Observe([]types.Row{partial})
	if batch.Channels[types.ChannelY].Count != 0 {
		t.Errorf("missing cells must not count, got %d", batch.Channels[types.ChannelY].Count)
	}

	totals := tr.Totals()
	if totals[types.ChannelX].Count != 3 || totals[types.ChannelX].Max != 7 {
		t.Errorf("unexpected x totals: %+v", totals[types.ChannelX])
	}
	if totals[types.ChannelZ].Count != 2 {
		t.Errorf("unexpected z totals: %+v", totals[types.ChannelZ])
	}

	stats := tr.Stats()
	if stats.BatchesObserved != 2 || stats.RowsObserved != 3 || stats.MissingCells != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
