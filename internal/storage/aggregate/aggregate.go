package aggregate

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// DefaultAccuracy is the relative accuracy of the quantile sketches.
const DefaultAccuracy = 0.01

// Aggregate maintains running statistics for one channel.
// Quantiles are estimated with a DDSketch.
type Aggregate struct {
	mu sync.Mutex

	channel  types.Channel
	accuracy float64

	// Running statistics
	count int64
	sum   float64
	min   float64
	max   float64
	first time.Time
	last  time.Time

	sketch *ddsketch.DDSketch
}

// New creates a new Aggregate for channel c. A non-positive accuracy
// selects DefaultAccuracy.
func New(c types.Channel, accuracy float64) *Aggregate {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = DefaultAccuracy
	}
	a := &Aggregate{channel: c, accuracy: accuracy}
	a.reset()
	return a
}

func (a *Aggregate) reset() {
	a.count = 0
	a.sum = 0
	a.min = math.MaxFloat64
	a.max = -math.MaxFloat64
	a.first = time.Time{}
	a.last = time.Time{}

	// DDSketch has no Clear method
	sketch, err := ddsketch.NewDefaultDDSketch(a.accuracy)
	if err == nil {
		a.sketch = sketch
	}
}

// Add adds a reading taken at ts.
func (a *Aggregate) Add(value float64, ts time.Time) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += value
	a.min = min(a.min, value)
	a.max = max(a.max, value)

	if !ts.IsZero() {
		if a.first.IsZero() || ts.Before(a.first) {
			a.first = ts
		}
		if ts.After(a.last) {
			a.last = ts
		}
	}

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// Count returns the number of readings added.
func (a *Aggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// IsEmpty returns true if no readings have been added.
func (a *Aggregate) IsEmpty() bool {
	return a.Count() == 0
}

// Result returns the current summary.
func (a *Aggregate) Result() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Channel: a.channel,
		Count:   a.count,
		Sum:     a.sum,
		First:   a.first,
		Last:    a.last,
	}
	if a.count == 0 {
		return s
	}

	s.Min = a.min
	s.Max = a.max
	s.Mean = a.sum / float64(a.count)

	if a.sketch != nil {
		s.P50, _ = a.sketch.GetValueAtQuantile(0.50)
		s.P90, _ = a.sketch.GetValueAtQuantile(0.90)
		s.P99, _ = a.sketch.GetValueAtQuantile(0.99)
	}

	return s
}

// Reset clears all statistics.
func (a *Aggregate) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

// Merge combines another aggregate of the same channel into this one.
func (a *Aggregate) Merge(other *Aggregate) {
	if other == nil || other == a {
		return
	}

	a.mu.Lock()
	other.mu.Lock()
	defer a.mu.Unlock()
	defer other.mu.Unlock()

	if other.count == 0 {
		return
	}

	a.count += other.count
	a.sum += other.sum
	a.min = min(a.min, other.min)
	a.max = max(a.max, other.max)

	if a.first.IsZero() || (!other.first.IsZero() && other.first.Before(a.first)) {
		a.first = other.first
	}
	if other.last.After(a.last) {
		a.last = other.last
	}

	if a.sketch != nil && other.sketch != nil {
		a.sketch.MergeWith(other.sketch)
	}
}

// Channel returns the aggregated channel.
func (a *Aggregate) Channel() types.Channel {
	return a.channel
}

// Summary holds the statistics of one channel over a set of readings.
// Quantiles are approximate within the sketch's relative accuracy.
type Summary struct {
	Channel types.Channel
	Count   int64
	Sum     float64
	Min     float64
	Max     float64
	Mean    float64
	P50     float64
	P90     float64
	P99     float64
	First   time.Time
	Last    time.Time
}

// Span returns the time between the first and last reading.
func (s Summary) Span() time.Duration {
	if s.First.IsZero() || s.Last.IsZero() {
		return 0
	}
	return s.Last.Sub(s.First)
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	if s.Count == 0 {
		return slog.GroupValue(slog.Int64("count", 0))
	}
	return slog.GroupValue(
		slog.Int64("count", s.Count),
		slog.Float64("min", s.Min),
		slog.Float64("max", s.Max),
		slog.Float64("mean", s.Mean),
		slog.Float64("p50", s.P50),
		slog.Float64("p90", s.P90),
		slog.Float64("p99", s.P99),
	)
}
