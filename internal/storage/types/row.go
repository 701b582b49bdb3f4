package types

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Header is the header line of the Durable Log for the default channel names.
var Header = HeaderFor([NumChannels]string{"py_x", "py_y", "py_z"})

// HeaderFor returns the header line for the given channel names.
func HeaderFor(names [NumChannels]string) []string {
	return []string{
		"Timestamp",
		"X-axis (" + names[ChannelX] + ")",
		"Y-axis (" + names[ChannelY] + ")",
		"Z-axis (" + names[ChannelZ] + ")",
	}
}

// Row is one aligned record of the Durable Log.
// Missing marks channels that had no reading at this index; it is only
// set for rows written by the final flush at shutdown.
type Row struct {
	Time      time.Time
	Timestamp string // Time rendered with the configured layout
	Values    [NumChannels]float64
	Missing   [NumChannels]bool
}

// NewRow creates a complete row.
func NewRow(ts time.Time, layout string, x, y, z float64) Row {
	return Row{
		Time:      ts,
		Timestamp: ts.Format(layout),
		Values:    [NumChannels]float64{x, y, z},
	}
}

// Value returns the value of channel c and whether it is present.
func (r *Row) Value(c Channel) (float64, bool) {
	if !c.Valid() || r.Missing[c] {
		return 0, false
	}
	return r.Values[c], true
}

// Complete reports whether all three channels are present.
func (r *Row) Complete() bool {
	return !r.Missing[ChannelX] && !r.Missing[ChannelY] && !r.Missing[ChannelZ]
}

// Record returns the CSV fields in fixed order (timestamp, x, y, z).
// Missing channels are rendered as empty fields.
func (r *Row) Record() []string {
	rec := make([]string, 1+NumChannels)
	rec[0] = r.Timestamp
	for i, c := range Channels {
		if v, ok := r.Value(c); ok {
			rec[i+1] = FormatValue(v)
		}
	}
	return rec
}

// FormatValue renders a reading the way the log has always stored it:
// shortest round-trip decimal, with ".0" kept for integral values.
// Magnitudes from 1e16 up and below 1e-4 use exponent notation (1e+21,
// 1.5e-05).
func FormatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	if abs := math.Abs(v); abs != 0 && (abs >= 1e16 || abs < 1e-4) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
