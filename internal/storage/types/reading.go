package types

import (
	"fmt"
	"strings"
	"time"
)

// Channel identifies one of the three sensor axes.
type Channel uint8

const (
	ChannelX Channel = iota
	ChannelY
	ChannelZ
)

// NumChannels is the number of value channels (the timestamp buffer is extra).
const NumChannels = 3

// Channels lists all value channels in row order.
var Channels = [NumChannels]Channel{ChannelX, ChannelY, ChannelZ}

// String returns the axis letter.
func (c Channel) String() string {
	switch c {
	case ChannelX:
		return "x"
	case ChannelY:
		return "y"
	case ChannelZ:
		return "z"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the three axes.
func (c Channel) Valid() bool {
	return c < NumChannels
}

// ParseChannel parses an axis letter ("x", "y", "z"), case-insensitive.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return ChannelX, nil
	case "y":
		return ChannelY, nil
	case "z":
		return ChannelZ, nil
	default:
		return 0, fmt.Errorf("unknown axis %q", s)
	}
}

// Update is a single value delivered by the transport for one channel.
type Update struct {
	Channel Channel
	Value   float64
	Time    time.Time // Arrival time
}

// UnixNano returns the arrival time in nanoseconds, 0 for the zero time.
func (u *Update) UnixNano() int64 {
	if u.Time.IsZero() {
		return 0
	}
	return u.Time.UnixNano()
}

// Snapshot is the content of the channel buffers at one point in time,
// oldest entry first.
type Snapshot struct {
	Values [NumChannels][]float64
	Stamps []time.Time
}

// Len returns the total number of entries across all buffers.
func (s *Snapshot) Len() int {
	n := len(s.Stamps)
	for _, v := range s.Values {
		n += len(v)
	}
	return n
}
