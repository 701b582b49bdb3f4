package wal

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/xtxerr/axislog/internal/errors"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// RecordKind identifies the payload of a WAL record.
type RecordKind uint8

const (
	// KindUpdates is a batch of accepted updates.
	KindUpdates RecordKind = 1

	// KindSnapshot is the full buffer content at a checkpoint.
	KindSnapshot RecordKind = 2
)

// Entry is one update as it was applied to the buffers.
// Stamped reports whether the update also appended a timestamp.
type Entry struct {
	Update  types.Update
	Stamped bool
}

// Record is a decoded WAL record.
type Record struct {
	Kind     RecordKind
	Entries  []Entry         // KindUpdates
	Snapshot *types.Snapshot // KindSnapshot
}

// Payload encoding (binary, little-endian), first byte is the RecordKind.
//
// KindUpdates:
// - Count (4 bytes)
// - Per entry: Channel (1 byte), Flags (1 byte, bit 0 = stamped),
//   UnixNano (8 bytes), Value (8 bytes, float64)
//
// KindSnapshot:
// - Per channel x, y, z: Count (4 bytes) + Count * Value (8 bytes)
// - Stamp count (4 bytes) + Count * UnixNano (8 bytes)

const entrySize = 1 + 1 + 8 + 8

// encodeEntries encodes a batch of update entries.
func encodeEntries(entries []Entry) []byte {
	buf := make([]byte, 0, 1+4+len(entries)*entrySize)
	buf = append(buf, byte(KindUpdates))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(entries)))

	for _, e := range entries {
		var flags byte
		if e.Stamped {
			flags |= 1
		}
		buf = append(buf, byte(e.Update.Channel), flags)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Update.UnixNano()))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.Update.Value))
	}

	return buf
}

// encodeSnapshot encodes the buffer content of a checkpoint.
func encodeSnapshot(snap *types.Snapshot) []byte {
	buf := make([]byte, 0, 1+4*(types.NumChannels+1)+8*snap.Len())
	buf = append(buf, byte(KindSnapshot))

	for _, c := range types.Channels {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(snap.Values[c])))
		for _, v := range snap.Values[c] {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(snap.Stamps)))
	for _, ts := range snap.Stamps {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(ts.UnixNano()))
	}

	return buf
}

// decodeRecord decodes a record payload.
func decodeRecord(data []byte) (Record, error) {
	if len(data) < 1 {
		return Record{}, fmt.Errorf("%w: empty payload", errors.ErrCorruptRecord)
	}

	kind := RecordKind(data[0])
	switch kind {
	case KindUpdates:
		entries, err := decodeEntries(data[1:])
		return Record{Kind: kind, Entries: entries}, err
	case KindSnapshot:
		snap, err := decodeSnapshot(data[1:])
		return Record{Kind: kind, Snapshot: snap}, err
	default:
		return Record{}, fmt.Errorf("%w: unknown record kind %d", errors.ErrCorruptRecord, kind)
	}
}

func decodeEntries(data []byte) ([]Entry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: data too short for entry count", errors.ErrCorruptRecord)
	}

	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if len(data) != 4+count*entrySize {
		return nil, fmt.Errorf("%w: expected %d entries in %d bytes", errors.ErrCorruptRecord, count, len(data))
	}

	entries := make([]Entry, count)
	offset := 4
	for i := range entries {
		ch := types.Channel(data[offset])
		if !ch.Valid() {
			return nil, fmt.Errorf("%w: entry %d: invalid channel %d", errors.ErrCorruptRecord, i, ch)
		}
		flags := data[offset+1]
		nanos := int64(binary.LittleEndian.Uint64(data[offset+2:]))
		value := math.Float64frombits(binary.LittleEndian.Uint64(data[offset+10:]))
		offset += entrySize

		u := types.Update{Channel: ch, Value: value}
		if nanos != 0 {
			u.Time = time.Unix(0, nanos)
		}
		entries[i] = Entry{Update: u, Stamped: flags&1 != 0}
	}

	return entries, nil
}

func decodeSnapshot(data []byte) (*types.Snapshot, error) {
	var snap types.Snapshot
	offset := 0

	readCount := func(what string) (int, error) {
		if offset+4 > len(data) {
			return 0, fmt.Errorf("%w: data too short for %s count", errors.ErrCorruptRecord, what)
		}
		n := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if offset+n*8 > len(data) {
			return 0, fmt.Errorf("%w: data too short for %d %s entries", errors.ErrCorruptRecord, n, what)
		}
		return n, nil
	}

	for _, c := range types.Channels {
		n, err := readCount(c.String())
		if err != nil {
			return nil, err
		}
		values := make([]float64, n)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
			offset += 8
		}
		snap.Values[c] = values
	}

	n, err := readCount("timestamp")
	if err != nil {
		return nil, err
	}
	snap.Stamps = make([]time.Time, n)
	for i := range snap.Stamps {
		snap.Stamps[i] = time.Unix(0, int64(binary.LittleEndian.Uint64(data[offset:])))
		offset += 8
	}

	if offset != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", errors.ErrCorruptRecord, len(data)-offset)
	}

	return &snap, nil
}
