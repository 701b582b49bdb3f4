package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Reader reads records from a WAL segment file.
type Reader struct {
	path string
	file *os.File

	// Statistics
	stats ReaderStats
}

// ReaderStats holds WAL reader statistics.
type ReaderStats struct {
	RecordsRead    int64
	EntriesRead    int64
	SnapshotsRead  int64
	BytesRead      int64
	CorruptRecords int64
}

func (s *ReaderStats) add(o ReaderStats) {
	s.RecordsRead += o.RecordsRead
	s.EntriesRead += o.EntriesRead
	s.SnapshotsRead += o.SnapshotsRead
	s.BytesRead += o.BytesRead
	s.CorruptRecords += o.CorruptRecords
}

// NewReader creates a new WAL reader for a segment file.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	// Verify header
	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic: expected %x, got %x", walMagic, magic)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	return &Reader{
		path: path,
		file: f,
	}, nil
}

// ReadAll reads all intact records from the segment. Reading stops at the
// first damaged record, which is counted as corrupt: a torn write can only
// affect the tail of a segment.
func (r *Reader) ReadAll() ([]Record, error) {
	var records []Record

	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			r.stats.CorruptRecords++
			return records, nil
		}
		records = append(records, rec)
	}
}

// ReadRecord reads the next record from the segment.
// Returns io.EOF when there are no more records.
func (r *Reader) ReadRecord() (Record, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length > maxRecordSize {
		return Record{}, fmt.Errorf("record too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return Record{}, fmt.Errorf("read payload: %w", err)
	}

	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		return Record{}, fmt.Errorf("CRC mismatch: expected %x, got %x", expectedCRC, actualCRC)
	}

	rec, err := decodeRecord(payload)
	if err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}

	r.stats.RecordsRead++
	r.stats.EntriesRead += int64(len(rec.Entries))
	if rec.Kind == KindSnapshot {
		r.stats.SnapshotsRead++
	}
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	return rec, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadSegment is a convenience function to read all records from a segment file.
func ReadSegment(path string) ([]Record, ReaderStats, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, ReaderStats{}, err
	}
	defer r.Close()

	records, err := r.ReadAll()
	return records, r.Stats(), err
}

// errEmptySegment marks a segment that was created but never got a header.
var errEmptySegment = errors.New("empty segment")

func readSegmentTolerant(path string) ([]Record, ReaderStats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, ReaderStats{}, err
	}
	if info.Size() < headerSize {
		return nil, ReaderStats{}, errEmptySegment
	}
	return ReadSegment(path)
}
