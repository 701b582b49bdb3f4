package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// Writer implements a write-ahead log for buffered updates.
// Each segment file contains a sequence of records with CRC checksums.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
//
// A checkpoint starts a new segment with a snapshot record and deletes
// every older segment, so the log never holds more than the updates
// received since the last successful flush.
type Writer struct {
	mu sync.Mutex

	dir            string
	currentSegment *os.File
	currentPath    string
	currentSize    int64
	segmentSeq     int64

	writer *bufio.Writer
	opts   Options
	logger *slog.Logger

	// Statistics
	stats WriterStats
}

// Options configures the WAL writer.
type Options struct {
	// MaxSegmentSize is the maximum size of a segment file before rotation.
	// Default: 64MB
	MaxSegmentSize int64

	// SyncMode controls how writes are synced to disk.
	// "async" - buffered, flushed on checkpoint and close
	// "sync" - flush the buffer after each write
	// "fsync" - flush and fsync after each write
	SyncMode string

	// BufferSize is the size of the write buffer.
	// Default: 64KB
	BufferSize int
}

// DefaultOptions returns default WAL options.
func DefaultOptions() Options {
	return Options{
		MaxSegmentSize: 64 * 1024 * 1024, // 64MB
		SyncMode:       "sync",
		BufferSize:     64 * 1024, // 64KB
	}
}

// WriterStats holds WAL writer statistics.
type WriterStats struct {
	SegmentsCreated int64
	SegmentsDeleted int64
	RecordsWritten  int64
	EntriesWritten  int64
	Checkpoints     int64
	BytesWritten    int64
	SyncsPerformed  int64
	Errors          int64
}

const (
	walMagic         = 0x4158534C57414C01 // "AXSLWAL" + version 1
	walVersion       = 1
	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc
	maxRecordSize    = 64 * 1024 * 1024
)

// NewWriter creates a new WAL writer. Existing segments are kept; the new
// segment is numbered after the highest existing one.
func NewWriter(dir string, opts Options) (*Writer, error) {
	defaults := DefaultOptions()
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = defaults.MaxSegmentSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.SyncMode == "" {
		opts.SyncMode = defaults.SyncMode
	}

	// Ensure directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	w := &Writer{
		dir:    dir,
		opts:   opts,
		logger: logging.Component("wal").With("dir", dir),
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(segments) > 0 {
		w.segmentSeq = segments[len(segments)-1].seq + 1
	}

	if err := w.rotateUnlocked(); err != nil {
		return nil, fmt.Errorf("create initial segment: %w", err)
	}

	return w, nil
}

// Append logs a batch of update entries.
func (w *Writer) Append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeUnlocked(encodeEntries(entries)); err != nil {
		return err
	}
	w.stats.EntriesWritten += int64(len(entries))
	return nil
}

// Checkpoint records snap as the complete buffer state. It starts a new
// segment holding only the snapshot, syncs it and deletes all older
// segments.
func (w *Writer) Checkpoint(snap types.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateUnlocked(); err != nil {
		w.stats.Errors++
		return fmt.Errorf("rotate segment: %w", err)
	}

	if err := w.writeRecord(encodeSnapshot(&snap)); err != nil {
		w.stats.Errors++
		return fmt.Errorf("write snapshot: %w", err)
	}
	w.stats.RecordsWritten++

	// The snapshot must be durable before older segments go away
	if err := w.flushUnlocked(true); err != nil {
		w.stats.Errors++
		return fmt.Errorf("sync snapshot: %w", err)
	}

	deleted, err := w.deleteBeforeUnlocked(w.segmentSeq - 1)
	w.stats.Checkpoints++
	w.logger.Debug("checkpoint", "entries", snap.Len(), "segments_deleted", deleted)
	return err
}

func (w *Writer) writeUnlocked(payload []byte) error {
	recordSize := int64(recordHeaderSize + len(payload))
	if w.currentSize+recordSize > w.opts.MaxSegmentSize {
		if err := w.rotateUnlocked(); err != nil {
			w.stats.Errors++
			return fmt.Errorf("rotate segment: %w", err)
		}
	}

	if err := w.writeRecord(payload); err != nil {
		w.stats.Errors++
		return fmt.Errorf("write record: %w", err)
	}
	w.stats.RecordsWritten++

	if w.opts.SyncMode == "sync" || w.opts.SyncMode == "fsync" {
		if err := w.flushUnlocked(w.opts.SyncMode == "fsync"); err != nil {
			w.stats.Errors++
			return fmt.Errorf("sync: %w", err)
		}
	}

	return nil
}

// writeRecord writes a single record to the current segment.
func (w *Writer) writeRecord(payload []byte) error {
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := w.writer.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.writer.Write(payload); err != nil {
		return err
	}

	size := int64(recordHeaderSize + len(payload))
	w.currentSize += size
	w.stats.BytesWritten += size
	return nil
}

// Sync flushes buffered data to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushUnlocked(w.opts.SyncMode == "fsync")
}

func (w *Writer) flushUnlocked(fsync bool) error {
	if w.writer == nil {
		return nil
	}

	if err := w.writer.Flush(); err != nil {
		return err
	}

	if fsync {
		if err := w.currentSegment.Sync(); err != nil {
			return err
		}
	}

	w.stats.SyncsPerformed++
	return nil
}

// Rotate closes the current segment and creates a new one.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateUnlocked()
}

func (w *Writer) rotateUnlocked() error {
	if w.currentSegment != nil {
		if err := w.flushUnlocked(true); err != nil {
			return fmt.Errorf("flush segment %s: %w", w.currentPath, err)
		}
		w.currentSegment.Close()
	}

	segmentPath := filepath.Join(w.dir, segmentName(w.segmentSeq))

	f, err := os.OpenFile(segmentPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", segmentPath, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], walMagic)
	binary.LittleEndian.PutUint32(header[8:12], walVersion)

	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(segmentPath)
		return fmt.Errorf("write header: %w", err)
	}

	w.currentSegment = f
	w.currentPath = segmentPath
	w.currentSize = headerSize
	w.writer = bufio.NewWriterSize(f, w.opts.BufferSize)
	w.segmentSeq++
	w.stats.SegmentsCreated++

	return nil
}

// Close flushes and closes the WAL writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSegment == nil {
		return nil
	}

	err := w.flushUnlocked(true)
	if cerr := w.currentSegment.Close(); err == nil {
		err = cerr
	}
	w.currentSegment = nil
	w.writer = nil
	return err
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// CurrentSegment returns the current segment path.
func (w *Writer) CurrentSegment() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentPath
}

// ListSegments returns all segment file paths in order.
func (w *Writer) ListSegments() ([]string, error) {
	return ListSegments(w.dir)
}

// DeleteSegmentsBefore deletes all segments older than the given sequence.
// The current segment is never deleted.
func (w *Writer) DeleteSegmentsBefore(seq int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deleteBeforeUnlocked(seq)
}

func (w *Writer) deleteBeforeUnlocked(seq int64) (int, error) {
	segments, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, s := range segments {
		if s.seq >= seq {
			break
		}
		if s.path == w.currentPath {
			continue
		}
		if err := os.Remove(s.path); err != nil {
			w.logger.Warn("failed to delete segment", "segment", s.path, "error", err)
			continue
		}
		deleted++
	}

	w.stats.SegmentsDeleted += int64(deleted)
	return deleted, nil
}

// segmentInfo holds information about a segment file.
type segmentInfo struct {
	path string
	seq  int64
}

func segmentName(seq int64) string {
	return fmt.Sprintf("%016d.wal", seq)
}

// listSegments returns all segment files in dir in order.
func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if len(name) != 20 || name[16:] != ".wal" {
			continue
		}

		var seq int64
		if _, err := fmt.Sscanf(name, "%016d.wal", &seq); err != nil {
			continue
		}

		segments = append(segments, segmentInfo{
			path: filepath.Join(dir, name),
			seq:  seq,
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].seq < segments[j].seq
	})

	return segments, nil
}

// ListSegments returns all segment file paths in dir in order.
func ListSegments(dir string) ([]string, error) {
	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(segments))
	for i, s := range segments {
		paths[i] = s.path
	}
	return paths, nil
}
