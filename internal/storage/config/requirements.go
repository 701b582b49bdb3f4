package config

import (
	"fmt"
	"time"
)

// Requirements represents calculated resource requirements.
type Requirements struct {
	// Memory requirements
	BufferBytes     int64
	QueueBytes      int64
	QueryCacheBytes int64
	TotalRAMBytes   int64

	// Flush sizing
	MaxRowsPerFlush  int
	RowsPerFlush     int64
	BufferHeadroom   time.Duration // Time until a full buffer evicts at the given rate
	EvictionExpected bool

	// Storage requirements
	LogBytesPerDay     int64
	ArchiveBytesPerDay int64
	WALBytesPerFlush   int64
}

// Constants for calculations
const (
	// Bytes per buffered value (float64)
	bytesPerValue = 8

	// Bytes per buffered timestamp (time.Time)
	bytesPerStamp = 24

	// Bytes per queued update
	bytesPerUpdate = 40

	// Bytes per CSV row ("2006-01-02 15:04:05" plus three values)
	bytesPerCSVRow = 50

	// Bytes per archive row (compressed)
	bytesPerArchiveRow = 12

	// Bytes per WAL entry including framing overhead
	bytesPerWALEntry = 20
)

// CalculateRequirements computes resource requirements for the given
// sample rate (complete x/y/z samples per second).
func (c *Config) CalculateRequirements(samplesPerSecond float64) Requirements {
	r := Requirements{}

	capacity := int64(c.Buffer.Capacity)

	// -------------------------------------------------------------------------
	// Memory Requirements
	// -------------------------------------------------------------------------

	r.BufferBytes = capacity * (3*bytesPerValue + bytesPerStamp)
	r.QueueBytes = int64(c.Buffer.QueueSize) * bytesPerUpdate
	r.QueryCacheBytes = parseMemoryLimit(c.Query.MemoryLimit)

	r.TotalRAMBytes = r.BufferBytes + r.QueueBytes + r.QueryCacheBytes
	// Add 64MB for the Go runtime
	r.TotalRAMBytes += 64 * 1024 * 1024

	// -------------------------------------------------------------------------
	// Flush Sizing
	// -------------------------------------------------------------------------

	r.MaxRowsPerFlush = c.Buffer.Capacity
	r.RowsPerFlush = int64(samplesPerSecond * c.Flush.Interval.Seconds())
	if samplesPerSecond > 0 {
		r.BufferHeadroom = time.Duration(float64(capacity) / samplesPerSecond * float64(time.Second))
	}
	r.EvictionExpected = r.RowsPerFlush > capacity

	// -------------------------------------------------------------------------
	// Storage Requirements
	// -------------------------------------------------------------------------

	samplesPerDay := int64(samplesPerSecond * 86400)
	r.LogBytesPerDay = samplesPerDay * bytesPerCSVRow
	if c.Output.ParquetDir != "" {
		r.ArchiveBytesPerDay = samplesPerDay * bytesPerArchiveRow
	}
	if c.WAL.Enabled {
		// Three updates per sample between two checkpoints
		r.WALBytesPerFlush = min(r.RowsPerFlush, capacity) * 3 * bytesPerWALEntry
	}

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	eviction := "no"
	if r.EvictionExpected {
		eviction = "YES (increase buffer.capacity or shorten flush.interval)"
	}

	return fmt.Sprintf(`Resource Requirements
=====================

Memory:
  Channel Buffers:   %s
  Update Queue:      %s
  Query Cache:       %s
  Total RAM:         %s (recommended)

Flush:
  Rows/flush:        %s (max %s)
  Buffer headroom:   %s
  Eviction expected: %s

Storage:
  Log/day:           %s
  Archive/day:       %s
  WAL/flush:         %s
`,
		formatBytes(r.BufferBytes),
		formatBytes(r.QueueBytes),
		formatBytes(r.QueryCacheBytes),
		formatBytes(r.TotalRAMBytes),
		formatNumber(r.RowsPerFlush),
		formatNumber(int64(r.MaxRowsPerFlush)),
		r.BufferHeadroom.Round(time.Second),
		eviction,
		formatBytes(r.LogBytesPerDay),
		formatBytes(r.ArchiveBytesPerDay),
		formatBytes(r.WALBytesPerFlush),
	)
}

// parseMemoryLimit parses a memory limit string like "512MB" into bytes.
func parseMemoryLimit(s string) int64 {
	if s == "" {
		return 512 * 1024 * 1024 // Default 512MB
	}

	var value int64
	var unit string
	_, err := fmt.Sscanf(s, "%d%s", &value, &unit)
	if err != nil {
		// Try without space
		for i, c := range s {
			if c < '0' || c > '9' {
				fmt.Sscanf(s[:i], "%d", &value)
				unit = s[i:]
				break
			}
		}
	}

	switch unit {
	case "B", "b", "":
		return value
	case "KB", "kb", "K", "k":
		return value * 1024
	case "MB", "mb", "M", "m":
		return value * 1024 * 1024
	case "GB", "gb", "G", "g":
		return value * 1024 * 1024 * 1024
	case "TB", "tb", "T", "t":
		return value * 1024 * 1024 * 1024 * 1024
	default:
		return value
	}
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}
