// Package retention removes expired files from the Parquet archive.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/config"
	"github.com/xtxerr/axislog/internal/storage/sink"
)

// Manager handles automatic cleanup of expired archive files.
type Manager struct {
	mu     sync.RWMutex
	dir    string
	config config.RetentionConfig
	stats  Stats
	logger *slog.Logger
	now    func() time.Time
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time
	Runs         int64
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// New creates a retention manager for the archive directory dir.
// A zero cfg.Archive keeps all files.
func New(dir string, cfg config.RetentionConfig) *Manager {
	return &Manager{
		dir:    dir,
		config: cfg,
		logger: logging.Component("retention"),
		now:    time.Now,
	}
}

// Enabled reports whether files ever expire.
func (m *Manager) Enabled() bool {
	return m.dir != "" && m.config.Archive > 0
}

// Run performs a cleanup every cfg.Interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if !m.Enabled() {
		return
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logCleanup(m.RunCleanup())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.logCleanup(m.RunCleanup())
		}
	}
}

func (m *Manager) logCleanup(result CleanupResult) {
	for _, err := range result.Errors {
		m.logger.Warn("cleanup failed", "error", err)
	}
	if result.FilesDeleted > 0 {
		m.logger.Info("expired archive files removed",
			"files", result.FilesDeleted,
			"freed", formatBytes(result.BytesFreed),
		)
	}
}

// RunCleanup deletes every expired archive file.
func (m *Manager) RunCleanup() CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = m.now()
	m.stats.Runs++

	result := m.cleanup(false)

	m.stats.FilesDeleted += int64(result.FilesDeleted)
	m.stats.BytesFreed += result.BytesFreed
	m.stats.FilesSkipped += int64(result.FilesSkipped)
	m.stats.Errors += int64(len(result.Errors))

	return result
}

// DryRun simulates cleanup without deleting files.
func (m *Manager) DryRun() CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cleanup(true)
}

func (m *Manager) cleanup(dryRun bool) CleanupResult {
	var result CleanupResult

	if !m.Enabled() {
		return result
	}

	cutoff := m.now().Add(-m.config.Archive)

	files, err := m.listFiles()
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		}
		return result
	}

	for _, file := range files {
		fileTime, err := sink.ParquetFileTime(file.name)
		if err != nil {
			result.FilesSkipped++
			continue
		}

		if fileTime.After(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", file.path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += file.size
	}

	return result
}

// fileInfo holds information about a file.
type fileInfo struct {
	name string
	path string
	size int64
}

// listFiles lists all Parquet files in the archive directory.
func (m *Manager) listFiles() ([]fileInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) != ".parquet" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, fileInfo{
			name: name,
			path: filepath.Join(m.dir, name),
			size: info.Size(),
		})
	}

	// Sort by name (oldest first)
	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})

	return files, nil
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
	Oldest    time.Time
	Newest    time.Time
}

// GetDiskUsage returns the disk usage of the archive.
func (m *Manager) GetDiskUsage() DiskUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var usage DiskUsage
	if m.dir == "" {
		return usage
	}

	files, err := m.listFiles()
	if err != nil {
		return usage
	}

	for _, f := range files {
		usage.FileCount++
		usage.TotalSize += f.size

		ts, err := sink.ParquetFileTime(f.name)
		if err != nil {
			continue
		}
		if usage.Oldest.IsZero() || ts.Before(usage.Oldest) {
			usage.Oldest = ts
		}
		if ts.After(usage.Newest) {
			usage.Newest = ts
		}
	}

	return usage
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	u := m.GetDiskUsage()

	result := fmt.Sprintf("Archive: %d files, %s\n", u.FileCount, formatBytes(u.TotalSize))
	if u.FileCount > 0 && !u.Oldest.IsZero() {
		result += fmt.Sprintf("  Oldest: %s\n  Newest: %s\n",
			u.Oldest.Format(time.RFC3339), u.Newest.Format(time.RFC3339))
	}
	if m.config.Archive > 0 {
		result += fmt.Sprintf("  Retention: %s\n", m.config.Archive)
	} else {
		result += "  Retention: forever\n"
	}

	return result
}

// formatBytes formats bytes as human-readable string.
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
