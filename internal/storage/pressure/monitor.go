// Package pressure tracks how full the channel buffers are and asks for an
// early flush before readings would be evicted. It never slows down the
// data source.
package pressure

import (
	"log/slog"
	"sync"
	"time"

	"github.com/xtxerr/axislog/internal/logging"
)

// Level represents the current buffer pressure level.
type Level int

const (
	// LevelNormal - buffers have room.
	LevelNormal Level = iota

	// LevelWarning - buffers are filling up faster than they are flushed.
	LevelWarning

	// LevelCritical - eviction is imminent, flush now.
	LevelCritical
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Thresholds configures the monitor.
type Thresholds struct {
	Warning    float64
	Critical   float64
	Hysteresis float64

	// Cooldown is the minimum time between two forced flushes.
	Cooldown time.Duration
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:    0.75,
		Critical:   0.90,
		Hysteresis: 0.05,
		Cooldown:   time.Second,
	}
}

// Monitor derives a pressure level from buffer usage ratios.
type Monitor struct {
	mu sync.Mutex

	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time

	// Current state
	level      Level
	lastUsage  float64
	lastForced time.Time

	// Statistics
	stats Stats

	// Level change callback
	onLevelChange func(old, new Level)
}

// Stats holds monitor statistics.
type Stats struct {
	CurrentLevel  Level
	LastUsage     float64
	LevelChanges  int64
	WarningCount  int64
	CriticalCount int64
	ForcedFlushes int64
}

// New creates a new pressure monitor.
func New(t Thresholds) *Monitor {
	return &Monitor{
		thresholds: t,
		logger:     logging.Component("pressure"),
		now:        time.Now,
	}
}

// SetOnLevelChange sets the callback for level changes.
func (m *Monitor) SetOnLevelChange(fn func(old, new Level)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLevelChange = fn
}

// Observe records the current usage ratio (0.0 to 1.0) and reports
// whether a flush should be forced. While the level is critical a flush
// is requested at most once per cooldown.
func (m *Monitor) Observe(usage float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastUsage = usage

	newLevel := m.determineLevel(usage)
	if newLevel != m.level {
		m.setLevel(newLevel, usage)
	}

	if m.level < LevelCritical {
		return false
	}

	now := m.now()
	if !m.lastForced.IsZero() && now.Sub(m.lastForced) < m.thresholds.Cooldown {
		return false
	}
	m.lastForced = now
	m.stats.ForcedFlushes++
	return true
}

// determineLevel determines the level based on usage.
func (m *Monitor) determineLevel(usage float64) Level {
	t := m.thresholds

	// Going up (increasing pressure)
	if usage >= t.Critical {
		return LevelCritical
	}
	if usage >= t.Warning {
		if m.level == LevelCritical && usage >= t.Critical-t.Hysteresis {
			return LevelCritical
		}
		return LevelWarning
	}

	// Going down (decreasing pressure) - apply hysteresis
	switch m.level {
	case LevelCritical, LevelWarning:
		if usage < t.Warning-t.Hysteresis {
			return LevelNormal
		}
		return LevelWarning
	default:
		return LevelNormal
	}
}

// setLevel updates the current level and fires callback.
func (m *Monitor) setLevel(newLevel Level, usage float64) {
	oldLevel := m.level
	m.level = newLevel
	m.stats.LevelChanges++

	switch newLevel {
	case LevelWarning:
		m.stats.WarningCount++
	case LevelCritical:
		m.stats.CriticalCount++
	}

	if newLevel > oldLevel {
		m.logger.Warn("buffer pressure rising", "level", newLevel.String(), "usage", usage)
	} else {
		m.logger.Info("buffer pressure easing", "level", newLevel.String(), "usage", usage)
	}

	if m.onLevelChange != nil {
		m.onLevelChange(oldLevel, newLevel)
	}
}

// CurrentLevel returns the current level.
func (m *Monitor) CurrentLevel() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Stats returns current statistics.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.CurrentLevel = m.level
	s.LastUsage = m.lastUsage
	return s
}
