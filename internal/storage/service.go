package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/axislog/internal/errors"
	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/aggregate"
	"github.com/xtxerr/axislog/internal/storage/buffer"
	"github.com/xtxerr/axislog/internal/storage/compaction"
	"github.com/xtxerr/axislog/internal/storage/config"
	"github.com/xtxerr/axislog/internal/storage/ingestion"
	"github.com/xtxerr/axislog/internal/storage/parquet"
	"github.com/xtxerr/axislog/internal/storage/pressure"
	"github.com/xtxerr/axislog/internal/storage/reconcile"
	"github.com/xtxerr/axislog/internal/storage/retention"
	"github.com/xtxerr/axislog/internal/storage/sink"
	"github.com/xtxerr/axislog/internal/storage/types"
	"github.com/xtxerr/axislog/internal/storage/wal"
)

// summaryAccuracy is the relative accuracy of flush summary quantiles.
const summaryAccuracy = 0.01

// Service is the main storage service that orchestrates all components.
type Service struct {
	config *config.Config
	logger *slog.Logger

	// Components
	set        *buffer.Set
	sink       sink.Sink
	journal    *wal.Writer // nil when the WAL is disabled
	flusher    *reconcile.Flusher
	dispatcher *ingestion.Dispatcher
	pressure   *pressure.Monitor // nil when disabled
	tracker    *aggregate.Tracker
	retention  *retention.Manager // nil without an archive
	compactor  *compaction.Engine // nil without an archive

	replay wal.ReplayStats

	// State
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	startTime time.Time
}

// New creates a new storage service. With the WAL enabled, readings that
// were buffered but not flushed by a previous run are restored first.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	// Validated above
	stamp, _ := ingestion.ParseStampMode(cfg.Ingest.Stamp)
	clock, _ := types.ParseChannel(cfg.Ingest.ClockChannel)

	s := &Service{
		config:  cfg,
		logger:  logging.Component("storage"),
		set:     buffer.NewSetWithStamps(cfg.Buffer.Capacity, stamp.StampsPerRow()),
		sink:    newSink(cfg),
		tracker: aggregate.NewTracker(summaryAccuracy),
	}

	if cfg.WAL.Enabled {
		if err := s.openJournal(); err != nil {
			s.sink.Close()
			return nil, err
		}
	}

	flushOpts := reconcile.Options{
		Layout:  cfg.Ingest.TimestampLayout,
		Tracker: s.tracker,
	}
	if s.journal != nil {
		flushOpts.Checkpointer = s.journal
	}
	s.flusher = reconcile.New(s.set, s.sink, flushOpts)

	ingestOpts := ingestion.Options{
		QueueSize:     cfg.Buffer.QueueSize,
		FlushInterval: cfg.Flush.Interval,
		IdleCheck:     cfg.Flush.IdleCheck,
		StampMode:     stamp,
		ClockChannel:  clock,
		Names:         cfg.Ingest.Channels.Array(),
	}
	if s.journal != nil {
		ingestOpts.Journal = s.journal
	}
	if cfg.Log.Readings {
		ingestOpts.Observer = readingLogger(logging.Component("reading"), ingestOpts.Names)
	}
	if cfg.Pressure.Enabled {
		s.pressure = pressure.New(pressure.Thresholds{
			Warning:    cfg.Pressure.Warning,
			Critical:   cfg.Pressure.Critical,
			Hysteresis: cfg.Pressure.Hysteresis,
			Cooldown:   cfg.Pressure.Cooldown,
		})
		s.pressure.SetOnLevelChange(s.onPressureChange)
		ingestOpts.Pressure = s.pressure
	}
	s.dispatcher = ingestion.New(s.set, s.flusher, ingestOpts)

	if cfg.Output.ParquetDir != "" {
		s.retention = retention.New(cfg.Output.ParquetDir, cfg.Retention)
		s.compactor = compaction.New(cfg.Output.ParquetDir, cfg.Compaction, archiveOptions(cfg))
	}

	return s, nil
}

// readingLogger returns an observer that logs every applied reading.
func readingLogger(logger *slog.Logger, names [types.NumChannels]string) func(types.Update) {
	return func(u types.Update) {
		logger.Info("reading", "channel", names[u.Channel], "value", u.Value)
	}
}

// newSink returns the CSV log, teed into the Parquet archive when one is
// configured.
func newSink(cfg *config.Config) sink.Sink {
	log := sink.NewCSV(cfg.Output.Path, sink.CSVOptions{
		Sync:   cfg.Output.Sync,
		Header: types.HeaderFor(cfg.Ingest.Channels.Array()),
	})
	if cfg.Output.ParquetDir == "" {
		return log
	}

	return sink.NewTee(log, sink.NewParquet(cfg.Output.ParquetDir, archiveOptions(cfg)))
}

func archiveOptions(cfg *config.Config) parquet.Options {
	opts := parquet.DefaultOptions()
	// Validated by config.Validate
	opts.Compression, _ = parquet.ParseCompressionType(cfg.Output.ParquetCompression)
	return opts
}

// openJournal replays the WAL into the buffers and opens it for writing.
func (s *Service) openJournal() error {
	dir := s.config.WALDir()

	snap, stats, err := wal.Replay(dir, s.config.Buffer.Capacity, s.set.StampsPerRow())
	if err != nil {
		return fmt.Errorf("replay wal: %w", err)
	}
	s.replay = stats
	s.set.Restore(snap)

	w, err := wal.NewWriter(dir, wal.Options{
		MaxSegmentSize: s.config.WAL.MaxSegmentSize,
		SyncMode:       s.config.WAL.SyncMode,
	})
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}

	// Fold the replayed segments into one snapshot
	if stats.Segments > 0 {
		if err := w.Checkpoint(snap); err != nil {
			w.Close()
			return fmt.Errorf("checkpoint restored state: %w", err)
		}
	}

	s.journal = w
	return nil
}

// Start starts all components.
func (s *Service) Start() error {
	if s.running.Load() {
		return errors.ErrAlreadyRunning
	}

	// A missing header is retried before every flush
	_ = s.flusher.Init()

	if err := s.dispatcher.Start(); err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.startTime = time.Now()
	s.running.Store(true)

	if s.retention != nil && s.retention.Enabled() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.retention.Run(ctx)
		}()
	}

	if s.compactor != nil && s.compactor.Enabled() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.compactor.Run(ctx)
		}()
	}

	s.logger.Info("storage started",
		"log", s.config.Output.Path,
		"archive", s.config.Output.ParquetDir,
		"wal", s.journal != nil,
		"buffered_rows", s.set.Aligned(),
	)
	return nil
}

// Stop stops all components gracefully. Queued updates are applied and
// the final flush runs before the sinks are closed.
func (s *Service) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	s.cancel()

	// Wait for background workers
	s.wg.Wait()

	var errs []error

	if err := s.dispatcher.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop ingestion: %w", err))
	}

	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close wal: %w", err))
		}
	}

	if err := s.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}

	s.logger.Info("storage stopped", "uptime", time.Since(s.startTime).Round(time.Second))
	return errors.Join(errs...)
}

// Handle enqueues a single update. See ingestion.Dispatcher.Handle.
func (s *Service) Handle(u types.Update) error {
	return s.dispatcher.Handle(u)
}

// Callback returns the subscription callback of channel c.
func (s *Service) Callback(c types.Channel) func(value float64) {
	return s.dispatcher.Callback(c)
}

// ForceFlush asks the ingest loop to flush as soon as possible.
func (s *Service) ForceFlush() {
	s.dispatcher.RequestFlush()
}

func (s *Service) onPressureChange(_, level pressure.Level) {
	if level == pressure.LevelCritical {
		s.logger.Warn("buffers close to eviction, flushing early",
			"usage", s.set.MaxUsage(), "capacity", s.set.Cap())
	}
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	var uptime time.Duration
	if s.running.Load() {
		uptime = time.Since(s.startTime)
	}

	st := ServiceStats{
		Running:   s.running.Load(),
		Uptime:    uptime,
		Ingestion: s.dispatcher.Stats(),
		Flush:     s.flusher.Stats(),
		Buffer:    s.set.Stats(),
		Replay:    s.replay,
		Totals:    s.tracker.Totals(),
	}
	if ss, ok := s.sink.(interface{ Stats() sink.Stats }); ok {
		st.Sink = ss.Stats()
	}
	if s.journal != nil {
		st.WAL = s.journal.Stats()
	}
	if s.pressure != nil {
		st.Pressure = s.pressure.Stats()
	}
	if s.retention != nil {
		st.Retention = s.retention.Stats()
	}
	if s.compactor != nil {
		st.Compaction = s.compactor.Stats()
	}
	return st
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running    bool
	Uptime     time.Duration
	Ingestion  ingestion.Stats
	Flush      reconcile.Stats
	Buffer     buffer.SetStats
	Sink       sink.Stats
	WAL        wal.WriterStats
	Replay     wal.ReplayStats
	Pressure   pressure.Stats
	Retention  retention.Stats
	Compaction compaction.Stats
	Totals     [types.NumChannels]aggregate.Summary
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Retention returns the archive retention manager, or nil without an archive.
func (s *Service) Retention() *retention.Manager {
	return s.retention
}

// Compaction returns the archive compaction engine, or nil without an archive.
func (s *Service) Compaction() *compaction.Engine {
	return s.compactor
}

// PressureLevel returns the current pressure level.
func (s *Service) PressureLevel() pressure.Level {
	if s.pressure == nil {
		return pressure.LevelNormal
	}
	return s.pressure.CurrentLevel()
}
