package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/ingestion"
	"github.com/xtxerr/axislog/internal/storage/parquet"
	"github.com/xtxerr/axislog/internal/storage/types"
	"github.com/xtxerr/axislog/internal/validation"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Output.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}

	if err := c.Buffer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("buffer: %w", err))
	}

	if err := c.Flush.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}

	if err := c.Ingest.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingest: %w", err))
	}

	if err := c.WAL.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("wal: %w", err))
	}

	if err := c.MQTT.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mqtt: %w", err))
	}

	if err := c.Pressure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pressure: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if err := c.Compaction.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compaction: %w", err))
	}

	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the output configuration.
func (c *OutputConfig) Validate() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}

	if _, err := parquet.ParseCompressionType(c.ParquetCompression); err != nil {
		errs = append(errs, fmt.Errorf("parquet_compression: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the buffer configuration.
func (c *BufferConfig) Validate() error {
	var errs []error

	if c.Capacity <= 0 {
		errs = append(errs, errors.New("capacity must be positive"))
	}

	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue_size must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the flush configuration.
func (c *FlushConfig) Validate() error {
	var errs []error

	if c.Interval < 0 {
		errs = append(errs, errors.New("interval must not be negative"))
	}

	if c.IdleCheck <= 0 {
		errs = append(errs, errors.New("idle_check must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the ingest configuration.
func (c *IngestConfig) Validate() error {
	var errs []error

	if err := validation.ValidateChannelNames(c.Channels.X, c.Channels.Y, c.Channels.Z); err != nil {
		errs = append(errs, fmt.Errorf("channels: %w", err))
	}

	if _, err := ingestion.ParseStampMode(c.Stamp); err != nil {
		errs = append(errs, fmt.Errorf("stamp: %w", err))
	}

	if _, err := types.ParseChannel(c.ClockChannel); err != nil {
		errs = append(errs, fmt.Errorf("clock_channel: %w", err))
	}

	if c.TimestampLayout == "" {
		errs = append(errs, errors.New("timestamp_layout is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the WAL configuration.
func (c *WALConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	validModes := map[string]bool{"async": true, "sync": true, "fsync": true}
	if !validModes[c.SyncMode] {
		errs = append(errs, fmt.Errorf("invalid sync_mode: %s (must be async, sync, or fsync)", c.SyncMode))
	}

	if c.MaxSegmentSize <= 0 {
		errs = append(errs, errors.New("max_segment_size must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the MQTT configuration.
func (c *MQTTConfig) Validate() error {
	var errs []error

	if c.Broker == "" {
		errs = append(errs, errors.New("broker is required"))
	}

	if err := validation.ValidateTopicTemplate(c.TopicTemplate); err != nil {
		errs = append(errs, fmt.Errorf("topic_template: %w", err))
	}

	validPayloads := map[string]bool{"auto": true, "text": true, "senml-json": true, "senml-cbor": true}
	if !validPayloads[c.Payload] {
		errs = append(errs, fmt.Errorf("invalid payload: %s (must be auto, text, senml-json, or senml-cbor)", c.Payload))
	}

	if c.QoS < 0 || c.QoS > 1 {
		errs = append(errs, fmt.Errorf("invalid qos: %d (must be 0 or 1)", c.QoS))
	}

	if c.KeepAlive < 0 {
		errs = append(errs, errors.New("keep_alive must not be negative"))
	}

	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect_timeout must be positive"))
	}

	if c.Reconnect.MaxInterval <= 0 {
		errs = append(errs, errors.New("reconnect.max_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the pressure configuration.
func (c *PressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.Warning <= 0 || c.Warning >= 1 {
		errs = append(errs, errors.New("warning must be between 0 and 1"))
	}
	if c.Critical <= 0 || c.Critical > 1 {
		errs = append(errs, errors.New("critical must be between 0 and 1"))
	}
	if c.Warning >= c.Critical {
		errs = append(errs, errors.New("warning must be less than critical"))
	}

	if c.Hysteresis < 0 || c.Hysteresis >= 0.5 {
		errs = append(errs, errors.New("hysteresis must be between 0 and 0.5"))
	}

	if c.Cooldown < 0 {
		errs = append(errs, errors.New("cooldown must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.Archive < 0 {
		errs = append(errs, errors.New("archive retention must not be negative"))
	}

	if c.Archive > 0 && c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive when archive retention is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the compaction configuration.
func (c *CompactionConfig) Validate() error {
	if c.Period == 0 {
		return nil
	}

	var errs []error

	if c.Period < time.Minute {
		errs = append(errs, errors.New("period must be at least 1m"))
	}

	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive when compaction is enabled"))
	}

	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.MemoryLimit != "" && parseMemoryLimit(c.MemoryLimit) <= 0 {
		errs = append(errs, fmt.Errorf("invalid memory_limit: %s", c.MemoryLimit))
	}

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *LogConfig) SlogLevel() (slog.Level, error) {
	return logging.ParseLevel(c.Level)
}
