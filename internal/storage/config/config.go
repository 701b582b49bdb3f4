package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	defaults "github.com/xtxerr/axislog/config"
	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration.
type Config struct {
	// Output configures the Durable Log and the optional Parquet archive.
	Output OutputConfig `yaml:"output"`

	// Buffer configures the channel buffers and the update queue.
	Buffer BufferConfig `yaml:"buffer"`

	// Flush configures the time-triggered flush.
	Flush FlushConfig `yaml:"flush"`

	// Ingest configures channel binding and timestamping.
	Ingest IngestConfig `yaml:"ingest"`

	// WAL configures the Write-Ahead Log.
	WAL WALConfig `yaml:"wal"`

	// MQTT configures the transport.
	MQTT MQTTConfig `yaml:"mqtt"`

	// Pressure configures buffer pressure monitoring.
	Pressure PressureConfig `yaml:"pressure"`

	// Retention configures cleanup of the Parquet archive.
	Retention RetentionConfig `yaml:"retention"`

	// Compaction configures merging of small archive files.
	Compaction CompactionConfig `yaml:"compaction"`

	// Query configures the query service.
	Query QueryConfig `yaml:"query"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// OutputConfig configures the Durable Log and the optional Parquet archive.
type OutputConfig struct {
	// Path is the CSV Durable Log.
	Path string `yaml:"path"`

	// ParquetDir enables the Parquet archive when set.
	ParquetDir string `yaml:"parquet_dir"`

	// ParquetCompression is the archive compression: zstd, snappy, gzip, lz4, none.
	ParquetCompression string `yaml:"parquet_compression"`

	// Sync fsyncs the log after every append.
	Sync bool `yaml:"sync"`
}

// BufferConfig configures the channel buffers and the update queue.
type BufferConfig struct {
	// Capacity is the number of entries held per channel buffer.
	Capacity int `yaml:"capacity"`

	// QueueSize is the capacity of the update queue.
	QueueSize int `yaml:"queue_size"`
}

// FlushConfig configures the time-triggered flush.
type FlushConfig struct {
	// Interval is the minimum time between two flushes.
	Interval time.Duration `yaml:"interval"`

	// IdleCheck is how often the trigger is evaluated without traffic.
	IdleCheck time.Duration `yaml:"idle_check"`
}

// IngestConfig configures channel binding and timestamping.
type IngestConfig struct {
	// Channels maps each axis to its cloud variable name.
	Channels ChannelNames `yaml:"channels"`

	// Stamp is the stamping policy: sample or update.
	Stamp string `yaml:"stamp"`

	// ClockChannel is the axis that opens a sample cycle in sample mode.
	ClockChannel string `yaml:"clock_channel"`

	// TimestampLayout is the Go time layout of rendered timestamps.
	TimestampLayout string `yaml:"timestamp_layout"`
}

// ChannelNames maps each axis to its cloud variable name.
type ChannelNames struct {
	X string `yaml:"x"`
	Y string `yaml:"y"`
	Z string `yaml:"z"`
}

// Array returns the names in axis order.
func (n ChannelNames) Array() [3]string {
	return [3]string{n.X, n.Y, n.Z}
}

// WALConfig configures the Write-Ahead Log.
type WALConfig struct {
	// Enabled enables the WAL.
	Enabled bool `yaml:"enabled"`

	// Dir is the WAL directory. Defaults to {output dir}/wal.
	Dir string `yaml:"dir"`

	// SyncMode is the sync mode: async, sync, fsync.
	SyncMode string `yaml:"sync_mode"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// MQTTConfig configures the transport.
type MQTTConfig struct {
	// Broker is the broker address (host:port).
	Broker string `yaml:"broker"`

	// TLS connects with TLS.
	TLS bool `yaml:"tls"`

	// ClientID is the MQTT client id. A random id is used when empty.
	ClientID string `yaml:"client_id"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// KeepAlive is the keep-alive interval.
	KeepAlive time.Duration `yaml:"keep_alive"`

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// TopicTemplate maps a channel name to its topic via "{channel}".
	TopicTemplate string `yaml:"topic_template"`

	// Payload selects the decoder: auto, text, senml-json, senml-cbor.
	Payload string `yaml:"payload"`

	// QoS is the subscription QoS (0 or 1).
	QoS int `yaml:"qos"`

	// Reconnect configures the reconnect backoff.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig configures the reconnect backoff.
type ReconnectConfig struct {
	// MaxInterval caps the backoff.
	MaxInterval time.Duration `yaml:"max_interval"`
}

// PressureConfig configures buffer pressure monitoring.
type PressureConfig struct {
	// Enabled enables early flushes at critical usage.
	Enabled bool `yaml:"enabled"`

	// Warning threshold (0.0-1.0).
	Warning float64 `yaml:"warning"`

	// Critical threshold (0.0-1.0).
	Critical float64 `yaml:"critical"`

	// Hysteresis to prevent flapping (0.0-1.0).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between two forced flushes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// RetentionConfig configures cleanup of the Parquet archive.
type RetentionConfig struct {
	// Archive is how long archive files are kept. Zero keeps them forever.
	Archive time.Duration `yaml:"archive"`

	// Interval is the time between two cleanup runs.
	Interval time.Duration `yaml:"interval"`
}

// CompactionConfig configures merging of the per-flush archive files.
type CompactionConfig struct {
	// Period is the time span merged into one file. Zero disables compaction.
	Period time.Duration `yaml:"period"`

	// Interval is the time between two compaction runs.
	Interval time.Duration `yaml:"interval"`

	// Workers is the number of periods merged concurrently.
	Workers int `yaml:"workers"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// JSON selects JSON output.
	JSON bool `yaml:"json"`

	// Readings logs every received reading at info level.
	Readings bool `yaml:"readings"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			Path:               defaults.DefaultOutputPath,
			ParquetCompression: defaults.DefaultParquetCompression,
		},
		Buffer: BufferConfig{
			Capacity:  defaults.DefaultBufferCapacity,
			QueueSize: defaults.DefaultQueueSize,
		},
		Flush: FlushConfig{
			Interval:  defaults.DefaultFlushInterval,
			IdleCheck: defaults.DefaultIdleCheckInterval,
		},
		Ingest: IngestConfig{
			Channels: ChannelNames{
				X: defaults.DefaultChannelX,
				Y: defaults.DefaultChannelY,
				Z: defaults.DefaultChannelZ,
			},
			Stamp:           defaults.DefaultStampMode,
			ClockChannel:    defaults.DefaultClockChannel,
			TimestampLayout: defaults.DefaultTimestampLayout,
		},
		WAL: WALConfig{
			Enabled:        true,
			SyncMode:       defaults.DefaultWALSyncMode,
			MaxSegmentSize: defaults.DefaultWALMaxSegmentSize,
		},
		MQTT: MQTTConfig{
			Broker:         defaults.DefaultMQTTBroker,
			KeepAlive:      defaults.DefaultMQTTKeepAlive,
			ConnectTimeout: defaults.DefaultMQTTConnectTimeout,
			TopicTemplate:  defaults.DefaultMQTTTopicTemplate,
			Payload:        defaults.DefaultMQTTPayload,
			QoS:            1,
			Reconnect: ReconnectConfig{
				MaxInterval: defaults.DefaultReconnectMaxInterval,
			},
		},
		Pressure: PressureConfig{
			Enabled:    true,
			Warning:    defaults.DefaultPressureWarning,
			Critical:   defaults.DefaultPressureCritical,
			Hysteresis: defaults.DefaultPressureHysteresis,
			Cooldown:   time.Second,
		},
		Retention: RetentionConfig{
			Interval: time.Hour,
		},
		Compaction: CompactionConfig{
			Period:   defaults.DefaultCompactionPeriod,
			Interval: defaults.DefaultCompactionInterval,
			Workers:  defaults.DefaultCompactionWorkers,
		},
		Query: QueryConfig{
			MemoryLimit: "512MB",
			Timeout:     30 * time.Second,
			MaxRows:     100000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// WALDir returns the WAL directory.
func (c *Config) WALDir() string {
	if c.WAL.Dir != "" {
		return c.WAL.Dir
	}
	return filepath.Join(filepath.Dir(c.Output.Path), "wal")
}

// EnsureDirectories creates the output, WAL and archive directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Output.Path)}
	if c.WAL.Enabled {
		dirs = append(dirs, c.WALDir())
	}
	if c.Output.ParquetDir != "" {
		dirs = append(dirs, c.Output.ParquetDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
