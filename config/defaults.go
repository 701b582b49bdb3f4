// Package config provides configuration defaults and utilities
// for the axislog daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Buffer Defaults
// =============================================================================

const (
	// DefaultBufferCapacity is the number of readings held per channel.
	// When a channel buffer is full the oldest reading is evicted.
	// Override via config: buffer.capacity
	DefaultBufferCapacity = 1000

	// DefaultQueueSize is the capacity of the update queue between the
	// transport callbacks and the ingest loop. Updates arriving while the
	// queue is full are dropped and counted.
	// Override via config: buffer.queue_size
	DefaultQueueSize = 4096
)

// =============================================================================
// Flush Defaults
// =============================================================================

const (
	// DefaultFlushInterval is the minimum time between two time-triggered flushes.
	// Override via config: flush.interval
	DefaultFlushInterval = 10 * time.Second

	// DefaultIdleCheckInterval is how often the ingest loop re-evaluates the
	// flush trigger when no updates arrive.
	// Override via config: flush.idle_check
	DefaultIdleCheckInterval = time.Second
)

// =============================================================================
// Output Defaults
// =============================================================================

const (
	// DefaultOutputPath is the Durable Log file.
	// Override via config: output.path
	DefaultOutputPath = "data_store.csv"

	// DefaultTimestampLayout renders reading timestamps with second resolution.
	// Override via config: ingest.timestamp_layout
	DefaultTimestampLayout = "2006-01-02 15:04:05"

	// DefaultParquetCompression is used for the optional Parquet archive.
	// Override via config: output.parquet_compression
	DefaultParquetCompression = "zstd"
)

// =============================================================================
// Channel Defaults
// =============================================================================

const (
	// DefaultChannelX is the cloud variable name bound to the x axis.
	DefaultChannelX = "py_x"

	// DefaultChannelY is the cloud variable name bound to the y axis.
	DefaultChannelY = "py_y"

	// DefaultChannelZ is the cloud variable name bound to the z axis.
	DefaultChannelZ = "py_z"

	// DefaultStampMode stamps one timestamp per sample cycle.
	// Override via config: ingest.stamp (sample|update)
	DefaultStampMode = "sample"

	// DefaultClockChannel is the axis whose updates open a new sample cycle.
	// Override via config: ingest.clock_channel
	DefaultClockChannel = "x"
)

// =============================================================================
// WAL Defaults
// =============================================================================

const (
	// DefaultWALSyncMode controls how WAL writes reach the disk.
	// "async" buffers, "sync" flushes the buffer per write, "fsync" also fsyncs.
	// Override via config: wal.sync_mode
	DefaultWALSyncMode = "sync"

	// DefaultWALMaxSegmentSize is the segment size that forces a rotation.
	// Override via config: wal.max_segment_size
	DefaultWALMaxSegmentSize = 64 * 1024 * 1024
)

// =============================================================================
// MQTT Defaults
// =============================================================================

const (
	// DefaultMQTTBroker is the broker address (host:port).
	// Override via config: mqtt.broker
	DefaultMQTTBroker = "localhost:1883"

	// DefaultMQTTKeepAlive is the MQTT keep-alive interval.
	// Override via config: mqtt.keep_alive
	DefaultMQTTKeepAlive = 30 * time.Second

	// DefaultMQTTConnectTimeout bounds a single connection attempt.
	// Override via config: mqtt.connect_timeout
	DefaultMQTTConnectTimeout = 10 * time.Second

	// DefaultMQTTTopicTemplate maps a channel name to its topic.
	// "{channel}" is replaced by the channel name.
	// Override via config: mqtt.topic_template
	DefaultMQTTTopicTemplate = "axislog/{channel}"

	// DefaultMQTTPayload selects the payload decoder.
	// Override via config: mqtt.payload (auto|text|senml-json|senml-cbor)
	DefaultMQTTPayload = "auto"

	// DefaultReconnectMaxInterval caps the reconnect backoff.
	// Override via config: mqtt.reconnect.max_interval
	DefaultReconnectMaxInterval = 30 * time.Second
)

// =============================================================================
// Pressure Defaults
// =============================================================================

const (
	// DefaultPressureWarning is the buffer usage ratio that raises a warning.
	// Override via config: pressure.warning
	DefaultPressureWarning = 0.75

	// DefaultPressureCritical is the buffer usage ratio that forces an early
	// flush so that readings are persisted before eviction.
	// Override via config: pressure.critical
	DefaultPressureCritical = 0.90

	// DefaultPressureHysteresis prevents level flapping.
	// Override via config: pressure.hysteresis
	DefaultPressureHysteresis = 0.05
)

// =============================================================================
// Compaction Defaults
// =============================================================================

const (
	// DefaultCompactionPeriod is the time span of archive rows merged into
	// one Parquet file. The sink writes one file per flush, so without
	// compaction the archive grows by thousands of small files a day.
	// Override via config: compaction.period (0 disables)
	DefaultCompactionPeriod = time.Hour

	// DefaultCompactionInterval is the time between two compaction runs.
	// Override via config: compaction.interval
	DefaultCompactionInterval = 10 * time.Minute

	// DefaultCompactionWorkers is the number of periods merged concurrently.
	// Override via config: compaction.workers
	DefaultCompactionWorkers = 2
)
