// Package storage implements the ingest and persistence pipeline of the
// axislog daemon.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Transport  │────▶│  Ingestion  │────▶│   Buffer    │
//	│  callbacks  │     │ (queue/WAL) │     │  x y z ts   │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                                               │ aligned prefix
//	                                               ▼
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │  Aggregate  │◀────│  Reconcile  │
//	                    │  summaries  │     │   Flusher   │
//	                    └─────────────┘     └─────────────┘
//	                                               │
//	                                               ▼
//	                                   ┌──────────────────────┐
//	                                   │ CSV log (+ Parquet)  │
//	                                   └──────────────────────┘
//
// The storage system provides:
//   - Bounded per-channel ring buffers with oldest-first eviction
//   - Time-triggered flushing of complete rows to an append-only CSV log
//   - Crash recovery through a write-ahead log checkpointed after every flush
//   - An optional Parquet archive with retention, queried through DuckDB
//   - DDSketch-based per-flush channel summaries
//   - Early flushes when buffers approach eviction
package storage
