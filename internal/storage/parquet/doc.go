// Package parquet implements Parquet file reading and writing for log rows.
//
// The package provides:
//   - RowWriter/RowReader for aligned (timestamp, x, y, z) rows
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between storage rows and Parquet rows
package parquet
