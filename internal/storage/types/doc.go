// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Channel: one of the three sensor axes (x, y, z)
//   - Update: a single value delivered for one channel
//   - Row: an aligned (timestamp, x, y, z) record written to the Durable Log
package types
