// Package stores provides the render history for nixser. It includes a
// SQLite-based store with WAL mode, connection pooling and embedded
// migrations, recording renders, their events, and the hash last written
// to each output path.
package stores
