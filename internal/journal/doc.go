// Package journal records fxstore dispatch records in SQLite.
//
// The journal is an observer: attach Journal.Observer to a store and every
// handled event, effect, scheduled dispatch and failure is appended as one
// row. Rows are keyed by a content-addressed ID, so writing the same record
// twice is a no-op. Application state is never stored.
//
// Reads are deterministic: ORDER BY seq ASC, id COLLATE BINARY ASC.
package journal
