// Package archive is an optional append-only sink that persists record
// updates to PostgreSQL.
//
// The archive never feeds back into the live engine: record state is
// in-memory only and resets on restart. The database is an audit trail of
// extrema the monitor observed, nothing more.
package archive
