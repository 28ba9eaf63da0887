// Package ledger holds the live per-instrument book state.
//
// All writes happen on the single feed-processing goroutine through Apply;
// readers get consistent point-in-time copies under a short read lock. The
// ledger mirrors the venue: inconsistent quotes (bid above ask) are logged
// and applied as-is, never corrected.
package ledger
