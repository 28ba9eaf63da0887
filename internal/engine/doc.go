// Package engine wires the feed pipeline together.
//
// One goroutine consumes frames from the transport in strict arrival order
// and applies them to the ledger and aggregator; record computations are only
// valid under that ordering. Readers and control callers never run on the
// processing path.
package engine
