// Package decode parses raw feed frames into typed domain events.
//
// Decoding is pure: no state, no side effects. A malformed or unrecognized
// frame yields an error so the processing path can count and drop it without
// ever crashing.
package decode
