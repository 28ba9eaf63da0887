// Package aggregate groups instruments into events and tracks combined
// price records.
//
// An event's total is only published when every member instrument has a
// known best ask simultaneously; partial sums are never exposed. The
// all-time-low total is overwritten on strict improvement only, so the first
// observation of a given minimum keeps its timestamp.
package aggregate
