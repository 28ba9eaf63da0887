// Package model defines shared data types used across the monitor.
//
// Conventions:
//   - Prices and sizes: decimal.Decimal parsed from the venue's string
//     fields, never float64 (record comparisons must be exact)
//   - Timestamps: time.Time captured on the processing path
//   - IDs: string asset/token ids as assigned by the venue,
//     uuid.UUID for record notifications
package model
