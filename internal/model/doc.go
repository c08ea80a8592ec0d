// Package model defines shared data types used across the daily statistics job.
//
// Conventions:
//   - Timestamps: time.Time normalized to UTC; the remote log stores int64 milliseconds since Unix epoch
//   - Windows: inclusive on both ends for queries, strictly positive duration for rates and shares
//   - Days: calendar dates in UTC formatted as YYYY-MM-DD
package model
