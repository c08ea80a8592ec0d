// Package report turns loaded events into the daily rows written to the
// sink.
//
// Jobs:
//   - InternalAggregates: state metrics of the structure and volatility
//     layers plus context metrics, one {date, layer, metric, value} row each
//   - RiskDaily: risk level distribution and session breakdown
//   - RiskDivergences: one row per divergence event
//
// Values computed by the stats package are kept unrounded until they are
// placed into a row, where percentages and rates are rounded to two decimal
// places.
package report
