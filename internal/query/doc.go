// Package query provides a small sealed IR for matching graph nodes and a
// compiler from that IR to parameterized SQLite SQL.
//
// A Match selects nodes carrying a label and filters them with predicates over
// labels and JSON properties. Compiled statements always order by insertion
// order with the node id as tiebreaker, so results are deterministic.
//
// CRITICAL: values and property paths are never interpolated; they are bound
// as ? parameters. Property names are validated against a strict pattern.
package query
