// Package ir provides the value model shared by every actiongraph package.
//
// Entity properties, relationship properties, Action inputs and Action results
// are all IRValues. ir imports nothing internal so that the store, the change
// recorder and the undo engine can agree on one notion of equality.
//
// Key constraints:
//   - NO float types anywhere - use int64 for numbers
//   - IRNull only appears in change-detail maps, where it means "absent"
//   - Canonical JSON (RFC 8785) is the only on-disk encoding, so two values are
//     equal exactly when their canonical encodings are byte-equal
package ir
