// Package peloton keeps a GitHub ProjectV2 board in sync with the open
// issues, pull requests, and discussions of a set of repositories.
//
// A sync cycle has three stages:
//   - Collector: cursor-paginated GraphQL retrieval of every qualifying
//     item, plus the board's own items and field catalog
//   - Transformer: pure conversion of each item into board field values
//   - Reconciler: the minimal set of add/update mutations bringing the
//     board into agreement, tolerant of per-item failures
//
// Sync is additive: board items whose upstream item no longer qualifies
// are left alone and only removed by the explicit prune operation.
package peloton
