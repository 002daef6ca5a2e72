// Package entities is the local store for garden records.
//
// Records live in one SQLite table keyed by (collection, id) with a side
// table of secondary index values extracted from the JSON document on every
// write. Each write runs in a single transaction, so readers never observe
// a record without its index rows. After commit the store appends an audit
// entry on a best-effort basis.
//
// Documents at or above the configured threshold are stored snappy
// compressed; Record.Data is always the original JSON.
//
// Error contract:
//   - Create on an existing id returns common.ErrDuplicateKey.
//   - Update and Delete on a missing id return common.ErrNotFound.
//   - Any other failure is a *common.StorageError.
package entities
