// Package store persists submitted label records in a relational database.
//
// Two drivers are supported: "sqlite" uses modernc.org/sqlite, a pure Go
// SQLite implementation, and "postgres" uses the pgx stdlib driver. Both share
// one set of queries; placeholders are rebound per dialect.
//
// # Schema
//
// The storage schema is chosen at open time and is one of:
//
//   - header-detail: one labels row (vendor, revision, barcode_count) per
//     submission plus one label_barcodes row per barcode, pixel coordinates.
//   - normalized: flat barcode_positions rows with normalized coordinates.
//
// Tables are created by versioned migrations embedded from migrations/.
//
// # Transactions
//
// Submit writes a whole batch in one transaction. Any failure rolls the
// transaction back and is returned as a *PersistenceError.
package store
