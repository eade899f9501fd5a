// Package storage opens and configures the relational database and Redis
// connections used by warden.
//
// # Drivers
//
// Two SQL drivers are supported:
//
//   - postgres (github.com/lib/pq) for production deployments
//   - sqlite3 (github.com/mattn/go-sqlite3) for embedded and development use
//
// All queries in warden use $N placeholders, which both drivers accept. DDL
// that differs between the two (identity columns) goes through Dialect.
//
// # Errors
//
// IsConflict classifies driver errors raised when two writers race on the
// same row or unique index. Callers translate these into their own conflict
// sentinel so that HTTP clients can retry.
//
// # Transactions
//
// WithTx runs a function inside a transaction and rolls back on any error:
//
//	err := storage.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
//		// ...
//		return nil
//	})
package storage
