package db

import "context"

// Database is a pooled connection that can run queries and transactions.
type Database interface {
	Querier
	// Transaction runs fn inside a transaction. It commits when fn returns nil
	// and rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Transaction is a Querier bound to an open transaction.
type Transaction interface {
	Querier
}

// Rows is the cursor returned by Query.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the single row returned by QueryRow.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an Exec.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
