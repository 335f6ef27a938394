// Package adapter defines the abstract database contract the HRANA server
// fronts (spec.md §1: "we consume an abstract execute(sql, args) -> rows
// contract"). The core never implements a database engine itself; it only
// depends on this interface and a Resolver that picks a concrete instance
// by adapter type and tenant namespace.
package adapter

import "context"

// Result is the outcome of one Execute call: column names in declaration
// order, the matching rows (each a slice aligned to Columns), and the
// affected/inserted-id counters a write statement reports.
type Result struct {
	Columns         []string
	Rows            [][]any
	RowsAffected    int64
	LastInsertRowID int64
}

// Adapter is the abstract execute(sql, args) -> rows contract of spec.md
// §1 and §4.4. Concrete adapters (internal/hrana/adapter/postgres, or a
// tenant-specific driver) implement this; the HRANA server depends only on
// the interface.
type Adapter interface {
	Execute(ctx context.Context, sql string, args []any) (*Result, error)
	Close() error
}

// Resolver selects an Adapter by database type and, optionally, tenant
// namespace, per spec.md §4.4's "Adapter selection":
// getAdapter(type, namespace) when a namespace header is present,
// getRootAdapter(type) otherwise.
type Resolver interface {
	GetAdapter(adapterType, namespace string) (Adapter, error)
	GetRootAdapter(adapterType string) (Adapter, error)
}
