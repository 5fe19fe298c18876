package counter

import (
	"context"
)

// Row is a read-only view over a counted entity's field values.
// The persistence layer owns the row; counters only read from it.
type Row interface {
	Get(field string) any
}

// Fields is the simplest Row: a field name to value map.
type Fields map[string]any

// Get implements Row.
func (f Fields) Get(field string) any {
	return f[field]
}

// Clone returns a shallow copy of the fields.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Changes maps each field changed by a transaction to its pre-transaction value.
type Changes map[string]any

// Overlay reconstructs the state a row had before the transaction that produced
// changes. Changed fields read their previous value, every other field reads
// through to row.
func Overlay(row Row, changes Changes) Row {
	if len(changes) == 0 {
		return row
	}
	return overlayRow{row: row, changes: changes}
}

type overlayRow struct {
	row     Row
	changes Changes
}

func (o overlayRow) Get(field string) any {
	if v, ok := o.changes[field]; ok {
		return v
	}
	return o.row.Get(field)
}

// Predicate decides whether a row counts towards a counter.
// It must be a pure function of the row's field values.
type Predicate func(Row) bool

// Query runs a count against the source of truth.
type Query func(ctx context.Context) (int64, error)

// AssociationQuery runs a count of related rows for a single owner.
type AssociationQuery func(ctx context.Context, ownerID any) (int64, error)

// LoadFunc fetches a row by id. It returns a nil Row and no error when the row
// does not exist.
type LoadFunc func(ctx context.Context, id any) (Row, error)

// QueryContext wraps the execution of a count query, e.g. to route it to a read
// replica. Implementations must call run exactly once and return its result.
type QueryContext func(ctx context.Context, entity string, run Query) (int64, error)

// DirectQueryContext runs the query as is.
func DirectQueryContext(ctx context.Context, _ string, run Query) (int64, error) {
	return run(ctx)
}
