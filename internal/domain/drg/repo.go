package drg

import "context"

// RecordStore supplies the raw DRG catalog rows. FetchAllDrgRows must return a
// point-in-time view of the whole catalog.
type RecordStore interface {
	FetchAllDrgRows(ctx context.Context) ([]Row, error)
}

// RecordStoreFunc adapts a function to RecordStore.
type RecordStoreFunc func(ctx context.Context) ([]Row, error)

func (f RecordStoreFunc) FetchAllDrgRows(ctx context.Context) ([]Row, error) { return f(ctx) }
