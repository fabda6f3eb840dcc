package manager

import (
	"context"

	"github.com/autodb/autodb/internal/dbactor"
	"github.com/autodb/autodb/internal/observe"
	"github.com/autodb/autodb/internal/rowcodec"
)

// RowChangeObserver exposes T's underlying table's debounced row-change
// feed, used by RelationQuery (spec.md §4.8) to react to inserts/deletes
// on its target table.
func RowChangeObserver[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T) (*observe.Subscription[dbactor.RowChangeEvent], error) {
	te, err := setupDB(ctx, m, newT)
	if err != nil {
		return nil, err
	}
	return te.actor.RowChangeObserver(te.info.Name), nil
}
