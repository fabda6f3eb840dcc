package manager

import (
	"sync"

	"github.com/autodb/autodb/internal/rowcodec"
)

// Model is the reference-typed, cache-resident wrapper around a value-typed
// Table row, per spec.md §9's "Identity vs. value semantics": Table is the
// plain data, Model adds the cache bookkeeping and the strong/weak
// identity guarantees of spec.md §3.3.
type Model[T rowcodec.Table] struct {
	mu    sync.Mutex
	value T
}

// Value returns the current row value. To mutate, copy it, change the
// copy, then call SetValue. Neither Value nor SetValue notifies the
// manager; a changed model is not queued for saving by these calls.
func (m *Model[T]) Value() T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// SetValue replaces the wrapped row value as given, id included; callers
// mutate a copy obtained via Value and must preserve the RowID themselves.
func (m *Model[T]) SetValue(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = v
}

// ID returns the model's primary key.
func (m *Model[T]) ID() rowcodec.AutoId {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value.RowID()
}

func newModel[T rowcodec.Table](v T) *Model[T] {
	return &Model[T]{value: v}
}
