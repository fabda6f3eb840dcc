package manager

import (
	"weak"

	"github.com/autodb/autodb/internal/rowcodec"
)

// loadCache resolves id's weak cache entry for T, dropping it if the
// referent has already been collected (spec.md §3.3 "Identity
// uniqueness").
func loadCache[T rowcodec.Table](te *typeEntry, id rowcodec.AutoId) (*Model[T], bool) {
	te.cacheMu.Lock()
	defer te.cacheMu.Unlock()
	boxed, ok := te.cache[id]
	if !ok {
		return nil, false
	}
	wp, ok := boxed.(weak.Pointer[Model[T]])
	if !ok {
		return nil, false
	}
	m := wp.Value()
	if m == nil {
		delete(te.cache, id)
		return nil, false
	}
	return m, true
}

// publishCache atomically publishes model as the cache-resident instance
// for id, unless another goroutine already published a still-live one
// first -- whichever wins is returned, preserving the at-most-one-live-
// representative invariant (spec.md §3.3) under concurrent fetch/create.
func publishCache[T rowcodec.Table](te *typeEntry, id rowcodec.AutoId, model *Model[T]) *Model[T] {
	te.cacheMu.Lock()
	defer te.cacheMu.Unlock()
	if boxed, ok := te.cache[id]; ok {
		if wp, ok := boxed.(weak.Pointer[Model[T]]); ok {
			if existing := wp.Value(); existing != nil {
				return existing
			}
		}
	}
	te.cache[id] = weak.Make(model)
	return model
}

func (te *typeEntry) isDeleted(id rowcodec.AutoId) bool {
	te.cacheMu.Lock()
	defer te.cacheMu.Unlock()
	return te.deleted[id]
}

func (te *typeEntry) markCreated(id rowcodec.AutoId) {
	te.cacheMu.Lock()
	defer te.cacheMu.Unlock()
	te.created[id] = true
}

func (te *typeEntry) isCreated(id rowcodec.AutoId) bool {
	te.cacheMu.Lock()
	defer te.cacheMu.Unlock()
	return te.created[id]
}

// markChanged keeps a strong reference to model in the changed-set so it
// cannot be collected between mutation and flush (spec.md §3.3
// "Pending-save safety").
func markChanged[T rowcodec.Table](te *typeEntry, id rowcodec.AutoId, model *Model[T]) {
	te.cacheMu.Lock()
	defer te.cacheMu.Unlock()
	te.changed[id] = model
}
