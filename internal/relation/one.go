// Package relation implements the declarative relation primitives of
// spec.md §4.8 (C9): OneRelation, ManyRelation, and RelationQuery, each
// serialized by its own per-instance semaphore and propagating mutations
// to an owning entity via rowcodec.Notifiable.
package relation

import (
	"context"
	"sync"

	"github.com/autodb/autodb/internal/dberrors"
	"github.com/autodb/autodb/internal/manager"
	"github.com/autodb/autodb/internal/reentrant"
	"github.com/autodb/autodb/internal/rowcodec"
)

// OneRelation holds a single optional reference to a T, serialized form
// being solely the referenced id (spec.md §4.7 glossary "OneRelation").
type OneRelation[T rowcodec.Table] struct {
	mgr  *manager.Manager
	newT func() T
	sem  *reentrant.Semaphore

	mu     sync.Mutex
	owner  rowcodec.Notifiable
	id     rowcodec.AutoId
	object *manager.Model[T]
}

// NewOneRelation constructs an unset OneRelation bound to mgr.
func NewOneRelation[T rowcodec.Table](mgr *manager.Manager, newT func() T) *OneRelation[T] {
	return &OneRelation[T]{mgr: mgr, newT: newT, sem: reentrant.New(1)}
}

// SetOwner registers the entity to notify on mutation (spec.md §4.8
// "Owner change propagation").
func (r *OneRelation[T]) SetOwner(owner rowcodec.Notifiable) {
	r.mu.Lock()
	r.owner = owner
	r.mu.Unlock()
}

// ID returns the referenced id, 0 meaning unset.
func (r *OneRelation[T]) ID() rowcodec.AutoId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// SetID restores a decoded id without fetching the object, used when
// rehydrating a relation from storage.
func (r *OneRelation[T]) SetID(id rowcodec.AutoId) {
	r.mu.Lock()
	r.id = id
	r.object = nil
	r.mu.Unlock()
}

// Fetch implements spec.md §4.8's OneRelation.fetch(): serialized by the
// per-instance semaphore; returns dberrors.ErrMissingID if unset, the
// cached object if already resolved, or fetches and caches it.
func (r *OneRelation[T]) Fetch(ctx context.Context) (*manager.Model[T], error) {
	token := reentrant.NewToken()
	if err := r.sem.Wait(ctx, token); err != nil {
		return nil, err
	}
	defer r.sem.Signal(token)

	r.mu.Lock()
	id := r.id
	if r.object != nil {
		obj := r.object
		r.mu.Unlock()
		return obj, nil
	}
	r.mu.Unlock()

	if id == 0 {
		return nil, dberrors.ErrMissingID
	}

	obj, err := manager.FetchID(ctx, r.mgr, r.newT, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.object = obj
	r.mu.Unlock()
	return obj, nil
}

// SetObject implements spec.md §4.8's OneRelation.set_object(t): updates
// both id and the cached object and notifies the owner.
func (r *OneRelation[T]) SetObject(obj *manager.Model[T]) {
	r.mu.Lock()
	r.id = obj.ID()
	r.object = obj
	owner := r.owner
	r.mu.Unlock()
	notify(owner)
}

func notify(owner rowcodec.Notifiable) {
	if owner != nil {
		owner.DidChange()
	}
}

// FetchAllOneRelations implements spec.md §4.8's OneRelation.fetch_all:
// batches the still-unresolved relations in rels (which must all target
// the same T) into a single fetch_ids call.
func FetchAllOneRelations[T rowcodec.Table](ctx context.Context, mgr *manager.Manager, newT func() T, rels []*OneRelation[T]) error {
	var need []rowcodec.AutoId
	for _, r := range rels {
		r.mu.Lock()
		if r.object == nil && r.id != 0 {
			need = append(need, r.id)
		}
		r.mu.Unlock()
	}
	if len(need) == 0 {
		return nil
	}
	models, err := manager.FetchIDs(ctx, mgr, newT, need)
	if err != nil {
		return err
	}
	byID := make(map[rowcodec.AutoId]*manager.Model[T], len(models))
	for _, m := range models {
		byID[m.ID()] = m
	}
	for _, r := range rels {
		r.mu.Lock()
		if r.object == nil && r.id != 0 {
			if m, ok := byID[r.id]; ok {
				r.object = m
			}
		}
		r.mu.Unlock()
	}
	return nil
}
