package relation

import (
	"context"
	"sync"

	"github.com/autodb/autodb/internal/manager"
	"github.com/autodb/autodb/internal/reentrant"
	"github.com/autodb/autodb/internal/rowcodec"
)

// ManyRelation holds an ordered, non-unique list of ids with lazily
// fetched items, paginated by initial/limit (spec.md §4.7 glossary
// "ManyRelation", §4.8).
type ManyRelation[T rowcodec.Table] struct {
	mgr  *manager.Manager
	newT func() T
	sem  *reentrant.Semaphore

	mu        sync.Mutex
	owner     rowcodec.Notifiable
	ids       []rowcodec.AutoId
	items     []*manager.Model[T]
	initial   int
	limit     int
	initFetch bool
	hasMore   bool
}

// NewManyRelation constructs a ManyRelation over the given persisted id
// list, with initial/limit page sizes (spec.md §4.8).
func NewManyRelation[T rowcodec.Table](mgr *manager.Manager, newT func() T, ids []rowcodec.AutoId, initial, limit int, initFetch bool) *ManyRelation[T] {
	return &ManyRelation[T]{
		mgr: mgr, newT: newT, sem: reentrant.New(1),
		ids: append([]rowcodec.AutoId(nil), ids...), initial: initial, limit: limit, initFetch: initFetch,
	}
}

func (r *ManyRelation[T]) SetOwner(owner rowcodec.Notifiable) {
	r.mu.Lock()
	r.owner = owner
	r.mu.Unlock()
}

// IDs returns the current persisted order (spec.md §4.7 "Serialized form
// is solely ids").
func (r *ManyRelation[T]) IDs() []rowcodec.AutoId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rowcodec.AutoId(nil), r.ids...)
}

// InitFetch reports whether the relation should populate immediately
// after owner-binding (spec.md §4.8).
func (r *ManyRelation[T]) InitFetch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initFetch
}

// Items returns the currently resolved page.
func (r *ManyRelation[T]) Items() []*manager.Model[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*manager.Model[T](nil), r.items...)
}

// HasMore reports whether another Fetch page remains.
func (r *ManyRelation[T]) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

// FirstFetch implements spec.md §4.8's first_fetch: loads the id prefix
// up to initial.
func (r *ManyRelation[T]) FirstFetch(ctx context.Context) error {
	token := reentrant.NewToken()
	if err := r.sem.Wait(ctx, token); err != nil {
		return err
	}
	defer r.sem.Signal(token)

	r.mu.Lock()
	end := r.initial
	if end > len(r.ids) {
		end = len(r.ids)
	}
	page := append([]rowcodec.AutoId(nil), r.ids[:end]...)
	r.mu.Unlock()

	items, err := fetchOrdered(ctx, r.mgr, r.newT, page)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.items = items
	r.hasMore = len(r.ids) > end
	r.mu.Unlock()
	return nil
}

// Fetch implements spec.md §4.8's fetch(): appends the next page of up to
// limit ids, in id-order.
func (r *ManyRelation[T]) Fetch(ctx context.Context) error {
	token := reentrant.NewToken()
	if err := r.sem.Wait(ctx, token); err != nil {
		return err
	}
	defer r.sem.Signal(token)

	r.mu.Lock()
	start := len(r.items)
	end := start + r.limit
	if end > len(r.ids) {
		end = len(r.ids)
	}
	page := append([]rowcodec.AutoId(nil), r.ids[start:end]...)
	r.mu.Unlock()

	items, err := fetchOrdered(ctx, r.mgr, r.newT, page)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.items = append(r.items, items...)
	r.hasMore = len(page) == r.limit
	r.mu.Unlock()
	return nil
}

func fetchOrdered[T rowcodec.Table](ctx context.Context, mgr *manager.Manager, newT func() T, ids []rowcodec.AutoId) ([]*manager.Model[T], error) {
	if len(ids) == 0 {
		return nil, nil
	}
	models, err := manager.FetchIDs(ctx, mgr, newT, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[rowcodec.AutoId]*manager.Model[T], len(models))
	for _, m := range models {
		byID[m.ID()] = m
	}
	out := make([]*manager.Model[T], 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// mutate runs fn under the per-instance semaphore and under the internal
// mutex, then notifies the owner (spec.md §4.8 "Mutating operations...
// are serialized and notify the owner").
func (r *ManyRelation[T]) mutate(ctx context.Context, fn func()) error {
	token := reentrant.NewToken()
	if err := r.sem.Wait(ctx, token); err != nil {
		return err
	}
	r.mu.Lock()
	fn()
	owner := r.owner
	r.mu.Unlock()
	r.sem.Signal(token)
	notify(owner)
	return nil
}

// Set replaces the entire id list and resolved page with models, in
// order (spec.md §4.8 mutating operations).
func (r *ManyRelation[T]) Set(ctx context.Context, models []*manager.Model[T]) error {
	return r.mutate(ctx, func() {
		ids := make([]rowcodec.AutoId, 0, len(models))
		items := make([]*manager.Model[T], 0, len(models))
		for _, m := range models {
			ids = append(ids, m.ID())
			items = append(items, m)
		}
		r.ids = ids
		r.items = items
	})
}

// Append adds model to the end of the ordered list (spec.md §4.8).
func (r *ManyRelation[T]) Append(ctx context.Context, model *manager.Model[T]) error {
	return r.mutate(ctx, func() {
		r.ids = append(r.ids, model.ID())
		if len(r.items) == len(r.ids)-1 {
			r.items = append(r.items, model)
		}
	})
}

// Insert places model at index idx of the ordered id list (spec.md
// §4.8).
func (r *ManyRelation[T]) Insert(ctx context.Context, idx int, model *manager.Model[T]) error {
	return r.mutate(ctx, func() {
		if idx < 0 {
			idx = 0
		}
		if idx > len(r.ids) {
			idx = len(r.ids)
		}
		r.ids = append(r.ids[:idx:idx], append([]rowcodec.AutoId{model.ID()}, r.ids[idx:]...)...)
		if idx <= len(r.items) {
			r.items = append(r.items[:idx:idx], append([]*manager.Model[T]{model}, r.items[idx:]...)...)
		}
	})
}

// Remove drops model's id from the ordered list (spec.md §4.8).
func (r *ManyRelation[T]) Remove(ctx context.Context, model *manager.Model[T]) error {
	return r.RemoveIDs(ctx, []rowcodec.AutoId{model.ID()})
}

// RemoveIDs drops every id in ids from the ordered list and any resolved
// items for them (spec.md §4.8).
func (r *ManyRelation[T]) RemoveIDs(ctx context.Context, ids []rowcodec.AutoId) error {
	return r.mutate(ctx, func() {
		drop := make(map[rowcodec.AutoId]bool, len(ids))
		for _, id := range ids {
			drop[id] = true
		}
		r.ids = filterIDs(r.ids, drop)
		r.items = filterItems(r.items, drop)
	})
}

// Move relocates the id currently at from to index to, preserving the
// corresponding resolved item if present (spec.md §4.8).
func (r *ManyRelation[T]) Move(ctx context.Context, from, to int) error {
	return r.mutate(ctx, func() {
		if from < 0 || from >= len(r.ids) || to < 0 || to >= len(r.ids) || from == to {
			return
		}
		id := r.ids[from]
		r.ids = append(r.ids[:from], r.ids[from+1:]...)
		r.ids = append(r.ids[:to:to], append([]rowcodec.AutoId{id}, r.ids[to:]...)...)

		if from < len(r.items) && to < len(r.items) {
			item := r.items[from]
			r.items = append(r.items[:from], r.items[from+1:]...)
			r.items = append(r.items[:to:to], append([]*manager.Model[T]{item}, r.items[to:]...)...)
		}
	})
}

func filterIDs(ids []rowcodec.AutoId, drop map[rowcodec.AutoId]bool) []rowcodec.AutoId {
	out := ids[:0:0]
	for _, id := range ids {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

func filterItems[T rowcodec.Table](items []*manager.Model[T], drop map[rowcodec.AutoId]bool) []*manager.Model[T] {
	out := items[:0:0]
	for _, m := range items {
		if !drop[m.ID()] {
			out = append(out, m)
		}
	}
	return out
}
