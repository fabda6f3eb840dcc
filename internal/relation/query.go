package relation

import (
	"context"
	"fmt"
	"sync"

	"github.com/autodb/autodb/internal/dbactor"
	"github.com/autodb/autodb/internal/manager"
	"github.com/autodb/autodb/internal/observe"
	"github.com/autodb/autodb/internal/reentrant"
	"github.com/autodb/autodb/internal/rowcodec"
)

// RelationQuery is the paginated, auto-refreshing SQL-backed collection
// of spec.md §4.7/§4.8: a raw WHERE-clause template against T's table,
// kept current by subscribing to the table's row-change feed.
type RelationQuery[T rowcodec.Table] struct {
	mgr       *manager.Manager
	newT      func() T
	sem       *reentrant.Semaphore
	whereTmpl string
	args      []any
	initial   int
	limit     int

	mu         sync.Mutex
	owner      rowcodec.Notifiable
	offset     int // -1 means never fetched
	fetchedIDs map[rowcodec.AutoId]bool
	hasMore    bool
	items      []*manager.Model[T]

	cancelWatch context.CancelFunc
}

// NewRelationQuery constructs a RelationQuery. whereClause must not
// include LIMIT/OFFSET; they are appended internally (spec.md §4.7).
func NewRelationQuery[T rowcodec.Table](mgr *manager.Manager, newT func() T, whereClause string, args []any, initial, limit int) *RelationQuery[T] {
	return &RelationQuery[T]{
		mgr: mgr, newT: newT, sem: reentrant.New(1),
		whereTmpl: whereClause, args: args, initial: initial, limit: limit,
		offset: -1, fetchedIDs: make(map[rowcodec.AutoId]bool),
	}
}

// SetOwner binds the owner, starts the change-observer watch loop and, if
// initFetch, performs the initial fetch (spec.md §4.8 "on owner-set,
// subscribes to the target table's change observer").
func (r *RelationQuery[T]) SetOwner(ctx context.Context, owner rowcodec.Notifiable, initFetch bool) error {
	r.mu.Lock()
	r.owner = owner
	r.mu.Unlock()

	watchCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancelWatch = cancel
	r.mu.Unlock()

	sub, err := manager.RowChangeObserver(ctx, r.mgr, r.newT)
	if err != nil {
		cancel()
		return err
	}
	go r.watch(watchCtx, sub)

	if initFetch {
		return r.FetchItems(ctx, true)
	}
	return nil
}

// Stop cancels the background change-observer watch loop.
func (r *RelationQuery[T]) Stop() {
	r.mu.Lock()
	cancel := r.cancelWatch
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *RelationQuery[T]) query(limit, offset int) ([]*manager.Model[T], error) {
	where := r.whereTmpl
	if where != "" {
		where = "(" + where + ")"
	} else {
		where = "1=1"
	}
	sql := fmt.Sprintf("%s ORDER BY id LIMIT ? OFFSET ?", where)
	args := append(append([]any(nil), r.args...), limit, offset)
	return manager.FetchQuery(context.Background(), r.mgr, r.newT, sql, args...)
}

// FetchItems implements spec.md §4.8's fetch_items(reset_offset?).
func (r *RelationQuery[T]) FetchItems(ctx context.Context, resetOffset bool) error {
	token := reentrant.NewToken()
	if err := r.sem.Wait(ctx, token); err != nil {
		return err
	}
	defer r.sem.Signal(token)

	r.mu.Lock()
	needsReset := resetOffset || r.offset == -1
	r.mu.Unlock()
	if !needsReset {
		return nil
	}

	models, err := r.query(r.initial, 0)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.offset = len(models)
	r.hasMore = len(models) == r.initial
	r.items = models
	for _, m := range models {
		r.fetchedIDs[m.ID()] = true
	}
	owner := r.owner
	r.mu.Unlock()
	notify(owner)
	return nil
}

// FetchMore implements spec.md §4.8's fetch_more.
func (r *RelationQuery[T]) FetchMore(ctx context.Context) error {
	token := reentrant.NewToken()
	if err := r.sem.Wait(ctx, token); err != nil {
		return err
	}
	defer r.sem.Signal(token)

	r.mu.Lock()
	offset := r.offset
	r.mu.Unlock()

	models, err := r.query(r.limit, offset)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if len(models) == 0 {
		if len(r.items) == offset {
			r.hasMore = false
		}
		r.mu.Unlock()
		return nil
	}
	shifted := false
	for _, m := range models {
		if r.fetchedIDs[m.ID()] {
			shifted = true
			break
		}
	}
	r.mu.Unlock()

	var finalItems []*manager.Model[T]
	if shifted {
		consistent, err := r.query(offset+len(models), 0)
		if err != nil {
			return err
		}
		finalItems = consistent
	}

	r.mu.Lock()
	if shifted {
		r.items = finalItems
	} else {
		r.items = append(r.items, models...)
	}
	for _, m := range models {
		r.fetchedIDs[m.ID()] = true
	}
	r.offset += len(models)
	r.hasMore = len(models) == r.limit
	owner := r.owner
	r.mu.Unlock()
	notify(owner)
	return nil
}

// Items returns the currently materialized page.
func (r *RelationQuery[T]) Items() []*manager.Model[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*manager.Model[T](nil), r.items...)
}

// HasMore reports whether another FetchMore page remains.
func (r *RelationQuery[T]) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

func (r *RelationQuery[T]) watch(ctx context.Context, sub *observe.Subscription[dbactor.RowChangeEvent]) {
	defer sub.Cancel()
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return
		}
		r.handleChange(ev)
	}
}

func (r *RelationQuery[T]) handleChange(ev dbactor.RowChangeEvent) {
	switch ev.Op {
	case dbactor.OpInsert:
		r.mu.Lock()
		widen := r.offset == 0 || (!r.hasMore && len(r.items) < r.initial)
		r.mu.Unlock()
		if widen {
			_ = r.FetchItems(context.Background(), true)
		}
	case dbactor.OpDelete:
		dropped := make(map[rowcodec.AutoId]bool, len(ev.IDs))
		for _, id := range ev.IDs {
			dropped[id] = true
		}
		r.mu.Lock()
		r.items = filterItems(r.items, dropped)
		for id := range dropped {
			delete(r.fetchedIDs, id)
		}
		owner := r.owner
		r.mu.Unlock()
		notify(owner)
	}
}
