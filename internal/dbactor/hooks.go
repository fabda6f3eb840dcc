package dbactor

import (
	"sync"
	"time"

	"github.com/autodb/autodb/internal/observe"
	"github.com/autodb/autodb/internal/rowcodec"
)

// Op mirrors the SQLite update-hook opcodes named in spec.md §6.
type Op int

const (
	OpInsert Op = 18
	OpUpdate Op = 23
	OpDelete Op = 9
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RowChangeEvent is what a row-change observer receives: a single op with
// every id debounced into it during the coalescing window (spec.md §4.1).
type RowChangeEvent struct {
	Op  Op
	IDs []rowcodec.AutoId
}

type tableOpKey struct {
	table string
	op    Op
}

// hookRegistry owns the per-table observers and the debounce bookkeeping
// fed by the SQLite update hook.
type hookRegistry struct {
	debounce time.Duration

	mu             sync.Mutex
	rowObservers   map[string]*observe.Observer[RowChangeEvent]
	tableObservers map[string]*observe.Observer[Op]

	pendingMu sync.Mutex
	pending   map[tableOpKey]*pendingBatch
}

type pendingBatch struct {
	ids   []rowcodec.AutoId
	timer *time.Timer
}

func newHookRegistry() *hookRegistry {
	return &hookRegistry{
		rowObservers:   make(map[string]*observe.Observer[RowChangeEvent]),
		tableObservers: make(map[string]*observe.Observer[Op]),
		pending:        make(map[tableOpKey]*pendingBatch),
	}
}

func (h *hookRegistry) rowObserver(table string) *observe.Observer[RowChangeEvent] {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.rowObservers[table]
	if !ok {
		o = observe.New[RowChangeEvent]()
		h.rowObservers[table] = o
	}
	return o
}

func (h *hookRegistry) tableObserver(table string) *observe.Observer[Op] {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.tableObservers[table]
	if !ok {
		o = observe.New[Op]()
		h.tableObservers[table] = o
	}
	return o
}

// onUpdate is registered as the SQLite update hook (spec.md §4.1). It
// fires on the connection's own goroutine during step(), so it must not
// block: debouncing defers the row-observer delivery via a timer, while
// the table observer gets its first occurrence immediately.
func (a *Actor) onUpdate(opCode int, _ string, table string, rowID int64) {
	op := Op(opCode)
	id := rowcodec.AutoId(rowID)
	a.changeCount.Add(1)

	key := tableOpKey{table: table, op: op}
	debounce := a.opts.RowChangeDebounce
	if debounce <= 0 {
		debounce = time.Microsecond
	}

	h := a.hooks
	h.pendingMu.Lock()
	batch, existed := h.pending[key]
	if !existed {
		batch = &pendingBatch{}
		h.pending[key] = batch
		// Table observers receive the first op occurrence immediately
		// (spec.md §4.1); row observers wait for the debounce window.
		tableObs := h.tableObserver(table)
		go tableObs.Append(op)
	}
	batch.ids = append(batch.ids, id)
	if batch.timer != nil {
		batch.timer.Stop()
	}
	batch.timer = time.AfterFunc(debounce, func() {
		h.flush(key)
	})
	h.pendingMu.Unlock()
}

func (h *hookRegistry) flush(key tableOpKey) {
	h.pendingMu.Lock()
	batch, ok := h.pending[key]
	if !ok {
		h.pendingMu.Unlock()
		return
	}
	ids := batch.ids
	delete(h.pending, key)
	h.pendingMu.Unlock()

	h.rowObserver(key.table).Append(RowChangeEvent{Op: key.op, IDs: ids})
	// A second table-observer occurrence after the debounce window, per
	// spec.md §4.1 ("table observers receive the first op occurrence
	// immediately and again after debouncing").
	h.tableObserver(key.table).Append(key.op)
}
