// Package dbactor implements the single-writer database actor of
// spec.md §4.1 (C1): it owns one SQLite connection, serializes all access
// to it through a re-entrant semaphore, caches prepared statements, fans
// out row-update-hook events to debounced observers, and runs
// SAVEPOINT-based nested transactions.
package dbactor

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/autodb/autodb/internal/dberrors"
	"github.com/autodb/autodb/internal/observe"
	"github.com/autodb/autodb/internal/reentrant"
	"github.com/autodb/autodb/internal/rowcodec"
)

// Options configures an Actor; the zero value is not usable, use
// DefaultOptions() as a base (spec.md §4.1 defaults).
type Options struct {
	BusyTimeout       time.Duration
	BusyRetryAttempts int
	BusyRetrySleep    time.Duration
	RowChangeDebounce time.Duration
	StmtCacheMax      int
	WatchdogWait      time.Duration // 0 disables
}

// DefaultOptions mirrors pkg/config.EngineConfig's defaults so the actor
// is directly usable in tests without wiring a full Config.
func DefaultOptions() Options {
	return Options{
		BusyTimeout:       80 * time.Millisecond,
		BusyRetryAttempts: 900,
		BusyRetrySleep:    10 * time.Microsecond,
		RowChangeDebounce: 9 * time.Microsecond,
		StmtCacheMax:      100,
	}
}

var driverSeq atomic.Int64

// Actor owns exactly one *sql.DB restricted to a single connection, per
// spec.md §3.4/§4.1's "a database is opened once per settings key".
type Actor struct {
	opts Options

	mu         sync.Mutex
	db         *sql.DB
	dsn        string
	driverName string
	closed     bool

	stmtMu sync.Mutex
	stmts  map[string]*sql.Stmt

	txSem *reentrant.Semaphore

	hooks      *hookRegistry
	changeCount atomic.Int64
}

// New constructs an Actor for dsn without opening it; call Open.
func New(dsn string, opts Options) *Actor {
	id := driverSeq.Add(1)
	a := &Actor{
		opts:       opts,
		dsn:        dsn,
		driverName: fmt.Sprintf("sqlite3-autodb-%d", id),
		stmts:      make(map[string]*sql.Stmt),
		txSem:      reentrant.New(1),
		hooks:      newHookRegistry(),
	}
	sql.Register(a.driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			conn.RegisterUpdateHook(a.onUpdate)
			return nil
		},
	})
	return a
}

// Open opens (or reopens, after Close) the underlying connection and
// re-registers the update hook (spec.md §3.4).
func (a *Actor) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return nil
	}
	db, err := sql.Open(a.driverName, a.dsn)
	if err != nil {
		return fmt.Errorf("dbactor: %w: %v", dberrors.ErrOpenFailed, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("dbactor: %w: %v", dberrors.ErrOpenFailed, err)
	}
	a.db = db
	a.closed = false
	return nil
}

// SwitchFile closes the current connection (if any) and reopens against a
// new DSN, reusing the same driver registration and update hook.
func (a *Actor) SwitchFile(dsn string) error {
	if err := a.Close(0); err != nil {
		return err
	}
	a.mu.Lock()
	a.dsn = dsn
	a.mu.Unlock()
	return a.Open()
}

// Close implements spec.md §4.1's gentle/harsh close: gentle acquires the
// transaction lock and marks the actor closed; if waitSec elapses first, a
// harsh path calls sqlite3's interrupt primitive to unstick any in-flight
// statement. waitSec == 0 skips the harsh timer (useful for reopening).
func (a *Actor) Close(waitSec float64) error {
	a.mu.Lock()
	db := a.db
	if db == nil || a.closed {
		a.closed = true
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	gentle := make(chan struct{})
	go func() {
		ctx := context.Background()
		token := reentrant.NewToken()
		_ = a.txSem.Wait(ctx, token)
		defer a.txSem.Signal(token)
		close(gentle)
	}()

	if waitSec > 0 {
		select {
		case <-gentle:
		case <-time.After(time.Duration(waitSec * float64(time.Second))):
			a.interrupt()
			<-gentle
		}
	} else {
		<-gentle
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearStmtsLocked()
	err := a.db.Close()
	a.db = nil
	a.closed = true
	if err != nil {
		return fmt.Errorf("dbactor: close: %w", err)
	}
	return nil
}

func (a *Actor) interrupt() {
	a.mu.Lock()
	db := a.db
	a.mu.Unlock()
	if db == nil {
		return
	}
	conn, err := db.Conn(context.Background())
	if err != nil {
		return
	}
	defer conn.Close()
	conn.Raw(func(driverConn any) error {
		if c, ok := driverConn.(*sqlite3.SQLiteConn); ok {
			c.Interrupt()
		}
		return nil
	})
}

// ChangeCount reports the running total of rows touched across the
// actor's lifetime (insert+update+delete), per spec.md §4.1.
func (a *Actor) ChangeCount() int64 { return a.changeCount.Load() }

func (a *Actor) checkOpen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil || a.closed {
		return dberrors.ErrDatabaseClosed
	}
	return nil
}

// RowChangeObserver returns a subscription to table's debounced
// row-change events (spec.md §4.1, §6).
func (a *Actor) RowChangeObserver(table string) *observe.Subscription[RowChangeEvent] {
	return a.hooks.rowObserver(table).Subscribe()
}

// TableChangeObserver returns a subscription to table's per-op events,
// delivered at least once per distinct op per debounce window.
func (a *Actor) TableChangeObserver(table string) *observe.Subscription[Op] {
	return a.hooks.tableObserver(table).Subscribe()
}

// Row represents one decoded result row keyed by column name, returned by
// Query (spec.md §3.1's Row, built from the driver's column names).
type Row = rowcodec.Row

// RawDB exposes the underlying *sql.DB for schema introspection and DDL
// during setup (migrate.Plan's PRAGMA reads need *sql.Rows directly,
// which the decoded Query/Execute surface does not expose). Safe to use
// only from inside a Transaction's action, where the re-entrant semaphore
// already serializes access and MaxOpenConns(1) guarantees there is
// exactly one physical connection behind it.
func (a *Actor) RawDB() *sql.DB {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db
}
