// Package manager implements the identity manager (spec.md §4.7, C8): the
// process-wide coordinator of per-type weak caches, changed/created/deleted
// bookkeeping, and debounced save scheduling.
//
// Go has no per-method type parameters, so the manager itself is a plain
// (non-generic) type; the generic operations in ops.go are free functions
// taking *Manager explicitly, in the same spirit as the standard library's
// slices/maps packages.
package manager

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/autodb/autodb/internal/dbactor"
	"github.com/autodb/autodb/internal/logging"
	"github.com/autodb/autodb/internal/migrate"
	"github.com/autodb/autodb/internal/reentrant"
	"github.com/autodb/autodb/internal/rowcodec"
	"github.com/autodb/autodb/internal/schema"
	"github.com/autodb/autodb/pkg/config"
)

// Manager is the spec.md §4.7/§9 identity manager: "a process-wide
// singleton actor. Treat it as an injectable service owned by application
// bootstrap so tests can run isolated instances."
type Manager struct {
	cfg *config.Config
	log *logging.Logger

	mu    sync.Mutex
	types map[reflect.Type]*typeEntry

	actorsMu sync.Mutex
	actors   map[string]*dbactor.Actor // settings key -> shared actor

	setupGate *reentrant.Semaphore

	deleteLaterMu    sync.Mutex
	deleteLaterTimer *time.Timer
}

// typeEntry is the per-type state the manager threads through every
// operation (spec.md §4.7 "State").
type typeEntry struct {
	info  schema.TableInfo
	actor *dbactor.Actor

	cacheMu     sync.Mutex
	cache       map[rowcodec.AutoId]any // boxed weak.Pointer[Model[T]]
	created     map[rowcodec.AutoId]bool
	changed     map[rowcodec.AutoId]any // boxed *Model[T], strong ref
	deleted     map[rowcodec.AutoId]bool
	deleteLater map[rowcodec.AutoId]bool

	saveLaterMu    sync.Mutex
	saveLaterTimer *time.Timer

	// saveAllFn closes over this type's concrete T so SaveAllChanges can
	// flush every registered type without itself being generic.
	saveAllFn func(context.Context) error
}

func newTypeEntry(info schema.TableInfo, actor *dbactor.Actor) *typeEntry {
	return &typeEntry{
		info:        info,
		actor:       actor,
		cache:       make(map[rowcodec.AutoId]any),
		created:     make(map[rowcodec.AutoId]bool),
		changed:     make(map[rowcodec.AutoId]any),
		deleted:     make(map[rowcodec.AutoId]bool),
		deleteLater: make(map[rowcodec.AutoId]bool),
	}
}

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// Default returns the lazily-constructed process-wide Manager singleton,
// per spec.md §9's production default.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultMgr = New(config.DefaultConfig())
	})
	return defaultMgr
}

// New constructs an independent Manager, for tests or multi-tenant
// embedding (spec.md §9).
func New(cfg *config.Config) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       logging.GetLogger("manager"),
		types:     make(map[reflect.Type]*typeEntry),
		actors:    make(map[string]*dbactor.Actor),
		setupGate: reentrant.New(1),
	}
}

// RegisteredTables snapshots the schema of every type set up so far, for
// the inspection REST surface (internal/api).
func (m *Manager) RegisteredTables() []schema.TableInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.TableInfo, 0, len(m.types))
	for _, te := range m.types {
		out = append(out, te.info)
	}
	return out
}

// ActorForTable looks up the actor and schema for an already-registered
// table by name, for the generic read-only row inspection endpoint
// (internal/api). Returns ok=false if no type with that table name has
// been set up yet.
func (m *Manager) ActorForTable(name string) (*dbactor.Actor, schema.TableInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, te := range m.types {
		if te.info.Name == name {
			return te.actor, te.info, true
		}
	}
	return nil, schema.TableInfo{}, false
}

// actorFor resolves settingsKey to a shared *dbactor.Actor, opening it on
// first use (spec.md §4.7 "shared_dbs", §6 "Settings").
func (m *Manager) actorFor(settingsKey string) (*dbactor.Actor, error) {
	m.actorsMu.Lock()
	defer m.actorsMu.Unlock()

	if a, ok := m.actors[settingsKey]; ok {
		return a, nil
	}

	rp, err := m.cfg.Resolve(config.SettingsKey(settingsKey))
	if err != nil {
		return nil, fmt.Errorf("manager: resolve settings key %q: %w", settingsKey, err)
	}
	if !rp.InMemory {
		if err := m.cfg.EnsureDirs(); err != nil {
			return nil, fmt.Errorf("manager: ensure dirs: %w", err)
		}
		if err := m.cfg.ExcludeFromBackup(rp); err != nil {
			m.log.Warn("failed to mark database excluded from backup", "path", rp.Path, "error", err)
		}
	}

	opts := dbactor.Options{
		BusyTimeout:       m.cfg.Engine.BusyTimeout,
		BusyRetryAttempts: m.cfg.Engine.BusyRetryAttempts,
		BusyRetrySleep:    m.cfg.Engine.BusyRetrySleep,
		RowChangeDebounce: m.cfg.Engine.RowChangeDebounce,
		StmtCacheMax:      m.cfg.Engine.PreparedStmtCacheMax,
		WatchdogWait:      m.cfg.Engine.WatchdogWait,
	}
	actor := dbactor.New(m.cfg.DSN(rp), opts)
	if err := actor.Open(); err != nil {
		return nil, err
	}
	m.actors[settingsKey] = actor
	return actor, nil
}

// setupDB implements spec.md §4.7's setup_db(T): serialized behind the
// setup-semaphore, idempotent per type, releasing the semaphore before
// running the migration transaction so other types sharing the same
// actor can start their own setup concurrently.
func setupDB[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T) (*typeEntry, error) {
	sample := newT()
	rt := reflect.TypeOf(sample)

	m.mu.Lock()
	if te, ok := m.types[rt]; ok {
		m.mu.Unlock()
		return te, nil
	}
	m.mu.Unlock()

	token := reentrant.NewToken()
	if err := m.setupGate.Wait(ctx, token); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if te, ok := m.types[rt]; ok {
		m.mu.Unlock()
		m.setupGate.Signal(token)
		return te, nil
	}
	m.mu.Unlock()

	info := schema.Reflect(sample)
	actor, err := m.actorFor(info.SettingsKey)
	if err != nil {
		m.setupGate.Signal(token)
		return nil, err
	}

	var aliases map[string]string
	if al, ok := any(sample).(rowcodec.Aliasable); ok {
		aliases = al.FieldAliases()
	}

	// Release the setup-gate before the migration transaction so other
	// tables sharing this actor's file may begin their own setup
	// concurrently; the transaction semaphore on the shared actor still
	// forces them to wait for the file itself (spec.md §4.7).
	m.setupGate.Signal(token)

	_, err = dbactor.Transaction(ctx, actor, func(ctx context.Context, tok reentrant.Token) (struct{}, error) {
		_, err := migrate.Plan(ctx, actor.RawDB(), info, aliases, nil)
		return struct{}{}, err
	})
	if err != nil {
		return nil, fmt.Errorf("manager: setup %q: %w", info.Name, err)
	}

	te := newTypeEntry(info, actor)
	te.saveAllFn = func(ctx context.Context) error { return SaveChanges(ctx, m, newT) }
	m.mu.Lock()
	m.types[rt] = te
	m.mu.Unlock()
	m.log.Info("table ready", "table", info.Name, "settings_key", info.SettingsKey)
	return te, nil
}
