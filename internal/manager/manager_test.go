package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/autodb/autodb/internal/dberrors"
	"github.com/autodb/autodb/internal/rowcodec"
	"github.com/autodb/autodb/pkg/config"
)

type fixtureArtist struct {
	id   rowcodec.AutoId
	Name string
}

func newFixtureArtist() *fixtureArtist { return &fixtureArtist{} }

func (a *fixtureArtist) TableName() string           { return "m_artists" }
func (a *fixtureArtist) RowID() rowcodec.AutoId       { return a.id }
func (a *fixtureArtist) SetRowID(id rowcodec.AutoId)  { a.id = id }
func (a *fixtureArtist) Fields() map[string]any       { return map[string]any{"Name": a.Name} }
func (a *fixtureArtist) SetFields(m map[string]any) {
	if v, ok := m["Name"].(string); ok {
		a.Name = v
	}
}
func (a *fixtureArtist) Indexes() []rowcodec.IndexDescriptor { return nil }
func (a *fixtureArtist) UniqueIndexes() []rowcodec.IndexDescriptor {
	return []rowcodec.IndexDescriptor{{Unique: true, Columns: []string{"Name"}}}
}
func (a *fixtureArtist) SettingsKey() string { return "memory" }

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(config.DefaultConfig())
}

func TestCreateFetchIdentity(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	created, err := Create(ctx, m, newFixtureArtist, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v := created.Value()
	v.Name = "Coltrane"
	created.SetValue(v)
	markChanged(mustTypeEntry(t, m, created.Value()), created.ID(), created)

	if err := SaveChanges(ctx, m, newFixtureArtist); err != nil {
		t.Fatalf("SaveChanges: %v", err)
	}

	fetched, err := FetchID(ctx, m, newFixtureArtist, created.ID())
	if err != nil {
		t.Fatalf("FetchID: %v", err)
	}
	if fetched != created {
		t.Fatal("FetchID should return the same cache-resident *Model as Create")
	}
	if fetched.Value().Name != "Coltrane" {
		t.Fatalf("Name = %q", fetched.Value().Name)
	}

	byQuery, err := FetchQuery(ctx, m, newFixtureArtist, "`Name` = ?", "Coltrane")
	if err != nil {
		t.Fatalf("FetchQuery: %v", err)
	}
	if len(byQuery) != 1 || byQuery[0] != created {
		t.Fatalf("FetchQuery returned %d results, want the same cached model", len(byQuery))
	}
}

func mustTypeEntry(t *testing.T, m *Manager, sample *fixtureArtist) *typeEntry {
	t.Helper()
	te, err := typeEntryFor(m, sample)
	if err != nil {
		t.Fatalf("typeEntryFor: %v", err)
	}
	return te
}

// TestCreateWithExistingIDFetchesFromStorage covers spec.md §3.4's "if id
// is provided and present in storage, it is fetched": a Create call with
// an id already persisted (but not cache-resident, e.g. a cold process)
// must return the stored row instead of a blank entity marked created,
// which would otherwise route to insertBatch and fail with a primary-key
// conflict on save.
func TestCreateWithExistingIDFetchesFromStorage(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	original, err := Create(ctx, m, newFixtureArtist, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v := original.Value()
	v.Name = "Mingus"
	original.SetValue(v)
	if err := SaveList(ctx, m, []*Model[*fixtureArtist]{original}); err != nil {
		t.Fatalf("SaveList: %v", err)
	}
	id := original.ID()

	// Evict the cache-resident model to force Create down the storage path.
	te := mustTypeEntry(t, m, original.Value())
	te.cacheMu.Lock()
	delete(te.cache, id)
	te.cacheMu.Unlock()

	refetched, err := Create(ctx, m, newFixtureArtist, id)
	if err != nil {
		t.Fatalf("Create with existing id: %v", err)
	}
	if refetched.Value().Name != "Mingus" {
		t.Fatalf("Name = %q, want the persisted row's value", refetched.Value().Name)
	}
	if te.isCreated(id) {
		t.Fatal("Create on an already-persisted id must not mark it created")
	}

	// A SaveList must upsert, not insert, since this id already has a row.
	v2 := refetched.Value()
	v2.Name = "Mingus Ah Um"
	refetched.SetValue(v2)
	if err := SaveList(ctx, m, []*Model[*fixtureArtist]{refetched}); err != nil {
		t.Fatalf("SaveList after re-fetch: %v", err)
	}
}

func TestUniqueConstraintConflictCarriesIDs(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	first, err := Create(ctx, m, newFixtureArtist, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v := first.Value()
	v.Name = "Monk"
	first.SetValue(v)
	if err := SaveList(ctx, m, []*Model[*fixtureArtist]{first}); err != nil {
		t.Fatalf("SaveList first: %v", err)
	}

	second, err := Create(ctx, m, newFixtureArtist, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v2 := second.Value()
	v2.Name = "Monk"
	second.SetValue(v2)

	err = SaveList(ctx, m, []*Model[*fixtureArtist]{second})
	if err == nil {
		t.Fatal("expected a unique constraint error")
	}
	var uce *dberrors.UniqueConstraintError
	if !errors.As(err, &uce) {
		t.Fatalf("err = %v, want *UniqueConstraintError", err)
	}
	if len(uce.IDs) != 1 || uce.IDs[0] != first.ID() {
		t.Fatalf("IDs = %v, want [%d]", uce.IDs, first.ID())
	}
}

func TestDeleteRemovesFromFetch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	created, err := Create(ctx, m, newFixtureArtist, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v := created.Value()
	v.Name = "Davis"
	created.SetValue(v)
	if err := SaveList(ctx, m, []*Model[*fixtureArtist]{created}); err != nil {
		t.Fatalf("SaveList: %v", err)
	}

	if err := Delete(ctx, m, newFixtureArtist, []rowcodec.AutoId{created.ID()}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := FetchID(ctx, m, newFixtureArtist, created.ID()); !errors.Is(err, dberrors.ErrFetch) {
		t.Fatalf("FetchID after delete err = %v, want ErrFetch", err)
	}
}

func TestFetchIDsDropsMissing(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	a, err := Create(ctx, m, newFixtureArtist, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	av := a.Value()
	av.Name = "Hancock"
	a.SetValue(av)
	if err := SaveList(ctx, m, []*Model[*fixtureArtist]{a}); err != nil {
		t.Fatalf("SaveList: %v", err)
	}

	models, err := FetchIDs(ctx, m, newFixtureArtist, []rowcodec.AutoId{a.ID(), 999999})
	if err != nil {
		t.Fatalf("FetchIDs: %v", err)
	}
	if len(models) != 1 || models[0].ID() != a.ID() {
		t.Fatalf("FetchIDs = %v, want exactly [%d]", models, a.ID())
	}
}

func TestSaveAllChangesFlushesAllTypes(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	a, err := Create(ctx, m, newFixtureArtist, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v := a.Value()
	v.Name = "Shorter"
	a.SetValue(v)
	markChanged(mustTypeEntry(t, m, a.Value()), a.ID(), a)

	if err := SaveAllChanges(ctx, m); err != nil {
		t.Fatalf("SaveAllChanges: %v", err)
	}

	fetched, err := FetchID(ctx, m, newFixtureArtist, a.ID())
	if err != nil {
		t.Fatalf("FetchID: %v", err)
	}
	if fetched.Value().Name != "Shorter" {
		t.Fatalf("Name = %q", fetched.Value().Name)
	}
}
