package relation

import (
	"context"
	"testing"

	"github.com/autodb/autodb/internal/manager"
	"github.com/autodb/autodb/internal/rowcodec"
	"github.com/autodb/autodb/pkg/config"
)

type fixtureTrack struct {
	id   rowcodec.AutoId
	Name string
}

func newFixtureTrack() *fixtureTrack { return &fixtureTrack{} }

func (t *fixtureTrack) TableName() string          { return "r_tracks" }
func (t *fixtureTrack) RowID() rowcodec.AutoId      { return t.id }
func (t *fixtureTrack) SetRowID(id rowcodec.AutoId) { t.id = id }
func (t *fixtureTrack) Fields() map[string]any      { return map[string]any{"Name": t.Name} }
func (t *fixtureTrack) SetFields(m map[string]any) {
	if v, ok := m["Name"].(string); ok {
		t.Name = v
	}
}
func (t *fixtureTrack) Indexes() []rowcodec.IndexDescriptor       { return nil }
func (t *fixtureTrack) UniqueIndexes() []rowcodec.IndexDescriptor { return nil }
func (t *fixtureTrack) SettingsKey() string                      { return "memory" }

type fixtureOwner struct{ changed int }

func (o *fixtureOwner) DidChange() { o.changed++ }

func seedTrack(t *testing.T, mgr *manager.Manager, name string) *manager.Model[*fixtureTrack] {
	t.Helper()
	ctx := context.Background()
	m, err := manager.Create(ctx, mgr, newFixtureTrack, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v := m.Value()
	v.Name = name
	m.SetValue(v)
	if err := manager.SaveList(ctx, mgr, []*manager.Model[*fixtureTrack]{m}); err != nil {
		t.Fatalf("SaveList: %v", err)
	}
	return m
}

func TestOneRelationFetchAndSetObject(t *testing.T) {
	ctx := context.Background()
	mgr := manager.New(config.DefaultConfig())
	track := seedTrack(t, mgr, "Acknowledgement")

	owner := &fixtureOwner{}
	rel := NewOneRelation(mgr, newFixtureTrack)
	rel.SetOwner(owner)

	if _, err := rel.Fetch(ctx); err == nil {
		t.Fatal("expected missing_id error before SetObject")
	}

	rel.SetObject(track)
	if owner.changed != 1 {
		t.Fatalf("changed = %d, want 1", owner.changed)
	}

	fetched, err := rel.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fetched != track {
		t.Fatal("Fetch should return the same cached model set via SetObject")
	}
}

func TestManyRelationPaginationAndMutation(t *testing.T) {
	ctx := context.Background()
	mgr := manager.New(config.DefaultConfig())

	var ids []rowcodec.AutoId
	for i := 0; i < 5; i++ {
		track := seedTrack(t, mgr, "t")
		ids = append(ids, track.ID())
	}

	rel := NewManyRelation(mgr, newFixtureTrack, ids, 2, 2, false)
	if err := rel.FirstFetch(ctx); err != nil {
		t.Fatalf("FirstFetch: %v", err)
	}
	if len(rel.Items()) != 2 || !rel.HasMore() {
		t.Fatalf("after FirstFetch: items=%d hasMore=%v", len(rel.Items()), rel.HasMore())
	}

	if err := rel.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rel.Items()) != 4 || !rel.HasMore() {
		t.Fatalf("after Fetch: items=%d hasMore=%v", len(rel.Items()), rel.HasMore())
	}

	if err := rel.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rel.Items()) != 5 || rel.HasMore() {
		t.Fatalf("after final Fetch: items=%d hasMore=%v", len(rel.Items()), rel.HasMore())
	}

	owner := &fixtureOwner{}
	rel.SetOwner(owner)
	if err := rel.RemoveIDs(ctx, []rowcodec.AutoId{ids[0]}); err != nil {
		t.Fatalf("RemoveIDs: %v", err)
	}
	if owner.changed != 1 {
		t.Fatalf("changed = %d, want 1", owner.changed)
	}
	if len(rel.IDs()) != 4 {
		t.Fatalf("IDs len = %d, want 4", len(rel.IDs()))
	}
}

func TestRelationQueryFetchItemsAndMore(t *testing.T) {
	ctx := context.Background()
	mgr := manager.New(config.DefaultConfig())
	for i := 0; i < 5; i++ {
		seedTrack(t, mgr, "q")
	}

	rq := NewRelationQuery(mgr, newFixtureTrack, "", nil, 2, 2)
	owner := &fixtureOwner{}
	if err := rq.SetOwner(ctx, owner, true); err != nil {
		t.Fatalf("SetOwner: %v", err)
	}
	defer rq.Stop()

	if len(rq.Items()) != 2 || !rq.HasMore() {
		t.Fatalf("after initial fetch: items=%d hasMore=%v", len(rq.Items()), rq.HasMore())
	}

	if err := rq.FetchMore(ctx); err != nil {
		t.Fatalf("FetchMore: %v", err)
	}
	if len(rq.Items()) != 4 {
		t.Fatalf("after FetchMore: items=%d", len(rq.Items()))
	}
}
