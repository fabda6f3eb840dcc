package fts

import (
	"context"
	"testing"

	"github.com/autodb/autodb/internal/manager"
	"github.com/autodb/autodb/internal/rowcodec"
	"github.com/autodb/autodb/pkg/config"
)

type fixturePost struct {
	id   rowcodec.AutoId
	Text string
}

func newFixturePost() *fixturePost { return &fixturePost{} }

func (p *fixturePost) TableName() string           { return "posts" }
func (p *fixturePost) RowID() rowcodec.AutoId       { return p.id }
func (p *fixturePost) SetRowID(id rowcodec.AutoId)  { p.id = id }
func (p *fixturePost) Fields() map[string]any       { return map[string]any{"Text": p.Text} }
func (p *fixturePost) SetFields(m map[string]any) {
	if v, ok := m["Text"].(string); ok {
		p.Text = v
	}
}
func (p *fixturePost) Indexes() []rowcodec.IndexDescriptor       { return nil }
func (p *fixturePost) UniqueIndexes() []rowcodec.IndexDescriptor { return nil }
func (p *fixturePost) SettingsKey() string                       { return "memory" }

func TestNormalizePreservesNordicVowelsFoldsOthers(t *testing.T) {
	if got := Normalize("fiancé"); got != "fiance" {
		t.Errorf("Normalize(fiancé) = %q, want fiance", got)
	}
	if got := Normalize("Öl"); got == "Ol" {
		t.Errorf("Normalize(Öl) folded the Nordic vowel: %q", got)
	}
	if got := Normalize("Öl"); got != "Öl" {
		t.Errorf("Normalize(Öl) = %q, want Öl unchanged", got)
	}
}

func TestSearchFindsMatchingPost(t *testing.T) {
	ctx := context.Background()
	mgr := manager.New(config.DefaultConfig())

	for _, text := range []string{"once upon a time", "a different story", "once more unto the breach"} {
		m, err := manager.Create(ctx, mgr, newFixturePost, 0)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		v := m.Value()
		v.Text = text
		m.SetValue(v)
		if err := manager.SaveList(ctx, mgr, []*manager.Model[*fixturePost]{m}); err != nil {
			t.Fatalf("SaveList: %v", err)
		}
	}

	col := NewColumn(mgr, newFixturePost, "Text", 0, nil)
	results, err := col.Search(ctx, "once", 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
}
