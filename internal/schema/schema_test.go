package schema

import (
	"strings"
	"testing"

	"github.com/autodb/autodb/internal/rowcodec"
)

type fixtureArtist struct {
	id   rowcodec.AutoId
	Name string
	Bio  *string
}

func (a *fixtureArtist) TableName() string       { return "artists" }
func (a *fixtureArtist) RowID() rowcodec.AutoId  { return a.id }
func (a *fixtureArtist) SetRowID(id rowcodec.AutoId) { a.id = id }
func (a *fixtureArtist) Fields() map[string]any {
	return map[string]any{"Name": a.Name, "Bio": a.Bio}
}
func (a *fixtureArtist) SetFields(m map[string]any) {
	if v, ok := m["Name"].(string); ok {
		a.Name = v
	}
}
func (a *fixtureArtist) Indexes() []rowcodec.IndexDescriptor { return nil }
func (a *fixtureArtist) UniqueIndexes() []rowcodec.IndexDescriptor {
	return []rowcodec.IndexDescriptor{{Unique: true, Columns: []string{"Name"}}}
}
func (a *fixtureArtist) SettingsKey() string { return "regular" }

func TestReflectDerivesColumns(t *testing.T) {
	info := Reflect(&fixtureArtist{})
	if info.Name != "artists" {
		t.Fatalf("Name = %q", info.Name)
	}
	var names []string
	for _, c := range info.Columns {
		names = append(names, c.Name)
	}
	if len(names) != 2 || names[0] != "Name" || names[1] != "Bio" {
		t.Fatalf("Columns = %v", names)
	}
	for _, c := range info.Columns {
		if c.Name == "Bio" && !c.Nullable {
			t.Error("Bio should be nullable (pointer field)")
		}
		if c.Name == "Name" && c.Nullable {
			t.Error("Name should not be nullable")
		}
	}
}

func TestReflectMemoizes(t *testing.T) {
	a := Reflect(&fixtureArtist{})
	b := Reflect(&fixtureArtist{})
	// slices backed by the same cached TableInfo share storage
	if &a.Columns[0] != &b.Columns[0] {
		t.Fatal("Reflect did not return the memoized TableInfo")
	}
	if len(a.Columns) != len(b.Columns) {
		t.Fatal("memoized TableInfo diverged")
	}
}

func TestCreateTableDDLIncludesPrimaryKey(t *testing.T) {
	info := Reflect(&fixtureArtist{})
	ddl := CreateTableDDL(info)
	if !strings.Contains(ddl, "PRIMARY KEY (id)") {
		t.Errorf("DDL missing primary key: %s", ddl)
	}
	if !strings.Contains(ddl, "`Name`") {
		t.Errorf("DDL missing Name column: %s", ddl)
	}
}

func TestQuestionMarks(t *testing.T) {
	if QuestionMarks(0) != "''" {
		t.Errorf("QuestionMarks(0) = %q, want ''", QuestionMarks(0))
	}
	if QuestionMarks(3) != "?,?,?" {
		t.Errorf("QuestionMarks(3) = %q", QuestionMarks(3))
	}
}
