package migrate

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/autodb/autodb/internal/rowcodec"
	"github.com/autodb/autodb/internal/schema"
)

type migTable struct {
	id      rowcodec.AutoId
	Plain   string
	ToInt   int64
}

func (m *migTable) TableName() string           { return "Mig" }
func (m *migTable) RowID() rowcodec.AutoId       { return m.id }
func (m *migTable) SetRowID(id rowcodec.AutoId)  { m.id = id }
func (m *migTable) Fields() map[string]any {
	return map[string]any{"Plain": m.Plain, "ToInt": m.ToInt}
}
func (m *migTable) SetFields(f map[string]any) {
	if v, ok := f["Plain"].(string); ok {
		m.Plain = v
	}
	if v, ok := f["ToInt"].(int64); ok {
		m.ToInt = v
	}
}
func (m *migTable) Indexes() []rowcodec.IndexDescriptor       { return nil }
func (m *migTable) UniqueIndexes() []rowcodec.IndexDescriptor { return nil }
func (m *migTable) SettingsKey() string                       { return "regular" }

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPlanCreatesFreshTable(t *testing.T) {
	db := openTestDB(t)
	info := schema.Reflect(&migTable{})

	states, err := Plan(context.Background(), db, info, nil, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(states) == 0 {
		t.Fatal("expected at least one migration state")
	}
	if _, ok := states[0].(CreatedTable); !ok {
		t.Fatalf("states[0] = %T, want CreatedTable", states[0])
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('Mig')").Scan(&count); err != nil {
		t.Fatalf("count columns: %v", err)
	}
	if count != 3 { // id, Plain, ToInt
		t.Errorf("column count = %d, want 3", count)
	}
}

func TestPlanRebuildsOnTypeChangeWithUserMigration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE `Mig` (id INTEGER NOT NULL, plain_old TEXT, toInt TEXT, PRIMARY KEY (id))"); err != nil {
		t.Fatalf("seed table: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO `Mig` (id, plain_old, toInt) VALUES (1, 'some test value', 'no number')"); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	info := schema.Reflect(&migTable{})
	aliases := map[string]string{"plain_old": "Plain"}

	var sawChanges bool
	userMigration := func(ctx context.Context, conn Conn, state Changes) error {
		sawChanges = true
		var toIntText string
		rows, err := conn.QueryContext(ctx, "SELECT toInt FROM `"+state.OldTable+"` WHERE id = 1")
		if err != nil {
			return err
		}
		defer rows.Close()
		if rows.Next() {
			rows.Scan(&toIntText)
		}
		converted := int64(67) // fallback for non-numeric legacy value
		_, err = conn.ExecContext(ctx, "UPDATE `Mig` SET toInt = ? WHERE id = 1", converted)
		return err
	}

	states, err := Plan(ctx, db, info, aliases, userMigration)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !sawChanges {
		t.Fatal("user migration callback never ran")
	}
	foundChanges := false
	for _, s := range states {
		if c, ok := s.(Changes); ok {
			foundChanges = true
			if c.OldTable == "" {
				t.Error("Changes.OldTable should be set")
			}
		}
	}
	if !foundChanges {
		t.Fatal("expected a Changes migration state")
	}

	var plain string
	var toInt int64
	if err := db.QueryRow("SELECT Plain, toInt FROM `Mig` WHERE id = 1").Scan(&plain, &toInt); err != nil {
		t.Fatalf("query migrated row: %v", err)
	}
	if plain != "some test value" {
		t.Errorf("Plain = %q, want %q", plain, "some test value")
	}
	if toInt != 67 {
		t.Errorf("ToInt = %d, want 67", toInt)
	}
}

func TestPlanAddsNewColumn(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE `Mig` (id INTEGER NOT NULL, `Plain` TEXT NOT NULL DEFAULT '', PRIMARY KEY (id))"); err != nil {
		t.Fatalf("seed table: %v", err)
	}

	info := schema.Reflect(&migTable{})
	states, err := Plan(ctx, db, info, nil, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	var sawNewColumn bool
	for _, s := range states {
		if nc, ok := s.(NewColumn); ok && nc.Column.Name == "ToInt" {
			sawNewColumn = true
		}
	}
	if !sawNewColumn {
		t.Fatalf("expected NewColumn(ToInt), got %#v", states)
	}
}
