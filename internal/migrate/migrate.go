// Package migrate implements the migration planner (spec.md §4.5, C6): it
// diffs a schema.TableInfo against the live database schema and emits the
// ordered DDL to reconcile them, inside a transaction owned by the caller.
package migrate

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/autodb/autodb/internal/dberrors"
	"github.com/autodb/autodb/internal/rowcodec"
	"github.com/autodb/autodb/internal/schema"
)

// Conn is the minimal surface migrate needs from whatever is executing
// inside the current transaction (the identity manager passes the
// actor's single-connection *sql.DB from inside a dbactor.Transaction;
// tests pass a plain *sql.DB).
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// MigrationState is one event in the ordered sequence the planner surfaces
// (spec.md §4.5 step 6).
type MigrationState interface {
	migrationState()
}

// CreatedTable reports that the table did not exist and was created fresh.
type CreatedTable struct{ Table string }

func (CreatedTable) migrationState() {}

// NewColumn reports one column added to an existing table.
type NewColumn struct {
	Table  string
	Column rowcodec.Column
}

func (NewColumn) migrationState() {}

// Changes reports a temp-table rebuild: callers may register a
// MigrationFunc to run custom per-column data conversion while OldTable
// (holding the pre-migration data) is still present.
type Changes struct {
	Table    string
	OldTable string
	Columns  []rowcodec.Column
}

func (Changes) migrationState() {}

// FailedIndex reports that one index's creation or drop failed; the
// overall migration continues rather than aborting (spec.md §4.5 step 6).
type FailedIndex struct {
	Index string
	Err   error
}

func (FailedIndex) migrationState() {}

// MigrationFunc is the user-supplied data-migration callback invoked for
// a Changes event, with the chance to read OldTable and write into Table
// inside the same transaction (spec.md §4.5 step 4).
type MigrationFunc func(ctx context.Context, conn Conn, state Changes) error

// Plan runs the full planner algorithm of spec.md §4.5 against info,
// consulting aliases (from a Table's optional Aliasable.FieldAliases) to
// resolve renames instead of treating them as drop+add. userMigration may
// be nil.
func Plan(ctx context.Context, conn Conn, info schema.TableInfo, aliases map[string]string, userMigration MigrationFunc) ([]MigrationState, error) {
	liveCols, err := readLiveColumns(ctx, conn, info.Name)
	if err != nil {
		return nil, err
	}

	if len(liveCols) == 0 {
		return createFresh(ctx, conn, info)
	}

	liveIdx, err := readLiveIndexes(ctx, conn, info.Name)
	if err != nil {
		return nil, err
	}

	d := diffColumns(liveCols, info.Columns, aliases)

	var states []MigrationState

	if len(d.changedType) > 0 {
		s, err := rebuild(ctx, conn, info, d, userMigration)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
		// Index rebuild happens unconditionally after a full rebuild.
		states = append(states, rebuildIndexes(ctx, conn, info, liveIdx, true)...)
		return states, nil
	}

	// Step 5: incremental diff.
	for _, rn := range d.renamed {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE `%s` RENAME COLUMN `%s` TO `%s`", info.Name, rn.from, rn.to)); err != nil {
			return nil, fmt.Errorf("migrate: rename column %s->%s: %w", rn.from, rn.to, err)
		}
	}
	for _, idx := range dropIndexSet(liveIdx, info) {
		if _, err := conn.ExecContext(ctx, schema.DropIndexDDL(idx.StoredName(info.Name))); err != nil {
			states = append(states, FailedIndex{Index: idx.StoredName(info.Name), Err: err})
		}
	}
	for _, col := range d.added {
		if col.SQLKind == rowcodec.SQLText && !col.Nullable && col.DeclaredValueType == "url.URL" && col.DefaultLiteral == "" {
			return nil, fmt.Errorf("migrate: column %q: %w", col.Name, dberrors.ErrImpossibleURLMigrate)
		}
		ddl := fmt.Sprintf("ALTER TABLE `%s` ADD COLUMN %s", info.Name, col.DDL())
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("migrate: add column %q: %w", col.Name, err)
		}
		states = append(states, NewColumn{Table: info.Name, Column: col})
	}
	for _, name := range d.dropped {
		ddl := fmt.Sprintf("ALTER TABLE `%s` DROP COLUMN `%s`", info.Name, name)
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("migrate: drop column %q: %w", name, err)
		}
	}
	states = append(states, rebuildIndexes(ctx, conn, info, liveIdx, false)...)
	return states, nil
}

func createFresh(ctx context.Context, conn Conn, info schema.TableInfo) ([]MigrationState, error) {
	if _, err := conn.ExecContext(ctx, schema.CreateTableDDL(info)); err != nil {
		return nil, fmt.Errorf("migrate: create table %q: %w", info.Name, err)
	}
	states := []MigrationState{CreatedTable{Table: info.Name}}
	for _, idx := range append(append([]rowcodec.IndexDescriptor{}, info.Indexes...), info.UniqueIndexes...) {
		if _, err := conn.ExecContext(ctx, schema.CreateIndexDDL(info.Name, idx)); err != nil {
			states = append(states, FailedIndex{Index: idx.StoredName(info.Name), Err: err})
		}
	}
	return states, nil
}

func rebuildIndexes(ctx context.Context, conn Conn, info schema.TableInfo, live []rowcodec.IndexDescriptor, all bool) []MigrationState {
	var states []MigrationState
	target := append(append([]rowcodec.IndexDescriptor{}, info.Indexes...), info.UniqueIndexes...)
	if !all {
		target = newIndexSet(live, info)
	}
	for _, idx := range target {
		if _, err := conn.ExecContext(ctx, schema.CreateIndexDDL(info.Name, idx)); err != nil {
			states = append(states, FailedIndex{Index: idx.StoredName(info.Name), Err: err})
		}
	}
	return states
}

func newIndexSet(live []rowcodec.IndexDescriptor, info schema.TableInfo) []rowcodec.IndexDescriptor {
	target := append(append([]rowcodec.IndexDescriptor{}, info.Indexes...), info.UniqueIndexes...)
	var out []rowcodec.IndexDescriptor
	for _, t := range target {
		found := false
		for _, l := range live {
			if t.Equal(l) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, t)
		}
	}
	return out
}

func dropIndexSet(live []rowcodec.IndexDescriptor, info schema.TableInfo) []rowcodec.IndexDescriptor {
	target := append(append([]rowcodec.IndexDescriptor{}, info.Indexes...), info.UniqueIndexes...)
	var out []rowcodec.IndexDescriptor
	for _, l := range live {
		found := false
		for _, t := range target {
			if l.Equal(t) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, l)
		}
	}
	return out
}

type renamedColumn struct{ from, to string }

type columnDiff struct {
	added       []rowcodec.Column
	dropped     []string
	changedType []rowcodec.Column // target-side definition of changed columns
	renamed     []renamedColumn
}

// diffColumns implements spec.md §4.5 step 3, consulting aliases for
// renames before falling back to drop+add (spec.md §9's open question).
func diffColumns(live, target []rowcodec.Column, aliases map[string]string) columnDiff {
	liveByName := make(map[string]rowcodec.Column, len(live))
	for _, c := range live {
		liveByName[c.Name] = c
	}
	targetByName := make(map[string]rowcodec.Column, len(target))
	for _, c := range target {
		targetByName[c.Name] = c
	}

	renamedFrom := make(map[string]bool)
	renamedTo := make(map[string]bool)
	var d columnDiff
	for from, to := range aliases {
		oldCol, hasOld := liveByName[from]
		newCol, hasNew := targetByName[to]
		if !hasOld || !hasNew {
			continue
		}
		d.renamed = append(d.renamed, renamedColumn{from: from, to: to})
		renamedFrom[from] = true
		renamedTo[to] = true
		if !oldCol.Equal(rowcodec.Column{Name: from, SQLKind: newCol.SQLKind, Nullable: newCol.Nullable}) {
			d.changedType = append(d.changedType, newCol)
		}
	}

	for name, col := range targetByName {
		if renamedTo[name] {
			continue
		}
		liveCol, ok := liveByName[name]
		if !ok {
			d.added = append(d.added, col)
			continue
		}
		if !liveCol.Equal(col) {
			d.changedType = append(d.changedType, col)
		}
	}
	for name := range liveByName {
		if renamedFrom[name] {
			continue
		}
		if _, ok := targetByName[name]; !ok {
			d.dropped = append(d.dropped, name)
		}
	}
	return d
}

// rebuild implements spec.md §4.5 step 4: the live table is renamed aside,
// a fresh table is created under the original name with the target
// schema, matching-name columns and aliased (renamed) columns are copied
// automatically, then the user
// migration callback (if any) gets a chance to fix up the rest before the
// old table is dropped.
func rebuild(ctx context.Context, conn Conn, info schema.TableInfo, d columnDiff, userMigration MigrationFunc) (MigrationState, error) {
	tempName := fmt.Sprintf("_%s+temp+%d", info.Name, randSuffix())

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE `%s` RENAME TO `%s`", info.Name, tempName)); err != nil {
		return nil, fmt.Errorf("migrate: rename %q to temp: %w", info.Name, err)
	}
	if _, err := conn.ExecContext(ctx, schema.CreateTableDDL(info)); err != nil {
		return nil, fmt.Errorf("migrate: create rebuilt table %q: %w", info.Name, err)
	}

	liveNames, err := tableColumnNames(ctx, conn, tempName)
	if err != nil {
		return nil, err
	}
	targetNames := make(map[string]bool, len(info.Columns)+1)
	targetNames["id"] = true
	for _, c := range info.Columns {
		targetNames[c.Name] = true
	}
	var insertCols, selectCols []string
	for _, n := range liveNames {
		if targetNames[n] {
			insertCols = append(insertCols, n)
			selectCols = append(selectCols, n)
		}
	}
	for _, rn := range d.renamed {
		insertCols = append(insertCols, rn.to)
		selectCols = append(selectCols, rn.from)
	}
	if len(insertCols) > 0 {
		ins := "`" + strings.Join(insertCols, "`, `") + "`"
		sel := "`" + strings.Join(selectCols, "`, `") + "`"
		copyDDL := fmt.Sprintf("INSERT OR REPLACE INTO `%s` (%s) SELECT %s FROM `%s`", info.Name, ins, sel, tempName)
		if _, err := conn.ExecContext(ctx, copyDDL); err != nil {
			return nil, fmt.Errorf("migrate: copy intersection columns: %w", err)
		}
	}

	state := Changes{Table: info.Name, OldTable: tempName, Columns: d.changedType}
	if userMigration != nil {
		if err := userMigration(ctx, conn, state); err != nil {
			return nil, fmt.Errorf("migrate: user migration callback: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE `%s`", tempName)); err != nil {
		return nil, fmt.Errorf("migrate: drop temp table %q: %w", tempName, err)
	}
	return state, nil
}

func tableColumnNames(ctx context.Context, conn Conn, table string) ([]string, error) {
	cols, err := readLiveColumns(ctx, conn, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cols)+1)
	names = append(names, "id")
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names, nil
}

func randSuffix() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.BigEndian.Uint32(b[:])
}

// readLiveColumns reads the live schema via PRAGMA table_info, per
// spec.md §4.5 step 2. Returns nil, nil if the table does not exist.
func readLiveColumns(ctx context.Context, conn Conn, table string) ([]rowcodec.Column, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(`%s`)", table))
	if err != nil {
		return nil, fmt.Errorf("migrate: read table_info(%s): %w", table, err)
	}
	defer rows.Close()

	var out []rowcodec.Column
	for rows.Next() {
		var cid int
		var name, declType string
		var notNull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("migrate: scan table_info row: %w", err)
		}
		if name == "id" {
			continue
		}
		out = append(out, rowcodec.Column{
			Name:              name,
			SQLKind:           kindFromDeclared(declType),
			DeclaredValueType: declType,
			Nullable:          notNull == 0,
			DefaultLiteral:    dfltValue.String,
		})
	}
	return out, rows.Err()
}

func kindFromDeclared(decl string) rowcodec.SQLKind {
	switch strings.ToUpper(decl) {
	case "INTEGER":
		return rowcodec.SQLInteger
	case "REAL":
		return rowcodec.SQLReal
	case "TEXT":
		return rowcodec.SQLText
	default:
		return rowcodec.SQLBlob
	}
}

// readLiveIndexes reads the live index list from sqlite_master via
// PRAGMA index_list/index_info, ignoring SQLite's implicit autoindexes
// for UNIQUE/PRIMARY KEY constraints declared inline.
func readLiveIndexes(ctx context.Context, conn Conn, table string) ([]rowcodec.IndexDescriptor, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(`%s`)", table))
	if err != nil {
		return nil, fmt.Errorf("migrate: read index_list(%s): %w", table, err)
	}
	type listRow struct {
		name   string
		unique bool
	}
	var names []listRow
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, fmt.Errorf("migrate: scan index_list row: %w", err)
		}
		if origin == "c" { // explicit CREATE INDEX, not an implicit constraint index
			names = append(names, listRow{name: name, unique: unique == 1})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]rowcodec.IndexDescriptor, 0, len(names))
	for _, n := range names {
		cols, err := readIndexColumns(ctx, conn, n.name)
		if err != nil {
			return nil, err
		}
		out = append(out, rowcodec.IndexDescriptor{Name: n.name, Unique: n.unique, Columns: cols})
	}
	return out, nil
}

func readIndexColumns(ctx context.Context, conn Conn, index string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(`%s`)", index))
	if err != nil {
		return nil, fmt.Errorf("migrate: read index_info(%s): %w", index, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name string
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("migrate: scan index_info row: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
