package rowcodec

import "fmt"

// Row is a mapping column-name -> scalar value (spec.md §3.1).
type Row map[string]Scalar

// SQLKind classifies a column's storage affinity (spec.md §3.1).
type SQLKind int

const (
	SQLInteger SQLKind = iota
	SQLReal
	SQLText
	SQLBlob
)

func (k SQLKind) String() string {
	switch k {
	case SQLInteger:
		return "INTEGER"
	case SQLReal:
		return "REAL"
	case SQLText:
		return "TEXT"
	case SQLBlob:
		return "BLOB"
	default:
		return "BLOB"
	}
}

// Column describes one table column. Equality ignores DefaultLiteral and
// DeclaredValueType (spec.md §3.1).
type Column struct {
	Name              string
	SQLKind           SQLKind
	DeclaredValueType string
	Nullable          bool
	DefaultLiteral    string
}

// Equal compares two columns by {Name, SQLKind, Nullable} only, per
// spec.md §3.1.
func (c Column) Equal(o Column) bool {
	return c.Name == o.Name && c.SQLKind == o.SQLKind && c.Nullable == o.Nullable
}

// HashKey returns the value used when Column is a map/set key.
func (c Column) HashKey() string {
	return fmt.Sprintf("%s|%s|%v", c.Name, c.SQLKind, c.Nullable)
}

// DDL renders the column definition clause used inside CREATE TABLE
// (spec.md §6).
func (c Column) DDL() string {
	nullability := "NOT NULL"
	if c.Nullable {
		nullability = "NULL"
	}
	def := ""
	if c.DefaultLiteral != "" {
		def = " DEFAULT " + c.DefaultLiteral
	}
	return fmt.Sprintf("`%s` %s %s%s", c.Name, c.SQLKind, nullability, def)
}

// IndexDescriptor describes a secondary index (spec.md §3.1).
type IndexDescriptor struct {
	Name    string
	Unique  bool
	Columns []string
}

// StoredName derives the canonical stored index name: "<table>+index+<cols>"
// (spec.md §3.1/§3.3).
func (idx IndexDescriptor) StoredName(table string) string {
	joined := ""
	for i, c := range idx.Columns {
		if i > 0 {
			joined += "_"
		}
		joined += c
	}
	return fmt.Sprintf("%s+index+%s", table, joined)
}

// Equal implements spec.md §3.3's index equality: any two indexes with
// identical column tuples and uniqueness flag are equal regardless of
// source order of the column list origin (the column list itself must
// match in order -- order within the index matters for SQL semantics, but
// index *identity* for diffing purposes ignores the supplied Name).
func (idx IndexDescriptor) Equal(o IndexDescriptor) bool {
	if idx.Unique != o.Unique || len(idx.Columns) != len(o.Columns) {
		return false
	}
	for i := range idx.Columns {
		if idx.Columns[i] != o.Columns[i] {
			return false
		}
	}
	return true
}
