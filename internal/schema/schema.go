// Package schema implements the structural walker that derives a table's
// column list, indexes, and unique indexes from a Go entity type
// (spec.md §4.5, C5).
//
// Row encode/decode (C7, package rowcodec) goes through a Table's
// Fields()/SetFields() so the hot path never pays a reflect.Value cost per
// row. Schema derivation is the one place reflect.Type walks the concrete
// struct, and the result is memoized per type so it only happens once.
package schema

import (
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/autodb/autodb/internal/rowcodec"
)

// TableInfo is the derived descriptor for one entity type (spec.md §3.1
// "Table descriptor").
type TableInfo struct {
	Name          string
	Columns       []rowcodec.Column
	Indexes       []rowcodec.IndexDescriptor
	UniqueIndexes []rowcodec.IndexDescriptor
	SettingsKey   string
}

var cache sync.Map // reflect.Type -> TableInfo

// Reflect derives a TableInfo for t, memoized by t's concrete type
// (spec.md §4.5). Field names beginning with "_$", "$", or "__" are
// skipped; a leading single underscore is stripped (e.g. "_name" ->
// "name"), matching the source's property-wrapper backing-field
// convention.
func Reflect(t rowcodec.Table) TableInfo {
	rt := concreteType(t)
	if cached, ok := cache.Load(rt); ok {
		return cached.(TableInfo)
	}

	info := TableInfo{
		Name:          t.TableName(),
		Indexes:       t.Indexes(),
		UniqueIndexes: t.UniqueIndexes(),
		SettingsKey:   t.SettingsKey(),
	}

	seen := make(map[string]bool)
	for _, f := range structFields(rt) {
		name, ok := columnName(f)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		info.Columns = append(info.Columns, columnFor(name, f.Type))
	}

	// id is always present, non-null, with a default (spec.md §3.3 "Row id
	// bound"); it is handled by the table DDL's PRIMARY KEY clause rather
	// than appearing twice in Columns.
	cache.Store(rt, info)
	return info
}

// Invalidate drops a type's memoized TableInfo, used by tests that want a
// fresh derivation after mutating a package-level fixture.
func Invalidate(t rowcodec.Table) {
	cache.Delete(concreteType(t))
}

func concreteType(t rowcodec.Table) reflect.Type {
	rt := reflect.TypeOf(t)
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	return rt
}

func structFields(rt reflect.Type) []reflect.StructField {
	var out []reflect.StructField
	if rt.Kind() != reflect.Struct {
		return out
	}
	for i := 0; i < rt.NumField(); i++ {
		out = append(out, rt.Field(i))
	}
	return out
}

// columnName applies spec.md §4.5's field-name filtering and returns the
// derived column name, or ok=false if the field should be skipped.
func columnName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	name := f.Name
	if tag, ok := f.Tag.Lookup("db"); ok {
		if tag == "-" {
			return "", false
		}
		if comma := strings.IndexByte(tag, ','); comma >= 0 {
			tag = tag[:comma]
		}
		if tag != "" {
			name = tag
		}
	}
	switch {
	case strings.HasPrefix(name, "_$"),
		strings.HasPrefix(name, "$"),
		strings.HasPrefix(name, "__"):
		return "", false
	case strings.HasPrefix(name, "_"):
		name = name[1:]
	}
	if name == "id" || name == "Id" || name == "ID" {
		return "", false
	}
	return name, true
}

var (
	timeType = reflect.TypeOf(time.Time{})
	urlType  = reflect.TypeOf(url.URL{})
)

func columnFor(name string, ft reflect.Type) rowcodec.Column {
	nullable := false
	elem := ft
	if elem.Kind() == reflect.Ptr {
		nullable = true
		elem = elem.Elem()
	}
	kind := classify(elem)
	col := rowcodec.Column{Name: name, SQLKind: kind, DeclaredValueType: elem.String(), Nullable: nullable}
	if !nullable {
		col.DefaultLiteral = defaultLiteral(kind, elem)
	}
	return col
}

// classify maps a Go type to its SQL storage affinity (spec.md §6).
func classify(t reflect.Type) rowcodec.SQLKind {
	switch {
	case t == timeType:
		return rowcodec.SQLReal
	case t == urlType || t == reflect.PointerTo(urlType):
		return rowcodec.SQLText
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rowcodec.SQLInteger
	case reflect.Float32, reflect.Float64:
		return rowcodec.SQLReal
	case reflect.String:
		return rowcodec.SQLText
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return rowcodec.SQLBlob
		}
		return rowcodec.SQLBlob // unknown complex type -> JSON blob (spec.md §6)
	default:
		return rowcodec.SQLBlob
	}
}

// defaultLiteral computes the DEFAULT clause for a non-null column so
// ADD COLUMN against existing rows never violates NOT NULL (spec.md §4.5
// step 5's "rejecting non-null URL without default" is the one case this
// function refuses to answer for, left to the caller).
func defaultLiteral(kind rowcodec.SQLKind, t reflect.Type) string {
	switch kind {
	case rowcodec.SQLInteger:
		return "0"
	case rowcodec.SQLReal:
		return "0"
	case rowcodec.SQLText:
		if t == urlType {
			return ""
		}
		return "''"
	case rowcodec.SQLBlob:
		if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
			return "X''"
		}
		return "" // complex JSON blob types have no sensible scalar default
	}
	return ""
}

// QuestionMarks renders the "?,?,..." placeholder list spec.md §8 tests
// directly: n==0 yields a predicate that is always false.
func QuestionMarks(n int) string {
	if n <= 0 {
		return "''"
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('?')
	}
	return b.String()
}

// FormatUint renders id as a decimal literal.
func FormatUint(id rowcodec.AutoId) string {
	return strconv.FormatUint(uint64(id), 10)
}
