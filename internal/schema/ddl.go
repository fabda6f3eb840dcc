package schema

import (
	"fmt"
	"strings"

	"github.com/autodb/autodb/internal/rowcodec"
)

// CreateTableDDL renders "CREATE TABLE ..." for info, per spec.md §6:
// `CREATE TABLE "<name>" (col_defs, PRIMARY KEY (id))`.
func CreateTableDDL(info TableInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE \"%s\" (\n", info.Name)
	b.WriteString("\t`id` INTEGER NOT NULL DEFAULT 0")
	for _, col := range info.Columns {
		b.WriteString(",\n\t")
		b.WriteString(col.DDL())
	}
	b.WriteString(",\n\tPRIMARY KEY (id)\n)")
	return b.String()
}

// CreateIndexDDL renders "CREATE [UNIQUE] INDEX ..." for idx on table,
// per spec.md §6.
func CreateIndexDDL(table string, idx rowcodec.IndexDescriptor) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX `%s` ON `%s` (%s)",
		unique, idx.StoredName(table), table, strings.Join(idx.Columns, ", "))
}

// DropIndexDDL renders "DROP INDEX ..." for a stored index name.
func DropIndexDDL(name string) string {
	return fmt.Sprintf("DROP INDEX `%s`", name)
}
