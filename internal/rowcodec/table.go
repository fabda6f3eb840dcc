package rowcodec

// Table is the value-typed row record interface every persisted entity
// implements (spec.md §3.1, Glossary "Table"). It is intentionally
// reflection-free for the hot path: schema derivation (C5) walks the Go
// struct via reflect.Type once per type and memoizes the result, but row
// encode/decode (C7) goes through Fields()/SetFields() so callers never pay
// a reflect.Value cost per row.
type Table interface {
	// TableName is the SQL table name. Must be a non-empty string unique
	// within a database file.
	TableName() string

	// RowID returns the current primary key. Zero means unset.
	RowID() AutoId

	// SetRowID assigns the primary key, used by create() and the decoder.
	SetRowID(AutoId)

	// Fields enumerates every persisted field by its column name.
	Fields() map[string]any

	// SetFields applies decoded values back onto the receiver. Unknown
	// keys are ignored; missing keys retain the receiver's zero value.
	SetFields(map[string]any)

	// Indexes and UniqueIndexes declare the table's secondary indexes.
	Indexes() []IndexDescriptor
	UniqueIndexes() []IndexDescriptor

	// SettingsKey names the settings bucket (pkg/config.SettingsKey string
	// form) that groups this table's database file with others sharing
	// the same key (spec.md §3.1, §6).
	SettingsKey() string
}

// Aliasable is an optional interface a Table may implement to resolve
// spec.md §9's open question about renames: FieldAliases maps an old
// column name to its new name so the migration planner (C6) treats the
// change as a rename instead of drop+add.
type Aliasable interface {
	FieldAliases() map[string]string
}

// Notifiable is implemented by relation owners that want to hear about
// relation mutations (spec.md §4.8's "owner change propagation").
type Notifiable interface {
	DidChange()
}
