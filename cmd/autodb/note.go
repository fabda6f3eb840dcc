package main

import (
	"github.com/autodb/autodb/internal/rowcodec"
)

// Note is the example entity every subcommand exercises: a single
// free-text row, enough to drive migrate/inspect-schema/search without
// pulling in a real domain model.
type Note struct {
	id   rowcodec.AutoId
	Text string
}

func newNote() *Note { return &Note{} }

func (n *Note) TableName() string          { return "notes" }
func (n *Note) RowID() rowcodec.AutoId     { return n.id }
func (n *Note) SetRowID(id rowcodec.AutoId) { n.id = id }

func (n *Note) Fields() map[string]any {
	return map[string]any{"Text": n.Text}
}

func (n *Note) SetFields(m map[string]any) {
	if v, ok := m["Text"].(string); ok {
		n.Text = v
	}
}

func (n *Note) Indexes() []rowcodec.IndexDescriptor       { return nil }
func (n *Note) UniqueIndexes() []rowcodec.IndexDescriptor { return nil }
func (n *Note) SettingsKey() string                       { return "regular" }
