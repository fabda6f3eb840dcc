package manager

import (
	"context"

	"github.com/autodb/autodb/internal/dbactor"
	"github.com/autodb/autodb/internal/rowcodec"
	"github.com/autodb/autodb/internal/schema"
)

// ActorFor exposes T's shared database actor and derived schema, used by
// the FTS subsystem (C10) which shares the content table's database file
// for its shadow table and triggers (spec.md §4.9, §6).
func ActorFor[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T) (*dbactor.Actor, schema.TableInfo, error) {
	te, err := setupDB(ctx, m, newT)
	if err != nil {
		return nil, schema.TableInfo{}, err
	}
	return te.actor, te.info, nil
}
