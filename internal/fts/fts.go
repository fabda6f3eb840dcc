// Package fts implements the FTS5 full-text-search column mechanism of
// spec.md §4.9 (C10): a shadow virtual table per indexed column, triggers
// that invalidate stale shadow rows, lazy batched population, and a
// search operation that resolves ranked ids back into entities via the
// identity manager.
package fts

import (
	"context"
	"fmt"
	"strings"

	"github.com/autodb/autodb/internal/dbactor"
	"github.com/autodb/autodb/internal/dberrors"
	"github.com/autodb/autodb/internal/manager"
	"github.com/autodb/autodb/internal/reentrant"
	"github.com/autodb/autodb/internal/rowcodec"
)

// TextFunc resolves the indexable text for a batch of ids, the callback
// contract spec.md §4.9 describes for owners that don't want the default
// same-named-column read.
type TextFunc[T rowcodec.Table] func(ctx context.Context, ids []rowcodec.AutoId) (map[rowcodec.AutoId]string, error)

// Column is one FTS5-indexed column over T (spec.md §4.9 "FTSColumn<T>").
type Column[T rowcodec.Table] struct {
	mgr         *manager.Manager
	newT        func() T
	columnName  string
	textFn      TextFunc[T]
	batchSize   int
	sem         *reentrant.Semaphore
	shadowTable string
	contentTbl  string
	actor       *dbactor.Actor
	ready       bool
}

// NewColumn declares an FTS5 column over column of T. If textFn is nil,
// the default source reads column from the content table directly
// (spec.md §4.9 "Text sources default to reading the column of the same
// name on the content table").
func NewColumn[T rowcodec.Table](mgr *manager.Manager, newT func() T, column string, batchSize int, textFn TextFunc[T]) *Column[T] {
	if batchSize <= 0 {
		batchSize = 20000
	}
	return &Column[T]{
		mgr: mgr, newT: newT, columnName: column, textFn: textFn,
		batchSize: batchSize, sem: reentrant.New(1),
	}
}

// Setup creates the shadow virtual table and its three triggers, failing
// with dberrors.ErrNoFTSSupport if FTS5 is unavailable (spec.md §4.9,
// §6's virtual-table DDL).
func (c *Column[T]) Setup(ctx context.Context) error {
	token := reentrant.NewToken()
	if err := c.sem.Wait(ctx, token); err != nil {
		return err
	}
	defer c.sem.Signal(token)
	return c.setupLocked(ctx, token)
}

// setupLocked is Setup's body, callable by a caller that already holds
// c.sem under token (Populate, reached from Search).
func (c *Column[T]) setupLocked(ctx context.Context, token reentrant.Token) error {
	if c.ready {
		return nil
	}

	actor, info, err := manager.ActorFor(ctx, c.mgr, c.newT)
	if err != nil {
		return err
	}
	c.actor = actor
	c.contentTbl = info.Name
	c.shadowTable = fmt.Sprintf("%s+%s+Table", info.Name, c.columnName)

	_, err = dbactor.Transaction(ctx, actor, func(ctx context.Context, tok reentrant.Token) (struct{}, error) {
		createShadow := fmt.Sprintf(
			"CREATE VIRTUAL TABLE IF NOT EXISTS `%s` USING FTS5(id UNINDEXED, text, tokenize='unicode61 remove_diacritics 0')",
			c.shadowTable)
		if _, err := actor.Execute(ctx, tok, createShadow); err != nil {
			if isMissingFTS5(err) {
				return struct{}{}, dberrors.ErrNoFTSSupport
			}
			return struct{}{}, err
		}
		for _, ddl := range c.triggerDDL() {
			if _, err := actor.Execute(ctx, tok, ddl); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	c.ready = true
	return nil
}

func (c *Column[T]) triggerDDL() []string {
	insert := fmt.Sprintf(
		"CREATE TRIGGER IF NOT EXISTS `%s+Insert` AFTER INSERT ON `%s` BEGIN DELETE FROM `%s` WHERE id = NEW.id; END",
		c.shadowTable, c.contentTbl, c.shadowTable)
	update := fmt.Sprintf(
		"CREATE TRIGGER IF NOT EXISTS `%s+Update` AFTER UPDATE ON `%s` BEGIN DELETE FROM `%s` WHERE id = OLD.id; END",
		c.shadowTable, c.contentTbl, c.shadowTable)
	del := fmt.Sprintf(
		"CREATE TRIGGER IF NOT EXISTS `%s+Delete` AFTER DELETE ON `%s` BEGIN DELETE FROM `%s` WHERE id = OLD.id; END",
		c.shadowTable, c.contentTbl, c.shadowTable)
	return []string{insert, update, del}
}

func isMissingFTS5(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "fts5")
}

// Populate implements spec.md §4.9's lazy batched population: iterates
// content ids missing from the shadow table in passes of batchSize until
// none remain.
func (c *Column[T]) Populate(ctx context.Context) error {
	token := reentrant.NewToken()
	if err := c.sem.Wait(ctx, token); err != nil {
		return err
	}
	defer c.sem.Signal(token)
	return c.populateLocked(ctx, token)
}

// populateLocked is Populate's body, callable by a caller that already
// holds c.sem under token (Search).
func (c *Column[T]) populateLocked(ctx context.Context, token reentrant.Token) error {
	if !c.ready {
		if err := c.setupLocked(ctx, token); err != nil {
			return err
		}
	}
	for {
		rows, err := c.actor.Query(ctx, reentrant.Token{}, fmt.Sprintf(
			"SELECT content.id AS id FROM `%s` content LEFT JOIN `%s` shadow ON shadow.id = content.id WHERE shadow.id IS NULL LIMIT ?",
			c.contentTbl, c.shadowTable), c.batchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]rowcodec.AutoId, 0, len(rows))
		for _, row := range rows {
			raw, err := row["id"].ToUint64()
			if err != nil {
				continue
			}
			ids = append(ids, rowcodec.AutoId(raw))
		}

		texts, err := c.resolveTexts(ctx, ids)
		if err != nil {
			return err
		}

		_, err = dbactor.Transaction(ctx, c.actor, func(ctx context.Context, tok reentrant.Token) (struct{}, error) {
			for _, id := range ids {
				text := Normalize(texts[id])
				_, err := c.actor.Execute(ctx, tok,
					fmt.Sprintf("INSERT INTO `%s` (id, text) VALUES (?, ?)", c.shadowTable),
					uint64(id), text)
				if err != nil {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		})
		if err != nil {
			return err
		}
		if len(ids) < c.batchSize {
			return nil
		}
	}
}

func (c *Column[T]) resolveTexts(ctx context.Context, ids []rowcodec.AutoId) (map[rowcodec.AutoId]string, error) {
	if c.textFn != nil {
		return c.textFn(ctx, ids)
	}
	out := make(map[rowcodec.AutoId]string, len(ids))
	for _, id := range ids {
		rows, err := c.actor.Query(ctx, reentrant.Token{},
			fmt.Sprintf("SELECT `%s` AS v FROM `%s` WHERE id = ?", c.columnName, c.contentTbl), uint64(id))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		text, err := rows[0]["v"].ToText()
		if err != nil {
			continue
		}
		out[id] = text
	}
	return out, nil
}

// Search implements spec.md §4.9's search(phrase, limit, offset): ensures
// population, runs the FTS5 MATCH query in rank order, and resolves ids
// to entities.
func (c *Column[T]) Search(ctx context.Context, phrase string, limit, offset int) ([]*manager.Model[T], error) {
	token := reentrant.NewToken()
	if err := c.sem.Wait(ctx, token); err != nil {
		return nil, err
	}
	defer c.sem.Signal(token)

	if err := c.populateLocked(ctx, token); err != nil {
		return nil, err
	}

	rows, err := c.actor.Query(ctx, reentrant.Token{},
		fmt.Sprintf("SELECT id FROM `%s` WHERE text MATCH ? ORDER BY rank LIMIT ? OFFSET ?", c.shadowTable),
		Normalize(phrase), limit, offset)
	if err != nil {
		return nil, err
	}

	ids := make([]rowcodec.AutoId, 0, len(rows))
	for _, row := range rows {
		raw, err := row["id"].ToUint64()
		if err != nil {
			continue
		}
		ids = append(ids, rowcodec.AutoId(raw))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	models, err := manager.FetchIDs(ctx, c.mgr, c.newT, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[rowcodec.AutoId]*manager.Model[T], len(models))
	for _, m := range models {
		byID[m.ID()] = m
	}
	out := make([]*manager.Model[T], 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}
