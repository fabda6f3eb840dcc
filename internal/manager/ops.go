package manager

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autodb/autodb/internal/dbactor"
	"github.com/autodb/autodb/internal/dberrors"
	"github.com/autodb/autodb/internal/reentrant"
	"github.com/autodb/autodb/internal/rowcodec"
	"github.com/autodb/autodb/internal/schema"
)

const maxBindParams = 999 // conservative SQLITE_MAX_VARIABLE_NUMBER floor

// Create implements spec.md §4.7's create(T, id?): id == 0 mints a fresh
// id, otherwise it behaves like FetchID with create-on-miss semantics.
func Create[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T, id rowcodec.AutoId) (*Model[T], error) {
	te, err := setupDB(ctx, m, newT)
	if err != nil {
		return nil, err
	}
	if id != 0 {
		if cached, ok := loadCache[T](te, id); ok {
			return cached, nil
		}
		existing, err := FetchID(ctx, m, newT, id)
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, dberrors.ErrFetch):
			return nil, err
		}
	}
	v := newT()
	if id == 0 {
		id = rowcodec.GenerateID()
	}
	v.SetRowID(id)
	model := publishCache(te, id, newModel(v))
	te.markCreated(id)
	markChanged(te, id, model)
	return model, nil
}

// FetchID implements spec.md §4.7's fetch_id(T, id): cache hit first,
// then a single-row SELECT.
func FetchID[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T, id rowcodec.AutoId) (*Model[T], error) {
	if id == 0 {
		return nil, dberrors.ErrMissingID
	}
	te, err := setupDB(ctx, m, newT)
	if err != nil {
		return nil, err
	}
	if te.isDeleted(id) {
		return nil, dberrors.ErrFetch
	}
	if cached, ok := loadCache[T](te, id); ok {
		return cached, nil
	}

	rows, err := te.actor.Query(ctx, reentrant.Token{},
		fmt.Sprintf("SELECT * FROM `%s` WHERE id = ?", te.info.Name), rowcodec.Uint64Value(uint64(id)).Interface())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, dberrors.ErrFetch
	}

	v := newT()
	if err := rowcodec.DecodeRow(rows[0], v); err != nil {
		return nil, err
	}
	return publishCache(te, id, newModel(v)), nil
}

// FetchIDs implements spec.md §4.7's fetch_ids(T, ids): a batched SELECT
// for whichever ids miss the cache, returned in a list that drops ids
// with no live row (deleted, or never existed).
func FetchIDs[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T, ids []rowcodec.AutoId) ([]*Model[T], error) {
	if len(ids) == 0 {
		return nil, nil
	}
	te, err := setupDB(ctx, m, newT)
	if err != nil {
		return nil, err
	}

	byID := make(map[rowcodec.AutoId]*Model[T], len(ids))
	var missing []rowcodec.AutoId
	for _, id := range ids {
		if te.isDeleted(id) {
			continue
		}
		if cached, ok := loadCache[T](te, id); ok {
			byID[id] = cached
			continue
		}
		missing = append(missing, id)
	}

	for _, batch := range chunkIDs(missing, maxBindParams) {
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = rowcodec.Uint64Value(uint64(id)).Interface()
		}
		query := fmt.Sprintf("SELECT * FROM `%s` WHERE id IN (%s)", te.info.Name, schema.QuestionMarks(len(batch)))
		rows, err := te.actor.Query(ctx, reentrant.Token{}, query, args...)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			idScalar, ok := row["id"]
			if !ok {
				continue
			}
			raw, err := idScalar.ToUint64()
			if err != nil {
				return nil, err
			}
			id := rowcodec.AutoId(raw)
			v := newT()
			if err := rowcodec.DecodeRow(row, v); err != nil {
				return nil, err
			}
			byID[id] = publishCache(te, id, newModel(v))
		}
	}

	out := make([]*Model[T], 0, len(ids))
	for _, id := range ids {
		if model, ok := byID[id]; ok {
			out = append(out, model)
		}
	}
	return out, nil
}

// FetchQuery implements spec.md §4.7's fetch_query(T, where, args...): a
// raw WHERE clause against T's table, cache-checked per row the same way
// as FetchID.
func FetchQuery[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T, where string, args ...any) ([]*Model[T], error) {
	te, err := setupDB(ctx, m, newT)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM `%s`", te.info.Name)
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := te.actor.Query(ctx, reentrant.Token{}, query, args...)
	if err != nil {
		return nil, err
	}

	out := make([]*Model[T], 0, len(rows))
	for _, row := range rows {
		idScalar, ok := row["id"]
		if !ok {
			continue
		}
		raw, err := idScalar.ToUint64()
		if err != nil {
			return nil, err
		}
		id := rowcodec.AutoId(raw)
		if te.isDeleted(id) {
			continue
		}
		if cached, ok := loadCache[T](te, id); ok {
			out = append(out, cached)
			continue
		}
		v := newT()
		if err := rowcodec.DecodeRow(row, v); err != nil {
			return nil, err
		}
		out = append(out, publishCache(te, id, newModel(v)))
	}
	return out, nil
}

func chunkIDs(ids []rowcodec.AutoId, size int) [][]rowcodec.AutoId {
	if size < 1 {
		size = 1
	}
	var chunks [][]rowcodec.AutoId
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

func typeEntryFor[T rowcodec.Table](m *Manager, sample T) (*typeEntry, error) {
	rt := reflect.TypeOf(sample)
	m.mu.Lock()
	te, ok := m.types[rt]
	m.mu.Unlock()
	if !ok {
		return nil, dberrors.ErrMissingSetup
	}
	return te, nil
}

// SaveList implements spec.md §4.7's save_list(models): batched
// insert-vs-upsert by whether the manager minted the id locally (created)
// or the row may already exist (changed-only), enriching constraint
// failures into UniqueConstraintError with the conflicting ids.
func SaveList[T rowcodec.Table](ctx context.Context, m *Manager, models []*Model[T]) error {
	if len(models) == 0 {
		return nil
	}
	te, err := typeEntryFor(m, models[0].Value())
	if err != nil {
		return err
	}

	var created, updated []*Model[T]
	for _, model := range models {
		id := model.ID()
		if te.isDeleted(id) {
			continue
		}
		if te.isCreated(id) {
			created = append(created, model)
		} else {
			updated = append(updated, model)
		}
	}

	if len(created) > 0 {
		if err := insertBatch(ctx, te, created); err != nil {
			return err
		}
		te.cacheMu.Lock()
		for _, model := range created {
			delete(te.created, model.ID())
			delete(te.changed, model.ID())
		}
		te.cacheMu.Unlock()
	}
	if len(updated) > 0 {
		if err := upsertBatch(ctx, te, updated); err != nil {
			return err
		}
		te.cacheMu.Lock()
		for _, model := range updated {
			delete(te.changed, model.ID())
		}
		te.cacheMu.Unlock()
	}
	return nil
}

func insertBatch[T rowcodec.Table](ctx context.Context, te *typeEntry, models []*Model[T]) error {
	columns := te.info.Columns
	colNames := columnNamesWithID(columns)
	rowWidth := len(colNames)
	perStatement := maxBindParams / rowWidth
	if perStatement < 1 {
		perStatement = 1
	}

	_, err := dbactor.Transaction(ctx, te.actor, func(ctx context.Context, token reentrant.Token) (struct{}, error) {
		for start := 0; start < len(models); start += perStatement {
			end := start + perStatement
			if end > len(models) {
				end = len(models)
			}
			batch := models[start:end]
			query, args, err := buildInsertSQL(te.info.Name, colNames, columns, batch)
			if err != nil {
				return struct{}{}, err
			}
			if _, err := te.actor.Execute(ctx, token, query, args...); err != nil {
				if dberrorsIsUnique(err) {
					return struct{}{}, enrichUniqueConflict(ctx, te, token, batch, err)
				}
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

func upsertBatch[T rowcodec.Table](ctx context.Context, te *typeEntry, models []*Model[T]) error {
	columns := te.info.Columns
	colNames := columnNamesWithID(columns)
	rowWidth := len(colNames)
	perStatement := maxBindParams / rowWidth
	if perStatement < 1 {
		perStatement = 1
	}

	_, err := dbactor.Transaction(ctx, te.actor, func(ctx context.Context, token reentrant.Token) (struct{}, error) {
		for start := 0; start < len(models); start += perStatement {
			end := start + perStatement
			if end > len(models) {
				end = len(models)
			}
			batch := models[start:end]
			query, args, err := buildUpsertSQL(te.info.Name, colNames, columns, batch)
			if err != nil {
				return struct{}{}, err
			}
			if _, err := te.actor.Execute(ctx, token, query, args...); err != nil {
				if dberrorsIsUnique(err) {
					return struct{}{}, enrichUniqueConflict(ctx, te, token, batch, err)
				}
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

func columnNamesWithID(columns []rowcodec.Column) []string {
	names := make([]string, 0, len(columns)+1)
	names = append(names, "id")
	for _, c := range columns {
		names = append(names, c.Name)
	}
	return names
}

func buildInsertSQL[T rowcodec.Table](table string, colNames []string, columns []rowcodec.Column, batch []*Model[T]) (string, []any, error) {
	return buildValuesSQL("INSERT INTO", table, colNames, columns, batch)
}

func buildUpsertSQL[T rowcodec.Table](table string, colNames []string, columns []rowcodec.Column, batch []*Model[T]) (string, []any, error) {
	return buildValuesSQL("INSERT OR REPLACE INTO", table, colNames, columns, batch)
}

func buildValuesSQL[T rowcodec.Table](verb, table string, colNames []string, columns []rowcodec.Column, batch []*Model[T]) (string, []any, error) {
	query := fmt.Sprintf("%s `%s` (%s) VALUES ", verb, table, quotedJoin(colNames))
	args := make([]any, 0, len(batch)*len(colNames))
	for i, model := range batch {
		if i > 0 {
			query += ", "
		}
		query += "(" + schema.QuestionMarks(len(colNames)) + ")"
		values, err := rowcodec.EncodeValues(model.Value(), columns)
		if err != nil {
			return "", nil, err
		}
		args = append(args, rowcodec.Uint64Value(uint64(model.ID())).Interface())
		for _, v := range values {
			args = append(args, v)
		}
	}
	return query, args, nil
}

func quotedJoin(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += "`" + n + "`"
	}
	return out
}

func dberrorsIsUnique(err error) bool {
	return errors.Is(err, dberrors.ErrUniqueConstraintViolated)
}

// enrichUniqueConflict implements spec.md §4.6/§4.7/§8 scenario 6: on a raw
// constraint violation, probe each unique index for the conflicting ids
// already present and surface them in a UniqueConstraintError.
func enrichUniqueConflict[T rowcodec.Table](ctx context.Context, te *typeEntry, token reentrant.Token, batch []*Model[T], cause error) error {
	seen := make(map[rowcodec.AutoId]bool)
	var ids []rowcodec.AutoId
	for _, model := range batch {
		v := model.Value()
		fields := v.Fields()
		for _, idx := range te.info.UniqueIndexes {
			where := ""
			args := make([]any, 0, len(idx.Columns))
			ok := true
			for i, col := range idx.Columns {
				if i > 0 {
					where += " AND "
				}
				where += fmt.Sprintf("`%s` = ?", col)
				val, present := fields[col]
				if !present {
					ok = false
					break
				}
				args = append(args, val)
			}
			if !ok || where == "" {
				continue
			}
			rows, qerr := te.actor.Query(ctx, token,
				fmt.Sprintf("SELECT id FROM `%s` WHERE %s AND id != ?", te.info.Name, where),
				append(args, rowcodec.Uint64Value(uint64(model.ID())).Interface())...)
			if qerr != nil {
				continue
			}
			for _, row := range rows {
				raw, err := row["id"].ToUint64()
				if err != nil {
					continue
				}
				id := rowcodec.AutoId(raw)
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
	if len(ids) == 0 {
		return cause
	}
	return dberrors.NewUniqueConstraintError(te.info.Name, ids)
}

// SaveChanges implements spec.md §4.7's save_changes(T): flushes the
// delete-later set first, then saves every row currently tracked as
// changed.
func SaveChanges[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T) error {
	te, err := setupDB(ctx, m, newT)
	if err != nil {
		return err
	}

	te.cacheMu.Lock()
	var deleteIDs []rowcodec.AutoId
	for id := range te.deleteLater {
		deleteIDs = append(deleteIDs, id)
	}
	for _, id := range deleteIDs {
		delete(te.deleteLater, id)
	}
	var models []*Model[T]
	for id, boxed := range te.changed {
		if model, ok := boxed.(*Model[T]); ok {
			models = append(models, model)
		}
		delete(te.changed, id)
	}
	te.cacheMu.Unlock()

	if len(deleteIDs) > 0 {
		if err := execDelete(ctx, te, deleteIDs); err != nil {
			return err
		}
	}
	return SaveList(ctx, m, models)
}

// SaveChangesLater implements spec.md §4.7's save_changes_later(T):
// debounces repeated calls so only the last one within the delay window
// actually fires save_changes(T).
func SaveChangesLater[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T) error {
	te, err := setupDB(ctx, m, newT)
	if err != nil {
		return err
	}
	delay := m.cfg.Engine.SaveChangesLaterDelay
	te.saveLaterMu.Lock()
	if te.saveLaterTimer != nil {
		te.saveLaterTimer.Stop()
	}
	te.saveLaterTimer = time.AfterFunc(delay, func() {
		_ = SaveChanges(context.Background(), m, newT)
	})
	te.saveLaterMu.Unlock()
	return nil
}

// SaveAllChanges implements spec.md §4.7's save_all_changes(): runs
// save_changes concurrently across every type that has been set up,
// accumulating errors and returning the last one (spec.md §4.7 "Errors
// during one type's flush do not block the others").
func SaveAllChanges(ctx context.Context, m *Manager) error {
	m.mu.Lock()
	entries := make([]*typeEntry, 0, len(m.types))
	for _, te := range m.types {
		entries = append(entries, te)
	}
	m.mu.Unlock()

	errs := make([]error, len(entries))
	g := new(errgroup.Group)
	for i, te := range entries {
		i, te := i, te
		g.Go(func() error {
			if te.saveAllFn != nil {
				errs[i] = te.saveAllFn(ctx)
			}
			return nil
		})
	}
	_ = g.Wait()

	var last error
	for _, e := range errs {
		if e != nil {
			last = e
		}
	}
	return last
}

// Delete implements spec.md §4.7's delete(T, ids): marks ids deleted
// immediately and issues the DELETE now.
func Delete[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T, ids []rowcodec.AutoId) error {
	if len(ids) == 0 {
		return nil
	}
	te, err := setupDB(ctx, m, newT)
	if err != nil {
		return err
	}
	te.cacheMu.Lock()
	for _, id := range ids {
		te.deleted[id] = true
		delete(te.changed, id)
	}
	te.cacheMu.Unlock()
	return execDelete(ctx, te, ids)
}

// DeleteLater implements spec.md §4.7's delete_later(T, ids): marks ids
// deleted immediately (so they stop being visible to fetches) but defers
// the actual DELETE to a single process-wide consolidated task that calls
// save_all_changes after the configured delay.
func DeleteLater[T rowcodec.Table](ctx context.Context, m *Manager, newT func() T, ids []rowcodec.AutoId) error {
	if len(ids) == 0 {
		return nil
	}
	te, err := setupDB(ctx, m, newT)
	if err != nil {
		return err
	}
	te.cacheMu.Lock()
	for _, id := range ids {
		te.deleted[id] = true
		te.deleteLater[id] = true
		delete(te.changed, id)
	}
	te.cacheMu.Unlock()

	m.deleteLaterMu.Lock()
	if m.deleteLaterTimer != nil {
		m.deleteLaterTimer.Stop()
	}
	m.deleteLaterTimer = time.AfterFunc(m.cfg.Engine.DeleteLaterDelay, func() {
		_ = SaveAllChanges(context.Background(), m)
	})
	m.deleteLaterMu.Unlock()
	return nil
}

func execDelete(ctx context.Context, te *typeEntry, ids []rowcodec.AutoId) error {
	for _, batch := range chunkIDs(ids, maxBindParams) {
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = rowcodec.Uint64Value(uint64(id)).Interface()
		}
		query := fmt.Sprintf("DELETE FROM `%s` WHERE id IN (%s)", te.info.Name, schema.QuestionMarks(len(batch)))
		if _, err := te.actor.Execute(ctx, reentrant.Token{}, query, args...); err != nil {
			return err
		}
	}
	return nil
}
