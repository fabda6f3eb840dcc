package dbactor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/autodb/autodb/internal/dberrors"
	"github.com/autodb/autodb/internal/reentrant"
	"github.com/autodb/autodb/internal/rowcodec"
)

func bindArgs(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, v := range args {
		if s, ok := v.(rowcodec.Scalar); ok {
			out[i] = s.Interface()
			continue
		}
		out[i] = v
	}
	return out, nil
}

// Query runs sql against the actor's connection and returns decoded rows
// (spec.md §4.1's `query(token?, sql, args)`). token is the zero Token
// when called outside a transaction.
func (a *Actor) Query(ctx context.Context, token reentrant.Token, query string, args ...any) ([]rowcodec.Row, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if err := a.txSem.Wait(ctx, token); err != nil {
		return nil, err
	}
	defer a.txSem.Signal(token)

	bound, err := bindArgs(args)
	if err != nil {
		return nil, fmt.Errorf("dbactor: %w: %v", dberrors.ErrBadArgument, err)
	}

	var rows *sql.Rows
	err = a.withBusyRetry(func() error {
		a.mu.Lock()
		db := a.db
		a.mu.Unlock()
		if db == nil {
			return dberrors.ErrDatabaseClosed
		}
		stmt, perr := a.prepare(ctx, db, query)
		if perr != nil {
			return fmt.Errorf("%w: %v", dberrors.ErrQueryPrepareFailed, perr)
		}
		r, qerr := stmt.QueryContext(ctx, bound...)
		if qerr != nil {
			return qerr
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, classifyExecError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dbactor: %w: %v", dberrors.ErrBadResult, err)
	}

	var out []rowcodec.Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("dbactor: %w: %v", dberrors.ErrBadResult, err)
		}
		row := make(rowcodec.Row, len(cols))
		for i, c := range cols {
			row[c] = rowcodec.FromAny(raw[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbactor: %w: %v", dberrors.ErrBadResult, err)
	}
	return out, nil
}

// Execute runs a write statement and returns the number of affected rows
// (spec.md §4.1's `execute(token?, sql, args)`).
func (a *Actor) Execute(ctx context.Context, token reentrant.Token, query string, args ...any) (int64, error) {
	if err := a.checkOpen(); err != nil {
		return 0, err
	}
	if err := a.txSem.Wait(ctx, token); err != nil {
		return 0, err
	}
	defer a.txSem.Signal(token)

	bound, err := bindArgs(args)
	if err != nil {
		return 0, fmt.Errorf("dbactor: %w: %v", dberrors.ErrBadArgument, err)
	}

	var affected int64
	err = a.withBusyRetry(func() error {
		a.mu.Lock()
		db := a.db
		a.mu.Unlock()
		if db == nil {
			return dberrors.ErrDatabaseClosed
		}
		stmt, perr := a.prepare(ctx, db, query)
		if perr != nil {
			return fmt.Errorf("%w: %v", dberrors.ErrQueryPrepareFailed, perr)
		}
		res, eerr := stmt.ExecContext(ctx, bound...)
		if eerr != nil {
			return eerr
		}
		n, _ := res.RowsAffected()
		affected = n
		return nil
	})
	if err != nil {
		return 0, classifyExecError(err)
	}
	return affected, nil
}

// withBusyRetry retries fn up to BusyRetryAttempts times with
// BusyRetrySleep between attempts whenever SQLite reports busy/locked
// (spec.md §4.1/§5); a unique-constraint violation is never retried.
func (a *Actor) withBusyRetry(fn func() error) error {
	attempts := a.opts.BusyRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := a.opts.BusyRetrySleep
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusyOrLocked(err) {
			return err
		}
		time.Sleep(sleep)
	}
	return lastErr
}

func isBusyOrLocked(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func classifyExecError(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.Code == sqlite3.ErrConstraint && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %v", dberrors.ErrUniqueConstraintViolated, err)
		}
	}
	if errors.Is(err, dberrors.ErrDatabaseClosed) {
		return err
	}
	return fmt.Errorf("%w: %v", dberrors.ErrQueryExecFailed, err)
}
