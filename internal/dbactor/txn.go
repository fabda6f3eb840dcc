package dbactor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/autodb/autodb/internal/logging"
	"github.com/autodb/autodb/internal/reentrant"
)

// Transaction runs action under a fresh SAVEPOINT, passing action the
// token it must thread through every Query/Execute call it makes
// (spec.md §4.1). Queries issued with that token re-enter the semaphore.
// Every Transaction call mints a fresh token and has no way to receive
// the outer one, so a Transaction started from inside another
// transaction's action waits on the outer one forever, as does a query
// issued without the token; the optional watchdog surfaces that hang.
//
// Methods cannot carry their own type parameters in Go, so Transaction is
// a package-level generic function taking the Actor explicitly rather
// than a method on *Actor.
func Transaction[R any](ctx context.Context, a *Actor, action func(ctx context.Context, token reentrant.Token) (R, error)) (R, error) {
	var zero R
	if err := a.checkOpen(); err != nil {
		return zero, err
	}

	token := reentrant.NewToken()
	if err := a.txSem.Wait(ctx, token); err != nil {
		return zero, err
	}
	defer a.txSem.Signal(token)

	stopWatchdog := a.armWatchdog(token)
	defer stopWatchdog()

	savepoint := fmt.Sprintf(`SAVEPOINT "%s"`, token.String())
	if _, err := a.Execute(ctx, token, savepoint); err != nil {
		return zero, err
	}

	result, actionErr := action(ctx, token)

	if actionErr != nil {
		rollback := fmt.Sprintf(`ROLLBACK TO "%s"`, token.String())
		a.Execute(ctx, token, rollback) //nolint:errcheck // best effort; actionErr is authoritative
		release := fmt.Sprintf(`RELEASE "%s"`, token.String())
		a.Execute(ctx, token, release) //nolint:errcheck
		return zero, actionErr
	}

	release := fmt.Sprintf(`RELEASE "%s"`, token.String())
	if _, err := a.Execute(ctx, token, release); err != nil {
		return zero, err
	}
	return result, nil
}

// armWatchdog starts the optional deadlock watchdog (spec.md §4.1/§5): if
// the transaction has not completed within WatchdogWait, the process is
// killed so a stuck re-entrant call (issued without the transaction's
// token) surfaces loudly instead of hanging forever.
func (a *Actor) armWatchdog(token reentrant.Token) func() {
	if a.opts.WatchdogWait <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-time.After(a.opts.WatchdogWait):
			logging.GetLogger("dbactor").Error("transaction watchdog fired, killing process", "token", token.String())
			os.Exit(1)
		}
	}()
	return func() { close(done) }
}
