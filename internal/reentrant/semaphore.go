// Package reentrant implements the token-keyed counting semaphore
// described in spec.md §4.2 (C2): a resource normally serialized to one
// worker, but re-entrant for whichever logical scope ("token") currently
// holds it, so that nested transactions do not deadlock against
// themselves.
package reentrant

import (
	"container/list"
	"context"
	"sync"

	"github.com/google/uuid"
)

// Token identifies a logical scope allowed to re-enter a held Semaphore.
// The zero Token is never issued by NewToken and is treated as "no token"
// by Wait/Signal.
type Token uuid.UUID

// NewToken mints a fresh token, used by the database actor (C1) once per
// transaction (spec.md §4.1).
func NewToken() Token { return Token(uuid.New()) }

func (t Token) IsZero() bool { return t == Token{} }

// String renders the token in canonical UUID form, used by the database
// actor (C1) to name SAVEPOINTs.
func (t Token) String() string { return uuid.UUID(t).String() }

// Semaphore is the re-entrant counting semaphore of spec.md §4.2.
type Semaphore struct {
	mu       sync.Mutex
	allowed  int
	count    int
	depth    map[Token]int
	waiters  *list.List // of chan struct{}
}

// New creates a Semaphore permitting allowedWorkers concurrent non-reentrant
// holders (default 1 per spec.md §4.2).
func New(allowedWorkers int) *Semaphore {
	if allowedWorkers < 1 {
		allowedWorkers = 1
	}
	return &Semaphore{
		allowed: allowedWorkers,
		depth:   make(map[Token]int),
		waiters: list.New(),
	}
}

// Wait acquires the semaphore for token. If token already holds it (depth
// > 0), the depth is incremented and Wait returns immediately -- this is
// the re-entrance spec.md §4.2 describes. A zero Token never re-enters; it
// always counts as a fresh acquisition.
func (s *Semaphore) Wait(ctx context.Context, token Token) error {
	s.mu.Lock()
	if !token.IsZero() {
		if d, ok := s.depth[token]; ok && d > 0 {
			s.depth[token] = d + 1
			s.mu.Unlock()
			return nil
		}
	}
	if s.count < s.allowed {
		s.count++
		if !token.IsZero() {
			s.depth[token] = 1
		}
		s.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	elem := s.waiters.PushBack(ch)
	s.mu.Unlock()

	select {
	case <-ch:
		// Signal handed our slot off directly without touching s.count;
		// the count already reflects us as the holder.
		s.mu.Lock()
		if !token.IsZero() {
			s.depth[token] = 1
		}
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ch:
			// Lost the race: Signal already handed the slot to us after
			// ctx fired. We don't want it, so pass it along instead of
			// leaking a held slot.
			s.mu.Unlock()
			s.Signal(Token{})
		default:
			s.waiters.Remove(elem)
			s.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Signal releases one level of token's hold. If token's depth drops to
// zero (or token is the zero Token), the slot is handed directly to the
// oldest waiter, if any, without ever changing s.count; only when there is
// no waiter to hand off to does the counter decrement. This keeps
// ownership transfer atomic under s.mu so a freshly-arriving Wait can
// never race the woken waiter for the same slot.
func (s *Semaphore) Signal(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !token.IsZero() {
		d := s.depth[token]
		if d > 1 {
			s.depth[token] = d - 1
			return
		}
		delete(s.depth, token)
	}

	if front := s.waiters.Front(); front != nil {
		s.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}

	if s.count > 0 {
		s.count--
	}
}

// Depth reports token's current re-entrance depth (0 if not held).
func (s *Semaphore) Depth(token Token) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth[token]
}
