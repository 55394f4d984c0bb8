// Package locker provides the non-blocking per-participant locks the pairing engine
// takes around a claim so that two concurrent attempts never fight over the same pair.
// The locks only reduce wasted claims; correctness rests on the store's atomic claim.
package locker

import (
	"context"
	"sync"
)

type Locker interface {
	// TryLock never blocks; false means somebody else holds the key.
	TryLock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryLock(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = struct{}{}
	return true, nil
}

func (l *Local) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func (l *Local) Close() error { return nil }

// Held reports how many keys are locked right now.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// TryLockPair locks a and b in sorted order. On any failure nothing stays locked.
// The returned release func is non-nil only when ok is true.
func TryLockPair(ctx context.Context, l Locker, a, b string) (release func(), ok bool, err error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	ok, err = l.TryLock(ctx, first)
	if err != nil || !ok {
		return nil, false, err
	}
	ok, err = l.TryLock(ctx, second)
	if err != nil || !ok {
		_ = l.Unlock(context.WithoutCancel(ctx), first)
		return nil, false, err
	}

	return func() {
		unlockCtx := context.WithoutCancel(ctx)
		_ = l.Unlock(unlockCtx, second)
		_ = l.Unlock(unlockCtx, first)
	}, true, nil
}
