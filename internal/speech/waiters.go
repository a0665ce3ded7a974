package speech

import (
	"context"
	"errors"
	"sync"
)

// errAbandoned is returned by a flight whose waiters all gave up before it
// finished. A caller that is still waiting when it sees this error joined
// the flight late and starts a new one.
var errAbandoned = errors.New("speech: request abandoned by every waiter")

// waiters is the set of callers sharing one flight. Its context outlives any
// single caller and is cancelled when the last of them leaves.
type waiters struct {
	ctx    context.Context
	cancel context.CancelFunc
	n      int
}

type waitSet struct {
	mu    sync.Mutex
	byKey map[string]*waiters
}

// join registers a caller for key and returns the flight context together
// with the function the caller must call once it stops waiting. The flight
// context carries the values of the caller that created it.
func (s *waitSet) join(ctx context.Context, key string) (context.Context, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		s.byKey = make(map[string]*waiters)
	}
	w, ok := s.byKey[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		w = &waiters{ctx: fctx, cancel: cancel}
		s.byKey[key] = w
	}
	w.n++

	var once sync.Once
	return w.ctx, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			w.n--
			if w.n > 0 {
				return
			}
			w.cancel()
			if s.byKey[key] == w {
				delete(s.byKey, key)
			}
		})
	}
}
