package sessions

import (
	"context"
	"sync"
)

// lanes serializes work per session. Each lane is a buffered-1 channel used
// as a mutex that can be abandoned when the caller's context ends. A lane is
// dropped once nobody holds or waits for it.
type lanes struct {
	mu sync.Mutex
	m  map[string]*lane
}

type lane struct {
	slot chan struct{}
	refs int
}

func newLanes() *lanes {
	return &lanes{m: make(map[string]*lane)}
}

// acquire blocks until the lane for id is free or ctx is done.
func (l *lanes) acquire(ctx context.Context, id string) (release func(), err error) {
	l.mu.Lock()
	ln, ok := l.m[id]
	if !ok {
		ln = &lane{slot: make(chan struct{}, 1)}
		l.m[id] = ln
	}
	ln.refs++
	l.mu.Unlock()

	select {
	case ln.slot <- struct{}{}:
		return func() {
			<-ln.slot
			l.done(id, ln)
		}, nil
	case <-ctx.Done():
		l.done(id, ln)
		return nil, ctx.Err()
	}
}

func (l *lanes) done(id string, ln *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln.refs--
	if ln.refs == 0 {
		delete(l.m, id)
	}
}

// size reports how many lanes are live.
func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
