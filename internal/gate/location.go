package gate

import (
	"context"
	"sync"
)

// Location tracks the view the user is on. It is the Navigator used by the
// agent; only granted attempts move it.
type Location struct {
	mu      sync.RWMutex
	current string
	visits  int
}

func NewLocation(start string) *Location {
	return &Location{current: start}
}

func (l *Location) Navigate(_ context.Context, target string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = target
	l.visits++
	return nil
}

func (l *Location) Current() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Visits counts navigations since start.
func (l *Location) Visits() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.visits
}
