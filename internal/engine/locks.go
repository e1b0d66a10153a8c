package engine

import (
	"context"
	"sync"

	"planline/internal/sched"
)

// projectLocks serializes schedule runs and structural edits per project.
// Each project gets a one-slot semaphore; waiters queue in arrival order
// unless the caller opts out, and a context expiring while waiting
// surfaces as ErrScheduleBusy.
type projectLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newProjectLocks() *projectLocks {
	return &projectLocks{slots: make(map[string]chan struct{})}
}

func (l *projectLocks) slot(projectID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[projectID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[projectID] = ch
	}
	return ch
}

// acquire takes the project slot. With wait=false a held slot fails
// immediately with ErrScheduleBusy.
func (l *projectLocks) acquire(ctx context.Context, projectID string, wait bool) (func(), error) {
	ch := l.slot(projectID)
	if !wait {
		select {
		case ch <- struct{}{}:
			return func() { <-ch }, nil
		default:
			return nil, sched.ErrScheduleBusy
		}
	}
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, sched.ErrScheduleBusy
	}
}
