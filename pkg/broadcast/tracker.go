package broadcast

import (
	"context"
	"sync"
)

// Tracker counts deliveries that are pending across any number of logs.
// A delivery is pending from the moment an item becomes visible to a
// subscriber until that subscriber's handler has returned. Since handlers
// append their own follow-up items before they return, the count only
// reaches zero once every cascade of relayed commands has run out.
//
// A nil *Tracker is valid and tracks nothing.
type Tracker struct {
	mu      sync.Mutex
	pending int
	idle    chan struct{}
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{idle: idle}
}

func (t *Tracker) add(n int) {
	if t == nil || n == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.pending
	t.pending += n
	switch {
	case was == 0 && t.pending > 0:
		t.idle = make(chan struct{})
	case was > 0 && t.pending <= 0:
		t.pending = 0
		close(t.idle)
	}
}

// Pending returns the number of outstanding deliveries.
func (t *Tracker) Pending() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Wait blocks until no delivery is pending or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	for {
		t.mu.Lock()
		if t.pending == 0 {
			t.mu.Unlock()
			return nil
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}
