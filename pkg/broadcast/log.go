// Package broadcast provides the multicast channel replicas use to publish
// their commands.
//
// A Log is an append-only sequence. Every subscriber owns a cursor that
// starts at zero, so a new subscriber first receives the full backlog in
// order and then every later item. This is how a freshly connected or
// reconnected replica catches up with the complete history instead of only
// future updates.
//
// Each subscription runs its handler on its own goroutine, one item at a
// time and in log order. A subscription ends when its context is cancelled,
// when the log is closed and fully drained, or when the handler panics.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when appending to a closed log.
var ErrClosed = errors.New("broadcast: log closed")

// Log is an append-only multicast log with full replay on subscribe.
type Log[T any] struct {
	mu      sync.Mutex
	items   []T
	seen    map[string]struct{}
	subs    map[*Subscription]struct{}
	wake    chan struct{}
	closed  bool
	tracker *Tracker
}

// NewLog returns an empty, open log.
func NewLog[T any]() *Log[T] {
	return &Log[T]{
		seen: make(map[string]struct{}),
		subs: make(map[*Subscription]struct{}),
		wake: make(chan struct{}),
	}
}

// Track makes the log report pending deliveries to t. Deliveries already
// pending are accounted for immediately.
func (l *Log[T]) Track(t *Tracker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tracker == t {
		return
	}
	pending := 0
	for s := range l.subs {
		pending += len(l.items) - s.cursor
	}
	l.tracker.add(-pending)
	l.tracker = t
	l.tracker.add(pending)
}

// Append adds item to the end of the log.
func (l *Log[T]) Append(item T) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(item)
}

// AppendUnique adds item unless an item with the same key was appended
// before. It reports whether the item was added.
func (l *Log[T]) AppendUnique(key string, item T) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	if err := l.appendLocked(item); err != nil {
		return false, err
	}
	l.seen[key] = struct{}{}
	return true, nil
}

func (l *Log[T]) appendLocked(item T) error {
	if l.closed {
		return ErrClosed
	}
	l.items = append(l.items, item)
	l.tracker.add(len(l.subs))
	close(l.wake)
	l.wake = make(chan struct{})
	return nil
}

// Len returns the number of items appended so far.
func (l *Log[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Items returns a copy of the log contents.
func (l *Log[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Subscribers returns the number of live subscriptions.
func (l *Log[T]) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Close completes the log. Further appends fail with ErrClosed; existing
// subscribers drain what is left and then stop.
func (l *Log[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.wake)
}

// Subscribe starts delivering every item of the log, beginning with the
// first one, to handler until ctx is cancelled or the log is closed.
func (l *Log[T]) Subscribe(ctx context.Context, handler func(T)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{cancel: cancel, done: make(chan struct{})}

	l.mu.Lock()
	l.subs[s] = struct{}{}
	l.tracker.add(len(l.items))
	l.mu.Unlock()

	go l.deliver(ctx, s, handler)
	return s
}

func (l *Log[T]) deliver(ctx context.Context, s *Subscription, handler func(T)) {
	defer close(s.done)
	defer l.detach(s)
	defer func() {
		if r := recover(); r != nil {
			s.setErr(fmt.Errorf("broadcast: subscriber panicked: %v", r))
		}
	}()

	for {
		l.mu.Lock()
		if s.cursor < len(l.items) && ctx.Err() == nil {
			item := l.items[s.cursor]
			l.mu.Unlock()

			handler(item)

			l.mu.Lock()
			s.cursor++
			l.tracker.add(-1)
			l.mu.Unlock()
			continue
		}
		if l.closed || ctx.Err() != nil {
			l.mu.Unlock()
			return
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-ctx.Done():
		case <-wake:
		}
	}
}

func (l *Log[T]) detach(s *Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[s]; !ok {
		return
	}
	delete(l.subs, s)
	l.tracker.add(-(len(l.items) - s.cursor))
	s.cancel()
}

// Subscription is a handle on one subscriber of a Log.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	cursor int

	mu  sync.Mutex
	err error
}

// Cancel stops delivery. It does not wait for an in-flight handler.
func (s *Subscription) Cancel() { s.cancel() }

// Done is closed once the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the failure that tore the subscription down, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
