package crdt

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/daviddao/crdtstore/pkg/broadcast"
	"github.com/daviddao/crdtstore/pkg/clock"
	"github.com/daviddao/crdtstore/pkg/model"
)

// ListAddRight inserts Value immediately right of the vertex identified by
// Anchor, subject to the ordering of concurrent inserts.
type ListAddRight[E any] struct {
	CRDT   string
	Anchor clock.VectorClock
	Value  E
	Clock  clock.VectorClock
}

func (c ListAddRight[E]) CRDTID() string { return c.CRDT }

func (c ListAddRight[E]) Key() string { return commandKey(model.KindListAddRight, c.Clock) }

func (c ListAddRight[E]) Envelope() model.Envelope {
	anchor := c.Anchor
	return model.Envelope{CRDTID: c.CRDT, Kind: model.KindListAddRight, Clock: c.Clock, Anchor: &anchor, Value: c.Value}
}

// ListRemove tombstones the vertex identified by Clock.
type ListRemove struct {
	CRDT  string
	Clock clock.VectorClock
}

func (c ListRemove) CRDTID() string { return c.CRDT }

func (c ListRemove) Key() string { return commandKey(model.KindListRemove, c.Clock) }

func (c ListRemove) Envelope() model.Envelope {
	return model.Envelope{CRDTID: c.CRDT, Kind: model.KindListRemove, Clock: c.Clock}
}

const (
	listStart = 0
	listEnd   = -1
)

type rgaVertex[E any] struct {
	value   E
	clock   clock.VectorClock
	removed bool
	next    int
}

// RGA is a replicated growable array. Elements form a singly linked list
// behind a start sentinel whose clock has no entries and is therefore the
// same on every replica. Removal leaves a tombstone; the list only grows.
//
// Inserts are applied only once their anchor is known. An insert that
// arrives before the insert that created its anchor is dropped, so the list
// relies on per-source ordered delivery.
type RGA[E any] struct {
	base
	vertices []rgaVertex[E]
	index    map[string]int
	size     int
	clock    clock.VectorClock
}

// NewRGA returns an empty list replica of crdtID on node nodeID.
func NewRGA[E any](nodeID, crdtID string) (*RGA[E], error) {
	sentinel := clock.New(nodeID)
	l := &RGA[E]{
		vertices: []rgaVertex[E]{{clock: sentinel, next: listEnd}},
		index:    map[string]int{sentinel.ID(): listStart},
		clock:    sentinel,
	}
	if err := l.init(l, nodeID, crdtID); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *RGA[E]) Type() string { return "list" }

func (l *RGA[E]) Clock() clock.VectorClock {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clock
}

// Size returns the number of live elements.
func (l *RGA[E]) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func (l *RGA[E]) Get(index int) (E, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, err := l.at(index)
	if err != nil {
		var zero E
		return zero, err
	}
	return l.vertices[h].value, nil
}

// Values returns the live elements in list order.
func (l *RGA[E]) Values() []E {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]E, 0, l.size)
	for h := l.vertices[listStart].next; h != listEnd; h = l.vertices[h].next {
		if !l.vertices[h].removed {
			out = append(out, l.vertices[h].value)
		}
	}
	return out
}

// All iterates over a snapshot of the live elements.
func (l *RGA[E]) All() iter.Seq[E] {
	return slices.Values(l.Values())
}

// Vertices returns every vertex in list order, tombstones included.
func (l *RGA[E]) Vertices() []Vertex[E] {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Vertex[E]
	for h := l.vertices[listStart].next; h != listEnd; h = l.vertices[h].next {
		v := l.vertices[h]
		out = append(out, Vertex[E]{Value: v.value, Clock: v.clock, Removed: v.removed})
	}
	return out
}

// Append inserts v after the last live element.
func (l *RGA[E]) Append(v E) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insert(l.size, v)
}

// Insert inserts v so that it becomes the element at index. Valid indexes
// run from 0 to Size inclusive.
func (l *RGA[E]) Insert(index int, v E) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insert(index, v)
}

func (l *RGA[E]) insert(index int, v E) error {
	if index < 0 || index > l.size {
		return fmt.Errorf("insert at %d of %d: %w", index, l.size, ErrIndexOutOfRange)
	}
	anchor := listStart
	if index > 0 {
		var err error
		if anchor, err = l.at(index - 1); err != nil {
			return err
		}
	}
	l.clock = l.clock.Increment()
	l.addRight(anchor, v, l.clock)
	return l.publish(ListAddRight[E]{CRDT: l.crdtID, Anchor: l.vertices[anchor].clock, Value: v, Clock: l.clock})
}

// Remove tombstones the element at index and returns it.
func (l *RGA[E]) Remove(index int) (E, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, err := l.at(index)
	if err != nil {
		var zero E
		return zero, err
	}
	v := &l.vertices[h]
	v.removed = true
	l.size--
	return v.value, l.publish(ListRemove{CRDT: l.crdtID, Clock: v.clock})
}

func (l *RGA[E]) Apply(cmd Command) (Command, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.apply(cmd)
}

func (l *RGA[E]) apply(cmd Command) (Command, bool) {
	switch c := cmd.(type) {
	case ListAddRight[E]:
		if c.CRDT != l.crdtID {
			return nil, false
		}
		if _, ok := l.index[c.Clock.ID()]; ok {
			return nil, false
		}
		l.clock = l.clock.Merge(c.Clock)
		anchor, ok := l.index[c.Anchor.ID()]
		if !ok {
			return nil, false
		}
		l.addRight(anchor, c.Value, c.Clock)
		return c, true
	case ListRemove:
		if c.CRDT != l.crdtID {
			return nil, false
		}
		h, ok := l.index[c.Clock.ID()]
		if !ok || h == listStart || l.vertices[h].removed {
			return nil, false
		}
		l.vertices[h].removed = true
		l.size--
		return c, true
	}
	return nil, false
}

func (l *RGA[E]) Attach(ctx context.Context, stream *broadcast.Log[Command]) *broadcast.Subscription {
	return l.attach(ctx, stream, l.apply)
}

// addRight links a new vertex after left, skipping right past every
// neighbour whose clock is greater than at.
func (l *RGA[E]) addRight(left int, v E, at clock.VectorClock) {
	right := l.vertices[left].next
	for right != listEnd && at.Less(l.vertices[right].clock) {
		left = right
		right = l.vertices[right].next
	}
	h := len(l.vertices)
	l.vertices = append(l.vertices, rgaVertex[E]{value: v, clock: at, next: right})
	l.vertices[left].next = h
	l.index[at.ID()] = h
	l.size++
}

// at returns the handle of the live element at index.
func (l *RGA[E]) at(index int) (int, error) {
	if index < 0 || index >= l.size {
		return 0, fmt.Errorf("index %d of %d: %w", index, l.size, ErrIndexOutOfRange)
	}
	i := 0
	for h := l.vertices[listStart].next; h != listEnd; h = l.vertices[h].next {
		if l.vertices[h].removed {
			continue
		}
		if i == index {
			return h, nil
		}
		i++
	}
	return 0, fmt.Errorf("index %d of %d: %w", index, l.size, ErrIndexOutOfRange)
}
