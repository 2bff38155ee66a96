package crdt

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/daviddao/crdtstore/pkg/broadcast"
	"github.com/daviddao/crdtstore/pkg/clock"
	"github.com/daviddao/crdtstore/pkg/model"
)

// Bias decides membership when an element's add and remove carry clocks
// that Compare as equal.
type Bias int

const (
	BiasAdd Bias = iota
	BiasRemove
)

func (b Bias) String() string {
	if b == BiasRemove {
		return "remove"
	}
	return "add"
}

// SetOp is the operation of a SetCommand.
type SetOp int

const (
	OpAdd SetOp = iota
	OpRemove
)

func (o SetOp) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	}
	return fmt.Sprintf("SetOp(%d)", int(o))
}

func (o SetOp) kind() model.CommandKind {
	if o == OpRemove {
		return model.KindSetRemove
	}
	return model.KindSetAdd
}

// SetCommand adds or removes one element of an ElementSet.
type SetCommand[E comparable] struct {
	CRDT    string
	Op      SetOp
	Element E
	Clock   clock.VectorClock
}

func (c SetCommand[E]) CRDTID() string { return c.CRDT }

func (c SetCommand[E]) Key() string { return commandKey(c.Op.kind(), c.Clock) }

func (c SetCommand[E]) Envelope() model.Envelope {
	return model.Envelope{CRDTID: c.CRDT, Kind: c.Op.kind(), Clock: c.Clock, Value: c.Element}
}

// SetOption configures an ElementSet.
type SetOption func(*setConfig)

type setConfig struct {
	bias Bias
}

// WithBias sets the tie-break between concurrent adds and removes. The
// default is BiasAdd.
func WithBias(b Bias) SetOption {
	return func(c *setConfig) { c.bias = b }
}

// ElementSet is a last-writer-wins element set. For every element it keeps
// the clock of the latest add and of the latest remove; the element is a
// member iff its add is newer than its remove, ties going to the bias.
type ElementSet[E comparable] struct {
	base
	bias     Bias
	adds     map[E]clock.VectorClock
	removes  map[E]clock.VectorClock
	elements mapset.Set[E]
	clock    clock.VectorClock
}

// NewElementSet returns an empty set replica of crdtID on node nodeID.
func NewElementSet[E comparable](nodeID, crdtID string, opts ...SetOption) (*ElementSet[E], error) {
	cfg := setConfig{bias: BiasAdd}
	for _, o := range opts {
		o(&cfg)
	}
	s := &ElementSet[E]{
		bias:     cfg.bias,
		adds:     make(map[E]clock.VectorClock),
		removes:  make(map[E]clock.VectorClock),
		elements: mapset.NewThreadUnsafeSet[E](),
		clock:    clock.New(nodeID),
	}
	if err := s.init(s, nodeID, crdtID); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ElementSet[E]) Type() string { return "set" }

func (s *ElementSet[E]) Bias() Bias { return s.bias }

func (s *ElementSet[E]) Clock() clock.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Get returns a snapshot of the members.
func (s *ElementSet[E]) Get() mapset.Set[E] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements.Clone()
}

func (s *ElementSet[E]) Contains(e E) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements.Contains(e)
}

func (s *ElementSet[E]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements.Cardinality()
}

// Add records an add of e at a fresh clock and publishes it.
func (s *ElementSet[E]) Add(e E) error {
	return s.local(OpAdd, e)
}

// Remove records a remove of e at a fresh clock and publishes it. Removing an
// element that is not a member is still recorded.
func (s *ElementSet[E]) Remove(e E) error {
	return s.local(OpRemove, e)
}

func (s *ElementSet[E]) local(op SetOp, e E) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Increment()
	s.record(op, e, s.clock)
	return s.publish(SetCommand[E]{CRDT: s.crdtID, Op: op, Element: e, Clock: s.clock})
}

func (s *ElementSet[E]) record(op SetOp, e E, at clock.VectorClock) {
	if op == OpRemove {
		s.removes[e] = at
	} else {
		s.adds[e] = at
	}

	added, hasAdd := s.adds[e]
	removed, hasRemove := s.removes[e]
	member := false
	switch {
	case !hasAdd:
	case !hasRemove:
		member = true
	default:
		cmp := added.Compare(removed)
		member = cmp > 0 || (cmp == 0 && s.bias == BiasAdd)
	}
	if member {
		s.elements.Add(e)
	} else {
		s.elements.Remove(e)
	}
}

// Apply accepts an add or remove that is newer than the last one of the same
// kind recorded for its element. Accepting advances the local clock past the
// command's.
func (s *ElementSet[E]) Apply(cmd Command) (Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(cmd)
}

func (s *ElementSet[E]) apply(cmd Command) (Command, bool) {
	c, ok := cmd.(SetCommand[E])
	if !ok || c.CRDT != s.crdtID {
		return nil, false
	}
	last, seen := s.adds[c.Element]
	if c.Op == OpRemove {
		last, seen = s.removes[c.Element]
	}
	if seen && !last.Less(c.Clock) {
		return nil, false
	}
	s.clock = s.clock.Merge(c.Clock).Increment()
	s.record(c.Op, c.Element, c.Clock)
	return c, true
}

func (s *ElementSet[E]) Attach(ctx context.Context, stream *broadcast.Log[Command]) *broadcast.Subscription {
	return s.attach(ctx, stream, s.apply)
}
