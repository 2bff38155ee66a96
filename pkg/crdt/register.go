package crdt

import (
	"context"

	"github.com/daviddao/crdtstore/pkg/broadcast"
	"github.com/daviddao/crdtstore/pkg/clock"
	"github.com/daviddao/crdtstore/pkg/model"
)

// RegisterCommand carries one write of a register.
type RegisterCommand[T comparable] struct {
	CRDT  string
	Value T
	Clock clock.VectorClock
}

func (c RegisterCommand[T]) CRDTID() string { return c.CRDT }

func (c RegisterCommand[T]) Key() string { return commandKey(model.KindRegisterSet, c.Clock) }

func (c RegisterCommand[T]) Envelope() model.Envelope {
	return model.Envelope{CRDTID: c.CRDT, Kind: model.KindRegisterSet, Clock: c.Clock, Value: c.Value}
}

// Register is a last-writer-wins register. The write with the greatest clock
// under clock.VectorClock.Compare wins on every replica.
type Register[T comparable] struct {
	base
	value T
	clock clock.VectorClock
}

// NewRegister returns an empty register replica of crdtID on node nodeID.
func NewRegister[T comparable](nodeID, crdtID string) (*Register[T], error) {
	r := &Register[T]{clock: clock.New(nodeID)}
	if err := r.init(r, nodeID, crdtID); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Register[T]) Type() string { return "register" }

// Get returns the current value, the zero value if nothing was written yet.
func (r *Register[T]) Get() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

func (r *Register[T]) Clock() clock.VectorClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock
}

// Set writes v. Writing the value the register already holds is a no-op.
func (r *Register[T]) Set(v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v == r.value {
		return nil
	}
	r.clock = r.clock.Increment()
	r.value = v
	return r.publish(RegisterCommand[T]{CRDT: r.crdtID, Value: v, Clock: r.clock})
}

func (r *Register[T]) Apply(cmd Command) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(cmd)
}

func (r *Register[T]) apply(cmd Command) (Command, bool) {
	c, ok := cmd.(RegisterCommand[T])
	if !ok || c.CRDT != r.crdtID {
		return nil, false
	}
	if !r.clock.Less(c.Clock) {
		return nil, false
	}
	r.clock = r.clock.Merge(c.Clock)
	r.value = c.Value
	return c, true
}

func (r *Register[T]) Attach(ctx context.Context, stream *broadcast.Log[Command]) *broadcast.Subscription {
	return r.attach(ctx, stream, r.apply)
}
