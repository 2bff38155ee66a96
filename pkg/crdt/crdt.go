// Package crdt implements operation-based CRDTs that replicate by exchanging
// commands: a last-writer-wins register, a last-writer-wins element set, a
// last-writer-wins element graph and a replicated growable array.
//
// Every replica follows the same contract. A local mutator updates the
// replica's state, advances its vector clock, and publishes a command on the
// replica's outgoing log, all while holding the replica's lock. Apply is the
// receiving side: it decides from the replica's clock whether a command is
// new, changes state if it is, and reports the decision. Attach feeds an
// upstream log into Apply and re-publishes every accepted command, which is
// what carries an update across replicas that are not directly connected.
//
// Apply never fails. Stale, duplicate, foreign and causally unready commands
// are rejected, and rejection is the only signal.
package crdt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/daviddao/crdtstore/pkg/broadcast"
	"github.com/daviddao/crdtstore/pkg/clock"
	"github.com/daviddao/crdtstore/pkg/model"
)

var (
	// ErrMissingID is returned when a replica is built without a node or
	// CRDT identifier.
	ErrMissingID = errors.New("crdt: missing identifier")
	// ErrIndexOutOfRange is returned by list operations given an index
	// outside the live elements.
	ErrIndexOutOfRange = errors.New("crdt: index out of range")
)

// Command is an immutable update of one CRDT instance.
type Command interface {
	// CRDTID names the instance the command belongs to.
	CRDTID() string
	// Key identifies the update. Two commands with the same key carry the
	// same update.
	Key() string
	// Envelope returns the transport form of the command.
	Envelope() model.Envelope
}

// Replica is the type-independent view of a CRDT instance that the store
// works with.
type Replica interface {
	ID() string
	NodeID() string
	// Type returns the CRDT family: register, set, graph or list.
	Type() string
	Clock() clock.VectorClock
	// Commands returns the outgoing log of the replica.
	Commands() *broadcast.Log[Command]
	// Apply decides on one command and returns it if it was accepted.
	Apply(cmd Command) (Command, bool)
	// Attach applies every command of stream and re-publishes the
	// accepted ones until ctx is cancelled or stream is closed.
	Attach(ctx context.Context, stream *broadcast.Log[Command]) *broadcast.Subscription
	// Observe installs o as the observer of emitted and applied commands.
	Observe(o Observer)
	// Seen returns the keys of every command the replica has emitted or
	// been delivered through Attach, accepted or not.
	Seen() mapset.Set[string]
}

// Observer is notified, under the replica's lock, of every command the
// replica emits and of every decision Attach makes. Implementations must not
// call back into the replica.
type Observer interface {
	Emitted(r Replica, cmd Command)
	Applied(r Replica, cmd Command, accepted bool)
}

// Vertex is an element together with the clock that created it. The clock
// is the vertex identity.
type Vertex[E any] struct {
	Value   E                 `json:"value"`
	Clock   clock.VectorClock `json:"clock"`
	Removed bool              `json:"removed,omitempty"`
}

func commandKey(kind model.CommandKind, c clock.VectorClock) string {
	return string(kind) + "|" + c.ID()
}

// base holds what every replica shares: identity, lock, outgoing log and
// observer.
type base struct {
	nodeID string
	crdtID string

	mu       sync.Mutex
	out      *broadcast.Log[Command]
	seen     mapset.Set[string]
	observer Observer
	self     Replica
}

func (b *base) init(self Replica, nodeID, crdtID string) error {
	if nodeID == "" {
		return fmt.Errorf("node id: %w", ErrMissingID)
	}
	if crdtID == "" {
		return fmt.Errorf("crdt id: %w", ErrMissingID)
	}
	b.nodeID = nodeID
	b.crdtID = crdtID
	b.out = broadcast.NewLog[Command]()
	b.seen = mapset.NewThreadUnsafeSet[string]()
	b.self = self
	return nil
}

func (b *base) ID() string { return b.crdtID }

func (b *base) NodeID() string { return b.nodeID }

func (b *base) Commands() *broadcast.Log[Command] { return b.out }

func (b *base) Seen() mapset.Set[string] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seen.Clone()
}

func (b *base) Observe(o Observer) {
	b.mu.Lock()
	b.observer = o
	b.mu.Unlock()
}

// publish emits a locally produced command. Callers hold b.mu.
func (b *base) publish(cmd Command) error {
	b.seen.Add(cmd.Key())
	if _, err := b.out.AppendUnique(cmd.Key(), cmd); err != nil {
		return fmt.Errorf("publish %s on %s: %w", cmd.Envelope().Kind, b.crdtID, err)
	}
	if b.observer != nil {
		b.observer.Emitted(b.self, cmd)
	}
	return nil
}

// attach subscribes to stream and runs every command through apply, which
// is called with b.mu held.
func (b *base) attach(ctx context.Context, stream *broadcast.Log[Command], apply func(Command) (Command, bool)) *broadcast.Subscription {
	return stream.Subscribe(ctx, func(cmd Command) {
		b.mu.Lock()
		defer b.mu.Unlock()

		if cmd != nil && cmd.CRDTID() == b.crdtID {
			b.seen.Add(cmd.Key())
		}
		accepted, ok := apply(cmd)
		if ok {
			// A closed outgoing log only stops relaying; the state change
			// stays applied.
			_, _ = b.out.AppendUnique(accepted.Key(), accepted)
		}
		if b.observer != nil {
			b.observer.Applied(b.self, cmd, ok)
		}
	})
}
