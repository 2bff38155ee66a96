// Package model defines the interchange types of crdtstore.
//
// Replicas exchange typed commands in memory. Anything that has to leave the
// process, such as the command journal or a future network transport, uses
// the flat Envelope below instead. An Envelope keeps every field a replica
// needs to apply the command: the CRDT identifier, the command kind, the
// full vector clock (owning key and entries) and the element values.
package model

import (
	"strings"
	"time"

	"github.com/daviddao/crdtstore/pkg/clock"
)

// CommandKind enumerates the command variants of all CRDT types.
type CommandKind string

const (
	KindRegisterSet       CommandKind = "register.set"
	KindSetAdd            CommandKind = "set.add"
	KindSetRemove         CommandKind = "set.remove"
	KindGraphAddVertex    CommandKind = "graph.add_vertex"
	KindGraphRemoveVertex CommandKind = "graph.remove_vertex"
	KindGraphAddEdge      CommandKind = "graph.add_edge"
	KindGraphRemoveEdge   CommandKind = "graph.remove_edge"
	KindListAddRight      CommandKind = "list.add_right"
	KindListRemove        CommandKind = "list.remove"
)

// Type returns the CRDT family a command kind belongs to.
func (k CommandKind) Type() string {
	family, _, _ := strings.Cut(string(k), ".")
	return family
}

// Envelope is the transport form of a command.
type Envelope struct {
	CRDTID string            `json:"crdt_id"`
	Kind   CommandKind       `json:"kind"`
	Clock  clock.VectorClock `json:"clock"`
	// Anchor is the clock of the vertex a list insert goes after.
	Anchor *clock.VectorClock `json:"anchor,omitempty"`
	Value  any                `json:"value,omitempty"`
	// Other is the second endpoint of a graph edge.
	Other any `json:"other,omitempty"`
}

// Outcome describes what a node did with a command.
type Outcome string

const (
	// OutcomeEmitted marks a command produced by a local mutation.
	OutcomeEmitted Outcome = "emitted"
	// OutcomeAccepted marks a remote command that changed local state.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeRejected marks a stale, duplicate or causally unready command.
	OutcomeRejected Outcome = "rejected"
)

// Record is one row of the command journal.
type Record struct {
	ID        int64       `json:"id"`
	NodeID    string      `json:"node_id"`
	CRDTID    string      `json:"crdt_id"`
	CRDTType  string      `json:"crdt_type"`
	Kind      CommandKind `json:"kind"`
	Origin    string      `json:"origin"`
	Clock     string      `json:"clock"`
	Outcome   Outcome     `json:"outcome"`
	Payload   string      `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
