// Package frontier reports how far the replicas of one CRDT have converged.
//
// Every replica remembers the keys of the commands it has observed: the ones
// it emitted and every one delivered to it, whether it accepted them or not.
// A replica's clock is not a usable summary of that history, since some CRDTs
// bump their own entry on every accepted command and others never merge the
// clocks of some command kinds. The frontier is the antichain of the largest
// histories: a replica is on the frontier iff no other replica has observed
// strictly more. Replicas off the frontier are behind; they catch up once the
// commands they miss are delivered. When every replica has observed the same
// commands, the replicas show the same state.
package frontier

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/daviddao/crdtstore/pkg/clock"
)

// Stamp is the observed history of one replica. Clock is carried for
// reporting only.
type Stamp struct {
	NodeID string             `json:"node_id"`
	Clock  clock.VectorClock  `json:"clock"`
	Seen   mapset.Set[string] `json:"-"`
}

// Observed returns the number of commands the replica has observed.
func (s Stamp) Observed() int {
	return s.seen().Cardinality()
}

func (s Stamp) seen() mapset.Set[string] {
	if s.Seen == nil {
		return mapset.NewThreadUnsafeSet[string]()
	}
	return s.Seen
}

// ComputeFrontier returns the antichain of maximal stamps. A stamp p is in
// the frontier iff no other stamp q has observed a strict superset of p.
func ComputeFrontier(stamps []Stamp) []Stamp {
	var frontier []Stamp
	for _, p := range stamps {
		dominated := false
		for _, q := range stamps {
			if q.NodeID != p.NodeID && q.seen().IsProperSuperset(p.seen()) {
				dominated = true
				break
			}
		}
		if !dominated {
			frontier = append(frontier, p)
		}
	}
	return frontier
}

// Status is the convergence summary of a set of replicas.
type Status struct {
	Converged bool    `json:"converged"`
	Frontier  []Stamp `json:"frontier"`
	Behind    []Stamp `json:"behind,omitempty"`
}

// ComputeStatus summarises stamps. An empty or single-replica input counts
// as converged.
func ComputeStatus(stamps []Stamp) Status {
	f := ComputeFrontier(stamps)
	status := Status{Converged: true, Frontier: f}
	for i, p := range stamps {
		if i > 0 && !p.seen().Equal(stamps[0].seen()) {
			status.Converged = false
		}
		onFrontier := false
		for _, q := range f {
			if q.NodeID == p.NodeID {
				onFrontier = true
				break
			}
		}
		if !onFrontier {
			status.Behind = append(status.Behind, p)
		}
	}
	return status
}
