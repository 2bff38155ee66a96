package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/daviddao/crdtstore/pkg/broadcast"
	"github.com/daviddao/crdtstore/pkg/crdt"
	"github.com/daviddao/crdtstore/pkg/frontier"
)

// ErrDuplicateNode is returned when a cluster already has a store for a
// node id.
var ErrDuplicateNode = errors.New("store: duplicate node")

// Cluster groups the stores of one simulation. Its stores share a logger,
// metrics, journal and delivery tracker, so the cluster can tell when
// replication has gone quiet.
type Cluster struct {
	cfg config

	mu     sync.Mutex
	stores map[string]*Store
}

// NewCluster returns an empty cluster. A tracker is created unless one is
// passed with WithTracker.
func NewCluster(opts ...Option) *Cluster {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.tracker == nil {
		cfg.tracker = broadcast.NewTracker()
	}
	return &Cluster{cfg: cfg, stores: make(map[string]*Store)}
}

// NewStore adds a store for nodeID.
func (c *Cluster) NewStore(nodeID string) (*Store, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("node id: %w", crdt.ErrMissingID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.stores[nodeID]; ok {
		return nil, fmt.Errorf("%s: %w", nodeID, ErrDuplicateNode)
	}
	s := newStore(nodeID, c.cfg)
	c.stores[nodeID] = s
	return s, nil
}

// Store returns the store of nodeID.
func (c *Cluster) Store(nodeID string) (*Store, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stores[nodeID]
	return s, ok
}

// Stores returns all stores ordered by node id.
func (c *Cluster) Stores() []*Store {
	c.mu.Lock()
	out := make([]*Store, 0, len(c.stores))
	for _, s := range c.stores {
		out = append(out, s)
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b *Store) int { return strings.Compare(a.nodeID, b.nodeID) })
	return out
}

// Settle blocks until no command or definition is pending delivery anywhere
// in the cluster, or ctx is done.
func (c *Cluster) Settle(ctx context.Context) error {
	return c.cfg.tracker.Wait(ctx)
}

// Pending returns the number of deliveries still outstanding.
func (c *Cluster) Pending() int {
	return c.cfg.tracker.Pending()
}

// Frontier reports how far the replicas of crdtID have converged across the
// stores hosting one, judged by the commands each replica has observed.
func (c *Cluster) Frontier(crdtID string) frontier.Status {
	var stamps []frontier.Stamp
	for _, s := range c.Stores() {
		if r, ok := s.FindReplica(crdtID); ok {
			stamps = append(stamps, frontier.Stamp{NodeID: s.nodeID, Clock: r.Clock(), Seen: r.Seen()})
		}
	}
	return frontier.ComputeStatus(stamps)
}

// Close closes every store.
func (c *Cluster) Close() {
	for _, s := range c.Stores() {
		s.Close()
	}
}
