// Package store hosts CRDT replicas on a node and replicates them between
// nodes.
//
// A Store owns one replica per CRDT identifier. Every replica it creates, or
// materializes on behalf of a peer, is announced on the store's definition
// log. Connecting two stores subscribes each to the other's definition log;
// for every definition received, the store finds or builds its own replica
// of that CRDT and attaches it to the peer replica's command log. Since every
// log replays its full history to a new subscriber, a reconnected store
// catches up on everything it missed while partitioned.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/daviddao/crdtstore/pkg/broadcast"
	"github.com/daviddao/crdtstore/pkg/crdt"
	"github.com/daviddao/crdtstore/pkg/logging"
	"github.com/daviddao/crdtstore/pkg/model"
)

var (
	// ErrUnknownType is returned when no factory is registered for a type.
	ErrUnknownType = errors.New("store: unknown crdt type")
	// ErrTypeMismatch is returned when an identifier is already taken by a
	// CRDT of another type.
	ErrTypeMismatch = errors.New("store: crdt type mismatch")
)

// Journal receives one record per command a store observes.
type Journal interface {
	Record(r *model.Record) (int64, error)
}

type config struct {
	logger  *slog.Logger
	metrics *Metrics
	tracker *broadcast.Tracker
	journal Journal
}

// Option configures a Store or a Cluster.
type Option func(*config)

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

func WithMetrics(m *Metrics) Option { return func(c *config) { c.metrics = m } }

// WithTracker makes every log of the store report pending deliveries to t.
func WithTracker(t *broadcast.Tracker) Option { return func(c *config) { c.tracker = t } }

func WithJournal(j Journal) Option { return func(c *config) { c.journal = j } }

type factory func(nodeID, crdtID string) (crdt.Replica, error)

type entry struct {
	replica crdt.Replica
	typ     reflect.Type
}

// Store is the set of replicas hosted by one node.
type Store struct {
	nodeID string
	cfg    config
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	crdts       *xsync.MapOf[string, entry]
	factories   *xsync.MapOf[reflect.Type, factory]
	peers       *xsync.MapOf[*Store, context.CancelFunc]
	definitions *broadcast.Log[Definition]
}

// New returns a store for node nodeID with the default factories
// registered.
func New(nodeID string, opts ...Option) (*Store, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("node id: %w", crdt.ErrMissingID)
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	return newStore(nodeID, cfg), nil
}

func newStore(nodeID string, cfg config) *Store {
	if cfg.logger == nil {
		cfg.logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		nodeID:      nodeID,
		cfg:         cfg,
		log:         cfg.logger.With("node", nodeID),
		ctx:         ctx,
		cancel:      cancel,
		crdts:       xsync.NewMapOf[string, entry](),
		factories:   xsync.NewMapOf[reflect.Type, factory](),
		peers:       xsync.NewMapOf[*Store, context.CancelFunc](),
		definitions: broadcast.NewLog[Definition](),
	}
	s.definitions.Track(cfg.tracker)
	RegisterTypes[string](s)
	return s
}

func (s *Store) NodeID() string { return s.nodeID }

// Definitions returns the log announcing every replica of the store.
func (s *Store) Definitions() *broadcast.Log[Definition] { return s.definitions }

// ---------------------------------------------------------------------------
// Factories
// ---------------------------------------------------------------------------

// RegisterFactory makes C creatable on s, replacing any previous factory for
// C. Peers can only materialize a CRDT whose type they have registered too.
func RegisterFactory[C crdt.Replica](s *Store, f func(nodeID, crdtID string) (C, error)) {
	s.factories.Store(reflect.TypeFor[C](), func(nodeID, crdtID string) (crdt.Replica, error) {
		c, err := f(nodeID, crdtID)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// RegisterTypes registers the four CRDT types over elements of type T.
func RegisterTypes[T comparable](s *Store) {
	RegisterFactory(s, crdt.NewRegister[T])
	RegisterFactory(s, func(nodeID, crdtID string) (*crdt.ElementSet[T], error) {
		return crdt.NewElementSet[T](nodeID, crdtID)
	})
	RegisterFactory(s, crdt.NewGraph[T])
	RegisterFactory(s, crdt.NewRGA[T])
}

// ---------------------------------------------------------------------------
// Replicas
// ---------------------------------------------------------------------------

// Create returns the replica of id on s, building it with the factory of C if
// it does not exist yet. An empty id is replaced by a random UUID.
func Create[C crdt.Replica](s *Store, id string) (C, error) {
	var zero C
	if id == "" {
		id = uuid.NewString()
	}
	r, err := s.create(reflect.TypeFor[C](), id)
	if err != nil {
		return zero, err
	}
	return r.(C), nil
}

// Find returns the replica of id if it exists and is a C.
func Find[C crdt.Replica](s *Store, id string) (C, bool) {
	var zero C
	e, ok := s.crdts.Load(id)
	if !ok {
		return zero, false
	}
	c, ok := e.replica.(C)
	return c, ok
}

func CreateRegister[T comparable](s *Store, id string) (*crdt.Register[T], error) {
	return Create[*crdt.Register[T]](s, id)
}

func CreateElementSet[E comparable](s *Store, id string) (*crdt.ElementSet[E], error) {
	return Create[*crdt.ElementSet[E]](s, id)
}

func CreateGraph[T comparable](s *Store, id string) (*crdt.Graph[T], error) {
	return Create[*crdt.Graph[T]](s, id)
}

func CreateRGA[E any](s *Store, id string) (*crdt.RGA[E], error) {
	return Create[*crdt.RGA[E]](s, id)
}

func FindRegister[T comparable](s *Store, id string) (*crdt.Register[T], bool) {
	return Find[*crdt.Register[T]](s, id)
}

func FindElementSet[E comparable](s *Store, id string) (*crdt.ElementSet[E], bool) {
	return Find[*crdt.ElementSet[E]](s, id)
}

func FindGraph[T comparable](s *Store, id string) (*crdt.Graph[T], bool) {
	return Find[*crdt.Graph[T]](s, id)
}

func FindRGA[E any](s *Store, id string) (*crdt.RGA[E], bool) {
	return Find[*crdt.RGA[E]](s, id)
}

// FindReplica returns the replica of id whatever its type.
func (s *Store) FindReplica(id string) (crdt.Replica, bool) {
	e, ok := s.crdts.Load(id)
	if !ok {
		return nil, false
	}
	return e.replica, true
}

// Replicas returns every replica of s ordered by identifier.
func (s *Store) Replicas() []crdt.Replica {
	var out []crdt.Replica
	s.crdts.Range(func(_ string, e entry) bool {
		out = append(out, e.replica)
		return true
	})
	slices.SortFunc(out, func(a, b crdt.Replica) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

func (s *Store) create(typ reflect.Type, id string) (crdt.Replica, error) {
	build, ok := s.factories.Load(typ)
	if !ok {
		return nil, fmt.Errorf("create %s %s: %w", typ, id, ErrUnknownType)
	}

	var buildErr error
	created := false
	e, _ := s.crdts.Compute(id, func(old entry, loaded bool) (entry, bool) {
		if loaded {
			return old, false
		}
		r, err := build(s.nodeID, id)
		if err != nil {
			buildErr = err
			return entry{}, true
		}
		created = true
		return entry{replica: r, typ: typ}, false
	})
	if buildErr != nil {
		return nil, fmt.Errorf("create %s %s: %w", typ, id, buildErr)
	}
	if e.typ != typ {
		return nil, fmt.Errorf("create %s %s: exists as %s: %w", typ, id, e.typ, ErrTypeMismatch)
	}
	if created {
		s.adopt(e)
	}
	return e.replica, nil
}

// adopt wires a new replica into the store and announces it.
func (s *Store) adopt(e entry) {
	r := e.replica
	r.Commands().Track(s.cfg.tracker)
	r.Observe(observer{s})
	s.log.Debug("replica created", "crdt", r.ID(), "type", e.typ.String())
	// The definition log only closes with the store.
	_, _ = s.definitions.AppendUnique(r.ID(), Definition{
		CRDTID:   r.ID(),
		Type:     e.typ,
		Commands: r.Commands(),
	})
}

// ---------------------------------------------------------------------------
// Peers
// ---------------------------------------------------------------------------

// Connect replicates every CRDT of s and peer in both directions. Connecting
// already connected stores is a no-op.
func (s *Store) Connect(peer *Store) {
	if peer == nil || peer == s {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	if _, loaded := s.peers.LoadOrStore(peer, cancel); loaded {
		cancel()
		return
	}
	s.cfg.metrics.peers(s.nodeID, 1)
	s.log.Info("connected", "peer", peer.nodeID)

	peer.definitions.Subscribe(ctx, func(def Definition) {
		s.onDefinition(ctx, peer, def)
	})
	peer.Connect(s)
}

// Disconnect stops replication between s and peer in both directions.
// Updates made while disconnected are exchanged on the next Connect.
func (s *Store) Disconnect(peer *Store) {
	if peer == nil {
		return
	}
	cancel, ok := s.peers.LoadAndDelete(peer)
	if !ok {
		return
	}
	cancel()
	s.cfg.metrics.peers(s.nodeID, -1)
	s.log.Info("disconnected", "peer", peer.nodeID)
	peer.Disconnect(s)
}

// Connected reports whether s replicates with peer.
func (s *Store) Connected(peer *Store) bool {
	_, ok := s.peers.Load(peer)
	return ok
}

// Peers returns the node ids of the connected stores, sorted.
func (s *Store) Peers() []string {
	var ids []string
	s.peers.Range(func(p *Store, _ context.CancelFunc) bool {
		ids = append(ids, p.nodeID)
		return true
	})
	slices.Sort(ids)
	return ids
}

// Close disconnects every peer and stops all deliveries into s.
func (s *Store) Close() {
	s.peers.Range(func(p *Store, _ context.CancelFunc) bool {
		s.Disconnect(p)
		return true
	})
	s.cancel()
	s.definitions.Close()
}

func (s *Store) onDefinition(ctx context.Context, peer *Store, def Definition) {
	r, err := s.create(def.Type, def.CRDTID)
	if err != nil {
		s.cfg.metrics.definition(s.nodeID, "skipped")
		s.log.Warn("skipping peer crdt", "peer", peer.nodeID, "crdt", def.CRDTID, "type", def.TypeName(), "err", err)
		return
	}
	s.cfg.metrics.definition(s.nodeID, "attached")
	s.log.Debug("attached", "peer", peer.nodeID, "crdt", def.CRDTID)
	r.Attach(ctx, def.Commands)
}

// ---------------------------------------------------------------------------
// Observation
// ---------------------------------------------------------------------------

type observer struct{ s *Store }

func (o observer) Emitted(r crdt.Replica, cmd crdt.Command) {
	o.s.observe(r, cmd, model.OutcomeEmitted)
}

func (o observer) Applied(r crdt.Replica, cmd crdt.Command, accepted bool) {
	outcome := model.OutcomeRejected
	if accepted {
		outcome = model.OutcomeAccepted
	}
	o.s.observe(r, cmd, outcome)
}

func (s *Store) observe(r crdt.Replica, cmd crdt.Command, outcome model.Outcome) {
	env := cmd.Envelope()
	s.cfg.metrics.command(s.nodeID, r.Type(), outcome)
	s.log.Debug("command", "crdt", r.ID(), "kind", env.Kind, "clock", env.Clock.String(), "outcome", outcome)
	if s.cfg.journal == nil {
		return
	}

	rec := &model.Record{
		NodeID:   s.nodeID,
		CRDTID:   r.ID(),
		CRDTType: r.Type(),
		Kind:     env.Kind,
		Origin:   env.Clock.Key(),
		Clock:    env.Clock.String(),
		Outcome:  outcome,
	}
	if payload, err := json.Marshal(env); err == nil {
		rec.Payload = string(payload)
	}
	if _, err := s.cfg.journal.Record(rec); err != nil {
		s.log.Warn("journal write failed", "crdt", r.ID(), "kind", env.Kind, "err", err)
	}
}
