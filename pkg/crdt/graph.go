package crdt

import (
	"context"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/daviddao/crdtstore/pkg/broadcast"
	"github.com/daviddao/crdtstore/pkg/clock"
	"github.com/daviddao/crdtstore/pkg/model"
)

// GraphAddVertex creates a vertex for Element identified by Clock.
type GraphAddVertex[T comparable] struct {
	CRDT    string
	Element T
	Clock   clock.VectorClock
}

func (c GraphAddVertex[T]) CRDTID() string { return c.CRDT }

func (c GraphAddVertex[T]) Key() string { return commandKey(model.KindGraphAddVertex, c.Clock) }

func (c GraphAddVertex[T]) Envelope() model.Envelope {
	return model.Envelope{CRDTID: c.CRDT, Kind: model.KindGraphAddVertex, Clock: c.Clock, Value: c.Element}
}

// GraphRemoveVertex removes the vertex currently holding Element.
type GraphRemoveVertex[T comparable] struct {
	CRDT    string
	Element T
	Clock   clock.VectorClock
}

func (c GraphRemoveVertex[T]) CRDTID() string { return c.CRDT }

func (c GraphRemoveVertex[T]) Key() string { return commandKey(model.KindGraphRemoveVertex, c.Clock) }

func (c GraphRemoveVertex[T]) Envelope() model.Envelope {
	return model.Envelope{CRDTID: c.CRDT, Kind: model.KindGraphRemoveVertex, Clock: c.Clock, Value: c.Element}
}

// GraphAddEdge links the vertices holding A and B.
type GraphAddEdge[T comparable] struct {
	CRDT  string
	A, B  T
	Clock clock.VectorClock
}

func (c GraphAddEdge[T]) CRDTID() string { return c.CRDT }

func (c GraphAddEdge[T]) Key() string { return commandKey(model.KindGraphAddEdge, c.Clock) }

func (c GraphAddEdge[T]) Envelope() model.Envelope {
	return model.Envelope{CRDTID: c.CRDT, Kind: model.KindGraphAddEdge, Clock: c.Clock, Value: c.A, Other: c.B}
}

// GraphRemoveEdge unlinks the vertices holding A and B.
type GraphRemoveEdge[T comparable] struct {
	CRDT  string
	A, B  T
	Clock clock.VectorClock
}

func (c GraphRemoveEdge[T]) CRDTID() string { return c.CRDT }

func (c GraphRemoveEdge[T]) Key() string { return commandKey(model.KindGraphRemoveEdge, c.Clock) }

func (c GraphRemoveEdge[T]) Envelope() model.Envelope {
	return model.Envelope{CRDTID: c.CRDT, Kind: model.KindGraphRemoveEdge, Clock: c.Clock, Value: c.A, Other: c.B}
}

type graphVertex[T comparable] struct {
	value T
	clock clock.VectorClock
	live  bool
	adj   mapset.Set[int]
}

// Graph is a last-writer-wins element graph. Edges are undirected and a pair
// of vertices is linked at most once.
//
// Vertices live in an arena and refer to each other by handle. A vertex is
// identified by its creation clock; elements maps every element ever added to
// the clock of its most recent vertex and is never cleared. Adding an element
// that already has a live vertex creates a second vertex for it. The earlier
// one stays live and keeps its edges, but it can no longer be reached through
// its element.
type Graph[T comparable] struct {
	base
	vertices []graphVertex[T]
	handles  map[string]int
	elements map[T]clock.VectorClock
	live     int
	clock    clock.VectorClock
}

// NewGraph returns an empty graph replica of crdtID on node nodeID.
func NewGraph[T comparable](nodeID, crdtID string) (*Graph[T], error) {
	g := &Graph[T]{
		handles:  make(map[string]int),
		elements: make(map[T]clock.VectorClock),
		clock:    clock.New(nodeID),
	}
	if err := g.init(g, nodeID, crdtID); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph[T]) Type() string { return "graph" }

func (g *Graph[T]) Clock() clock.VectorClock {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clock
}

// AddVertex creates a new vertex for e.
func (g *Graph[T]) AddVertex(e T) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clock = g.clock.Increment()
	g.addVertex(e, g.clock)
	return g.publish(GraphAddVertex[T]{CRDT: g.crdtID, Element: e, Clock: g.clock})
}

// RemoveVertex removes the vertex holding e together with its edges. The
// remove is published even if e has no live vertex.
func (g *Graph[T]) RemoveVertex(e T) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clock = g.clock.Increment()
	g.removeVertex(e, g.clock)
	return g.publish(GraphRemoveVertex[T]{CRDT: g.crdtID, Element: e, Clock: g.clock})
}

// AddEdge links a and b. It returns false, and changes nothing, unless both
// elements have a live vertex.
func (g *Graph[T]) AddEdge(a, b T) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.bothLive(a, b) {
		return false, nil
	}
	g.clock = g.clock.Increment()
	g.addEdge(a, b)
	return true, g.publish(GraphAddEdge[T]{CRDT: g.crdtID, A: a, B: b, Clock: g.clock})
}

// RemoveEdge unlinks a and b. It is a no-op unless both elements have a live
// vertex.
func (g *Graph[T]) RemoveEdge(a, b T) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.bothLive(a, b) {
		return nil
	}
	g.clock = g.clock.Increment()
	g.removeEdge(a, b)
	return g.publish(GraphRemoveEdge[T]{CRDT: g.crdtID, A: a, B: b, Clock: g.clock})
}

func (g *Graph[T]) ContainsVertex(e T) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.handle(e)
	return ok
}

// VertexSize returns the number of live vertices.
func (g *Graph[T]) VertexSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live
}

// FindAdjacentVertices returns the neighbours of e's vertex in creation
// order, or nil if e has no live vertex.
func (g *Graph[T]) FindAdjacentVertices(e T) []Vertex[T] {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.handle(e)
	if !ok {
		return nil
	}
	var out []Vertex[T]
	for _, n := range g.neighbours(h) {
		v := g.vertices[n]
		out = append(out, Vertex[T]{Value: v.value, Clock: v.clock})
	}
	return out
}

// Vertices returns the live vertices in creation order.
func (g *Graph[T]) Vertices() []Vertex[T] {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Vertex[T]
	for _, v := range g.vertices {
		if v.live {
			out = append(out, Vertex[T]{Value: v.value, Clock: v.clock})
		}
	}
	return out
}

// FindPath runs a depth-first search from src and returns the elements it
// visited up to and including dest. dest is in the result iff it is
// reachable. The result is empty if src equals dest or has no live vertex.
func (g *Graph[T]) FindPath(src, dest T) mapset.Set[T] {
	g.mu.Lock()
	defer g.mu.Unlock()

	visited := mapset.NewThreadUnsafeSet[T]()
	if src == dest {
		return visited
	}
	start, ok := g.handle(src)
	if !ok {
		return visited
	}

	seen := make(map[int]bool)
	stack := []int{start}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[h] {
			continue
		}
		seen[h] = true
		visited.Add(g.vertices[h].value)
		if g.vertices[h].value == dest {
			break
		}
		// Push in reverse so the lowest handle is explored first.
		ns := g.neighbours(h)
		for i := len(ns) - 1; i >= 0; i-- {
			if !seen[ns[i]] {
				stack = append(stack, ns[i])
			}
		}
	}
	return visited
}

func (g *Graph[T]) Apply(cmd Command) (Command, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.apply(cmd)
}

// apply accepts a command only if it is newer than the local clock. Only a
// vertex addition advances the local clock; the other kinds are applied at
// the clock they carry.
func (g *Graph[T]) apply(cmd Command) (Command, bool) {
	if cmd == nil || cmd.CRDTID() != g.crdtID {
		return nil, false
	}
	var changed bool
	switch c := cmd.(type) {
	case GraphAddVertex[T]:
		if !g.clock.Less(c.Clock) {
			return nil, false
		}
		g.clock = g.clock.Merge(c.Clock)
		changed = g.addVertex(c.Element, c.Clock)
	case GraphRemoveVertex[T]:
		if !g.clock.Less(c.Clock) {
			return nil, false
		}
		changed = g.removeVertex(c.Element, c.Clock)
	case GraphAddEdge[T]:
		if !g.clock.Less(c.Clock) {
			return nil, false
		}
		changed = g.addEdge(c.A, c.B)
	case GraphRemoveEdge[T]:
		if !g.clock.Less(c.Clock) {
			return nil, false
		}
		changed = g.removeEdge(c.A, c.B)
	default:
		return nil, false
	}
	if !changed {
		return nil, false
	}
	return cmd, true
}

func (g *Graph[T]) Attach(ctx context.Context, stream *broadcast.Log[Command]) *broadcast.Subscription {
	return g.attach(ctx, stream, g.apply)
}

func (g *Graph[T]) addVertex(e T, at clock.VectorClock) bool {
	id := at.ID()
	if _, ok := g.handles[id]; ok {
		return false
	}
	h := len(g.vertices)
	g.vertices = append(g.vertices, graphVertex[T]{
		value: e,
		clock: at,
		live:  true,
		adj:   mapset.NewThreadUnsafeSet[int](),
	})
	g.handles[id] = h
	g.elements[e] = at
	g.live++
	return true
}

// removeVertex removes e's current vertex if it was created before at.
func (g *Graph[T]) removeVertex(e T, at clock.VectorClock) bool {
	h, ok := g.handle(e)
	if !ok || !g.vertices[h].clock.Less(at) {
		return false
	}
	v := &g.vertices[h]
	for _, n := range v.adj.ToSlice() {
		g.vertices[n].adj.Remove(h)
	}
	v.adj.Clear()
	v.live = false
	g.live--
	return true
}

func (g *Graph[T]) addEdge(a, b T) bool {
	ha, okA := g.handle(a)
	hb, okB := g.handle(b)
	if !okA || !okB {
		return false
	}
	added := g.vertices[ha].adj.Add(hb)
	g.vertices[hb].adj.Add(ha)
	return added
}

func (g *Graph[T]) removeEdge(a, b T) bool {
	ha, okA := g.handle(a)
	hb, okB := g.handle(b)
	if !okA || !okB || !g.vertices[ha].adj.Contains(hb) {
		return false
	}
	g.vertices[ha].adj.Remove(hb)
	g.vertices[hb].adj.Remove(ha)
	return true
}

// handle returns the live vertex currently holding e.
func (g *Graph[T]) handle(e T) (int, bool) {
	at, ok := g.elements[e]
	if !ok {
		return 0, false
	}
	h, ok := g.handles[at.ID()]
	if !ok || !g.vertices[h].live {
		return 0, false
	}
	return h, true
}

func (g *Graph[T]) bothLive(a, b T) bool {
	_, okA := g.handle(a)
	_, okB := g.handle(b)
	return okA && okB
}

func (g *Graph[T]) neighbours(h int) []int {
	ns := g.vertices[h].adj.ToSlice()
	slices.Sort(ns)
	return ns
}
