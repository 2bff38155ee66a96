package crdt

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/crdtstore/pkg/broadcast"
	"github.com/daviddao/crdtstore/pkg/clock"
)

func values[T any](vs []Vertex[T]) []T {
	out := make([]T, len(vs))
	for i, v := range vs {
		out[i] = v.Value
	}
	return out
}

func newTestGraph(t *testing.T, node string, vertices ...string) *Graph[string] {
	t.Helper()
	g, err := NewGraph[string](node, "g")
	require.NoError(t, err)
	for _, v := range vertices {
		require.NoError(t, g.AddVertex(v))
	}
	return g
}

func TestGraphVerticesAndEdges(t *testing.T) {
	g := newTestGraph(t, "n1", "a", "b", "c")
	for _, e := range [][2]string{{"a", "b"}, {"b", "c"}} {
		ok, err := g.AddEdge(e[0], e[1])
		require.NoError(t, err)
		require.True(t, ok)
	}

	assert.Equal(t, 3, g.VertexSize())
	assert.True(t, g.ContainsVertex("b"))
	assert.Equal(t, []string{"a", "c"}, values(g.FindAdjacentVertices("b")))
	assert.Equal(t, []string{"b"}, values(g.FindAdjacentVertices("a")))
	assert.Nil(t, g.FindAdjacentVertices("z"))
}

func TestGraphAddEdgeNeedsBothVertices(t *testing.T) {
	g := newTestGraph(t, "n1", "a")
	before := g.Commands().Len()

	ok, err := g.AddEdge("a", "z")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, g.RemoveEdge("a", "z"))
	assert.Equal(t, before, g.Commands().Len(), "no-op emitted a command")
}

func TestGraphRemoveUnknownVertexIsPublished(t *testing.T) {
	g := newTestGraph(t, "n1", "a")
	peer := newTestGraph(t, "n2")
	replay(t, g, peer)
	before := g.Clock()

	require.NoError(t, g.RemoveVertex("z"))
	assert.Equal(t, 2, g.Commands().Len())
	assert.True(t, before.Less(g.Clock()), "clock not advanced")
	assert.Equal(t, 1, g.VertexSize())

	cmd := g.Commands().Items()[1]
	require.IsType(t, GraphRemoveVertex[string]{}, cmd)
	_, ok := peer.Apply(cmd)
	assert.False(t, ok, "a remove that changes nothing was accepted")
	assert.True(t, peer.ContainsVertex("a"))
}

func TestGraphRepeatedEdgeIsSingle(t *testing.T) {
	g := newTestGraph(t, "n1", "a", "b")
	for range 2 {
		ok, err := g.AddEdge("a", "b")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Len(t, g.FindAdjacentVertices("a"), 1)

	require.NoError(t, g.RemoveEdge("a", "b"))
	assert.Empty(t, g.FindAdjacentVertices("a"))
}

func TestGraphRemoveVertexDropsEdges(t *testing.T) {
	g := newTestGraph(t, "n1", "a", "b", "c")
	_, err := g.AddEdge("a", "b")
	require.NoError(t, err)
	_, err = g.AddEdge("b", "c")
	require.NoError(t, err)

	require.NoError(t, g.RemoveVertex("b"))
	assert.False(t, g.ContainsVertex("b"))
	assert.Equal(t, 2, g.VertexSize())
	assert.Empty(t, g.FindAdjacentVertices("a"))
	assert.Empty(t, g.FindAdjacentVertices("c"))
	assert.True(t, g.FindPath("a", "c").Equal(mapset.NewSet("a")))
}

func TestGraphReAddKeepsEarlierVertex(t *testing.T) {
	g := newTestGraph(t, "n1", "a", "b")
	_, err := g.AddEdge("a", "b")
	require.NoError(t, err)

	require.NoError(t, g.AddVertex("a"))
	assert.Equal(t, 3, g.VertexSize())
	assert.Empty(t, g.FindAdjacentVertices("a"), "new vertex starts without edges")

	adj := g.FindAdjacentVertices("b")
	require.Len(t, adj, 1)
	assert.Equal(t, "a", adj[0].Value)
	assert.Equal(t, uint64(1), adj[0].Clock.Get("n1"), "edge still points at the first vertex")
}

func TestGraphFindPath(t *testing.T) {
	g := newTestGraph(t, "n1", "a", "b", "c", "d", "e")
	for _, e := range [][2]string{{"a", "b"}, {"b", "c"}, {"a", "d"}} {
		_, err := g.AddEdge(e[0], e[1])
		require.NoError(t, err)
	}

	cases := []struct {
		name      string
		src, dest string
		want      mapset.Set[string]
	}{
		{"same vertex", "a", "a", mapset.NewSet[string]()},
		{"unknown source", "z", "a", mapset.NewSet[string]()},
		{"stops at destination", "a", "c", mapset.NewSet("a", "b", "c")},
		{"neighbour", "c", "b", mapset.NewSet("c", "b")},
		{"unreachable", "a", "e", mapset.NewSet("a", "b", "c", "d")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := g.FindPath(tc.src, tc.dest)
			assert.True(t, got.Equal(tc.want), "got %v, want %v", got, tc.want)
		})
	}
}

func TestGraphReplayIsIdempotent(t *testing.T) {
	src := newTestGraph(t, "g1", "a", "b", "c")
	_, err := src.AddEdge("a", "b")
	require.NoError(t, err)
	require.NoError(t, src.RemoveVertex("c"))

	dst, err := NewGraph[string]("g2", "g")
	require.NoError(t, err)
	replay(t, src, dst)
	assert.Equal(t, 2, dst.VertexSize())
	assert.False(t, dst.ContainsVertex("c"))
	assert.Equal(t, []string{"b"}, values(dst.FindAdjacentVertices("a")))

	replay(t, src, dst)
	assert.Equal(t, 2, dst.VertexSize())
	assert.Equal(t, []string{"b"}, values(dst.FindAdjacentVertices("a")))
}

func TestGraphReplicates(t *testing.T) {
	tr := broadcast.NewTracker()
	g1 := newTestGraph(t, "g1")
	g2 := newTestGraph(t, "g2")
	link(t, tr, g1, g2)

	require.NoError(t, g1.AddVertex("a"))
	require.NoError(t, g1.AddVertex("b"))
	ok, err := g1.AddEdge("a", "b")
	require.NoError(t, err)
	require.True(t, ok)
	settle(t, tr)

	assert.Equal(t, 2, g2.VertexSize())
	assert.Equal(t, []string{"b"}, values(g2.FindAdjacentVertices("a")))
	assert.True(t, g2.FindPath("a", "b").Equal(mapset.NewSet("a", "b")))

	require.NoError(t, g2.RemoveVertex("a"))
	settle(t, tr)
	for _, g := range []*Graph[string]{g1, g2} {
		assert.False(t, g.ContainsVertex("a"), g.NodeID())
		assert.Equal(t, 1, g.VertexSize(), g.NodeID())
		assert.Empty(t, g.FindAdjacentVertices("b"), g.NodeID())
	}
}

func TestGraphRemoveOlderThanVertexIsRefused(t *testing.T) {
	g := newTestGraph(t, "n1")
	add := GraphAddVertex[string]{CRDT: "g", Element: "a", Clock: clock.FromEntries("n3", map[string]uint64{"n3": 5})}
	_, ok := g.Apply(add)
	require.True(t, ok)

	// Concurrent with the add and ordered before it, but newer than the
	// replica clock.
	rm := GraphRemoveVertex[string]{CRDT: "g", Element: "a", Clock: clock.FromEntries("n2", map[string]uint64{"n2": 1})}
	require.True(t, g.Clock().Less(rm.Clock))
	_, ok = g.Apply(rm)
	assert.False(t, ok)
	assert.True(t, g.ContainsVertex("a"))

	later := GraphRemoveVertex[string]{CRDT: "g", Element: "a", Clock: clock.FromEntries("n2", map[string]uint64{"n2": 1, "n3": 5})}
	_, ok = g.Apply(later)
	assert.True(t, ok)
	assert.False(t, g.ContainsVertex("a"))
}
