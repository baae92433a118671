package graph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func build(t *testing.T, nodes []string, edges [][2]string) *Graph {
	t.Helper()

	g := New()
	for _, n := range nodes {
		g.AddNode(n)
	}

	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}

	return g
}

func TestTopologicalSort(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
		want  []string
	}{
		{
			name:  "no edges keeps insertion order",
			nodes: []string{"c", "a", "b"},
			want:  []string{"c", "a", "b"},
		},
		{
			name:  "linear chain declared backwards",
			nodes: []string{"c", "b", "a"},
			edges: [][2]string{{"a", "b"}, {"b", "c"}},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "diamond",
			nodes: []string{"top", "left", "right", "bottom"},
			edges: [][2]string{{"top", "left"}, {"top", "right"}, {"left", "bottom"}, {"right", "bottom"}},
			want:  []string{"top", "left", "right", "bottom"},
		},
		{
			name:  "released node is ordered by insertion index",
			nodes: []string{"a", "b", "c", "d"},
			edges: [][2]string{{"c", "a"}},
			want:  []string{"b", "c", "a", "d"},
		},
		{
			name:  "empty",
			nodes: nil,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := build(t, tt.nodes, tt.edges)

			order, err := g.TopologicalSort()
			require.NoError(t, err)
			assert.Equal(t, tt.want, order)
		})
	}
}

func TestTopologicalSortCycle(t *testing.T) {
	g := build(t, []string{"start", "a", "b", "c"}, [][2]string{
		{"start", "a"}, {"a", "b"}, {"b", "c"}, {"c", "a"},
	})

	_, err := g.TopologicalSort()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)

	require.Len(t, cycleErr.Cycle, 4)
	assert.Equal(t, cycleErr.Cycle[0], cycleErr.Cycle[3])
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Cycle[:3])
	assertClosedPath(t, g, cycleErr.Cycle)
	assert.Contains(t, err.Error(), "->")
}

func TestSelfLoop(t *testing.T) {
	g := build(t, []string{"a"}, [][2]string{{"a", "a"}})

	_, err := g.TopologicalSort()

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a", "a"}, cycleErr.Cycle)
}

func TestAddEdge(t *testing.T) {
	g := build(t, []string{"a", "b"}, nil)

	assert.ErrorIs(t, g.AddEdge("a", "missing"), ErrUnknownNode)
	assert.ErrorIs(t, g.AddEdge("missing", "a"), ErrUnknownNode)

	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "b"))

	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, []string{"b"}, g.Successors("a"))
	assert.Equal(t, []string{"a"}, g.Predecessors("b"))

	g.AddNode("a")
	assert.Equal(t, []string{"a", "b"}, g.Nodes())
}

func assertClosedPath(t *testing.T, g *Graph, path []string) {
	t.Helper()

	for i := 0; i+1 < len(path); i++ {
		assert.Contains(t, g.Successors(path[i]), path[i+1], "edge %s -> %s", path[i], path[i+1])
	}
}

// Edges drawn only from lower to higher index form a DAG; the order must
// contain every node once and put every edge's source first.
func TestTopologicalSortProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "nodes")
		perm := rapid.Permutation(makeIDs(n)).Draw(t, "insertion")

		g := New()
		for _, id := range perm {
			g.AddNode(id)
		}

		var edges [][2]string

		if n > 1 {
			count := rapid.IntRange(0, n*2).Draw(t, "edges")
			for i := 0; i < count; i++ {
				u := rapid.IntRange(0, n-2).Draw(t, "u")
				v := rapid.IntRange(u+1, n-1).Draw(t, "v")
				from, to := fmt.Sprintf("s%d", u), fmt.Sprintf("s%d", v)

				if err := g.AddEdge(from, to); err != nil {
					t.Fatalf("add edge: %v", err)
				}

				edges = append(edges, [2]string{from, to})
			}
		}

		order, err := g.TopologicalSort()
		if err != nil {
			t.Fatalf("unexpected error for DAG: %v", err)
		}

		if len(order) != n {
			t.Fatalf("order has %d nodes, want %d", len(order), n)
		}

		position := map[string]int{}
		for i, id := range order {
			if _, dup := position[id]; dup {
				t.Fatalf("node %s visited twice", id)
			}

			position[id] = i
		}

		for _, e := range edges {
			if position[e[0]] >= position[e[1]] {
				t.Fatalf("edge %s -> %s violated by order %v", e[0], e[1], order)
			}
		}
	})
}

// Adding a back edge along any path closes a cycle; the sort must reject it
// with a path that only uses real edges.
func TestTopologicalSortDetectsCycles(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "nodes")
		ids := makeIDs(n)

		g := New()
		for _, id := range ids {
			g.AddNode(id)
		}

		for i := 0; i+1 < n; i++ {
			if err := g.AddEdge(ids[i], ids[i+1]); err != nil {
				t.Fatalf("add edge: %v", err)
			}
		}

		from := rapid.IntRange(0, n-1).Draw(t, "from")
		to := rapid.IntRange(0, from).Draw(t, "to")

		if err := g.AddEdge(ids[from], ids[to]); err != nil {
			t.Fatalf("add back edge: %v", err)
		}

		_, err := g.TopologicalSort()

		var cycleErr *CycleError
		if !errors.As(err, &cycleErr) {
			t.Fatalf("expected cycle error, got %v", err)
		}

		cycle := cycleErr.Cycle
		if len(cycle) < 2 || cycle[0] != cycle[len(cycle)-1] {
			t.Fatalf("cycle path is not closed: %v", cycle)
		}

		for i := 0; i+1 < len(cycle); i++ {
			found := false

			for _, s := range g.Successors(cycle[i]) {
				if s == cycle[i+1] {
					found = true
				}
			}

			if !found {
				t.Fatalf("cycle path uses missing edge %s -> %s", cycle[i], cycle[i+1])
			}
		}
	})
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%d", i)
	}

	return ids
}
