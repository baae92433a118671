// Package graph provides the directed graph used to order pipeline steps.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrCycle       = errors.New("cyclic dependency")
)

// CycleError reports one cycle of the graph as a closed path, e.g.
// [a b c a] for a -> b -> c -> a.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// Graph is a directed graph over string ids that remembers the order in
// which nodes were added. An edge u -> v means u must come before v.
type Graph struct {
	nodes []string
	index map[string]int
	out   map[string][]string
	in    map[string][]string
	edges map[[2]string]struct{}
}

func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		out:   make(map[string][]string),
		in:    make(map[string][]string),
		edges: make(map[[2]string]struct{}),
	}
}

// AddNode adds id if it is not already present.
func (g *Graph) AddNode(id string) {
	if _, ok := g.index[id]; ok {
		return
	}

	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, id)
}

// AddEdge adds from -> to. Both nodes must exist; duplicate edges are
// ignored.
func (g *Graph) AddEdge(from, to string) error {
	if !g.HasNode(from) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}

	if !g.HasNode(to) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, to)
	}

	key := [2]string{from, to}
	if _, ok := g.edges[key]; ok {
		return nil
	}

	g.edges[key] = struct{}{}
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)

	return nil
}

func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]

	return ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

func (g *Graph) Successors(id string) []string {
	return append([]string(nil), g.out[id]...)
}

func (g *Graph) Predecessors(id string) []string {
	return append([]string(nil), g.in[id]...)
}

func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// TopologicalSort orders the nodes so every edge points forward. Among nodes
// that are ready at the same time the earliest inserted wins, so the order is
// deterministic. A cyclic graph yields a *CycleError.
func (g *Graph) TopologicalSort() ([]string, error) {
	indegree := make([]int, len(g.nodes))
	for i, id := range g.nodes {
		indegree[i] = len(g.in[id])
	}

	var ready []int

	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(g.nodes))

	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]

		id := g.nodes[current]
		order = append(order, id)

		for _, next := range g.out[id] {
			j := g.index[next]

			indegree[j]--
			if indegree[j] == 0 {
				ready = insertSorted(ready, j)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, &CycleError{Cycle: g.findCycle(indegree)}
	}

	return order, nil
}

// findCycle walks predecessors among the nodes Kahn's algorithm could not
// release; every such node has at least one unreleased predecessor, so the
// walk must revisit a node.
func (g *Graph) findCycle(indegree []int) []string {
	start := -1

	for i, d := range indegree {
		if d > 0 {
			start = i

			break
		}
	}

	if start < 0 {
		return nil
	}

	seen := map[string]int{}

	var walk []string

	current := g.nodes[start]

	for {
		if pos, ok := seen[current]; ok {
			cycle := walk[pos:]

			// walk follows edges backwards; reverse to get forward order
			path := make([]string, 0, len(cycle)+1)
			for i := len(cycle) - 1; i >= 0; i-- {
				path = append(path, cycle[i])
			}

			return append(path, path[0])
		}

		seen[current] = len(walk)
		walk = append(walk, current)

		for _, pred := range g.in[current] {
			if indegree[g.index[pred]] > 0 {
				current = pred

				break
			}
		}
	}
}

func insertSorted(ready []int, v int) []int {
	i := 0
	for i < len(ready) && ready[i] < v {
		i++
	}

	ready = append(ready, 0)
	copy(ready[i+1:], ready[i:])
	ready[i] = v

	return ready
}
