package graph

import (
	"github.com/dagrun/dagrun/engine/workflow"
)

// Node is one step placed in the compiled graph. Level is 0 for roots and
// 1 + max(dependency levels) otherwise.
type Node struct {
	Step  *workflow.Step
	Level int

	deps       []string
	dependents []string
}

// Graph is the compiled, validated execution graph of one workflow. All
// accessors return deterministic orderings.
type Graph struct {
	nodes  map[string]*Node
	order  []string
	groups [][]string
}

// Node returns the node for a step id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Size returns the number of steps in the graph.
func (g *Graph) Size() int {
	return len(g.nodes)
}

// Dependencies returns the ids a step waits on, sorted.
func (g *Graph) Dependencies(id string) []string {
	if n, ok := g.nodes[id]; ok {
		return n.deps
	}
	return nil
}

// Dependents returns the ids waiting on a step, sorted.
func (g *Graph) Dependents(id string) []string {
	if n, ok := g.nodes[id]; ok {
		return n.dependents
	}
	return nil
}

// Roots returns the ids with no dependencies, sorted.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.nodes[id].deps) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// ParallelGroups partitions the step ids by level; ids inside a group are
// lexicographically sorted. Groups are advisory for planning and reporting;
// the scheduler uses dynamic readiness.
func (g *Graph) ParallelGroups() [][]string {
	return g.groups
}

// TopologicalOrder returns ids ordered by (level, id). Every dependency
// precedes its dependents.
func (g *Graph) TopologicalOrder() []string {
	return g.order
}
