package graph

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/workflow"
	"github.com/dagrun/dagrun/pkg/logger"
	"github.com/dagrun/dagrun/pkg/tplengine"
)

// BuildResult carries the compiled graph or the reasons it could not be
// built. Diagnostics are advisory and present even on success.
type BuildResult struct {
	Graph       *Graph
	Diagnostics []DependencyDiagnostic
	Errors      []*BuildError
}

// OK reports whether compilation produced a usable graph.
func (r *BuildResult) OK() bool {
	return len(r.Errors) == 0
}

// CoreError folds the build errors into one classified error for result
// reporting. Cycles win over the other codes.
func (r *BuildResult) CoreError() *core.Error {
	if r.OK() {
		return nil
	}
	code := core.ErrValidation
	first := r.Errors[0]
	for _, e := range r.Errors {
		if e.Code == CodeCircularDependency {
			code = core.ErrCircularDep
			first = e
			break
		}
	}
	messages := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		messages[i] = e.Error()
	}
	return core.Errorf(code, "%s", first.Message).
		WithDetail("errors", messages)
}

// edgeInfo records how one dependency edge was declared.
type edgeInfo struct {
	explicit bool
	sources  []string
}

// Build compiles a workflow's steps into a validated execution graph. The
// whole build is deterministic: identical definitions produce identical
// orderings, groups and diagnostics.
func Build(ctx context.Context, wf *workflow.Config) *BuildResult {
	start := time.Now()
	result := build(wf)
	recordGraphBuild(ctx, time.Since(start), result.OK())
	if !result.OK() {
		log := logger.FromContext(ctx)
		log.Debug("graph build failed", "workflow", wf.Name, "errors", len(result.Errors))
	}
	return result
}

func build(wf *workflow.Config) *BuildResult {
	result := &BuildResult{}
	steps := collectSteps(wf, result)
	ids := make([]string, 0, len(steps))
	for id := range steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	adjacency := buildEdges(steps, ids, result)
	collectDiagnostics(adjacency, ids, result)
	detectCycles(adjacency, ids, result)
	if !result.OK() {
		return result
	}
	result.Graph = assemble(steps, ids, adjacency)
	return result
}

// collectSteps indexes the steps, reporting each duplicated id once.
func collectSteps(wf *workflow.Config, result *BuildResult) map[string]*workflow.Step {
	steps := map[string]*workflow.Step{}
	reported := map[string]bool{}
	for i := range wf.Tasks {
		step := &wf.Tasks[i]
		if _, seen := steps[step.ID]; seen {
			if !reported[step.ID] {
				result.Errors = append(result.Errors, duplicateTaskIDError(step.ID))
				reported[step.ID] = true
			}
			continue
		}
		steps[step.ID] = step
	}
	return steps
}

// buildEdges merges explicit dependsOn edges with implicit edges harvested
// from every template-bearing field. References to unknown steps fail the
// build so typos surface at compile time instead of mid-run.
func buildEdges(steps map[string]*workflow.Step, ids []string, result *BuildResult) map[string]map[string]*edgeInfo {
	adjacency := make(map[string]map[string]*edgeInfo, len(ids))
	for _, id := range ids {
		step := steps[id]
		edges := map[string]*edgeInfo{}
		for _, dep := range step.DependsOn {
			if _, ok := steps[dep]; !ok {
				result.Errors = append(result.Errors, unknownDependencyError(id, dep, "dependsOn"))
				continue
			}
			edge := ensureEdge(edges, dep)
			edge.explicit = true
		}
		sources := step.TemplateSources()
		names := make([]string, 0, len(sources))
		for name := range sources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, dep := range tplengine.ExtractTaskRefsDeep(sources[name]) {
				if _, ok := steps[dep]; !ok {
					result.Errors = append(result.Errors, unknownDependencyError(id, dep, name))
					continue
				}
				edge := ensureEdge(edges, dep)
				if !containsString(edge.sources, name) {
					edge.sources = append(edge.sources, name)
				}
			}
		}
		adjacency[id] = edges
	}
	return adjacency
}

func ensureEdge(edges map[string]*edgeInfo, dep string) *edgeInfo {
	if e, ok := edges[dep]; ok {
		return e
	}
	e := &edgeInfo{}
	edges[dep] = e
	return e
}

// collectDiagnostics reports edges that exist only through templates.
func collectDiagnostics(adjacency map[string]map[string]*edgeInfo, ids []string, result *BuildResult) {
	for _, id := range ids {
		deps := sortedDeps(adjacency[id])
		for _, dep := range deps {
			edge := adjacency[id][dep]
			if edge.explicit || len(edge.sources) == 0 {
				continue
			}
			for _, source := range edge.sources {
				result.Diagnostics = append(result.Diagnostics, DependencyDiagnostic{
					TaskID:    id,
					DependsOn: dep,
					Source:    source,
				})
			}
		}
	}
}

// detectCycles walks the dependency edges depth-first, reporting each
// distinct cycle once with its closed path.
func detectCycles(adjacency map[string]map[string]*edgeInfo, ids []string, result *BuildResult) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ids))
	var stack []string
	seen := map[string]bool{}

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range sortedDeps(adjacency[id]) {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				cycle := extractCycle(stack, dep)
				sig := cycleSignature(cycle)
				if !seen[sig] {
					seen[sig] = true
					result.Errors = append(result.Errors, circularDependencyError(cycle))
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
}

// extractCycle returns the stack suffix starting at entry, closed by
// repeating entry, rotated so the smallest id leads.
func extractCycle(stack []string, entry string) []string {
	start := 0
	for i, id := range stack {
		if id == entry {
			start = i
			break
		}
	}
	members := append([]string(nil), stack[start:]...)
	minIdx := 0
	for i, id := range members {
		if id < members[minIdx] {
			minIdx = i
		}
	}
	rotated := append(append([]string(nil), members[minIdx:]...), members[:minIdx]...)
	return append(rotated, rotated[0])
}

func cycleSignature(cycle []string) string {
	return strings.Join(cycle[:len(cycle)-1], "|")
}

// assemble computes levels, orderings and groups for a validated edge set.
func assemble(steps map[string]*workflow.Step, ids []string, adjacency map[string]map[string]*edgeInfo) *Graph {
	levels := make(map[string]int, len(ids))
	var levelOf func(id string) int
	levelOf = func(id string) int {
		if l, ok := levels[id]; ok {
			return l
		}
		max := -1
		for _, dep := range sortedDeps(adjacency[id]) {
			if l := levelOf(dep); l > max {
				max = l
			}
		}
		levels[id] = max + 1
		return max + 1
	}
	maxLevel := -1
	for _, id := range ids {
		if l := levelOf(id); l > maxLevel {
			maxLevel = l
		}
	}

	nodes := make(map[string]*Node, len(ids))
	for _, id := range ids {
		nodes[id] = &Node{
			Step:  steps[id],
			Level: levels[id],
			deps:  sortedDeps(adjacency[id]),
		}
	}
	for _, id := range ids {
		for _, dep := range nodes[id].deps {
			nodes[dep].dependents = append(nodes[dep].dependents, id)
		}
	}

	order := append([]string(nil), ids...)
	sort.SliceStable(order, func(i, j int) bool {
		if levels[order[i]] != levels[order[j]] {
			return levels[order[i]] < levels[order[j]]
		}
		return order[i] < order[j]
	})

	groups := make([][]string, maxLevel+1)
	for _, id := range order {
		groups[levels[id]] = append(groups[levels[id]], id)
	}
	return &Graph{nodes: nodes, order: order, groups: groups}
}

func sortedDeps(edges map[string]*edgeInfo) []string {
	deps := make([]string, 0, len(edges))
	for dep := range edges {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
