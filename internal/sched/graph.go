package sched

import "sort"

type edge struct {
	dep  Dependency
	from int
	to   int
}

// Graph is an arena-indexed view of a project's tasks and dependencies:
// tasks live in a flat slice and edges carry integer indexes into it.
type Graph struct {
	tasks []Task
	index map[string]int
	out   [][]edge
	in    [][]edge
}

// BuildGraph indexes tasks, validates that every dependency references two
// known tasks, and rejects cyclic dependency sets.
func BuildGraph(tasks []Task, deps []Dependency) (*Graph, error) {
	g := &Graph{
		tasks: tasks,
		index: make(map[string]int, len(tasks)),
		out:   make([][]edge, len(tasks)),
		in:    make([][]edge, len(tasks)),
	}
	for i, t := range tasks {
		g.index[t.ID] = i
	}
	for _, d := range deps {
		from, ok := g.index[d.PredecessorID]
		if !ok {
			return nil, OrphanDependencyError{DependencyID: d.ID, TaskID: d.PredecessorID}
		}
		to, ok := g.index[d.SuccessorID]
		if !ok {
			return nil, OrphanDependencyError{DependencyID: d.ID, TaskID: d.SuccessorID}
		}
		e := edge{dep: d, from: from, to: to}
		g.out[from] = append(g.out[from], e)
		g.in[to] = append(g.in[to], e)
	}
	if err := g.detectCycle(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCycle runs DFS with three-color visit state over the outgoing
// adjacency. On a back edge it reports the dependency that closes the cycle.
func (g *Graph) detectCycle() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(g.tasks))

	var dfs func(node int) *Dependency
	dfs = func(node int) *Dependency {
		color[node] = gray
		for _, e := range g.out[node] {
			if color[e.to] == gray {
				d := e.dep
				return &d
			}
			if color[e.to] == white {
				if d := dfs(e.to); d != nil {
					return d
				}
			}
		}
		color[node] = black
		return nil
	}

	order := g.sortedIndexes()
	for _, i := range order {
		if color[i] != white {
			continue
		}
		if d := dfs(i); d != nil {
			return CyclicDependencyError{DependencyID: d.ID}
		}
	}
	return nil
}

// TopoOrder returns task indexes in topological order using Kahn's
// algorithm, ties broken by task id for deterministic runs.
func (g *Graph) TopoOrder() []int {
	inDegree := make([]int, len(g.tasks))
	for i := range g.tasks {
		inDegree[i] = len(g.in[i])
	}
	var queue []int
	for _, i := range g.sortedIndexes() {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, len(g.tasks))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var ready []int
		for _, e := range g.out[node] {
			inDegree[e.to]--
			if inDegree[e.to] == 0 {
				ready = append(ready, e.to)
			}
		}
		sort.Slice(ready, func(a, b int) bool { return g.tasks[ready[a]].ID < g.tasks[ready[b]].ID })
		queue = append(queue, ready...)
	}
	return order
}

func (g *Graph) sortedIndexes() []int {
	order := make([]int, len(g.tasks))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return g.tasks[order[a]].ID < g.tasks[order[b]].ID })
	return order
}
