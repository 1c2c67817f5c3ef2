// Package taskgraph builds and executes the task dependency DAG: from a
// requested task name, pull in depends-on edges transitively, bind
// arguments at construction time, and walk the result in topological order.
// Cache keys are computed by CombinedHash and stored by SaveCacheEntry, but
// neither Run nor the run command consults them: every task in the walk
// executes.
//
// Graph construction and cycle detection are delegated to
// github.com/pyr-sh/dag's AcyclicGraph, the same dependency-graph library
// vercel-turborepo uses for its own task pipeline.
package taskgraph

import (
	"fmt"
	"sort"

	"github.com/pyr-sh/dag"

	"github.com/bilusteknoloji/flux/internal/manifest"
)

// ArgKind distinguishes how a task's arguments were bound at graph-build
// time.
type ArgKind int

const (
	ArgBound ArgKind = iota
	ArgFreeForm
)

// ArgValues is the tagged variant the source permits: named args with
// defaults, bound to specific values, or a free-form trailing arg list.
type ArgValues struct {
	Kind     ArgKind
	Bound    map[string]string
	FreeForm []string
}

// Node is one task bound into the graph: its manifest definition plus its
// resolved argument values.
type Node struct {
	TaskName string
	Task     manifest.Task
	Args     ArgValues
}

func (n Node) Hashcode() any { return n.TaskName }

// Graph is a built, cycle-checked task dependency graph.
type Graph struct {
	g     *dag.AcyclicGraph
	nodes map[string]Node
}

// TaskCycle is returned when depends-on edges form a cycle; Path names the
// cycle in encounter order for the error message.
type TaskCycle struct {
	Path []string
}

func (e *TaskCycle) Error() string {
	return fmt.Sprintf("task dependency cycle: %v", e.Path)
}

// Build starts from rootTask (already argument-bound) and recursively pulls
// in depends-on edges from tasks, rejecting cycles.
func Build(tasks map[string]manifest.Task, rootTask string, rootArgs ArgValues) (*Graph, error) {
	g := &dag.AcyclicGraph{}
	nodes := map[string]Node{}

	var visit func(name string, path []string) error

	visit = func(name string, path []string) error {
		for _, p := range path {
			if p == name {
				return &TaskCycle{Path: append(append([]string{}, path...), name)}
			}
		}

		if _, ok := nodes[name]; ok {
			return nil
		}

		task, ok := tasks[name]
		if !ok {
			return fmt.Errorf("unknown task %q", name)
		}

		args := ArgValues{Kind: ArgBound, Bound: map[string]string{}}
		if name == rootTask {
			args = rootArgs
		}

		node := Node{TaskName: name, Task: task, Args: args}
		nodes[name] = node
		g.Add(node)

		nextPath := append(append([]string{}, path...), name)

		for _, dep := range task.DependsOn {
			if err := visit(dep, nextPath); err != nil {
				return err
			}

			g.Connect(dag.BasicEdge(node, nodes[dep]))
		}

		return nil
	}

	if err := visit(rootTask, nil); err != nil {
		return nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task graph: %w", err)
	}

	return &Graph{g: g, nodes: nodes}, nil
}

// TopologicalOrder returns tasks in dependency-first order: every task
// appears after all of its depends-on edges.
func (gr *Graph) TopologicalOrder() ([]Node, error) {
	indegree := map[string]int{}
	adj := map[string][]string{}

	for name := range gr.nodes {
		indegree[name] = 0
	}

	for name, node := range gr.nodes {
		for _, dep := range node.Task.DependsOn {
			adj[dep] = append(adj[dep], name)
			indegree[name]++
		}
	}

	var queue []string

	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	sort.Strings(queue)

	var order []Node

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		order = append(order, gr.nodes[name])

		var next []string

		for _, dependent := range adj[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}

		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(order) != len(gr.nodes) {
		return nil, fmt.Errorf("task graph contains a cycle not caught during construction")
	}

	return order, nil
}

// SuggestTaskName finds the closest known task name to an unknown one
// requested by the user, for "did you mean" diagnostics on `run <task>`.
func SuggestTaskName(tasks map[string]manifest.Task, requested string) string {
	best := ""
	bestDist := -1

	for name := range tasks {
		d := levenshtein(requested, name)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = name
		}
	}

	if bestDist >= 0 && bestDist <= 3 {
		return best
	}

	return ""
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	d := make([][]int, la+1)

	for i := range d {
		d[i] = make([]int, lb+1)
		d[i][0] = i
	}

	for j := 0; j <= lb; j++ {
		d[0][j] = j
	}

	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			d[i][j] = minOf3(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
		}
	}

	return d[la][lb]
}

func minOf3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
