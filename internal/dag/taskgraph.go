package dag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"taskweaver/internal/core"
)

type edgeIndex struct {
	from    int
	to      int
	mode    core.InjectionMode
	keyword string
}

// TaskGraph is an immutable, validated set of tasks and dependency edges.
//
// It is safe for concurrent read access.
type TaskGraph struct {
	nodesByName map[string]*TaskNode
	nodes       []*TaskNode // insertion order

	incoming [][]edgeIndex // by node index, declaration order
	outgoing [][]int       // by node index, ascending
	indeg    []int

	order []int // topological order
	pos   []int // position of each node in order
	depth []int

	fingerprint string
}

// NewTaskGraph validates tasks and builds a graph from them.
//
// Checks run in this order and the first failure is returned as a
// *GraphError: task well-formedness, name uniqueness, dependency
// references, self dependencies, malformed or repeated dependencies, cycles.
// Nothing is executed and no task is modified.
func NewTaskGraph(tasks []*core.Task) (*TaskGraph, error) {
	nodesByName := make(map[string]*TaskNode, len(tasks))
	nodes := make([]*TaskNode, 0, len(tasks))

	for i, t := range tasks {
		if t == nil {
			return nil, taskErr(ErrInvalidTask, "", "nil task at position "+strconv.Itoa(i))
		}
		if err := validateName(t.Name); err != nil {
			return nil, err
		}
		if t.Callable == nil {
			return nil, taskErr(ErrInvalidTask, t.Name, "callable is required")
		}
		if _, exists := nodesByName[t.Name]; exists {
			return nil, taskErr(ErrDuplicateTaskName, t.Name, "")
		}
		node := &TaskNode{Name: t.Name, Task: t, index: i}
		nodesByName[t.Name] = node
		nodes = append(nodes, node)
	}

	incoming := make([][]edgeIndex, len(nodes))
	outgoing := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))

	for _, n := range nodes {
		seen := make(map[int]struct{}, len(n.Task.Dependencies))
		for _, d := range n.Task.Dependencies {
			up, ok := nodesByName[d.Task]
			if !ok {
				return nil, depErr(ErrUnknownDependency, n.Name, d.Task, "")
			}
			if up.index == n.index {
				return nil, depErr(ErrSelfDependency, n.Name, d.Task, "")
			}
			switch d.Mode {
			case core.InjectNone, core.InjectPositional:
			case core.InjectKeyword:
				if d.Keyword == "" {
					return nil, depErr(ErrInvalidDependency, n.Name, d.Task, "keyword injection requires a keyword")
				}
			default:
				return nil, depErr(ErrInvalidDependency, n.Name, d.Task, "unknown injection mode "+d.Mode.String())
			}
			if _, dup := seen[up.index]; dup {
				return nil, depErr(ErrDuplicateDependency, n.Name, d.Task, "")
			}
			seen[up.index] = struct{}{}

			incoming[n.index] = append(incoming[n.index], edgeIndex{
				from:    up.index,
				to:      n.index,
				mode:    d.Mode,
				keyword: d.Keyword,
			})
			outgoing[up.index] = append(outgoing[up.index], n.index)
			indeg[n.index]++
		}
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
	}

	g := &TaskGraph{
		nodesByName: nodesByName,
		nodes:       nodes,
		incoming:    incoming,
		outgoing:    outgoing,
		indeg:       indeg,
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	g.order = g.topoOrderIndices()
	g.pos = make([]int, len(nodes))
	for p, idx := range g.order {
		g.pos[idx] = p
	}
	g.depth = g.computeDepth()
	g.fingerprint = g.computeFingerprint()
	return g, nil
}

func validateName(name string) error {
	if name == "" {
		return taskErr(ErrInvalidTask, "", "task name is required")
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return taskErr(ErrInvalidTask, name, "task name must not contain whitespace")
	}
	return nil
}

// Len returns the number of tasks.
func (g *TaskGraph) Len() int { return len(g.nodes) }

// Fingerprint is a stable hex identity derived from task names and edges.
func (g *TaskGraph) Fingerprint() string { return g.fingerprint }

// Node returns a node by name.
func (g *TaskGraph) Node(name string) (*TaskNode, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in insertion order.
func (g *TaskGraph) Nodes() []*TaskNode {
	out := make([]*TaskNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns every edge, grouped by dependent in insertion order and, within
// a dependent, in declaration order.
func (g *TaskGraph) Edges() []Edge {
	var out []Edge
	for i := range g.nodes {
		for _, e := range g.incoming[i] {
			out = append(out, g.edge(e))
		}
	}
	return out
}

// Dependencies returns the direct dependency edges of name in declaration order.
func (g *TaskGraph) Dependencies(name string) ([]Edge, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return nil, false
	}
	out := make([]Edge, 0, len(g.incoming[n.index]))
	for _, e := range g.incoming[n.index] {
		out = append(out, g.edge(e))
	}
	return out, true
}

// Dependents returns every task that transitively requires name, in
// topological order. These are exactly the tasks skipped if name fails.
func (g *TaskGraph) Dependents(name string) ([]string, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return nil, false
	}

	visited := make([]bool, len(g.nodes))
	stack := append([]int(nil), g.outgoing[n.index]...)
	var reached []int
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[u] {
			continue
		}
		visited[u] = true
		reached = append(reached, u)
		stack = append(stack, g.outgoing[u]...)
	}

	sort.Slice(reached, func(i, j int) bool { return g.pos[reached[i]] < g.pos[reached[j]] })
	out := make([]string, 0, len(reached))
	for _, idx := range reached {
		out = append(out, g.nodes[idx].Name)
	}
	return out, true
}

// TopologicalOrder returns task names such that every dependency precedes
// its dependents. Among tasks that are ready at the same time, the one added
// first wins.
func (g *TaskGraph) TopologicalOrder() []string {
	names := make([]string, 0, len(g.order))
	for _, idx := range g.order {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

// Depth is the length of the longest dependency chain ending at name.
// Roots have depth 0.
func (g *TaskGraph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.index], true
}

// Levels groups tasks by depth. Tasks in one level have no dependencies on
// each other; each level is in insertion order.
func (g *TaskGraph) Levels() [][]string {
	maxDepth := -1
	for _, d := range g.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]string, maxDepth+1)
	for _, n := range g.nodes {
		d := g.depth[n.index]
		levels[d] = append(levels[d], n.Name)
	}
	return levels
}

func (g *TaskGraph) edge(e edgeIndex) Edge {
	return Edge{
		From:    g.nodes[e.from].Name,
		To:      g.nodes[e.to].Name,
		Mode:    e.mode,
		Keyword: e.keyword,
	}
}

func (g *TaskGraph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.order {
		for _, e := range g.incoming[u] {
			if cand := depth[e.from] + 1; cand > depth[u] {
				depth[u] = cand
			}
		}
	}
	return depth
}

func (g *TaskGraph) computeFingerprint() string {
	h := sha256.New()
	var lenBuf [8]byte

	writeField := func(data string) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
		h.Write(lenBuf[:])
		h.Write([]byte(data))
	}

	writeField("nodes:" + strconv.Itoa(len(g.nodes)))
	for _, n := range g.nodes {
		writeField(n.Name)
	}
	edges := g.Edges()
	writeField("edges:" + strconv.Itoa(len(edges)))
	for _, e := range edges {
		writeField(e.From)
		writeField(e.To)
		writeField(e.Mode.String())
		writeField(e.Keyword)
	}
	return hex.EncodeToString(h.Sum(nil))
}
