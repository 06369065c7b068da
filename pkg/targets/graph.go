package targets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// GraphNode is one target in the inheritance graph.
type GraphNode struct {
	Name string `json:"name"`

	// Depth is the number of inheritance steps from the nearest root.
	Depth int `json:"depth"`

	// Parents are the targets listed in "inherits", in declaration order.
	Parents []string `json:"parents"`

	// Children are the targets that inherit from this one, sorted.
	Children []string `json:"children"`
}

// Graph is the target inheritance hierarchy.
type Graph struct {
	Nodes map[string]*GraphNode `json:"nodes"`
	Roots []string              `json:"roots"`
	Depth int                   `json:"depth"`
}

// GraphBuilder builds the inheritance graph of a target catalog. It checks
// that every parent exists and that the hierarchy has no cycles, then groups
// targets by depth.
type GraphBuilder struct {
	// parents maps a target to the targets it inherits from
	parents map[string][]string

	// children maps a target to the targets that inherit from it
	children map[string][]string

	// inDegree counts the parents of each target
	inDegree map[string]int

	// levels groups targets by depth, sorted within a level
	levels [][]string
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		parents:  make(map[string][]string),
		children: make(map[string][]string),
		inDegree: make(map[string]int),
		levels:   make([][]string, 0),
	}
}

// Build constructs the graph from a name → parents mapping.
func (b *GraphBuilder) Build(inherits map[string][]string) (*Graph, error) {
	if err := b.initialize(inherits); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	b.computeLevels()
	return b.buildGraph(), nil
}

func (b *GraphBuilder) initialize(inherits map[string][]string) error {
	for name := range inherits {
		b.parents[name] = nil
		b.children[name] = make([]string, 0)
		b.inDegree[name] = 0
	}

	for _, name := range sortedNames(inherits) {
		for _, parent := range inherits[name] {
			if _, exists := inherits[parent]; !exists {
				return engine.Hardf(engine.KindInvalidTarget,
					"target %s inherits from unknown target %s", name, parent).
					WithUnit(engine.TargetUnit(name))
			}
			b.parents[name] = append(b.parents[name], parent)
			b.children[parent] = append(b.children[parent], name)
			b.inDegree[name]++
		}
	}
	for _, kids := range b.children {
		sort.Strings(kids)
	}
	return nil
}

// detectCycles walks parent edges depth first.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	for _, name := range sortedNames(b.parents) {
		if visited[name] {
			continue
		}
		if cycle := b.visit(name, visited, onStack, nil); cycle != nil {
			return engine.Hardf(engine.KindInvalidTarget,
				"circular inheritance detected: %s", formatCycle(cycle)).
				WithUnit(engine.TargetUnit(cycle[0]))
		}
	}
	return nil
}

func (b *GraphBuilder) visit(name string, visited, onStack map[string]bool, path []string) []string {
	visited[name] = true
	onStack[name] = true
	path = append(path, name)

	for _, parent := range b.parents[name] {
		if !visited[parent] {
			if cycle := b.visit(parent, visited, onStack, path); cycle != nil {
				return cycle
			}
		} else if onStack[parent] {
			for i, n := range path {
				if n == parent {
					return append(append([]string(nil), path[i:]...), parent)
				}
			}
		}
	}

	onStack[name] = false
	return nil
}

// computeLevels runs Kahn's algorithm from the root targets down.
func (b *GraphBuilder) computeLevels() {
	remaining := make(map[string]int, len(b.inDegree))
	current := make([]string, 0)
	for name, degree := range b.inDegree {
		remaining[name] = degree
		if degree == 0 {
			current = append(current, name)
		}
	}

	for len(current) > 0 {
		sort.Strings(current)
		b.levels = append(b.levels, current)

		next := make([]string, 0)
		for _, name := range current {
			for _, child := range b.children[name] {
				remaining[child]--
				if remaining[child] == 0 {
					next = append(next, child)
				}
			}
		}
		current = next
	}
}

func (b *GraphBuilder) buildGraph() *Graph {
	graph := &Graph{
		Nodes: make(map[string]*GraphNode, len(b.parents)),
		Roots: make([]string, 0),
		Depth: len(b.levels),
	}
	for depth, names := range b.levels {
		for _, name := range names {
			graph.Nodes[name] = &GraphNode{
				Name:     name,
				Depth:    depth,
				Parents:  b.parents[name],
				Children: b.children[name],
			}
			if depth == 0 {
				graph.Roots = append(graph.Roots, name)
			}
		}
	}
	return graph
}

// Levels returns the targets grouped by depth.
func (b *GraphBuilder) Levels() [][]string {
	return b.levels
}

// ToDOT renders the hierarchy in Graphviz DOT format, one cluster per depth.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Targets {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	byDepth := make([][]string, g.Depth)
	for name, node := range g.Nodes {
		byDepth[node.Depth] = append(byDepth[node.Depth], name)
	}
	for depth, names := range byDepth {
		sort.Strings(names)
		sb.WriteString(fmt.Sprintf("  subgraph cluster_depth_%d {\n", depth))
		sb.WriteString(fmt.Sprintf("    label=\"Depth %d\";\n", depth))
		sb.WriteString("    style=dashed;\n")
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("    \"%s\";\n", name))
		}
		sb.WriteString("  }\n\n")
	}

	for _, name := range sortedNames(g.Nodes) {
		for _, parent := range g.Nodes[name].Parents {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", parent, name))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
