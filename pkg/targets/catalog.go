// Package targets models the target description hierarchy: inheritance,
// resolution order, label sets and inherited attributes.
package targets

import (
	"github.com/rs/zerolog"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Node is one target declaration block.
type Node struct {
	Name     string
	Inherits []string
	Data     engine.OrderedMap
}

// Ancestor is an entry of a resolution order.
type Ancestor struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// Catalog is the static, read-only target hierarchy. Resolution works on
// Target snapshots taken from it.
type Catalog struct {
	nodes  map[string]*Node
	order  []string
	graph  *Graph
	logger zerolog.Logger
}

// NewCatalog builds a catalog from a decoded targets document.
func NewCatalog(doc engine.OrderedMap, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		nodes:  make(map[string]*Node, len(doc)),
		logger: logger.With().Str("component", "targets").Logger(),
	}
	inherits := make(map[string][]string, len(doc))
	for _, e := range doc {
		block, ok := e.Value.(engine.OrderedMap)
		if !ok {
			return nil, engine.Hardf(engine.KindInvalidTarget,
				"target %s must be a mapping", e.Key).WithUnit(engine.TargetUnit(e.Key))
		}
		if _, dup := c.nodes[e.Key]; dup {
			return nil, engine.Hardf(engine.KindInvalidTarget,
				"target %s declared twice", e.Key).WithUnit(engine.TargetUnit(e.Key))
		}
		node := &Node{Name: e.Key, Inherits: block.Strings("inherits"), Data: block}
		c.nodes[e.Key] = node
		c.order = append(c.order, e.Key)
		inherits[e.Key] = node.Inherits
	}

	graph, err := NewGraphBuilder().Build(inherits)
	if err != nil {
		return nil, err
	}
	c.graph = graph
	c.logger.Debug().Int("targets", len(c.order)).Int("depth", graph.Depth).Msg("Target catalog loaded")
	return c, nil
}

// Names returns the target names in declaration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Node returns the declaration of name.
func (c *Catalog) Node(name string) (*Node, bool) {
	n, ok := c.nodes[name]
	return n, ok
}

// Graph returns the inheritance graph.
func (c *Catalog) Graph() *Graph {
	return c.graph
}

// ResolutionOrder returns the targets reachable from name through
// "inherits", depth first, each tagged with its distance from name. A target
// reachable along several paths appears once, at the first place it is met.
func (c *Catalog) ResolutionOrder(name string) ([]Ancestor, error) {
	if _, ok := c.nodes[name]; !ok {
		return nil, engine.Hardf(engine.KindInvalidTarget, "unknown target %s", name).
			WithUnit(engine.TargetUnit(name))
	}
	seen := make(map[string]bool)
	var order []Ancestor
	var walk func(string, int)
	walk = func(n string, level int) {
		if !seen[n] {
			seen[n] = true
			order = append(order, Ancestor{Name: n, Level: level})
		}
		for _, parent := range c.nodes[n].Inherits {
			walk(parent, level+1)
		}
	}
	walk(name, 0)
	return order, nil
}

// Target returns a resolved snapshot of name. The snapshot owns deep copies
// of every block it was built from.
func (c *Catalog) Target(name string) (*Target, error) {
	order, err := c.ResolutionOrder(name)
	if err != nil {
		return nil, err
	}
	t := &Target{
		Name:            name,
		ResolutionOrder: order,
		blocks:          make(map[string]engine.OrderedMap, len(order)),
		reachable:       make(map[string]map[string]bool, len(order)),
		cumulative:      make(map[string][]string),
	}
	for _, a := range order {
		t.blocks[a.Name] = c.nodes[a.Name].Data.Clone()
		sub, _ := c.ResolutionOrder(a.Name)
		set := make(map[string]bool, len(sub))
		for _, s := range sub {
			set[s.Name] = true
		}
		t.reachable[a.Name] = set
	}
	for _, attr := range CumulativeAttributes {
		values, err := t.resolveCumulative(attr)
		if err != nil {
			return nil, err
		}
		t.cumulative[attr] = values
	}
	t.computeLabels()

	c.logger.Debug().
		Str("target", name).
		Int("ancestors", len(order)).
		Strs("labels", t.Labels).
		Msg("Target snapshot created")
	return t, nil
}
