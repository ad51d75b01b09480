package graph

import (
	"fmt"
	"sort"

	"github.com/loomlabs/loom/types"
)

// Edge is a declared transition out of a node: either a fixed target, or a
// conditional map from routing keys to targets with a fail-closed default.
type Edge struct {
	fixed       string
	targets     map[string]string
	defaultNode string
}

// Conditional reports whether the edge routes on the node's routing key.
func (e *Edge) Conditional() bool {
	return e.targets != nil
}

// Fixed returns the unconditional target.
func (e *Edge) Fixed() string {
	return e.fixed
}

// Resolve maps a routing key to a target. The second return is false when
// the key was not declared and the documented default was used instead.
func (e *Edge) Resolve(key string) (target string, declared bool) {
	if t, ok := e.targets[key]; ok {
		return t, true
	}
	return e.defaultNode, false
}

// Targets returns the declared routing keys in sorted order.
func (e *Edge) Targets() []string {
	keys := make([]string, 0, len(e.targets))
	for k := range e.targets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Default returns the fail-closed default target of a conditional edge.
func (e *Edge) Default() string {
	return e.defaultNode
}

// Graph is an immutable, validated workflow definition.
type Graph struct {
	schema   *Schema
	handlers map[string]Handler
	edges    map[string]*Edge
	entry    string
}

// Schema returns the state schema.
func (g *Graph) Schema() *Schema {
	return g.schema
}

// Entry returns the entry node name.
func (g *Graph) Entry() string {
	return g.entry
}

// Handler returns the handler registered under name.
func (g *Graph) Handler(name string) (Handler, bool) {
	h, ok := g.handlers[name]
	return h, ok
}

// EdgeFrom returns the declared edge out of a node.
func (g *Graph) EdgeFrom(name string) (*Edge, bool) {
	e, ok := g.edges[name]
	return e, ok
}

// Nodes returns all registered node names in sorted order.
func (g *Graph) Nodes() []string {
	names := make([]string, 0, len(g.handlers))
	for n := range g.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builder constructs a Graph. All registration errors are deferred to
// Build so call sites can chain without per-call error handling.
type Builder struct {
	schema   *Schema
	handlers map[string]Handler
	edges    map[string]*Edge
	entry    string
	errs     []error
}

// NewBuilder creates a builder over the given state schema.
func NewBuilder(schema *Schema) *Builder {
	b := &Builder{
		schema:   schema,
		handlers: make(map[string]Handler),
		edges:    make(map[string]*Edge),
	}
	if schema == nil {
		b.errs = append(b.errs, types.NewError(types.ErrValidationFailed, "schema is required"))
	}
	return b
}

// AddNode registers a named handler.
func (b *Builder) AddNode(name string, h Handler) *Builder {
	switch {
	case name == "" || name == START || name == END:
		b.errs = append(b.errs, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("reserved or empty node name: %q", name)))
	case h == nil:
		b.errs = append(b.errs, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("node %s has nil handler", name)))
	default:
		if _, dup := b.handlers[name]; dup {
			b.errs = append(b.errs, types.NewError(types.ErrValidationFailed,
				fmt.Sprintf("duplicate node name: %s", name)))
			return b
		}
		b.handlers[name] = h
	}
	return b
}

// SetEntry declares the node executed first on invoke.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// AddEdge declares an unconditional edge from one node to another node
// or to END.
func (b *Builder) AddEdge(from, to string) *Builder {
	if _, dup := b.edges[from]; dup {
		b.errs = append(b.errs, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("node %s already has an edge", from)))
		return b
	}
	b.edges[from] = &Edge{fixed: to}
	return b
}

// AddConditionalEdge declares a conditional edge. The resolver node's
// routing key selects among targets; an undeclared key falls back to
// defaultTarget, which must itself be declared and must not be END — an
// ambiguous classification must never silently end the session.
func (b *Builder) AddConditionalEdge(from string, targets map[string]string, defaultTarget string) *Builder {
	if _, dup := b.edges[from]; dup {
		b.errs = append(b.errs, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("node %s already has an edge", from)))
		return b
	}
	copied := make(map[string]string, len(targets))
	for k, v := range targets {
		copied[k] = v
	}
	b.edges[from] = &Edge{targets: copied, defaultNode: defaultTarget}
	return b
}

// Build validates the definition and returns the immutable Graph. Any
// validation failure is fatal: the caller must not start serving with a
// defective graph.
func (b *Builder) Build() (*Graph, error) {
	errs := b.errs

	if len(b.handlers) == 0 {
		errs = append(errs, types.NewError(types.ErrValidationFailed, "graph has no nodes"))
	}
	if b.entry == "" {
		errs = append(errs, types.NewError(types.ErrValidationFailed, "entry node not set"))
	} else if _, ok := b.handlers[b.entry]; !ok {
		errs = append(errs, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("entry node not registered: %s", b.entry)))
	}

	terminal := false
	for from, edge := range b.edges {
		if _, ok := b.handlers[from]; !ok {
			errs = append(errs, types.NewError(types.ErrValidationFailed,
				fmt.Sprintf("edge from unregistered node: %s", from)))
		}
		if edge.Conditional() {
			if len(edge.targets) == 0 {
				errs = append(errs, types.NewError(types.ErrValidationFailed,
					fmt.Sprintf("conditional edge from %s declares no targets", from)))
			}
			for key, to := range edge.targets {
				if to == END {
					terminal = true
					continue
				}
				if _, ok := b.handlers[to]; !ok {
					errs = append(errs, types.NewError(types.ErrValidationFailed,
						fmt.Sprintf("conditional edge from %s key %q targets unregistered node: %s", from, key, to)))
				}
			}
			switch {
			case edge.defaultNode == "":
				errs = append(errs, types.NewError(types.ErrValidationFailed,
					fmt.Sprintf("conditional edge from %s has no default target", from)))
			case edge.defaultNode == END:
				errs = append(errs, types.NewError(types.ErrValidationFailed,
					fmt.Sprintf("conditional edge from %s defaults to END", from)))
			default:
				if !targetDeclared(edge, edge.defaultNode) {
					errs = append(errs, types.NewError(types.ErrValidationFailed,
						fmt.Sprintf("conditional edge from %s defaults to undeclared target: %s", from, edge.defaultNode)))
				}
				if _, ok := b.handlers[edge.defaultNode]; !ok {
					errs = append(errs, types.NewError(types.ErrValidationFailed,
						fmt.Sprintf("conditional edge from %s defaults to unregistered node: %s", from, edge.defaultNode)))
				}
			}
		} else {
			if edge.fixed == END {
				terminal = true
			} else if _, ok := b.handlers[edge.fixed]; !ok {
				errs = append(errs, types.NewError(types.ErrValidationFailed,
					fmt.Sprintf("edge from %s targets unregistered node: %s", from, edge.fixed)))
			}
		}
	}

	for name := range b.handlers {
		if _, ok := b.edges[name]; !ok {
			errs = append(errs, types.NewError(types.ErrValidationFailed,
				fmt.Sprintf("node %s has no outgoing edge", name)))
		}
	}
	if !terminal && len(b.edges) > 0 {
		errs = append(errs, types.NewError(types.ErrValidationFailed, "graph has no edge to END"))
	}

	if len(errs) > 0 {
		// Report the first defect; the graph is rebuilt after fixing it.
		return nil, errs[0]
	}

	return &Graph{
		schema:   b.schema,
		handlers: b.handlers,
		edges:    b.edges,
		entry:    b.entry,
	}, nil
}

func targetDeclared(e *Edge, node string) bool {
	for _, to := range e.targets {
		if to == node {
			return true
		}
	}
	return false
}
