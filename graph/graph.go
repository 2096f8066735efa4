package graph

import (
	"errors"
	"sort"
	"strings"
)

// Graph is an immutable set of items and groups with resolved container and
// group membership. Requires/RequiredBy references are resolved by Sort.
type Graph struct {
	items  map[string]*Item
	groups map[string]*Group
	sorted []*Item // by key
}

// Item returns the item registered under name (case-insensitive).
func (g *Graph) Item(name string) (*Item, bool) {
	it, ok := g.items[Key(name)]
	return it, ok
}

// Group returns the group registered under name (case-insensitive).
func (g *Graph) Group(name string) (*Group, bool) {
	gr, ok := g.groups[Key(name)]
	return gr, ok
}

// Items returns all items ordered by key.
func (g *Graph) Items() []*Item {
	out := make([]*Item, len(g.sorted))
	copy(out, g.sorted)
	return out
}

// Groups returns all groups ordered by key.
func (g *Graph) Groups() []*Group {
	keys := make([]string, 0, len(g.groups))
	for k := range g.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Group, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.groups[k])
	}
	return out
}

// Len returns the number of items.
func (g *Graph) Len() int { return len(g.sorted) }

// Builder accumulates items and groups and produces a Graph.
//
//	g, err := graph.NewBuilder().
//	    Add(graph.Item{FullName: "sales", Kind: graph.KindContainer}).
//	    Add(graph.Item{FullName: "sales.orders", Container: "sales"}).
//	    Build()
type Builder struct {
	items  []Item
	groups []string
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers an item. Items of KindGroup register a group instead.
func (b *Builder) Add(items ...Item) *Builder {
	b.items = append(b.items, items...)
	return b
}

// Group declares a group explicitly. Groups are also created implicitly by
// items declaring membership.
func (b *Builder) Group(names ...string) *Builder {
	b.groups = append(b.groups, names...)
	return b
}

// Build validates the accumulated definitions and resolves containers and
// group membership. All problems found are returned joined.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{
		items:  make(map[string]*Item, len(b.items)),
		groups: make(map[string]*Group),
	}
	var errs []error

	declareGroup := func(name string) {
		k := Key(name)
		if _, ok := g.groups[k]; !ok {
			g.groups[k] = &Group{Name: strings.TrimSpace(name)}
		}
	}
	for _, name := range b.groups {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, configErrorf("", "group name is empty"))
			continue
		}
		declareGroup(name)
	}

	for n := range b.items {
		it := b.items[n]
		if strings.TrimSpace(it.FullName) == "" {
			errs = append(errs, configErrorf("", "item #%d has no name", n))
			continue
		}
		it.FullName = strings.TrimSpace(it.FullName)
		if it.Kind == KindGroup {
			declareGroup(it.FullName)
			continue
		}
		if _, dup := g.items[it.Key()]; dup {
			errs = append(errs, configErrorf(it.FullName, "duplicate item name"))
			continue
		}
		if it.Kind == KindSimple && len(it.Children) > 0 {
			errs = append(errs, configErrorf(it.FullName, "simple item declares children"))
			continue
		}
		it.PreviousNames = append([]PreviousName(nil), it.PreviousNames...)
		if err := it.validateHistory(); err != nil {
			errs = append(errs, err)
			continue
		}
		it.children = nil
		g.items[it.Key()] = &it
	}

	for k, it := range g.items {
		if _, clash := g.groups[k]; clash {
			errs = append(errs, configErrorf(it.FullName, "name is used by both an item and a group"))
		}
	}

	g.sorted = make([]*Item, 0, len(g.items))
	for _, it := range g.items {
		g.sorted = append(g.sorted, it)
	}
	sort.Slice(g.sorted, func(i, j int) bool { return g.sorted[i].Key() < g.sorted[j].Key() })

	for _, it := range g.sorted {
		for _, name := range it.Groups {
			if strings.TrimSpace(name) == "" {
				continue
			}
			declareGroup(name)
			gr := g.groups[Key(name)]
			gr.members = append(gr.members, it)
		}
	}

	if err := g.resolveContainers(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return g, nil
}

// resolveContainers links children to their container. Items are visited in
// key order so children lists come out sorted.
func (g *Graph) resolveContainers() error {
	var errs []error
	parent := make(map[*Item]*Item)

	attach := func(container, child *Item) {
		if prev, ok := parent[child]; ok {
			if prev != container {
				errs = append(errs, containerErrorf("%q is claimed by containers %q and %q", child.FullName, prev.FullName, container.FullName))
			}
			return
		}
		if container == child {
			errs = append(errs, containerErrorf("%q contains itself", child.FullName))
			return
		}
		parent[child] = container
		container.children = append(container.children, child)
	}

	for _, it := range g.sorted {
		if strings.TrimSpace(it.Container) == "" {
			continue
		}
		c, ok := g.items[Key(it.Container)]
		if !ok {
			errs = append(errs, &GraphError{
				Kind:     ErrMissingDependency,
				Missing:  it.Container,
				Referrer: it.FullName,
				Msg:      "container " + quote(it.Container) + " of " + quote(it.FullName) + " is not defined",
			})
			continue
		}
		if !c.IsContainer() {
			errs = append(errs, containerErrorf("%q declares container %q, which is a %s item", it.FullName, c.FullName, c.Kind))
			continue
		}
		attach(c, it)
	}

	for _, c := range g.sorted {
		for _, ref := range c.Children {
			child, ok := g.items[Key(ref.Name)]
			if !ok {
				if ref.Optional {
					continue
				}
				errs = append(errs, missingError(ref.Name, c.FullName, "contains"))
				continue
			}
			if child.Container != "" && Key(child.Container) != c.Key() {
				errs = append(errs, containerErrorf("%q is claimed by containers %q and %q", child.FullName, child.Container, c.FullName))
				continue
			}
			attach(c, child)
		}
	}

	for _, c := range g.sorted {
		sort.Slice(c.children, func(i, j int) bool { return c.children[i].Key() < c.children[j].Key() })
	}
	return errors.Join(errs...)
}

func quote(s string) string { return `"` + s + `"` }
