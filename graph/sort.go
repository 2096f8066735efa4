package graph

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// EntryKind distinguishes real items from container head sentinels.
type EntryKind int

const (
	// EntryItem is a real item. For a container it marks the point where
	// the container opens, before any of its children.
	EntryItem EntryKind = iota
	// EntryContainerHead closes a container: every child precedes it.
	EntryContainerHead
)

// Entry is one position of a sorted Sequence.
type Entry struct {
	Index int
	// Rank is the topological level (longest path from a root). Several
	// entries may share a rank.
	Rank     int
	FullName string
	Kind     EntryKind
	// Item is the real item, or for a head entry the container it closes.
	Item *Item
}

// IsContainerHead reports whether the entry is a container head sentinel.
func (e Entry) IsContainerHead() bool { return e.Kind == EntryContainerHead }

// IsContainerStart reports whether the entry opens a container.
func (e Entry) IsContainerStart() bool { return e.Kind == EntryItem && e.Item.IsContainer() }

// Sequence is the deterministic output of Sort.
type Sequence struct {
	Entries []Entry
	// Notes lists optional references that were dropped because nothing
	// resolved them.
	Notes []string
}

// Names returns the display names of all entries in order.
func (s *Sequence) Names() []string {
	out := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.FullName
	}
	return out
}

// Position returns the index of the real entry of the named item.
func (s *Sequence) Position(name string) (int, bool) {
	k := Key(name)
	for _, e := range s.Entries {
		if e.Kind == EntryItem && e.Item.Key() == k {
			return e.Index, true
		}
	}
	return 0, false
}

// Sorter orders a Graph.
type Sorter struct {
	// TieBreakReverted orders entries of equal rank by descending FullName.
	TieBreakReverted bool
	Logger           *slog.Logger
}

// NewSorter creates a Sorter. A nil logger falls back to slog.Default().
func NewSorter(tieBreakReverted bool, logger *slog.Logger) *Sorter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sorter{TieBreakReverted: tieBreakReverted, Logger: logger}
}

type sortNode struct {
	name string
	key  string
	kind EntryKind
	item *Item
	out  []int
	in   []int
}

type nodeGraph struct {
	nodes []*sortNode
	entry map[*Item]int
	exit  map[*Item]int
	edges map[[2]int]struct{}
}

func (ng *nodeGraph) add(from, to int) {
	if from == to {
		return
	}
	e := [2]int{from, to}
	if _, ok := ng.edges[e]; ok {
		return
	}
	ng.edges[e] = struct{}{}
	ng.nodes[from].out = append(ng.nodes[from].out, to)
	ng.nodes[to].in = append(ng.nodes[to].in, from)
}

// Sort produces the execution sequence for g.
//
// Every mandatory Requires edge A -> B places B (or B's head, for a
// container) before A. A container's start precedes its children, which
// precede its head. Entries of equal rank are ordered by FullName, ascending
// unless TieBreakReverted is set.
func (s *Sorter) Sort(g *Graph) (*Sequence, error) {
	if g == nil {
		return nil, errors.New("nil graph")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ng := &nodeGraph{
		entry: make(map[*Item]int, g.Len()),
		exit:  make(map[*Item]int, g.Len()),
		edges: make(map[[2]int]struct{}),
	}
	for _, it := range g.sorted {
		idx := len(ng.nodes)
		ng.nodes = append(ng.nodes, &sortNode{name: it.FullName, key: it.Key(), kind: EntryItem, item: it})
		ng.entry[it] = idx
		ng.exit[it] = idx
		if it.IsContainer() {
			head := len(ng.nodes)
			ng.nodes = append(ng.nodes, &sortNode{name: it.HeadName(), key: Key(it.HeadName()), kind: EntryContainerHead, item: it})
			ng.exit[it] = head
		}
	}

	for _, it := range g.sorted {
		if !it.IsContainer() {
			continue
		}
		ng.add(ng.entry[it], ng.exit[it])
		for _, child := range it.children {
			ng.add(ng.entry[it], ng.entry[child])
			ng.add(ng.exit[child], ng.exit[it])
		}
	}

	seq := &Sequence{}
	var errs []error
	for _, it := range g.sorted {
		for _, ref := range it.Requires {
			targets, err := s.resolve(g, it, ref, "requires", seq, logger)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			for _, dep := range targets {
				if dep == it {
					errs = append(errs, cycleError([]string{it.FullName, it.FullName}))
					continue
				}
				ng.add(ng.exit[dep], ng.entry[it])
			}
		}
		for _, ref := range it.RequiredBy {
			targets, err := s.resolve(g, it, ref, "is required by", seq, logger)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			for _, dependent := range targets {
				if dependent == it {
					errs = append(errs, cycleError([]string{it.FullName, it.FullName}))
					continue
				}
				ng.add(ng.exit[it], ng.entry[dependent])
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, n := range ng.nodes {
		sort.Ints(n.out)
		sort.Ints(n.in)
	}

	order := ng.topoOrder()
	if len(order) != len(ng.nodes) {
		return nil, cycleError(ng.findCycle())
	}

	rank := make([]int, len(ng.nodes))
	for _, u := range order {
		for _, p := range ng.nodes[u].in {
			if r := rank[p] + 1; r > rank[u] {
				rank[u] = r
			}
		}
	}

	idx := make([]int, len(ng.nodes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		na, nb := ng.nodes[idx[a]], ng.nodes[idx[b]]
		ra, rb := rank[idx[a]], rank[idx[b]]
		if ra != rb {
			return ra < rb
		}
		if na.key != nb.key {
			if s.TieBreakReverted {
				return na.key > nb.key
			}
			return na.key < nb.key
		}
		return na.name < nb.name
	})

	seq.Entries = make([]Entry, len(idx))
	for pos, n := range idx {
		node := ng.nodes[n]
		seq.Entries[pos] = Entry{
			Index:    pos,
			Rank:     rank[n],
			FullName: node.name,
			Kind:     node.kind,
			Item:     node.item,
		}
	}
	return seq, nil
}

// resolve expands a reference into items. Groups expand to their members,
// excluding the referrer itself.
func (s *Sorter) resolve(g *Graph, from *Item, ref ItemRef, relation string, seq *Sequence, logger *slog.Logger) ([]*Item, error) {
	if it, ok := g.items[Key(ref.Name)]; ok {
		return []*Item{it}, nil
	}
	if gr, ok := g.groups[Key(ref.Name)]; ok {
		out := make([]*Item, 0, len(gr.members))
		for _, m := range gr.members {
			if m != from {
				out = append(out, m)
			}
		}
		return out, nil
	}
	if ref.Optional {
		note := fmt.Sprintf("%s %s optional %q, which is not defined; reference dropped", from.FullName, relation, ref.Name)
		seq.Notes = append(seq.Notes, note)
		logger.Info("dropping unresolved optional reference", "item", from.FullName, "reference", ref.Name)
		return nil, nil
	}
	return nil, missingError(ref.Name, from.FullName, relation)
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder is Kahn's algorithm with a min-heap ready queue, so the result
// only depends on node indices. Nodes on a cycle are left out.
func (ng *nodeGraph) topoOrder() []int {
	indeg := make([]int, len(ng.nodes))
	for i, n := range ng.nodes {
		indeg[i] = len(n.in)
	}
	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(ng.nodes))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range ng.nodes[n].out {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle returns one cycle as a closed path of display names, following
// edge direction (dependency first).
func (ng *nodeGraph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(ng.nodes))
	parent := make([]int, len(ng.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range ng.nodes[u].out {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// back edge u -> v: walk parents from u up to v
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range ng.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, ng.nodes[cycle[i]].name)
	}
	return out
}
