package graph

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/GoCodeAlone/schemachain/version"
)

// Kind classifies an Item.
type Kind int

const (
	// KindSimple is a leaf schema object (table, view, procedure, ...).
	KindSimple Kind = iota
	// KindGroup is a named alias for a set of items. Group items never appear
	// in a sorted sequence.
	KindGroup
	// KindContainer is an item that owns children.
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindGroup:
		return "group"
	case KindContainer:
		return "container"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses the textual form produced by Kind.String. An empty string
// yields KindSimple.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "simple", "item":
		return KindSimple, nil
	case "group":
		return KindGroup, nil
	case "container":
		return KindContainer, nil
	default:
		return KindSimple, fmt.Errorf("unknown item kind %q", s)
	}
}

// ItemRef points at another item or group by name.
type ItemRef struct {
	Name     string
	Optional bool
}

// Ref returns a mandatory reference.
func Ref(name string) ItemRef { return ItemRef{Name: name} }

// OptionalRef returns an optional reference.
func OptionalRef(name string) ItemRef { return ItemRef{Name: name, Optional: true} }

func (r ItemRef) String() string {
	if r.Optional {
		return r.Name + "?"
	}
	return r.Name
}

// PreviousName is a former FullName of an item, used up to and including
// version Until.
type PreviousName struct {
	Name  string
	Until version.Version
}

// Item is a uniquely named schema object.
type Item struct {
	FullName string
	Kind     Kind

	// Type is the item type tag persisted with its version record
	// (e.g. "table", "procedure").
	Type string

	// Container is the FullName of the owning container, if any.
	Container string

	Requires   []ItemRef
	RequiredBy []ItemRef
	Groups     []string

	// Children lists additional children declared on a container. Children
	// may also attach themselves by setting Container.
	Children []ItemRef

	// Target is the version this run migrates the item to.
	Target version.Version

	// PreviousNames is the rename history, newest first once the item has
	// been added to a Graph.
	PreviousNames []PreviousName

	children []*Item
}

// Key returns the case-insensitive lookup key of the item.
func (i *Item) Key() string { return Key(i.FullName) }

// IsContainer reports whether the item owns children.
func (i *Item) IsContainer() bool { return i.Kind == KindContainer }

// ChildItems returns the resolved children of a container, ordered by key.
func (i *Item) ChildItems() []*Item {
	out := make([]*Item, len(i.children))
	copy(out, i.children)
	return out
}

// HeadName is the display name of the synthetic entry closing a container.
func (i *Item) HeadName() string { return i.FullName + ".head" }

// Key folds a FullName into its case-insensitive map key.
func Key(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// validateHistory checks and normalizes the rename history of an item.
func (i *Item) validateHistory() error {
	if len(i.PreviousNames) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(i.PreviousNames))
	for _, p := range i.PreviousNames {
		if strings.TrimSpace(p.Name) == "" {
			return configErrorf(i.FullName, "previous name is empty")
		}
		k := Key(p.Name)
		if k == i.Key() {
			return configErrorf(i.FullName, "previous name %q equals the current name", p.Name)
		}
		if _, dup := seen[k]; dup {
			return configErrorf(i.FullName, "previous name %q listed twice", p.Name)
		}
		seen[k] = struct{}{}
		if i.Target.Less(p.Until) {
			return configErrorf(i.FullName, "previous name %q used until %s, after target version %s", p.Name, p.Until, i.Target)
		}
	}
	sort.SliceStable(i.PreviousNames, func(a, b int) bool {
		return i.PreviousNames[b].Until.Less(i.PreviousNames[a].Until)
	})
	for n := 1; n < len(i.PreviousNames); n++ {
		if i.PreviousNames[n].Until.Equal(i.PreviousNames[n-1].Until) {
			return configErrorf(i.FullName, "previous names %q and %q share version %s",
				i.PreviousNames[n-1].Name, i.PreviousNames[n].Name, i.PreviousNames[n].Until)
		}
	}
	return nil
}

// Group is a named, non-owning set of items.
type Group struct {
	Name    string
	members []*Item
}

// Members returns the items that declared membership, ordered by key.
func (g *Group) Members() []*Item {
	out := make([]*Item, len(g.members))
	copy(out, g.members)
	return out
}
