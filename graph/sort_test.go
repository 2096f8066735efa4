package graph

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/GoCodeAlone/schemachain/version"
)

func mustBuild(t *testing.T, items ...Item) *Graph {
	t.Helper()
	g, err := NewBuilder().Add(items...).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func mustSort(t *testing.T, g *Graph, reverted bool) *Sequence {
	t.Helper()
	seq, err := NewSorter(reverted, nil).Sort(g)
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	return seq
}

func ranks(seq *Sequence) []int {
	out := make([]int, len(seq.Entries))
	for i, e := range seq.Entries {
		out[i] = e.Rank
	}
	return out
}

func TestSort_DependencyChain(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "a", Requires: []ItemRef{Ref("b")}},
		Item{FullName: "b", Requires: []ItemRef{Ref("c")}},
		Item{FullName: "c"},
	)
	seq := mustSort(t, g, false)
	if diff := cmp.Diff([]string{"c", "b", "a"}, seq.Names()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, ranks(seq)); diff != "" {
		t.Fatalf("rank mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_TieBreak(t *testing.T) {
	g := mustBuild(t, Item{FullName: "x"}, Item{FullName: "a"}, Item{FullName: "M"})

	asc := mustSort(t, g, false)
	if diff := cmp.Diff([]string{"a", "M", "x"}, asc.Names()); diff != "" {
		t.Fatalf("ascending mismatch (-want +got):\n%s", diff)
	}
	desc := mustSort(t, g, true)
	if diff := cmp.Diff([]string{"x", "M", "a"}, desc.Names()); diff != "" {
		t.Fatalf("reverted mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_TieBreakOnlyWithinRank(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "a", Requires: []ItemRef{Ref("z")}},
		Item{FullName: "b"},
		Item{FullName: "z"},
	)
	seq := mustSort(t, g, true)
	if diff := cmp.Diff([]string{"z", "b", "a"}, seq.Names()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_ContainerChildrenBetweenStartAndHead(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "report", Requires: []ItemRef{Ref("sales")}},
		Item{FullName: "sales", Kind: KindContainer},
		Item{FullName: "sales.items", Container: "sales", Requires: []ItemRef{Ref("sales.orders")}},
		Item{FullName: "sales.orders", Container: "sales"},
	)
	seq := mustSort(t, g, false)
	want := []string{"sales", "sales.orders", "sales.items", "sales.head", "report"}
	if diff := cmp.Diff(want, seq.Names()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, ranks(seq)); diff != "" {
		t.Fatalf("rank mismatch (-want +got):\n%s", diff)
	}

	head := seq.Entries[3]
	if !head.IsContainerHead() || head.Item.FullName != "sales" {
		t.Fatalf("expected head entry closing sales, got %+v", head)
	}
	if !seq.Entries[0].IsContainerStart() {
		t.Fatalf("expected first entry to open the container")
	}
}

func TestSort_ContainerRequiresApplyToWholeContainer(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "core"},
		Item{FullName: "app", Kind: KindContainer, Requires: []ItemRef{Ref("core")}, Children: []ItemRef{Ref("app.t1")}},
		Item{FullName: "app.t1"},
	)
	seq := mustSort(t, g, false)
	want := []string{"core", "app", "app.t1", "app.head"}
	if diff := cmp.Diff(want, seq.Names()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_GroupExpandsToMembers(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "consumer", Requires: []ItemRef{Ref("audit")}},
		Item{FullName: "log1", Groups: []string{"audit"}},
		Item{FullName: "log2", Groups: []string{"AUDIT"}},
		Item{FullName: "aaa"},
	)
	seq := mustSort(t, g, false)
	want := []string{"aaa", "log1", "log2", "consumer"}
	if diff := cmp.Diff(want, seq.Names()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_RequiredBy(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "a"},
		Item{FullName: "b", RequiredBy: []ItemRef{Ref("a")}},
	)
	seq := mustSort(t, g, false)
	if diff := cmp.Diff([]string{"b", "a"}, seq.Names()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_CycleNamesBothItems(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "A", Requires: []ItemRef{Ref("B")}},
		Item{FullName: "B", Requires: []ItemRef{Ref("A")}},
	)
	_, err := NewSorter(false, nil).Sort(g)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	var ge *GraphError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GraphError, got %T", err)
	}
	if diff := cmp.Diff([]string{"A", "B", "A"}, ge.Path); diff != "" {
		t.Fatalf("cycle path mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(err.Error(), "A -> B -> A") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestSort_CycleThroughContainer(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "box", Kind: KindContainer},
		Item{FullName: "box.t", Container: "box", Requires: []ItemRef{Ref("box")}},
	)
	_, err := NewSorter(false, nil).Sort(g)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestSort_SelfRequire(t *testing.T) {
	g := mustBuild(t, Item{FullName: "a", Requires: []ItemRef{Ref("A")}})
	_, err := NewSorter(false, nil).Sort(g)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestSort_MissingMandatoryDependency(t *testing.T) {
	g := mustBuild(t, Item{FullName: "a", Requires: []ItemRef{Ref("ghost")}})
	_, err := NewSorter(false, nil).Sort(g)
	var ge *GraphError
	if !errors.As(err, &ge) || !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected missing dependency GraphError, got %v", err)
	}
	if ge.Missing != "ghost" || ge.Referrer != "a" {
		t.Fatalf("unexpected error fields: %+v", ge)
	}
}

func TestSort_OptionalMissingDropped(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "a", Requires: []ItemRef{OptionalRef("ghost"), Ref("b")}},
		Item{FullName: "b"},
	)
	seq := mustSort(t, g, false)
	if diff := cmp.Diff([]string{"b", "a"}, seq.Names()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if len(seq.Notes) != 1 || !strings.Contains(seq.Notes[0], "ghost") {
		t.Fatalf("expected a note about ghost, got %v", seq.Notes)
	}
}

func TestSort_Deterministic(t *testing.T) {
	items := []Item{
		{FullName: "s", Kind: KindContainer},
		{FullName: "s.a", Container: "s"},
		{FullName: "s.b", Container: "s", Requires: []ItemRef{Ref("g")}},
		{FullName: "x", Groups: []string{"g"}},
		{FullName: "y", Groups: []string{"g"}, Requires: []ItemRef{Ref("z")}},
		{FullName: "z"},
		{FullName: "w", Requires: []ItemRef{Ref("s")}},
	}
	first := mustSort(t, mustBuild(t, items...), false).Names()

	reversed := make([]Item, len(items))
	for i := range items {
		reversed[len(items)-1-i] = items[i]
	}
	for n := 0; n < 5; n++ {
		got := mustSort(t, mustBuild(t, reversed...), false).Names()
		if diff := cmp.Diff(first, got); diff != "" {
			t.Fatalf("run %d differs (-first +got):\n%s", n, diff)
		}
	}
}

func TestSort_CaseInsensitiveReferences(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "Core.Users", Requires: []ItemRef{Ref("CORE.ROLES")}},
		Item{FullName: "core.roles"},
	)
	seq := mustSort(t, g, false)
	if diff := cmp.Diff([]string{"core.roles", "Core.Users"}, seq.Names()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if pos, ok := seq.Position("core.users"); !ok || pos != 1 {
		t.Fatalf("Position = %d, %v", pos, ok)
	}
}

func TestBuild_InvalidContainer(t *testing.T) {
	_, err := NewBuilder().Add(
		Item{FullName: "plain"},
		Item{FullName: "child", Container: "plain"},
	).Build()
	if !errors.Is(err, ErrInvalidContainer) {
		t.Fatalf("expected ErrInvalidContainer, got %v", err)
	}
}

func TestBuild_MissingContainer(t *testing.T) {
	_, err := NewBuilder().Add(Item{FullName: "child", Container: "nowhere"}).Build()
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}

func TestBuild_DuplicateItem(t *testing.T) {
	_, err := NewBuilder().Add(Item{FullName: "a"}, Item{FullName: "A"}).Build()
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestBuild_HistorySortedNewestFirst(t *testing.T) {
	g := mustBuild(t, Item{
		FullName: "orders",
		Target:   version.MustParse("3.0.0"),
		PreviousNames: []PreviousName{
			{Name: "order_v1", Until: version.MustParse("1.0.0")},
			{Name: "order_v2", Until: version.MustParse("2.0.0")},
		},
	})
	it, _ := g.Item("ORDERS")
	if it.PreviousNames[0].Name != "order_v2" || it.PreviousNames[1].Name != "order_v1" {
		t.Fatalf("unexpected history order: %+v", it.PreviousNames)
	}
}

func TestBuild_MalformedHistory(t *testing.T) {
	tests := []struct {
		name    string
		history []PreviousName
	}{
		{"empty name", []PreviousName{{Name: "", Until: version.MustParse("1.0.0")}}},
		{"same as current", []PreviousName{{Name: "ORDERS", Until: version.MustParse("1.0.0")}}},
		{"after target", []PreviousName{{Name: "old", Until: version.MustParse("9.0.0")}}},
		{"shared version", []PreviousName{
			{Name: "old1", Until: version.MustParse("1.0.0")},
			{Name: "old2", Until: version.MustParse("1.0.0")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder().Add(Item{
				FullName:      "orders",
				Target:        version.MustParse("2.0.0"),
				PreviousNames: tt.history,
			}).Build()
			if !errors.Is(err, ErrInvalidItem) {
				t.Fatalf("expected ErrInvalidItem, got %v", err)
			}
		})
	}
}

func TestBuild_GroupItemsNotSorted(t *testing.T) {
	g := mustBuild(t,
		Item{FullName: "reporting", Kind: KindGroup},
		Item{FullName: "r1", Groups: []string{"reporting"}},
	)
	seq := mustSort(t, g, false)
	if diff := cmp.Diff([]string{"r1"}, seq.Names()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	gr, ok := g.Group("Reporting")
	if !ok || len(gr.Members()) != 1 {
		t.Fatalf("expected reporting group with one member")
	}
}
