package scripts

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/btree"

	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/version"
)

// ErrInvalidScript is the sentinel wrapped by every ConfigurationError.
var ErrInvalidScript = errors.New("invalid script configuration")

// ConfigurationError reports a script set that cannot be indexed.
type ConfigurationError struct {
	Item  string
	Phase Phase
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("scripts for %s in phase %s: %s", e.Item, e.Phase, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidScript }

const btreeDegree = 8

// Entry is the script set of one (item, phase).
type Entry struct {
	full      *btree.BTreeG[*Script] // by At
	deltas    *btree.BTreeG[*Script] // by (From, To)
	phaseWide *Script
}

func newEntry() *Entry {
	return &Entry{
		full: btree.NewG(btreeDegree, func(a, b *Script) bool { return a.At.Less(b.At) }),
		deltas: btree.NewG(btreeDegree, func(a, b *Script) bool {
			if c := a.From.Compare(b.From); c != 0 {
				return c < 0
			}
			return a.To.Less(b.To)
		}),
	}
}

// Empty reports whether the entry holds no script at all.
func (e *Entry) Empty() bool {
	return e.full.Len() == 0 && e.deltas.Len() == 0 && e.phaseWide == nil
}

// PhaseWide returns the phase-wide script, or nil.
func (e *Entry) PhaseWide() *Script { return e.phaseWide }

// LatestFullAtMost returns the full script with the greatest At <= target.
func (e *Entry) LatestFullAtMost(target version.Version) *Script {
	var found *Script
	e.full.DescendLessOrEqual(&Script{At: target}, func(s *Script) bool {
		found = s
		return false
	})
	return found
}

// BestDeltaWithin returns, among deltas with From >= min (any From when min
// is nil) and To <= target, the one with the greatest To. Ties on To go to
// the smallest From.
func (e *Entry) BestDeltaWithin(min *version.Version, target version.Version) *Script {
	var best *Script
	visit := func(s *Script) bool {
		if !s.From.Less(target) {
			return false
		}
		if s.To.Compare(target) > 0 {
			return true
		}
		if best == nil || best.To.Less(s.To) {
			best = s
		}
		return true
	}
	if min == nil {
		e.deltas.Ascend(visit)
	} else {
		e.deltas.AscendGreaterOrEqual(&Script{From: *min}, visit)
	}
	return best
}

// DeltaFrom returns the delta starting exactly at from with the greatest
// To <= target.
func (e *Entry) DeltaFrom(from, target version.Version) *Script {
	var best *Script
	e.deltas.AscendGreaterOrEqual(&Script{From: from}, func(s *Script) bool {
		if !s.From.Equal(from) || s.To.Compare(target) > 0 {
			return false
		}
		best = s
		return true
	})
	return best
}

// Scripts returns every script of the entry: full scripts by version, then
// deltas by (From, To), then the phase-wide script.
func (e *Entry) Scripts() []*Script {
	out := make([]*Script, 0, e.full.Len()+e.deltas.Len()+1)
	collect := func(s *Script) bool {
		out = append(out, s)
		return true
	}
	e.full.Ascend(collect)
	e.deltas.Ascend(collect)
	if e.phaseWide != nil {
		out = append(out, e.phaseWide)
	}
	return out
}

type entryKey struct {
	item  string
	phase Phase
}

// Index maps (item, phase) to the scripts available for it.
type Index struct {
	entries map[entryKey]*Entry
	names   map[string]string
	count   int
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{
		entries: make(map[entryKey]*Entry),
		names:   make(map[string]string),
	}
}

// Add registers a script. Item names are matched case-insensitively.
func (x *Index) Add(s *Script) error {
	if s == nil {
		return errors.New("nil script")
	}
	if graph.Key(s.Item) == "" {
		return &ConfigurationError{Item: s.Item, Phase: s.Phase, Msg: "script has no item"}
	}
	k := entryKey{item: graph.Key(s.Item), phase: s.Phase}
	e, ok := x.entries[k]
	if !ok {
		e = newEntry()
		x.entries[k] = e
	}
	fail := func(format string, args ...any) error {
		return &ConfigurationError{Item: s.Item, Phase: s.Phase, Msg: fmt.Sprintf(format, args...)}
	}

	switch s.Kind {
	case KindFull:
		if prev, dup := e.full.Get(s); dup {
			return fail("duplicate full script for version %s (%s and %s)", s.At, sourceOf(prev), sourceOf(s))
		}
		e.full.ReplaceOrInsert(s)
	case KindDelta:
		if !s.From.Less(s.To) {
			return fail("delta %s..%s does not move forward", s.From, s.To)
		}
		if prev, dup := e.deltas.Get(s); dup {
			return fail("duplicate delta script %s..%s (%s and %s)", s.From, s.To, sourceOf(prev), sourceOf(s))
		}
		e.deltas.ReplaceOrInsert(s)
	case KindPhaseWide:
		if e.phaseWide != nil {
			return fail("more than one phase-wide script (%s and %s)", sourceOf(e.phaseWide), sourceOf(s))
		}
		e.phaseWide = s
	default:
		return fail("unknown script kind %s", s.Kind)
	}
	x.names[k.item] = s.Item
	x.count++
	return nil
}

// AddAll registers scripts and returns every failure joined.
func (x *Index) AddAll(list ...*Script) error {
	var errs []error
	for _, s := range list {
		if err := x.Add(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var emptyEntry = newEntry()

// ScriptsFor returns the entry for (item, phase). It never returns nil; an
// item without scripts in the phase gets an empty entry.
func (x *Index) ScriptsFor(item string, phase Phase) *Entry {
	if e, ok := x.entries[entryKey{item: graph.Key(item), phase: phase}]; ok {
		return e
	}
	return emptyEntry
}

// Items returns the names of every item that has at least one script,
// sorted case-insensitively.
func (x *Index) Items() []string {
	keys := make([]string, 0, len(x.names))
	for k := range x.names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = x.names[k]
	}
	return out
}

// Len returns the number of registered scripts.
func (x *Index) Len() int { return x.count }

func sourceOf(s *Script) string {
	if s.Source != "" {
		return s.Source
	}
	return "<inline>"
}
