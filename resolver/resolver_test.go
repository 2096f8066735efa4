package resolver

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/GoCodeAlone/schemachain/scripts"
	"github.com/GoCodeAlone/schemachain/version"
)

var v = version.MustParse

const item = "sales.orders"

func entryOf(t *testing.T, list ...*scripts.Script) *scripts.Entry {
	t.Helper()
	idx := scripts.NewIndex()
	if err := idx.AddAll(list...); err != nil {
		t.Fatalf("AddAll: %v", err)
	}
	return idx.ScriptsFor(item, scripts.PhaseInstall)
}

func full(at string) *scripts.Script {
	return scripts.Full(item, scripts.PhaseInstall, v(at), "")
}

func delta(from, to string) *scripts.Script {
	return scripts.Delta(item, scripts.PhaseInstall, v(from), v(to), "")
}

func phaseWide() *scripts.Script {
	return scripts.PhaseWide(item, scripts.PhaseInstall, "")
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		scripts   []*scripts.Script
		from      *version.Version
		target    string
		want      []string
		final     string
		phaseWide bool
	}{
		{
			name:    "exact chain from nothing",
			scripts: []*scripts.Script{full("1.0.0"), delta("1.0.0", "1.0.1"), delta("1.0.1", "1.0.2")},
			target:  "1.0.2",
			want:    []string{"full@1.0.0", "delta@1.0.0..1.0.1", "delta@1.0.1..1.0.2"},
			final:   "1.0.2",
		},
		{
			name:    "latest full script is the baseline",
			scripts: []*scripts.Script{full("1.0.0"), full("1.0.4"), delta("1.0.0", "1.0.1"), delta("1.0.4", "1.0.5")},
			target:  "1.0.5",
			want:    []string{"full@1.0.4", "delta@1.0.4..1.0.5"},
			final:   "1.0.5",
		},
		{
			name:    "full script alone",
			scripts: []*scripts.Script{full("1.0.4")},
			target:  "1.0.4",
			want:    []string{"full@1.0.4"},
			final:   "1.0.4",
		},
		{
			name:    "full script above target is ignored",
			scripts: []*scripts.Script{full("1.0.0"), full("2.0.0")},
			target:  "1.5.0",
			want:    []string{"full@1.0.0"},
			final:   "1.0.0",
		},
		{
			name:    "from-bound skip",
			scripts: []*scripts.Script{delta("1.1.1", "1.2.3"), delta("1.1.9", "1.2.2")},
			from:    v("1.1.2").Ptr(),
			target:  "1.2.3",
			want:    []string{"delta@1.1.9..1.2.2"},
			final:   "1.2.2",
		},
		{
			name:    "installed item never reruns full script",
			scripts: []*scripts.Script{full("1.0.0"), full("1.0.3"), delta("1.0.0", "1.0.1"), delta("1.0.1", "1.0.2")},
			from:    v("1.0.0").Ptr(),
			target:  "1.0.3",
			want:    []string{"delta@1.0.1..1.0.2"},
			final:   "1.0.2",
		},
		{
			name:    "installed item takes the furthest eligible hop",
			scripts: []*scripts.Script{delta("1.0.0", "1.0.5"), delta("1.0.4", "1.0.6"), delta("1.0.5", "1.0.7")},
			from:    v("1.0.0").Ptr(),
			target:  "1.0.9",
			want:    []string{"delta@1.0.5..1.0.7"},
			final:   "1.0.7",
		},
		{
			name:    "continuation prefers the longest hop within target",
			scripts: []*scripts.Script{full("1.0.1"), delta("1.0.1", "1.0.2"), delta("1.0.1", "1.0.4"), delta("1.0.1", "1.1.0")},
			target:  "1.0.5",
			want:    []string{"full@1.0.1", "delta@1.0.1..1.0.4"},
			final:   "1.0.4",
		},
		{
			name:    "never installed without full script takes the furthest delta",
			scripts: []*scripts.Script{delta("1.0.0", "1.0.1"), delta("1.0.1", "1.0.2")},
			target:  "1.0.2",
			want:    []string{"delta@1.0.1..1.0.2"},
			final:   "1.0.2",
		},
		{
			name:      "phase-wide script appended last",
			scripts:   []*scripts.Script{phaseWide(), full("1.0.0"), delta("1.0.0", "1.0.1")},
			target:    "1.0.1",
			want:      []string{"full@1.0.0", "delta@1.0.0..1.0.1", "phase"},
			final:     "1.0.1",
			phaseWide: true,
		},
		{
			name:    "phase-wide script never runs alone",
			scripts: []*scripts.Script{phaseWide(), delta("2.0.0", "2.1.0")},
			from:    v("1.0.0").Ptr(),
			target:  "1.5.0",
		},
		{
			name:    "up to date",
			scripts: []*scripts.Script{full("1.0.0"), delta("1.0.0", "1.0.1"), phaseWide()},
			from:    v("1.0.1").Ptr(),
			target:  "1.0.1",
		},
		{
			name:    "recorded version above target",
			scripts: []*scripts.Script{delta("1.0.0", "1.0.1")},
			from:    v("2.0.0").Ptr(),
			target:  "1.0.1",
		},
		{
			name:   "no scripts",
			target: "1.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec := Resolve(tt.from, v(tt.target), entryOf(t, tt.scripts...))
			if tt.want == nil {
				if vec != nil {
					t.Fatalf("expected nil vector, got %s", vec)
				}
				return
			}
			if vec == nil {
				t.Fatal("expected a vector, got nil")
			}
			if diff := cmp.Diff(tt.want, vec.IDs()); diff != "" {
				t.Fatalf("scripts mismatch (-want +got):\n%s", diff)
			}
			if !vec.Final.Equal(v(tt.final)) {
				t.Fatalf("Final = %s, want %s", vec.Final, tt.final)
			}
			if vec.HasPhaseWideScript != tt.phaseWide {
				t.Fatalf("HasPhaseWideScript = %v, want %v", vec.HasPhaseWideScript, tt.phaseWide)
			}
		})
	}
}

func TestResolve_SameVersionIsAlwaysNil(t *testing.T) {
	e := entryOf(t,
		full("1.0.0"), full("1.0.1"),
		delta("1.0.0", "1.0.1"), delta("1.0.1", "1.0.2"), delta("1.0.0", "1.0.2"),
		phaseWide(),
	)
	for _, s := range []string{"0.0.1", "1.0.0", "1.0.1", "1.0.2", "7.0.0"} {
		if vec := Resolve(v(s).Ptr(), v(s), e); vec != nil {
			t.Fatalf("Resolve(%s, %s) = %s, want nil", s, s, vec)
		}
	}
}

func TestResolve_NilEntry(t *testing.T) {
	if Resolve(nil, v("1.0.0"), nil) != nil {
		t.Fatal("expected nil for nil entry")
	}
}
