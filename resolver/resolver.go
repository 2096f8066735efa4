// Package resolver computes the chain of change scripts that moves one item
// from its recorded version toward its target within a single phase.
package resolver

import (
	"strings"

	"github.com/GoCodeAlone/schemachain/scripts"
	"github.com/GoCodeAlone/schemachain/version"
)

// Vector is an ordered script chain and the version it reaches.
type Vector struct {
	Scripts []*scripts.Script
	// Final is the version reached after the last versioned script. It may
	// be below the requested target.
	Final version.Version
	// HasPhaseWideScript is set when the phase-wide script was appended.
	HasPhaseWideScript bool
}

// Len returns the number of scripts in the chain.
func (v *Vector) Len() int { return len(v.Scripts) }

// IDs returns the identity of every script in order.
func (v *Vector) IDs() []string {
	out := make([]string, len(v.Scripts))
	for i, s := range v.Scripts {
		out[i] = s.ID()
	}
	return out
}

func (v *Vector) String() string {
	return strings.Join(v.IDs(), ", ") + " => " + v.Final.String()
}

// Resolve returns the scripts to run for an item currently at from (nil when
// never installed) that should reach target. It returns nil when nothing
// applies, which includes from == target.
//
// A never-installed item starts from the greatest full script at or below
// target. An installed item never re-runs a full script: the first hop is the
// delta with From >= from and To <= target reaching furthest. From there,
// deltas are chained only when their From matches the current version
// exactly. The phase-wide script, if any, is appended to a non-empty chain.
func Resolve(from *version.Version, target version.Version, entry *scripts.Entry) *Vector {
	if entry == nil {
		return nil
	}
	if from != nil && from.Compare(target) >= 0 {
		return nil
	}

	var chain []*scripts.Script
	var first *scripts.Script
	if from == nil {
		first = entry.LatestFullAtMost(target)
		if first == nil {
			first = entry.BestDeltaWithin(nil, target)
		}
	} else {
		first = entry.BestDeltaWithin(from, target)
	}
	if first == nil {
		return nil
	}
	chain = append(chain, first)
	current := first.Reaches()

	for current.Less(target) {
		next := entry.DeltaFrom(current, target)
		if next == nil {
			break
		}
		chain = append(chain, next)
		current = next.To
	}

	vec := &Vector{Scripts: chain, Final: current}
	if pw := entry.PhaseWide(); pw != nil {
		vec.Scripts = append(vec.Scripts, pw)
		vec.HasPhaseWideScript = true
	}
	return vec
}
