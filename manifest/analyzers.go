package manifest

import (
	"fmt"
	"strings"

	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/scripts"
	"github.com/GoCodeAlone/schemachain/version"
)

// PhaseCoverage counts the scripts of one item in one phase.
type PhaseCoverage struct {
	Phase     scripts.Phase `json:"phase"`
	Full      int           `json:"full"`
	Delta     int           `json:"delta"`
	PhaseWide bool          `json:"phaseWide,omitempty"`
	// Reaches is the highest version the scripts of the phase can reach
	// without exceeding the item target.
	Reaches string `json:"reaches,omitempty"`
}

// ItemReport is the static analysis of one item.
type ItemReport struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Type     string          `json:"type,omitempty"`
	Target   string          `json:"target"`
	Coverage []PhaseCoverage `json:"coverage,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Report is the static analysis of a project.
type Report struct {
	Path       string       `json:"path,omitempty"`
	Items      []ItemReport `json:"items"`
	Containers int          `json:"containers"`
	Groups     int          `json:"groups"`
	Scripts    int          `json:"scripts"`
}

// Analyze inspects the project for the given phases without touching any
// database. It reports script coverage per phase and warns about items that
// can never reach their target.
func Analyze(p *Project, phases []scripts.Phase) *Report {
	r := &Report{
		Path:    p.Path,
		Groups:  len(p.Graph.Groups()),
		Scripts: p.Index.Len(),
	}
	for _, it := range p.Graph.Items() {
		if it.IsContainer() {
			r.Containers++
		}
		r.Items = append(r.Items, analyzeItem(it, p.Index, phases))
	}
	return r
}

func analyzeItem(it *graph.Item, idx *scripts.Index, phases []scripts.Phase) ItemReport {
	rep := ItemReport{
		Name:   it.FullName,
		Kind:   it.Kind.String(),
		Type:   it.Type,
		Target: it.Target.String(),
	}

	reachesTarget := false
	for _, ph := range phases {
		entry := idx.ScriptsFor(it.FullName, ph)
		if entry.Empty() {
			continue
		}
		cov := PhaseCoverage{Phase: ph, PhaseWide: entry.PhaseWide() != nil}
		var best *version.Version
		for _, s := range entry.Scripts() {
			switch s.Kind {
			case scripts.KindFull:
				cov.Full++
			case scripts.KindDelta:
				cov.Delta++
			}
			if s.Kind == scripts.KindPhaseWide || it.Target.Less(s.Reaches()) {
				continue
			}
			if best == nil || best.Less(s.Reaches()) {
				best = s.Reaches().Ptr()
			}
		}
		cov.Reaches = version.Format(best)
		if best != nil && best.Equal(it.Target) {
			reachesTarget = true
		}
		if cov.PhaseWide && cov.Full == 0 && cov.Delta == 0 {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("phase %s has only a phase-wide script, it never runs", ph))
		}
		rep.Coverage = append(rep.Coverage, cov)
	}

	switch {
	case len(rep.Coverage) == 0 && !it.IsContainer():
		rep.Warnings = append(rep.Warnings, "no scripts in any phase")
	case len(rep.Coverage) > 0 && !reachesTarget:
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("no script reaches target %s", it.Target))
	}
	return rep
}

// Warnings returns every warning prefixed with its item name.
func (r *Report) Warnings() []string {
	var out []string
	for _, it := range r.Items {
		for _, w := range it.Warnings {
			out = append(out, it.Name+": "+w)
		}
	}
	return out
}

// Summary returns a human-readable summary of the report.
func (r *Report) Summary() string {
	var b strings.Builder
	if r.Path != "" {
		fmt.Fprintf(&b, "Project: %s\n", r.Path)
	}
	fmt.Fprintf(&b, "Items: %d (containers: %d), groups: %d, scripts: %d\n",
		len(r.Items), r.Containers, r.Groups, r.Scripts)
	for _, it := range r.Items {
		fmt.Fprintf(&b, "  %s [%s] target %s\n", it.Name, it.Kind, it.Target)
		for _, c := range it.Coverage {
			pw := ""
			if c.PhaseWide {
				pw = " +phase"
			}
			fmt.Fprintf(&b, "    %-15s full=%d delta=%d%s reaches %s\n", c.Phase, c.Full, c.Delta, pw, c.Reaches)
		}
		for _, w := range it.Warnings {
			fmt.Fprintf(&b, "    warning: %s\n", w)
		}
	}
	return b.String()
}
