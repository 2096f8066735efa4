// Package manifest loads a project description: the schema items, their
// relations and target versions, and the change scripts of every phase.
// Manifests are YAML or HCL documents; script bodies come inline, from a
// file, or from a per-item scripts directory.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/scripts"
	"github.com/GoCodeAlone/schemachain/version"
)

// ErrInvalidManifest reports a manifest that cannot be turned into a project.
var ErrInvalidManifest = errors.New("invalid manifest")

// Document is the decoded form of a manifest file.
type Document struct {
	// ScriptsDir is the root of the per-item scripts directories, relative
	// to the manifest. Items without an explicit scriptsDir use
	// <ScriptsDir>/<item name> when that directory exists.
	ScriptsDir string      `yaml:"scriptsDir,omitempty" hcl:"scripts_dir,optional"`
	Groups     []GroupSpec `yaml:"groups,omitempty" hcl:"group,block"`
	Items      []ItemSpec  `yaml:"items" hcl:"item,block"`
}

// GroupSpec declares a group that may have no members yet.
type GroupSpec struct {
	Name string `yaml:"name" hcl:"name,label"`
}

// ItemSpec describes one item. References ending in "?" are optional; in a
// YAML flow sequence they must be quoted, as in requires: ["audit?"].
type ItemSpec struct {
	Name          string             `yaml:"name" hcl:"name,label"`
	Kind          string             `yaml:"kind,omitempty" hcl:"kind,optional"`
	Type          string             `yaml:"type,omitempty" hcl:"type,optional"`
	Container     string             `yaml:"container,omitempty" hcl:"container,optional"`
	Target        string             `yaml:"target,omitempty" hcl:"target,optional"`
	Requires      []string           `yaml:"requires,omitempty" hcl:"requires,optional"`
	RequiredBy    []string           `yaml:"requiredBy,omitempty" hcl:"required_by,optional"`
	Groups        []string           `yaml:"groups,omitempty" hcl:"groups,optional"`
	Children      []string           `yaml:"children,omitempty" hcl:"children,optional"`
	ScriptsDir    string             `yaml:"scriptsDir,omitempty" hcl:"scripts_dir,optional"`
	PreviousNames []PreviousNameSpec `yaml:"previousNames,omitempty" hcl:"previous_name,block"`
	Scripts       []ScriptSpec       `yaml:"scripts,omitempty" hcl:"script,block"`
}

// PreviousNameSpec is one entry of an item's rename history.
type PreviousNameSpec struct {
	Name  string `yaml:"name" hcl:"name,label"`
	Until string `yaml:"until" hcl:"until"`
}

// ScriptSpec declares one script. Kind is inferred when empty: from/to make
// a delta, version a full script, neither a phase-wide script.
type ScriptSpec struct {
	Phase   string `yaml:"phase" hcl:"phase,label"`
	Kind    string `yaml:"kind,omitempty" hcl:"kind,optional"`
	Version string `yaml:"version,omitempty" hcl:"version,optional"`
	From    string `yaml:"from,omitempty" hcl:"from,optional"`
	To      string `yaml:"to,omitempty" hcl:"to,optional"`
	Body    string `yaml:"body,omitempty" hcl:"body,optional"`
	File    string `yaml:"file,omitempty" hcl:"file,optional"`
}

// Project is a loaded manifest ready to be sorted and run.
type Project struct {
	Path  string
	Graph *graph.Graph
	Index *scripts.Index
}

// KnownNames returns the folded keys of every item name and previous name
// of the project. Version records outside this set belong to items the
// project no longer declares.
func (p *Project) KnownNames() map[string]struct{} {
	out := make(map[string]struct{})
	for _, it := range p.Graph.Items() {
		out[it.Key()] = struct{}{}
		for _, prev := range it.PreviousNames {
			out[graph.Key(prev.Name)] = struct{}{}
		}
	}
	return out
}

// Load reads the manifest at path. Files ending in .hcl are decoded as HCL,
// everything else as YAML.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %w", ErrInvalidManifest, err)
	}

	var doc *Document
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		doc, err = ParseHCL(data, path)
	} else {
		doc, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	p, err := doc.Build(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Path = path
	return p, nil
}

// ParseYAML decodes a YAML manifest. Unknown fields are rejected.
func ParseYAML(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidManifest, err)
	}
	return &doc, nil
}

// Build turns the document into a project. Relative script files and
// directories resolve against baseDir. Every malformed item or script is
// reported, not only the first.
func (d *Document) Build(baseDir string) (*Project, error) {
	var errs []error
	items := make([]graph.Item, 0, len(d.Items))
	idx := scripts.NewIndex()

	for i := range d.Items {
		spec := &d.Items[i]
		it, err := spec.item()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, it)

		list, err := spec.scripts(baseDir, d.ScriptsDir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := idx.AddAll(list...); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	b := graph.NewBuilder().Add(items...)
	for _, g := range d.Groups {
		b.Group(g.Name)
	}
	g, err := b.Build()
	if err != nil {
		return nil, err
	}

	for _, name := range idx.Items() {
		if _, ok := g.Item(name); !ok {
			errs = append(errs, fmt.Errorf("%w: scripts declared for unknown item %q", ErrInvalidManifest, name))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Project{Graph: g, Index: idx}, nil
}

func (s *ItemSpec) item() (graph.Item, error) {
	if strings.TrimSpace(s.Name) == "" {
		return graph.Item{}, fmt.Errorf("%w: item without a name", ErrInvalidManifest)
	}
	kind, err := graph.ParseKind(s.Kind)
	if err != nil {
		return graph.Item{}, fmt.Errorf("%w: item %q: %v", ErrInvalidManifest, s.Name, err)
	}

	it := graph.Item{
		FullName:   s.Name,
		Kind:       kind,
		Type:       s.Type,
		Container:  s.Container,
		Requires:   refs(s.Requires),
		RequiredBy: refs(s.RequiredBy),
		Groups:     s.Groups,
		Children:   refs(s.Children),
	}
	if kind != graph.KindGroup {
		if s.Target == "" {
			return graph.Item{}, fmt.Errorf("%w: item %q has no target version", ErrInvalidManifest, s.Name)
		}
		if it.Target, err = version.Parse(s.Target); err != nil {
			return graph.Item{}, fmt.Errorf("%w: item %q target: %v", ErrInvalidManifest, s.Name, err)
		}
	}
	for _, p := range s.PreviousNames {
		until, err := version.Parse(p.Until)
		if err != nil {
			return graph.Item{}, fmt.Errorf("%w: item %q previous name %q: %v", ErrInvalidManifest, s.Name, p.Name, err)
		}
		it.PreviousNames = append(it.PreviousNames, graph.PreviousName{Name: p.Name, Until: until})
	}
	return it, nil
}

func refs(names []string) []graph.ItemRef {
	if len(names) == 0 {
		return nil
	}
	out := make([]graph.ItemRef, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if name, ok := strings.CutSuffix(n, "?"); ok {
			out = append(out, graph.OptionalRef(name))
			continue
		}
		out = append(out, graph.Ref(n))
	}
	return out
}

// scripts collects the inline, file and directory scripts of the item.
func (s *ItemSpec) scripts(baseDir, rootDir string) ([]*scripts.Script, error) {
	var out []*scripts.Script
	var errs []error
	for i, spec := range s.Scripts {
		sc, err := spec.script(s.Name, baseDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: item %q script %d: %v", ErrInvalidManifest, s.Name, i+1, err))
			continue
		}
		out = append(out, sc)
	}

	dir, explicit := s.ScriptsDir, s.ScriptsDir != ""
	if !explicit && rootDir != "" {
		dir = filepath.Join(rootDir, s.Name)
	}
	if dir != "" {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(baseDir, dir)
		}
		found, err := scanDir(s.Name, dir, explicit)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, found...)
	}
	return out, errors.Join(errs...)
}

func (s ScriptSpec) script(item, baseDir string) (*scripts.Script, error) {
	phase, err := scripts.ParsePhase(s.Phase)
	if err != nil {
		return nil, err
	}

	body, source := s.Body, "manifest:"+item
	if s.File != "" {
		if s.Body != "" {
			return nil, errors.New("body and file are mutually exclusive")
		}
		path := s.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		body, source = string(data), path
	}

	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if kind == "" {
		switch {
		case s.From != "" || s.To != "":
			kind = "delta"
		case s.Version != "":
			kind = "full"
		default:
			kind = "phase"
		}
	}

	var sc *scripts.Script
	switch kind {
	case "full":
		at, err := version.Parse(s.Version)
		if err != nil {
			return nil, fmt.Errorf("version: %w", err)
		}
		sc = scripts.Full(item, phase, at, body)
	case "delta":
		from, err := version.Parse(s.From)
		if err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
		to, err := version.Parse(s.To)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		sc = scripts.Delta(item, phase, from, to, body)
	case "phase", "phase-wide", "phasewide":
		sc = scripts.PhaseWide(item, phase, body)
	default:
		return nil, fmt.Errorf("unknown script kind %q", s.Kind)
	}
	sc.Source = source
	return sc, nil
}

// Fingerprint is a digest over every item definition and script of the
// project. It changes whenever a target, a relation or a script body does.
func (p *Project) Fingerprint() string {
	h := sha256.New()
	for _, it := range p.Graph.Items() {
		fmt.Fprintf(h, "item %s %s %s %s %s %v %v %v\n", it.Key(), it.Kind, it.Type, it.Container,
			it.Target, it.Requires, it.RequiredBy, it.Groups)
		for _, prev := range it.PreviousNames {
			fmt.Fprintf(h, "prev %s %s\n", graph.Key(prev.Name), prev.Until)
		}
	}
	for _, name := range p.Index.Items() {
		for _, ph := range scripts.DefaultOrder {
			for _, s := range p.Index.ScriptsFor(name, ph).Scripts() {
				fmt.Fprintf(h, "script %s %s\n", s, s.Checksum())
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// sourceDirs returns the directories holding script files of the project.
func (p *Project) sourceDirs() []string {
	seen := make(map[string]struct{})
	for _, name := range p.Index.Items() {
		for _, ph := range scripts.DefaultOrder {
			for _, s := range p.Index.ScriptsFor(name, ph).Scripts() {
				if s.Source == "" || strings.HasPrefix(s.Source, "manifest:") {
					continue
				}
				seen[filepath.Dir(s.Source)] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
