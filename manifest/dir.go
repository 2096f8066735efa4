package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/GoCodeAlone/schemachain/scripts"
	"github.com/GoCodeAlone/schemachain/version"
)

// scriptExt is the file extension of convention scripts.
const scriptExt = ".sql"

// scanDir reads the scripts directory of an item:
//
//	<dir>/<phase>/full.<version>.sql
//	<dir>/<phase>/delta.<from>_<to>.sql
//	<dir>/<phase>/phase.sql
//
// Phase directory names are matched like ParsePhase does. A missing
// directory is an error only when it was configured explicitly. Files
// without the .sql extension are ignored.
func scanDir(item, dir string, explicit bool) ([]*scripts.Script, error) {
	phases, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: item %q scripts dir: %v", ErrInvalidManifest, item, err)
	}

	var out []*scripts.Script
	var errs []error
	for _, pd := range phases {
		if !pd.IsDir() {
			continue
		}
		phase, err := scripts.ParsePhase(pd.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: item %q: directory %s: %v", ErrInvalidManifest, item, pd.Name(), err))
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, pd.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), scriptExt) {
				continue
			}
			path := filepath.Join(dir, pd.Name(), f.Name())
			s, err := scriptFromFile(item, phase, path)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: item %q: %s: %v", ErrInvalidManifest, item, path, err))
				continue
			}
			out = append(out, s)
		}
	}
	return out, errors.Join(errs...)
}

func scriptFromFile(item string, phase scripts.Phase, path string) (*scripts.Script, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	kind, rest, _ := strings.Cut(name, ".")

	var s *scripts.Script
	switch strings.ToLower(kind) {
	case "full":
		at, err := version.Parse(rest)
		if err != nil {
			return nil, err
		}
		s = scripts.Full(item, phase, at, "")
	case "delta":
		fromText, toText, ok := strings.Cut(rest, "_")
		if !ok {
			return nil, errors.New("delta script name must be delta.<from>_<to>")
		}
		from, err := version.Parse(fromText)
		if err != nil {
			return nil, err
		}
		to, err := version.Parse(toText)
		if err != nil {
			return nil, err
		}
		s = scripts.Delta(item, phase, from, to, "")
	case "phase":
		if rest != "" {
			return nil, errors.New("phase-wide script must be named phase.sql")
		}
		s = scripts.PhaseWide(item, phase, "")
	default:
		return nil, fmt.Errorf("unrecognized script name %q", filepath.Base(path))
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s.Body = string(body)
	s.Source = path
	return s, nil
}
