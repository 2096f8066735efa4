package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle reports a dependency cycle through Requires, RequiredBy or
	// container edges.
	ErrCycle = errors.New("dependency cycle")
	// ErrMissingDependency reports an unresolved mandatory reference.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrInvalidContainer reports a container reference that does not
	// resolve to a container item, or an item claimed by two containers.
	ErrInvalidContainer = errors.New("invalid container")
	// ErrInvalidItem reports a malformed item definition.
	ErrInvalidItem = errors.New("invalid item")
)

// GraphError is a fatal ordering failure. No script runs once a GraphError
// has been returned.
type GraphError struct {
	Kind error

	// Path is the cycle witness for ErrCycle, first and last element equal.
	Path []string
	// Missing and Referrer identify an unresolved reference.
	Missing  string
	Referrer string

	Msg string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func cycleError(path []string) error {
	return &GraphError{Kind: ErrCycle, Path: path, Msg: strings.Join(path, " -> ")}
}

func missingError(missing, referrer, relation string) error {
	return &GraphError{
		Kind:     ErrMissingDependency,
		Missing:  missing,
		Referrer: referrer,
		Msg:      fmt.Sprintf("%q %s unknown item or group %q", referrer, relation, missing),
	}
}

func containerErrorf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidContainer, Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports a malformed item definition, such as a broken
// rename history. It is raised while building the Graph.
type ConfigurationError struct {
	Item string
	Msg  string
}

func (e *ConfigurationError) Error() string {
	if e.Item == "" {
		return "configuration error: " + e.Msg
	}
	return fmt.Sprintf("configuration error: item %q: %s", e.Item, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidItem }

func configErrorf(item, format string, args ...any) error {
	return &ConfigurationError{Item: item, Msg: fmt.Sprintf(format, args...)}
}
