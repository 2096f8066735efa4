package main

import (
	"errors"

	"github.com/GoCodeAlone/schemachain/config"
	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/manifest"
	"github.com/GoCodeAlone/schemachain/migration"
	"github.com/GoCodeAlone/schemachain/scripts"
)

// Exit codes of the CLI.
const (
	ExitOK = 0
	// ExitExecutionFailure means a script failed. Repeating the command
	// resumes after the last successful script.
	ExitExecutionFailure = 1
	// ExitUsage means the command line could not be parsed.
	ExitUsage = 2
	// ExitConfiguration means the config, manifest or item graph is invalid
	// or missing. Nothing was executed.
	ExitConfiguration = 3
	// ExitInternal covers everything else (connections, locks, I/O).
	ExitInternal = 4
)

// usageError marks errors raised before a command started running.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var usage *usageError
	var failure *migration.ExecutionFailure
	var gerr *graph.GraphError
	switch {
	case errors.As(err, &usage):
		return ExitUsage
	case errors.As(err, &failure):
		return ExitExecutionFailure
	case errors.As(err, &gerr),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, manifest.ErrInvalidManifest),
		errors.Is(err, graph.ErrInvalidItem),
		errors.Is(err, scripts.ErrInvalidScript):
		return ExitConfiguration
	default:
		return ExitInternal
	}
}
