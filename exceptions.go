package main

import (
	"errors"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"

	"mach/internal/bench"
	"mach/internal/config"
	"mach/internal/depscan"
	"mach/internal/driver"
	"mach/internal/manifest"
	"mach/internal/session"
)

// Process exit codes
const (
	exitOK int = iota
	exitFailure
	exitUsage
	exitNotFound
	exitToolMissing
	exitScanFailed
	exitRegression
)

// errUsage marks invalid flag values and settings.
var errUsage = errors.New("invalid usage")

// commandError carries the CLI error shown to the user and the error that
// caused it.
type commandError struct {
	cli   error
	cause error
}

func (e *commandError) Error() string   { return e.cli.Error() }
func (e *commandError) Unwrap() []error { return []error{e.cli, e.cause} }

// cliError converts an error of a command into the matching orpheus error.
func cliError(command string, err error) error {
	if err == nil {
		return nil
	}
	var cli error
	switch exitCode(err) {
	case exitUsage:
		cli = orpheus.ValidationError(command, err.Error())
	case exitNotFound:
		cli = orpheus.NotFoundError(command, err.Error())
	default:
		cli = orpheus.ExecutionError(command, err.Error())
	}
	return &commandError{cli: cli, cause: err}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var (
		unknown   *config.UnknownAlgorithmError
		manifestE *manifest.Error
		artifact  *driver.MissingArtifactError
		tool      *session.ToolMissingError
		scan      *depscan.ScanError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &tool):
		return exitToolMissing
	case errors.As(err, &scan):
		return exitScanFailed
	case bench.IsBenchmarkError(err):
		return exitRegression
	case errors.As(err, &artifact), errors.Is(err, os.ErrNotExist):
		return exitNotFound
	case errors.As(err, &unknown), errors.As(err, &manifestE), errors.Is(err, driver.ErrUnknownLanguage),
		errors.Is(err, config.ErrBaselineFeature), errors.Is(err, errUsage):
		return exitUsage
	}
	return exitFailure
}
