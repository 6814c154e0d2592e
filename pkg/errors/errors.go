// Package errors defines the error taxonomy shared across the pakt registry
// and hook engine. Callers classify failures with errors.Is against the
// sentinels below; per-call context is attached with Wrap/Wrapf.
package errors

import "fmt"

// Common error types.
var (
	// Database errors.
	ErrDoesNotExist    = fmt.Errorf("package does not exist")
	ErrBadManifest     = fmt.Errorf("bad manifest")
	ErrInvalid         = fmt.Errorf("invalid database operation")
	ErrCreateDB        = fmt.Errorf("failed to create database directory")
	ErrChownDB         = fmt.Errorf("failed to change database ownership")
	ErrEnsureOwnership = fmt.Errorf("failed to ensure database ownership")

	// Registry errors.
	ErrHiddenPackage = fmt.Errorf("package is hidden")
	ErrNoSuchUser    = fmt.Errorf("no such user")

	// Privilege errors. A regain failure is escalated to a process abort
	// by the guard; it never propagates as an ordinary error.
	ErrDropPrivileges   = fmt.Errorf("failed to drop privileges")
	ErrRegainPrivileges = fmt.Errorf("failed to regain privileges")

	// Hook errors.
	ErrNoSuchHook        = fmt.Errorf("no such hook installed")
	ErrMissingField      = fmt.Errorf("missing required hook field")
	ErrBadAppName        = fmt.Errorf("invalid application name")
	ErrHookExec          = fmt.Errorf("hook command failed")
	ErrNotYetImplemented = fmt.Errorf("not yet implemented")

	// Install errors.
	ErrAlreadyUnpacked  = fmt.Errorf("package version is already unpacked")
	ErrBadArchive       = fmt.Errorf("bad package archive")
	ErrMissingFramework = fmt.Errorf("missing framework")

	// Version errors.
	ErrBadVersion = fmt.Errorf("invalid version string")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
