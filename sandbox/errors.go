package sandbox

import "errors"

var (
	// ErrUnsupportedLanguage marks a request for a language the selected
	// backend cannot run. Surfaced before any process, VM or container is
	// created.
	ErrUnsupportedLanguage = errors.New("language not supported by backend")

	// ErrSandboxViolation marks a request whose working directory or staged
	// file path resolves outside the sandbox root.
	ErrSandboxViolation = errors.New("sandbox violation")

	// ErrBackendUnavailable marks an infrastructure failure: a missing
	// interpreter, an unreachable container daemon, a module that cannot be
	// compiled or instantiated. Retryable by the caller in principle.
	ErrBackendUnavailable = errors.New("execution backend unavailable")
)
