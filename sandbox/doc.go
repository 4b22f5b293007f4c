// Package sandbox provides secure code execution capabilities.
//
// The sandbox package implements the execution engine for running
// untrusted, model-generated code in isolated environments. Three backends
// implement the same CodeExecutor contract: an OS tier that confines
// interpreter subprocesses to a root directory, a WebAssembly tier that
// meters execution with a fuel budget, and a container tier that runs one
// ephemeral container per request.
//
// Backends are selected once at startup by NewExecutor; callers never
// branch on backend identity. A program that runs and fails is a successful
// call producing a failing ExecutionResult; Execute returns an error only
// for unsupported languages, sandbox violations and infrastructure
// failures.
//
// Usage:
//
//	executor, err := sandbox.NewExecutor(ctx, logger, cfg)
//	result, err := executor.Execute(ctx, sandbox.ExecutionRequest{
//	    Language: sandbox.LanguagePython,
//	    Code:     "print('Hello, World!')",
//	    Timeout:  10 * time.Second,
//	})
package sandbox
