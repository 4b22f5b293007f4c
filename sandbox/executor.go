package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Language identifies a source language for an execution request.
type Language string

// Supported languages. Each backend declares its own subset.
const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageRust       Language = "rust"
	LanguageGo         Language = "go"
	LanguageBash       Language = "bash"
)

// DefaultTimeout applies when a request carries no timeout.
const DefaultTimeout = 30 * time.Second

// ParseLanguage converts a user-supplied language name (including common
// aliases such as "py" or "sh") into a Language value.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python", "py":
		return LanguagePython, nil
	case "javascript", "js", "nodejs", "node":
		return LanguageJavaScript, nil
	case "typescript", "ts":
		return LanguageTypeScript, nil
	case "rust", "rs":
		return LanguageRust, nil
	case "go", "golang":
		return LanguageGo, nil
	case "bash", "sh", "shell":
		return LanguageBash, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
	}
}

// ExecutionRequest describes one code execution attempt. Values are treated
// as immutable once handed to a backend.
type ExecutionRequest struct {
	// Language the code is written in.
	Language Language `json:"language"`
	// Code is the untrusted source text.
	Code string `json:"code"`
	// Stdin is written to the process's standard input when non-empty.
	Stdin string `json:"stdin,omitempty"`
	// Timeout bounds wall-clock execution; DefaultTimeout applies when zero.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Env holds environment variable overrides.
	Env map[string]string `json:"env,omitempty"`
	// WorkingDir is resolved relative to the backend's sandbox root. A
	// directory resolving outside the root is rejected with
	// ErrSandboxViolation, never clamped.
	WorkingDir string `json:"working_dir,omitempty"`
	// Args are appended to the invocation on backends that run a command line.
	Args []string `json:"args,omitempty"`
	// Files are staged into the working directory before execution,
	// keyed by relative path. Paths escaping the working directory are
	// rejected with ErrSandboxViolation.
	Files map[string]string `json:"files,omitempty"`
}

// EffectiveTimeout returns the request timeout, falling back to DefaultTimeout.
func (r *ExecutionRequest) EffectiveTimeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// ExecutionResult describes the outcome of one execution attempt.
type ExecutionResult struct {
	// Success is true only for normal termination with a zero status.
	Success bool `json:"success"`
	// ExitCode is nil when the process never ran to completion (spawn
	// failure or hard timeout).
	ExitCode *int `json:"exit_code,omitempty"`
	// Stdout and Stderr hold captured output, possibly partial on timeout.
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// Duration is the observed wall-clock time, populated even on failure.
	Duration time.Duration `json:"duration"`
	// TimedOut is true exactly when the timeout fired before natural
	// termination.
	TimedOut bool `json:"timed_out"`
	// Truncated reports that stdout or stderr was clamped to the configured
	// output ceiling.
	Truncated bool `json:"truncated,omitempty"`
	// Metadata carries optional backend-specific facts (fuel consumed,
	// container status). Never required for correctness.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CombinedOutput joins stdout and stderr for display.
func (r *ExecutionResult) CombinedOutput() string {
	var b strings.Builder
	if r.Stdout != "" {
		b.WriteString(r.Stdout)
	}
	if r.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n--- stderr ---\n")
		}
		b.WriteString(r.Stderr)
	}
	return b.String()
}

// successResult builds a result for a zero-status termination.
func successResult(stdout, stderr string, duration time.Duration) *ExecutionResult {
	return &ExecutionResult{
		Success:  true,
		ExitCode: intPtr(0),
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: duration,
	}
}

// failureResult builds a result for a program that ran and failed. This is a
// successful call from the executor's point of view.
func failureResult(stdout, stderr string, exitCode int, duration time.Duration) *ExecutionResult {
	return &ExecutionResult{
		Success:  false,
		ExitCode: intPtr(exitCode),
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: duration,
	}
}

// timeoutResult builds a result for an execution cut short by the timeout.
// ExitCode stays nil: the process never ran to completion.
func timeoutResult(partialStdout, partialStderr string, duration time.Duration) *ExecutionResult {
	return &ExecutionResult{
		Success:  false,
		Stdout:   partialStdout,
		Stderr:   partialStderr,
		Duration: duration,
		TimedOut: true,
	}
}

func intPtr(v int) *int { return &v }

// clampOutput truncates s to max bytes. A max of zero or less disables
// clamping. The second return reports whether truncation happened.
func clampOutput(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	return s[:max], true
}

// clampResult applies the output ceiling to both streams of a result.
func clampResult(result *ExecutionResult, max int) *ExecutionResult {
	var truncated bool
	result.Stdout, truncated = clampOutput(result.Stdout, max)
	result.Truncated = result.Truncated || truncated
	result.Stderr, truncated = clampOutput(result.Stderr, max)
	result.Truncated = result.Truncated || truncated
	return result
}

// CodeExecutor is the execution contract implemented by every backend.
//
// Execute returns an error only for infrastructure problems, unsupported
// languages, or sandbox violations. A program that compiles, runs and fails
// is a successful call producing a failing ExecutionResult. No backend may
// leak a live process, VM instance or container past the return of Execute.
type CodeExecutor interface {
	// Name identifies the backend ("os", "wasm", "container").
	Name() string

	// Supports reports whether the backend can execute the language.
	Supports(language Language) bool

	// SupportedLanguages lists the languages Supports accepts.
	SupportedLanguages() []Language

	// Execute runs one request to completion, timeout, or error.
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)

	// HealthCheck is a cheap backend-readiness probe.
	HealthCheck(ctx context.Context) error
}
