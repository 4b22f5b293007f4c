package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
)

// OSSandbox implements CodeExecutor by running interpreter subprocesses
// confined to a designated root directory. This is the weakest tier: there
// is no kernel-level isolation, only path containment and resource-free
// process supervision.
type OSSandbox struct {
	logger         *zap.Logger
	root           string
	resolvedRoot   string
	defaultTimeout time.Duration
	maxOutput      int
	lookPath       func(file string) (string, error)
}

// OSSandboxOption defines a functional option for OSSandbox
type OSSandboxOption func(*OSSandbox)

// WithLookPath overrides interpreter discovery, for tests.
func WithLookPath(fn func(file string) (string, error)) OSSandboxOption {
	return func(s *OSSandbox) {
		s.lookPath = fn
	}
}

// NewOSSandbox creates the OS tier rooted at cfg.Sandbox.AllowedDir. The
// root is created if absent and canonicalized once so per-request working
// directories can be containment-checked against it.
func NewOSSandbox(logger *zap.Logger, cfg *config.Config, opts ...OSSandboxOption) (*OSSandbox, error) {
	root := cfg.Sandbox.AllowedDir
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cannot create sandbox root %q: %v", ErrBackendUnavailable, root, err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot resolve sandbox root %q: %v", ErrBackendUnavailable, root, err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot canonicalize sandbox root %q: %v", ErrBackendUnavailable, root, err)
	}

	s := &OSSandbox{
		logger:         logger,
		root:           absRoot,
		resolvedRoot:   resolvedRoot,
		defaultTimeout: cfg.GetTimeout(),
		maxOutput:      cfg.Sandbox.MaxOutputBytes,
		lookPath:       exec.LookPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements CodeExecutor.
func (s *OSSandbox) Name() string { return "os" }

// Supports implements CodeExecutor. Compiled languages have no inline-eval
// form and are rejected before any process is spawned.
func (s *OSSandbox) Supports(language Language) bool {
	switch language {
	case LanguagePython, LanguageJavaScript, LanguageTypeScript, LanguageBash:
		return true
	default:
		return false
	}
}

// SupportedLanguages implements CodeExecutor.
func (s *OSSandbox) SupportedLanguages() []Language {
	return []Language{LanguagePython, LanguageJavaScript, LanguageTypeScript, LanguageBash}
}

// HealthCheck implements CodeExecutor: the root must exist and at least one
// interpreter must be on PATH.
func (s *OSSandbox) HealthCheck(_ context.Context) error {
	if info, err := os.Stat(s.root); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: sandbox root %q not usable", ErrBackendUnavailable, s.root)
	}
	for _, bin := range []string{"python3", "node", "bash"} {
		if _, err := s.lookPath(bin); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: no interpreter found on PATH", ErrBackendUnavailable)
}

// command maps a language to its inline-eval invocation.
func (s *OSSandbox) command(language Language) (string, []string, error) {
	switch language {
	case LanguagePython:
		return "python3", []string{"-c"}, nil
	case LanguageJavaScript:
		return "node", []string{"-e"}, nil
	case LanguageBash:
		return "bash", []string{"-c"}, nil
	case LanguageTypeScript:
		if _, err := s.lookPath("deno"); err == nil {
			return "deno", []string{"eval"}, nil
		}
		if _, err := s.lookPath("ts-node"); err == nil {
			return "ts-node", []string{"-e"}, nil
		}
		return "", nil, fmt.Errorf("%w: typescript runtime not found (deno or ts-node)", ErrBackendUnavailable)
	default:
		return "", nil, fmt.Errorf("%w: %s has no inline-eval form in os mode", ErrUnsupportedLanguage, language)
	}
}

// resolveWorkingDir joins dir onto the sandbox root and verifies the result
// stays inside it after canonicalization. Violations are rejected, never
// clamped.
func (s *OSSandbox) resolveWorkingDir(dir string) (string, error) {
	if dir == "" {
		return s.root, nil
	}
	if filepath.IsAbs(dir) {
		return "", fmt.Errorf("%w: working directory %q must be relative to the sandbox root", ErrSandboxViolation, dir)
	}

	joined := filepath.Join(s.root, dir)
	if err := s.checkContained(joined); err != nil {
		return "", fmt.Errorf("%w: working directory %q resolves outside the sandbox root", ErrSandboxViolation, dir)
	}
	return joined, nil
}

// checkContained verifies path is the resolved root or a descendant of it.
// Symlinks are followed for the longest existing prefix so a link pointing
// out of the root cannot smuggle a path back in.
func (s *OSSandbox) checkContained(path string) error {
	resolved := resolveExisting(path)
	rel, err := filepath.Rel(s.resolvedRoot, resolved)
	if err != nil {
		return err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes %q", path, s.resolvedRoot)
	}
	return nil
}

// resolveExisting canonicalizes the longest existing ancestor of path and
// re-joins the remaining segments, so containment checks work for
// directories that do not exist yet.
func resolveExisting(path string) string {
	remainder := ""
	for p := path; ; {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(resolved, remainder)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return path
		}
		remainder = filepath.Join(filepath.Base(p), remainder)
		p = parent
	}
}

// stageFiles writes request files into the working directory, rejecting any
// path that escapes it.
func (s *OSSandbox) stageFiles(workingDir string, files map[string]string) error {
	for name, content := range files {
		if filepath.IsAbs(name) {
			return fmt.Errorf("%w: staged file path %q must be relative", ErrSandboxViolation, name)
		}
		dest := filepath.Join(workingDir, name)
		if err := s.checkContained(dest); err != nil {
			return fmt.Errorf("%w: staged file path %q resolves outside the sandbox root", ErrSandboxViolation, name)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("%w: cannot create directory for %q: %v", ErrBackendUnavailable, name, err)
		}
		if err := os.WriteFile(dest, []byte(content), 0o600); err != nil {
			return fmt.Errorf("%w: cannot write staged file %q: %v", ErrBackendUnavailable, name, err)
		}
	}
	return nil
}

// Execute implements CodeExecutor. The interpreter runs with the resolved
// working directory, injected environment and piped stdio; completion is
// raced against the timeout and the process is killed when the timeout
// wins, returning whatever output was captured.
func (s *OSSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if !s.Supports(req.Language) {
		return nil, fmt.Errorf("%w: %s in os mode", ErrUnsupportedLanguage, req.Language)
	}

	workingDir, err := s.resolveWorkingDir(req.WorkingDir)
	if err != nil {
		return nil, err
	}

	bin, args, err := s.command(req.Language)
	if err != nil {
		return nil, err
	}

	if _, err := s.lookPath(bin); err != nil {
		return nil, fmt.Errorf("%w: interpreter %q not found on PATH", ErrBackendUnavailable, bin)
	}
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cannot create working directory: %v", ErrBackendUnavailable, err)
	}

	if err := s.stageFiles(workingDir, req.Files); err != nil {
		return nil, err
	}

	timeout := req.EffectiveTimeout()
	start := time.Now()

	//nolint:gosec // Executing untrusted code is the purpose of this package.
	cmd := exec.Command(bin, append(append([]string{}, args...), req.Code)...)
	cmd.Args = append(cmd.Args, req.Args...)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	for key, value := range req.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	s.logger.Debug("executing code in os sandbox",
		zap.String("language", string(req.Language)),
		zap.String("working_dir", workingDir),
		zap.Duration("timeout", timeout))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to spawn process: %v", ErrBackendUnavailable, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		duration := time.Since(start)
		exitCode := 0
		if waitErr != nil {
			exitErr, ok := waitErr.(*exec.ExitError)
			if !ok {
				return nil, fmt.Errorf("%w: process error: %v", ErrBackendUnavailable, waitErr)
			}
			exitCode = exitErr.ExitCode()
		}
		result := &ExecutionResult{
			Success:  exitCode == 0,
			ExitCode: intPtr(exitCode),
			Stdout:   stdoutBuf.String(),
			Stderr:   stderrBuf.String(),
			Duration: duration,
		}
		return clampResult(result, s.maxOutput), nil

	case <-timer.C:
		s.killAndReap(cmd, done)
		s.logger.Warn("execution timed out in os sandbox",
			zap.String("language", string(req.Language)),
			zap.Duration("timeout", timeout))
		result := timeoutResult(stdoutBuf.String(), stderrBuf.String()+"\nExecution timed out", time.Since(start))
		return clampResult(result, s.maxOutput), nil

	case <-ctx.Done():
		s.killAndReap(cmd, done)
		return nil, ctx.Err()
	}
}

// killAndReap terminates the child and waits for its exit so no process
// outlives the Execute call and the output buffers are quiescent.
func (s *OSSandbox) killAndReap(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			s.logger.Warn("failed to kill timed-out process", zap.Error(err))
		}
	}
	<-done
}
