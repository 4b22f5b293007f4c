package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
)

// containerWorkdir is where request code and files are staged inside every
// execution container.
const containerWorkdir = "/workdir"

// cleanupTimeout bounds the log-retrieval and removal steps that run after
// the request deadline has already expired.
const cleanupTimeout = 15 * time.Second

// ContainerExecutor implements CodeExecutor with one ephemeral container
// per request. The runtime client is injected at construction so tests can
// substitute a fake; the configured image is verified (and pulled if
// absent) once, amortized across requests.
type ContainerExecutor struct {
	logger      *zap.Logger
	api         ContainerAPI
	cfg         config.ContainerConfig
	memoryBytes int64
	maxOutput   int
}

// NewContainerExecutor verifies daemon connectivity, parses the configured
// limits and ensures the image is present locally. All failures here are
// configuration errors surfaced at startup.
func NewContainerExecutor(ctx context.Context, logger *zap.Logger, cfg *config.Config, api ContainerAPI) (*ContainerExecutor, error) {
	memoryBytes, err := ParseMemoryLimit(cfg.Sandbox.Container.MemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid container memory limit: %w", err)
	}

	if _, err := api.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: container daemon unreachable: %v", ErrBackendUnavailable, err)
	}

	executor := &ContainerExecutor{
		logger:      logger,
		api:         api,
		cfg:         cfg.Sandbox.Container,
		memoryBytes: memoryBytes,
		maxOutput:   cfg.Sandbox.MaxOutputBytes,
	}

	if err := executor.ensureImage(ctx); err != nil {
		return nil, err
	}

	logger.Info("container executor ready",
		zap.String("image", cfg.Sandbox.Container.Image),
		zap.String("network", cfg.Sandbox.Container.Network),
		zap.Int64("memory_bytes", memoryBytes),
		zap.Float64("cpu_limit", cfg.Sandbox.Container.CPULimit))
	return executor, nil
}

// Name implements CodeExecutor.
func (c *ContainerExecutor) Name() string { return "container" }

// Supports implements CodeExecutor. The container tier runs every language
// the image carries a runtime for.
func (c *ContainerExecutor) Supports(language Language) bool {
	switch language {
	case LanguagePython, LanguageJavaScript, LanguageTypeScript,
		LanguageRust, LanguageGo, LanguageBash:
		return true
	default:
		return false
	}
}

// SupportedLanguages implements CodeExecutor.
func (c *ContainerExecutor) SupportedLanguages() []Language {
	return []Language{
		LanguagePython, LanguageJavaScript, LanguageTypeScript,
		LanguageRust, LanguageGo, LanguageBash,
	}
}

// HealthCheck implements CodeExecutor by pinging the daemon.
func (c *ContainerExecutor) HealthCheck(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return fmt.Errorf("%w: container daemon unreachable: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// ensureImage pulls the configured image when it is not present locally.
func (c *ContainerExecutor) ensureImage(ctx context.Context) error {
	images, err := c.api.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("%w: failed to list images: %v", ErrBackendUnavailable, err)
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == c.cfg.Image {
				return nil
			}
		}
	}

	c.logger.Info("pulling container image", zap.String("image", c.cfg.Image))
	reader, err := c.api.ImagePull(ctx, c.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("%w: failed to pull image %q: %v", ErrBackendUnavailable, c.cfg.Image, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("%w: image pull interrupted: %v", ErrBackendUnavailable, err)
	}

	c.logger.Info("container image pulled", zap.String("image", c.cfg.Image))
	return nil
}

// codeFile maps a language to the staged source filename.
func codeFile(language Language) string {
	switch language {
	case LanguagePython:
		return "main.py"
	case LanguageJavaScript:
		return "index.js"
	case LanguageTypeScript:
		return "main.ts"
	case LanguageRust:
		return "main.rs"
	case LanguageGo:
		return "main.go"
	case LanguageBash:
		return "main.sh"
	default:
		return "main.txt"
	}
}

// runCommand builds the shell command that executes the staged source file.
// Compiled languages build into /tmp so the workdir stays input-only.
func runCommand(language Language) string {
	switch language {
	case LanguagePython:
		return "python3 main.py"
	case LanguageJavaScript:
		return "node index.js"
	case LanguageTypeScript:
		return "deno run main.ts"
	case LanguageRust:
		return "rustc --edition=2021 -O -o /tmp/app main.rs && /tmp/app"
	case LanguageGo:
		return "go run main.go"
	case LanguageBash:
		return "bash main.sh"
	default:
		return ""
	}
}

// shellQuote wraps s in single quotes, escaping embedded quotes, so request
// args survive the sh -c invocation verbatim.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// stdinFile is staged alongside the code when the request carries stdin
// content, then redirected into the command.
const stdinFile = ".stdin"

// buildShellCommand assembles the full sh -c line for a request.
func buildShellCommand(req ExecutionRequest) string {
	cmd := runCommand(req.Language)
	for _, arg := range req.Args {
		cmd += " " + shellQuote(arg)
	}
	if req.Stdin != "" {
		cmd += " < " + stdinFile
	}
	return cmd
}

// resolveContainerWorkdir appends the request working directory to the
// in-container staging root, rejecting traversal out of it.
func resolveContainerWorkdir(dir string) (string, error) {
	if dir == "" {
		return containerWorkdir, nil
	}
	if path.IsAbs(dir) {
		return "", fmt.Errorf("%w: working directory %q must be relative", ErrSandboxViolation, dir)
	}
	joined := path.Join(containerWorkdir, dir)
	if joined != containerWorkdir && !strings.HasPrefix(joined, containerWorkdir+"/") {
		return "", fmt.Errorf("%w: working directory %q resolves outside the container workdir", ErrSandboxViolation, dir)
	}
	return joined, nil
}

// Execute implements CodeExecutor. Per request the lifecycle is strictly
// create, stage, start, wait-or-timeout, fetch logs, force-remove, build
// result; log retrieval and removal run even when the wait timed out or
// failed, so no container outlives the call.
func (c *ContainerExecutor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if !c.Supports(req.Language) {
		return nil, fmt.Errorf("%w: %s in container mode", ErrUnsupportedLanguage, req.Language)
	}

	workdir, err := resolveContainerWorkdir(req.WorkingDir)
	if err != nil {
		return nil, err
	}

	stage := map[string]string{codeFile(req.Language): req.Code}
	if req.Stdin != "" {
		stage[stdinFile] = req.Stdin
	}
	for name, content := range req.Files {
		stage[name] = content
	}
	archive, err := buildTarArchive(strings.TrimPrefix(workdir, "/"), stage)
	if err != nil {
		return nil, err
	}

	env := make([]string, 0, len(c.cfg.Env)+len(req.Env))
	for key, value := range c.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	for key, value := range req.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	containerName := "agentbox-exec-" + uuid.NewString()
	timeout := req.EffectiveTimeout()
	start := time.Now()

	containerCfg := &container.Config{
		Image:           c.cfg.Image,
		Cmd:             strslice.StrSlice{"sh", "-c", buildShellCommand(req)},
		Env:             env,
		WorkingDir:      workdir,
		NetworkDisabled: c.cfg.Network == "none" || c.cfg.Network == "",
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(c.cfg.Network),
		Resources: container.Resources{
			Memory:   c.memoryBytes,
			NanoCPUs: int64(c.cfg.CPULimit * 1e9),
		},
		// Removal happens explicitly after log retrieval, never via the
		// daemon's auto-remove.
		AutoRemove: false,
	}

	created, err := c.api.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create container: %v", ErrBackendUnavailable, err)
	}
	containerID := created.ID

	c.logger.Debug("created execution container",
		zap.String("container", containerName),
		zap.String("language", string(req.Language)))

	if err := c.api.CopyToContainer(ctx, containerID, "/", archive, container.CopyToContainerOptions{}); err != nil {
		c.removeContainer(ctx, containerID)
		return nil, fmt.Errorf("%w: failed to stage code into container: %v", ErrBackendUnavailable, err)
	}

	if err := c.api.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		c.removeContainer(ctx, containerID)
		return nil, fmt.Errorf("%w: failed to start container: %v", ErrBackendUnavailable, err)
	}

	exitCode, timedOut, waitErr := c.waitForContainer(ctx, containerID, timeout)
	duration := time.Since(start)

	// Logs are fetched and the container removed regardless of how the wait
	// ended; a request deadline must not leave either step undone.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	stdout, stderr, logsErr := c.containerLogs(cleanupCtx, containerID)
	if logsErr != nil {
		c.logger.Warn("failed to retrieve container logs",
			zap.String("container", containerName),
			zap.Error(logsErr))
	}
	c.removeContainer(cleanupCtx, containerID)

	switch {
	case timedOut:
		c.logger.Warn("container execution timed out",
			zap.String("container", containerName),
			zap.Duration("timeout", timeout))
		return clampResult(timeoutResult(stdout, stderr, duration), c.maxOutput), nil
	case waitErr != nil:
		result := &ExecutionResult{
			Success:  false,
			Stdout:   stdout,
			Stderr:   strings.TrimSpace(stderr + "\n" + waitErr.Error()),
			Duration: duration,
		}
		return clampResult(result, c.maxOutput), nil
	default:
		result := &ExecutionResult{
			Success:  exitCode == 0,
			ExitCode: intPtr(exitCode),
			Stdout:   stdout,
			Stderr:   stderr,
			Duration: duration,
			Metadata: map[string]string{"container_status": strconv.Itoa(exitCode)},
		}
		return clampResult(result, c.maxOutput), nil
	}
}

// waitForContainer blocks until the container stops or the timeout elapses.
func (c *ContainerExecutor) waitForContainer(ctx context.Context, containerID string, timeout time.Duration) (exitCode int, timedOut bool, err error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitCh, errCh := c.api.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return 0, false, errors.New(resp.Error.Message)
		}
		return int(resp.StatusCode), false, nil
	case waitErr := <-errCh:
		if errors.Is(waitErr, context.DeadlineExceeded) {
			return 0, true, nil
		}
		return 0, false, waitErr
	}
}

// containerLogs fetches the accumulated stdout and stderr streams.
func (c *ContainerExecutor) containerLogs(ctx context.Context, containerID string) (string, string, error) {
	reader, err := c.api.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return stdout.String(), stderr.String(), err
	}
	return stdout.String(), stderr.String(), nil
}

// removeContainer force-removes the container; failure is logged, never
// propagated, and the attempt is never skipped.
func (c *ContainerExecutor) removeContainer(ctx context.Context, containerID string) {
	if err := c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		c.logger.Error("failed to remove execution container",
			zap.String("container", containerID),
			zap.Error(err))
		return
	}
	c.logger.Debug("removed execution container", zap.String("container", containerID))
}

// ParseMemoryLimit converts a human-readable memory-limit string ("512m",
// "1g", "1024k", bare bytes) to raw bytes.
func ParseMemoryLimit(limit string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(limit))
	if s == "" {
		return 0, fmt.Errorf("empty memory limit")
	}

	multiplier := int64(1)
	s = strings.TrimSuffix(s, "b")
	switch {
	case strings.HasSuffix(s, "g"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "k")
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil || num < 0 {
		return 0, fmt.Errorf("invalid memory limit: %q", limit)
	}
	return num * multiplier, nil
}
