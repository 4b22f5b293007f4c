package integration

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/logger"
	"github.com/isdmx/agentbox/mcpserver"
	"github.com/isdmx/agentbox/sandbox"
)

func integrationConfig(t *testing.T, env string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Sandbox: config.SandboxConfig{
			ExecutionEnv:      env,
			AllowedDir:        t.TempDir(),
			DefaultTimeoutSec: 5,
			MaxOutputBytes:    1024 * 1024,
			Container: config.ContainerConfig{
				Image:       "python:3.12-slim",
				Network:     "none",
				MemoryLimit: "128m",
				CPULimit:    1.0,
			},
			Wasm: config.WasmConfig{
				MaxMemoryPages: 128,
				FuelLimit:      100_000_000,
			},
		},
		Logging: config.LoggingConfig{
			Mode:  "development",
			Level: "info",
		},
	}
}

// TestIntegrationConfigLoggerFactory wires config, logger and the executor
// factory together the way the server entrypoint does.
func TestIntegrationConfigLoggerFactory(t *testing.T) {
	t.Run("ConfigAndLoggerIntegration", func(t *testing.T) {
		cfg := integrationConfig(t, "os")
		require.NoError(t, cfg.Validate())

		testLogger, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
		require.NoError(t, err)
		require.NotNil(t, testLogger)

		testLogger.Info("integration test started")
		_ = testLogger.Sync()
	})

	t.Run("FactoryOSBackend", func(t *testing.T) {
		cfg := integrationConfig(t, "os")
		executor, err := sandbox.NewExecutor(context.Background(), zaptest.NewLogger(t), cfg)
		require.NoError(t, err)
		assert.Equal(t, "os", executor.Name())
	})

	t.Run("FactoryWasmBackend", func(t *testing.T) {
		cfg := integrationConfig(t, "sandbox")
		executor, err := sandbox.NewExecutor(context.Background(), zaptest.NewLogger(t), cfg)
		require.NoError(t, err)
		assert.Equal(t, "wasm", executor.Name())
		require.NoError(t, executor.HealthCheck(context.Background()))
	})

	t.Run("FactoryRejectsUnknownEnv", func(t *testing.T) {
		cfg := integrationConfig(t, "bare-metal")
		_, err := sandbox.NewExecutor(context.Background(), zaptest.NewLogger(t), cfg)
		require.Error(t, err)
	})
}

// TestIntegrationFullMCPServer builds the whole stack, backend included,
// without serving a transport.
func TestIntegrationFullMCPServer(t *testing.T) {
	cfg := integrationConfig(t, "sandbox")
	require.NoError(t, cfg.Validate())

	mcpLogger, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	require.NoError(t, err)

	executor, err := sandbox.NewExecutor(context.Background(), mcpLogger, cfg)
	require.NoError(t, err)

	server, err := mcpserver.New(cfg, mcpLogger, executor)
	require.NoError(t, err)
	require.NotNil(t, server)
	require.NotNil(t, server.GetMCPServer())
}

// TestIntegrationOSExecution runs a snippet end to end through the factory
// when an interpreter is available on the host.
func TestIntegrationOSExecution(t *testing.T) {
	cfg := integrationConfig(t, "os")
	executor, err := sandbox.NewExecutor(context.Background(), zaptest.NewLogger(t), cfg)
	require.NoError(t, err)

	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not found on PATH")
	}

	result, err := executor.Execute(context.Background(), sandbox.ExecutionRequest{
		Language: sandbox.LanguageBash,
		Code:     "echo integration",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Stdout, "integration")
}
