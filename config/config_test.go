package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Sandbox: SandboxConfig{
			ExecutionEnv:      "sandbox",
			AllowedDir:        "/tmp/agentbox",
			DefaultTimeoutSec: 30,
			MaxOutputBytes:    1024 * 1024,
			Container: ContainerConfig{
				Image:       "python:3.12-slim",
				Network:     "none",
				MemoryLimit: "512m",
				CPULimit:    1.0,
			},
			Wasm: WasmConfig{
				MaxMemoryPages: 256,
				FuelLimit:      1_000_000_000,
			},
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "carrier-pigeon"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("InvalidExecutionEnv", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.ExecutionEnv = "bare-metal"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid execution environment")
	})

	t.Run("AliasesNormalized", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.ExecutionEnv = "docker"
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "container", cfg.Sandbox.ExecutionEnv)

		cfg.Sandbox.ExecutionEnv = "wasm"
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "sandbox", cfg.Sandbox.ExecutionEnv)
	})

	t.Run("EmptyAllowedDir", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.AllowedDir = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.allowed_dir")
	})

	t.Run("InvalidTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.DefaultTimeoutSec = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.default_timeout_sec must be positive")
	})

	t.Run("InvalidMaxOutput", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.MaxOutputBytes = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.max_output_bytes must be positive")
	})

	t.Run("EmptyContainerImage", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Container.Image = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.container.image")
	})

	t.Run("InvalidCPULimit", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Container.CPULimit = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.container.cpu_limit must be positive")
	})

	t.Run("InvalidWasmPages", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Wasm.MaxMemoryPages = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.wasm.max_memory_pages must be positive")
	})

	t.Run("InvalidFuelLimit", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Wasm.FuelLimit = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.wasm.fuel_limit must be positive")
	})

	t.Run("InvalidLoggingMode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Mode = "invalid_mode"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging.mode")
	})

	t.Run("InvalidLogLevel", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "invalid_level"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging.level")
	})
}

func TestParseExecutionEnv(t *testing.T) {
	tests := []struct {
		input    string
		expected ExecutionEnv
		hasError bool
	}{
		{"os", EnvOS, false},
		{"sandbox", EnvSandbox, false},
		{"wasm", EnvSandbox, false},
		{"container", EnvContainer, false},
		{"docker", EnvContainer, false},
		{"podman", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseExecutionEnv(tt.input)
			if tt.hasError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestGetTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Sandbox.DefaultTimeoutSec = 45
	assert.Equal(t, 45*time.Second, cfg.GetTimeout())
}

func TestExampleConfigFile(t *testing.T) {
	data, err := os.ReadFile("testdata/config.yaml")
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "container", cfg.Sandbox.ExecutionEnv)
	assert.Equal(t, 10, cfg.Sandbox.DefaultTimeoutSec)
	assert.Equal(t, "256m", cfg.Sandbox.Container.MemoryLimit)
	assert.Equal(t, 0.5, cfg.Sandbox.Container.CPULimit)
	assert.Equal(t, "1", cfg.Sandbox.Container.Env["PYTHONUNBUFFERED"])
	assert.Equal(t, 128, cfg.Sandbox.Wasm.MaxMemoryPages)
	assert.Equal(t, uint64(500_000_000), cfg.Sandbox.Wasm.FuelLimit)
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	cfg := validConfig()

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, cfg, &decoded)
}
