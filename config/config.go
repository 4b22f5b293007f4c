package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ExecutionEnv selects which sandbox backend the factory constructs.
type ExecutionEnv string

const (
	// EnvOS runs interpreters as restricted host subprocesses.
	EnvOS ExecutionEnv = "os"
	// EnvSandbox runs code inside a WebAssembly virtual machine.
	EnvSandbox ExecutionEnv = "sandbox"
	// EnvContainer runs code in ephemeral containers.
	EnvContainer ExecutionEnv = "container"
)

// ParseExecutionEnv normalizes a configured environment name, accepting the
// aliases "wasm" and "docker".
func ParseExecutionEnv(s string) (ExecutionEnv, error) {
	switch s {
	case "os":
		return EnvOS, nil
	case "sandbox", "wasm":
		return EnvSandbox, nil
	case "container", "docker":
		return EnvContainer, nil
	default:
		return "", fmt.Errorf("invalid execution environment: %q, valid: os, sandbox, container", s)
	}
}

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds MCP server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport" yaml:"transport"`
	HTTPPort  int    `mapstructure:"http_port" yaml:"http_port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Level string `mapstructure:"level" yaml:"level"`
}

// SandboxConfig holds execution engine configuration shared by all backends
type SandboxConfig struct {
	ExecutionEnv      string          `mapstructure:"execution_env" yaml:"execution_env"`
	AllowedDir        string          `mapstructure:"allowed_dir" yaml:"allowed_dir"`
	DefaultTimeoutSec int             `mapstructure:"default_timeout_sec" yaml:"default_timeout_sec"`
	MaxOutputBytes    int             `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
	Container         ContainerConfig `mapstructure:"container" yaml:"container"`
	Wasm              WasmConfig      `mapstructure:"wasm" yaml:"wasm"`
}

// ContainerConfig holds the container tier configuration
type ContainerConfig struct {
	Image       string            `mapstructure:"image" yaml:"image"`
	Network     string            `mapstructure:"network" yaml:"network"`
	MemoryLimit string            `mapstructure:"memory_limit" yaml:"memory_limit"`
	CPULimit    float64           `mapstructure:"cpu_limit" yaml:"cpu_limit"`
	Env         map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// WasmConfig holds the WebAssembly tier configuration
type WasmConfig struct {
	// MaxMemoryPages caps linear memory in 64KiB pages.
	MaxMemoryPages int `mapstructure:"max_memory_pages" yaml:"max_memory_pages"`
	// FuelLimit caps the per-call instruction budget derived from the timeout.
	FuelLimit uint64 `mapstructure:"fuel_limit" yaml:"fuel_limit"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("sandbox.execution_env", "sandbox")
	viper.SetDefault("sandbox.allowed_dir", defaultAllowedDir())
	viper.SetDefault("sandbox.default_timeout_sec", 30)
	viper.SetDefault("sandbox.max_output_bytes", 1024*1024)

	viper.SetDefault("sandbox.container.image", "python:3.12-slim")
	viper.SetDefault("sandbox.container.network", "none")
	viper.SetDefault("sandbox.container.memory_limit", "512m")
	viper.SetDefault("sandbox.container.cpu_limit", 1.0)

	viper.SetDefault("sandbox.wasm.max_memory_pages", 256)
	viper.SetDefault("sandbox.wasm.fuel_limit", uint64(1_000_000_000))
}

func defaultAllowedDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./workspace"
	}
	return filepath.Join(home, ".agentbox", "workspace")
}

// Validate ensures the configuration is usable. The container memory-limit
// string is parsed (and rejected) at backend construction, where the parser
// lives.
func (c *Config) Validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	env, err := ParseExecutionEnv(c.Sandbox.ExecutionEnv)
	if err != nil {
		return err
	}
	c.Sandbox.ExecutionEnv = string(env)

	if c.Sandbox.AllowedDir == "" {
		return fmt.Errorf("sandbox.allowed_dir must not be empty")
	}

	if c.Sandbox.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.default_timeout_sec must be positive, got: %d", c.Sandbox.DefaultTimeoutSec)
	}

	if c.Sandbox.MaxOutputBytes <= 0 {
		return fmt.Errorf("sandbox.max_output_bytes must be positive, got: %d", c.Sandbox.MaxOutputBytes)
	}

	if c.Sandbox.Container.Image == "" {
		return fmt.Errorf("sandbox.container.image must not be empty")
	}

	if c.Sandbox.Container.CPULimit <= 0 {
		return fmt.Errorf("sandbox.container.cpu_limit must be positive, got: %v", c.Sandbox.Container.CPULimit)
	}

	if c.Sandbox.Wasm.MaxMemoryPages <= 0 {
		return fmt.Errorf("sandbox.wasm.max_memory_pages must be positive, got: %d", c.Sandbox.Wasm.MaxMemoryPages)
	}

	if c.Sandbox.Wasm.FuelLimit == 0 {
		return fmt.Errorf("sandbox.wasm.fuel_limit must be positive")
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s, must be one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the default execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.DefaultTimeoutSec) * time.Second
}
