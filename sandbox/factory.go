package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
)

// NewExecutor constructs exactly one execution backend from the configured
// execution environment. Backend construction failures (daemon unreachable,
// engine init failure, bad limits) surface here, at startup, rather than on
// first use.
func NewExecutor(ctx context.Context, logger *zap.Logger, cfg *config.Config) (CodeExecutor, error) {
	env, err := config.ParseExecutionEnv(cfg.Sandbox.ExecutionEnv)
	if err != nil {
		return nil, err
	}

	switch env {
	case config.EnvOS:
		return NewOSSandbox(logger, cfg)

	case config.EnvSandbox:
		// Python/JavaScript source execution is a known gap in this tier;
		// requests for them return a failed result rather than falling back
		// to another backend.
		logger.Warn("wasm execution environment selected: Python and JavaScript source " +
			"execution is not yet implemented in this tier and will fail per request")
		return NewWasmExecutor(logger, cfg)

	case config.EnvContainer:
		api, err := NewDockerClient()
		if err != nil {
			return nil, err
		}
		return NewContainerExecutor(ctx, logger, cfg, api)

	default:
		return nil, fmt.Errorf("unsupported execution environment: %s", env)
	}
}
