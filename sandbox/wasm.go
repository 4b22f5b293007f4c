package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
)

// wasmPageSize is the WebAssembly linear-memory page size in bytes.
const wasmPageSize = 64 * 1024

// fuelPerMillisecond converts the request timeout into an instruction
// budget. Fuel is consumed per executed instruction, giving a deterministic
// ceiling independent of host scheduling.
const fuelPerMillisecond = 1000

// WasmExecutor implements CodeExecutor on top of a Wasmtime engine. Raw
// modules run fully metered; Python and JavaScript source execution is a
// known capability gap reported per request, never silently delegated to
// another tier.
type WasmExecutor struct {
	logger    *zap.Logger
	engine    *wasmtime.Engine
	cfg       config.WasmConfig
	maxOutput int
}

// NewWasmExecutor creates the WebAssembly tier with fuel metering enabled.
func NewWasmExecutor(logger *zap.Logger, cfg *config.Config) (*WasmExecutor, error) {
	engineCfg := wasmtime.NewConfig()
	engineCfg.SetConsumeFuel(true)
	engine := wasmtime.NewEngineWithConfig(engineCfg)

	executor := &WasmExecutor{
		logger:    logger,
		engine:    engine,
		cfg:       cfg.Sandbox.Wasm,
		maxOutput: cfg.Sandbox.MaxOutputBytes,
	}

	// Fail at construction, not first use, if the engine cannot compile.
	if err := executor.HealthCheck(context.Background()); err != nil {
		return nil, err
	}

	logger.Info("wasm executor initialized",
		zap.Int("max_memory_pages", cfg.Sandbox.Wasm.MaxMemoryPages),
		zap.Uint64("fuel_limit", cfg.Sandbox.Wasm.FuelLimit))
	return executor, nil
}

// Name implements CodeExecutor.
func (w *WasmExecutor) Name() string { return "wasm" }

// Supports implements CodeExecutor. Python and JavaScript are accepted but
// currently produce a capability-gap result, see Execute.
func (w *WasmExecutor) Supports(language Language) bool {
	return language == LanguagePython || language == LanguageJavaScript
}

// SupportedLanguages implements CodeExecutor.
func (w *WasmExecutor) SupportedLanguages() []Language {
	return []Language{LanguagePython, LanguageJavaScript}
}

// HealthCheck implements CodeExecutor by compiling an empty module.
func (w *WasmExecutor) HealthCheck(_ context.Context) error {
	empty, err := wasmtime.Wat2Wasm("(module)")
	if err != nil {
		return fmt.Errorf("%w: wasm engine unusable: %v", ErrBackendUnavailable, err)
	}
	if _, err := wasmtime.NewModule(w.engine, empty); err != nil {
		return fmt.Errorf("%w: wasm engine cannot compile: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Execute implements CodeExecutor for high-level source text. Running
// Python or JavaScript here would require an embedded language runtime
// compiled to WASM; until then the gap is reported as a failed result so
// callers can select a different backend.
func (w *WasmExecutor) Execute(_ context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	start := time.Now()
	switch req.Language {
	case LanguagePython, LanguageJavaScript:
		w.logger.Debug("high-level source execution requested in wasm tier",
			zap.String("language", string(req.Language)))
		return &ExecutionResult{
			Success: false,
			Stderr: fmt.Sprintf("%s execution is not yet implemented in the wasm sandbox; "+
				"select the os or container execution environment for %s code",
				req.Language, req.Language),
			Duration: time.Since(start),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s in wasm mode", ErrUnsupportedLanguage, req.Language)
	}
}

// ExecuteModule compiles and runs a raw WebAssembly module in a fresh store
// whose fuel budget is derived once from the timeout and never refilled.
// Fuel exhaustion maps to a timed-out result; any other trap is a failed
// (but successful-call) result.
func (w *WasmExecutor) ExecuteModule(_ context.Context, wasmBytes []byte, funcName string, args []any, timeout time.Duration) (*ExecutionResult, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()

	store := wasmtime.NewStore(w.engine)
	if w.cfg.MaxMemoryPages > 0 {
		store.Limiter(int64(w.cfg.MaxMemoryPages)*wasmPageSize, -1, -1, -1, -1)
	}

	fuel := w.fuelForTimeout(timeout)
	if err := store.SetFuel(fuel); err != nil {
		return nil, fmt.Errorf("%w: cannot set fuel budget: %v", ErrBackendUnavailable, err)
	}

	module, err := wasmtime.NewModule(w.engine, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to compile module: %v", ErrBackendUnavailable, err)
	}

	instance, err := wasmtime.NewInstance(store, module, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to instantiate module: %v", ErrBackendUnavailable, err)
	}

	fn := instance.GetFunc(store, funcName)
	if fn == nil {
		return nil, fmt.Errorf("%w: exported function %q not found", ErrBackendUnavailable, funcName)
	}

	out, callErr := fn.Call(store, args...)
	duration := time.Since(start)

	if callErr != nil {
		var trap *wasmtime.Trap
		if errors.As(callErr, &trap) && trap.Code() != nil && *trap.Code() == wasmtime.OutOfFuel {
			w.logger.Warn("wasm execution exhausted its fuel budget",
				zap.Uint64("fuel", fuel),
				zap.Duration("timeout", timeout))
			result := timeoutResult("", "execution exceeded its instruction budget", duration)
			result.Metadata = map[string]string{"fuel_budget": fmt.Sprintf("%d", fuel)}
			return result, nil
		}
		return clampResult(failureResult("", callErr.Error(), 1, duration), w.maxOutput), nil
	}

	remaining, err := store.GetFuel()
	if err != nil {
		remaining = 0
	}

	result := successResult(fmt.Sprintf("%v", out), "", duration)
	result.Metadata = map[string]string{"fuel_consumed": fmt.Sprintf("%d", fuel-remaining)}
	return clampResult(result, w.maxOutput), nil
}

// fuelForTimeout derives the per-call instruction budget from the wall-clock
// timeout, capped by the configured ceiling.
func (w *WasmExecutor) fuelForTimeout(timeout time.Duration) uint64 {
	fuel := uint64(timeout.Milliseconds()) * fuelPerMillisecond
	if w.cfg.FuelLimit > 0 && fuel > w.cfg.FuelLimit {
		return w.cfg.FuelLimit
	}
	if fuel == 0 {
		fuel = fuelPerMillisecond
	}
	return fuel
}
