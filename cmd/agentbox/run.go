package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/logger"
	"github.com/isdmx/agentbox/sandbox"
)

// timeoutExitCode mirrors the exit status of timeout(1).
const timeoutExitCode = 124

var (
	languageFlag string
	timeoutFlag  time.Duration
	workdirFlag  string
	stdinFlag    string
	envFlags     []string
)

var runCmd = &cobra.Command{
	Use:   "run [code]",
	Short: "Execute a code snippet in the configured sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnippet,
}

func init() {
	runCmd.Flags().StringVarP(&languageFlag, "language", "l", "python", "source language (python, javascript, typescript, rust, go, bash)")
	runCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "wall-clock timeout (defaults to the configured timeout)")
	runCmd.Flags().StringVar(&workdirFlag, "workdir", "", "working directory relative to the sandbox root")
	runCmd.Flags().StringVar(&stdinFlag, "stdin", "", "content written to the program's standard input")
	runCmd.Flags().StringArrayVarP(&envFlags, "env", "e", nil, "environment variable override (KEY=VALUE, repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runSnippet(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck // stderr sync failure is not actionable

	language, err := sandbox.ParseLanguage(languageFlag)
	if err != nil {
		return err
	}

	env := make(map[string]string, len(envFlags))
	for _, pair := range envFlags {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid --env value %q, expected KEY=VALUE", pair)
		}
		env[key] = value
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	executor, err := sandbox.NewExecutor(ctx, log, cfg)
	if err != nil {
		return err
	}

	timeout := timeoutFlag
	if timeout <= 0 {
		timeout = cfg.GetTimeout()
	}

	result, err := executor.Execute(ctx, sandbox.ExecutionRequest{
		Language:   language,
		Code:       args[0],
		Stdin:      stdinFlag,
		Timeout:    timeout,
		Env:        env,
		WorkingDir: workdirFlag,
	})
	if err != nil {
		return fmt.Errorf("the sandbox could not run the code: %w", err)
	}

	if result.Stdout != "" {
		fmt.Fprint(os.Stdout, result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}

	switch {
	case result.TimedOut:
		os.Exit(timeoutExitCode)
	case result.ExitCode != nil && *result.ExitCode != 0:
		os.Exit(*result.ExitCode)
	}
	return nil
}
