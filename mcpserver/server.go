package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  sandbox.CodeExecutor
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.CodeExecutor) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.execution_env", cfg.Sandbox.ExecutionEnv),
		zap.String("sandbox.allowed_dir", cfg.Sandbox.AllowedDir),
		zap.Int("sandbox.default_timeout_sec", cfg.Sandbox.DefaultTimeoutSec),
		zap.Int("sandbox.max_output_bytes", cfg.Sandbox.MaxOutputBytes),
		zap.String("backend", executor.Name()))

	s.mcpServer = server.NewMCPServer("agentbox-executor", "A secure code execution server")

	s.registerExecuteCodeTool()

	return s, nil
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	languages := make([]string, 0, len(s.executor.SupportedLanguages()))
	for _, lang := range s.executor.SupportedLanguages() {
		languages = append(languages, string(lang))
	}

	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute untrusted code in a sandboxed environment",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to execute",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Source language",
					"enum":        languages,
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Content written to the program's standard input (optional)",
				},
				"working_dir": map[string]any{
					"type":        "string",
					"description": "Working directory relative to the sandbox root (optional)",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Wall-clock timeout in seconds (optional, defaults to the configured timeout)",
				},
				"env": map[string]any{
					"type":        "object",
					"description": "Environment variable overrides (optional)",
				},
			},
			Required: []string{"code", "language"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// handleExecuteCode handles the execute_code tool. An executor error means
// the sandbox itself could not run the code and is rendered as a tool
// error; a program that ran and failed is a normal result with
// success=false.
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	languageStr, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}

	language, err := sandbox.ParseLanguage(languageStr)
	if err != nil {
		return toolError(fmt.Sprintf("invalid language: %v", err)), nil
	}

	timeout := s.config.GetTimeout()
	if sec := request.GetInt("timeout_sec", 0); sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}

	req := sandbox.ExecutionRequest{
		Language:   language,
		Code:       code,
		Stdin:      request.GetString("stdin", ""),
		WorkingDir: request.GetString("working_dir", ""),
		Timeout:    timeout,
		Env:        envArgument(request),
	}

	s.logger.Info("executing code in sandbox",
		zap.String("language", string(language)),
		zap.String("backend", s.executor.Name()),
		zap.Int("code_length", len(code)))

	result, err := s.executor.Execute(ctx, req)
	if err != nil {
		s.logger.Error("sandbox execution failed",
			zap.Error(err),
			zap.String("language", string(language)))
		return toolError(fmt.Sprintf("the sandbox could not run your code: %v", err)), nil
	}

	s.logger.Info("code execution completed",
		zap.String("language", string(language)),
		zap.Bool("success", result.Success),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("duration", result.Duration))

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(payload),
			},
		},
	}, nil
}

// envArgument extracts the optional env object from the tool arguments.
func envArgument(request mcp.CallToolRequest) map[string]string {
	raw, ok := request.GetArguments()["env"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	env := make(map[string]string, len(raw))
	for key, value := range raw {
		if s, ok := value.(string); ok {
			env[key] = s
		}
	}
	return env
}

func toolError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: message,
			},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
