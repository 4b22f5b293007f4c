// Package main is the entry point for the agentbox MCP server.
//
// The agentbox server implements a secure, configurable Model Context
// Protocol (MCP) server that executes untrusted, model-generated code in
// one of three sandbox tiers: restricted OS subprocesses, a fuel-metered
// WebAssembly virtual machine, or ephemeral containers. The server supports
// both stdio and HTTP transports.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
