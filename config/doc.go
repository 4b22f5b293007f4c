// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It covers server settings, the execution
// environment selection and the per-backend sandbox parameters.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Execution environment: %s\n", cfg.Sandbox.ExecutionEnv)
package config
