// Package config loads the agentflow engine configuration.
//
// Values come from a YAML file, an optional .env file and AGENTFLOW_*
// environment variables, in increasing precedence. Nested keys map to
// underscore-separated variable names:
//
//	AGENTFLOW_ENGINE_WORKERS=6
//	AGENTFLOW_DATABASE_DSN=postgres://...
//
// Load applies defaults and validates the result:
//
//	cfg, err := config.Load("config.yml")
package config
