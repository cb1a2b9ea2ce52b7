// Package config handles configuration loading for skycast.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults for the upstream
// agent's run parameters.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SKYCAST_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/skycast/skycast.yaml
//  3. ~/.config/skycast/skycast.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	upstream:
//	  headers:
//	    x-mastra-dev-playground: "${SKYCAST_PLAYGROUND_FLAG}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
// Upstream agent:
//
//	upstream:
//	  url: "https://example.mastra.cloud/api/agents/weatherAgent/stream"
//	  headers:
//	    x-mastra-dev-playground: "true"
//	  run_id: "weatherAgent"
//	  resource_id: "weatherAgent"
//	  max_retries: 2
//	  max_steps: 5
//	  temperature: 0.5
//	  top_p: 1
//	  request_timeout: ""   # empty = no timeout, stream runs until EOF
//
// Database:
//
//	database:
//	  path: "~/.local/share/skycast/skycast.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
