// Package config handles configuration loading for ois-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults for all timing values.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${OIS_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  heartbeat_interval: "30s"
//	  command_timeout: "30s"
//	scheduler:
//	  interval: "60s"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8800"   # WebSocket hub and API
//
// Database:
//
//	database:
//	  path: "/var/lib/ois/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${OIS_JWT_SECRET}"
//	  password_hash: "${OIS_PASSWORD_HASH}"   # bcrypt hash of operator password
//
// Agent identities and timing:
//
//	agents:
//	  heartbeat_interval: "30s"
//	  command_timeout: "30s"
//	  tokens:
//	    - token: "${ARIA_TOKEN}"
//	      id: "aria"
//	      display_name: "ARIA ⚡"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "ois-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
