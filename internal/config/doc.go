// Package config handles configuration loading for dashblock-hub.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from DASHBLOCK_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/dashblock/hub.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${DASHBLOCK_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"  # Agent relay stream
//	  http_addr: "0.0.0.0:8080"   # Client WebSocket, internal API, health
//
//	database:
//	  path: "/var/lib/dashblock/hub.db"
//
//	auth:
//	  jwt_secret: "${DASHBLOCK_JWT_SECRET}"  # Optional; guards /ws/client and /internal/*
//
//	relay:
//	  send_buffer: 64            # Frames queued per connection
//	  auth_flush_timeout: "2s"
//
//	deploy:
//	  agent_binary: "/usr/local/share/dashblock/dashblock-agent"
//	  relay_url: "hub.example.com:50051"
//	  runtime: "java"
//	  known_hosts: "~/.ssh/known_hosts"
//	  dial_timeout: "15s"
//	  confirm_delay: "3s"
//
//	tailscale:
//	  enabled: false
//	  hostname: "dashblock-hub"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
