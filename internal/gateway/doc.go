// Package gateway serves the relay hub over the network.
//
// # Overview
//
// The gateway owns the hub, the SQLite store, the gRPC server that carries
// agent streams, and the HTTP server that carries client websockets and the
// internal API. Listeners are plain TCP or, when tailscale is enabled, tsnet.
//
// # Agent Channel
//
// Agents open the AgentRelay.Connect bidirectional stream (JSON codec):
//
//	agent -> hub   authenticate{agentKey}
//	hub   -> agent authenticated{serverId} | auth_error{message}
//	agent -> hub   status_update{status, playersOnline?, ...}
//	hub   -> agent command{command}
//
// Each stream has one reader goroutine and one writer goroutine. Frames are
// handled in arrival order. Outbound frames go through a bounded queue; when
// it is full the frame is dropped for that connection only.
//
// # HTTP Endpoints
//
//   - GET /ws/client - Client websocket (watch_server, unwatch_server, server_update)
//   - POST /internal/command - Forward {serverId, command} to connected agents
//   - GET /internal/servers - List server records
//   - GET /internal/servers/{id} - Read one server record (agent key omitted)
//   - POST /internal/deploy - Install the agent on a host over SSH
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (at least one authenticated agent)
//   - GET /metrics - Prometheus metrics when enabled
//
// When auth.jwt_secret is set, /ws/client and /internal/* require a bearer
// token (or access_token query parameter for browsers).
package gateway
