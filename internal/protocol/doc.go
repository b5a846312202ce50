// Package protocol defines the messages exchanged by dashblock components.
//
// # Envelope
//
// Every message on the agent channel (gRPC) and the client channel
// (WebSocket) is a Frame:
//
//	{"type": "status_update", "payload": {"status": "online", "port": 25565}}
//
// # Agent channel
//
//	agent -> hub:  authenticate{agentKey}, status_update{status, ...}
//	hub -> agent:  authenticated{serverId}, auth_error{message}, command{command}
//
// The channel is a single bidirectional gRPC stream,
// dashblock.relay.v1.AgentRelay/Connect. There is no generated code: the
// service is declared in service.go and frames are encoded with the JSON
// codec registered in codec.go.
//
// # Client channel
//
//	client -> hub: watch_server{serverId}, unwatch_server{serverId}
//	hub -> client: server_update{serverId, status, ...}, error{message}
//
// Optional StatusReport fields are pointers. A nil field means "not
// observed" and never overwrites a stored value.
package protocol
