// Package supervisor manages the lifecycle of one game server process on
// the agent host.
//
// # States
//
// The supervisor is always in exactly one of offline, starting, online or
// stopping. Transitions:
//
//	offline  --Start-->            starting
//	starting --ready marker-->     online
//	online   --Stop-->             stopping
//	stopping --process exit-->     offline
//	any      --unexpected exit-->  offline
//
// Start is ignored while starting or online. Stop is ignored while offline
// or stopping. A Start issued while a stopping process is still alive runs
// once that process has exited.
//
// # Launching
//
// A start script in the server directory is preferred. Without one, the
// first *.jar that is not a Forge installer is run with fixed heap flags.
// The variant (fabric, forge, paper, spigot, vanilla) is derived from jar
// names in that priority order.
//
// # Stopping
//
// Stop writes the stop command to the server's console and force kills the
// process group if it is still alive after the grace period. When the
// server was not started by this agent, matching processes found in the OS
// process table are sent SIGTERM instead.
//
// # Reconciliation
//
// Probe runs on a fixed interval. It re-reads server.properties, refreshes
// the variant, adopts a server started outside the agent, notices one that
// vanished, and always emits a report.
package supervisor
