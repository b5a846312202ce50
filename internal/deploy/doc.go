// Package deploy installs dashblock-agent on a remote host over SSH.
//
// A deployment runs these steps in order and stops at the first failure:
//
//  1. Open an SSH session (key auth; known_hosts checked when configured)
//  2. Probe the runtime with "<runtime> --version"; nothing is written when it is missing
//  3. Resolve $HOME and create ~/dashblock-agent
//  4. Stream a .tar.gz of the agent binary and MANIFEST into tar on the host
//  5. Write agent.toml (agent key, relay URL, server path) with mode 0600
//  6. Run "dashblock-agent check"; its stderr is returned verbatim on failure
//  7. With passwordless sudo, install and start a systemd unit. Otherwise
//     launch the agent with nohup and best-effort confirm it with pgrep.
//
// Re-running against the same host overwrites the previous install.
// Private keys, passphrases and agent keys are never logged.
package deploy
