// Package auth verifies the identity of dashboard-side callers.
//
// Agents never use this package: they authenticate in-band on the relay
// stream with their per-server agent key. Web clients and the dashboard
// backend calling the internal API present an HS256 JWT whose "sub" claim
// names the caller. The hub does not authorize per server; ownership checks
// belong to the dashboard that minted the token.
//
// Tokens are read from the Authorization header ("Bearer <jwt>") or, for
// browser WebSocket handshakes, from the access_token query parameter.
package auth
