// Package hub relays between supervisor agents and dashboard clients.
//
// # Overview
//
// A Hub holds two independent sets of rooms, one for agents and one for
// clients, both keyed "server:<id>". Transports (see package gateway) wrap
// each connection in a Peer and obtain a session:
//
//	session := h.ConnectAgent(peer)
//	defer session.Disconnect(ctx)
//	for frame := range inbound {
//	    session.Handle(ctx, frame)
//	}
//
// Frames from one connection are handled in arrival order on that
// connection's goroutine. There is no ordering across connections.
//
// # Agent Sessions
//
// An agent session starts unauthenticated. Authenticate looks up the agent
// key, marks the server connected, joins the agent room and replies
// "authenticated". Unknown keys get auth_error "Invalid agent key" and the
// peer is closed; store failures get "Authentication failed".
//
// ReportStatus persists first and broadcasts second, so a client never sees
// an update the store rejected. A report for a deleted server closes the
// agent instead of surfacing an error.
//
// # Commands
//
// DispatchCommand broadcasts to the agent room and returns the number of
// sessions the frame was queued to. Nothing is buffered for offline agents
// and no receipt comes back; the resulting state change arrives as a normal
// status report.
//
// # Duplicate Agents
//
// Two agents authenticating with the same key are both admitted and both
// receive commands. The first to disconnect marks the server disconnected
// even though the other is still live.
package hub
