// Package relayclient is the agent's connection to the relay hub.
//
// A session dials the hub over gRPC, opens the Connect stream and sends an
// authenticate frame carrying the agent key. On authenticated the client
// probes the supervisor once, then applies command frames as they arrive
// and forwards every status report as a status_update frame.
//
// When the stream ends for any reason other than auth_error the client
// waits a fixed delay and connects again. An auth_error makes Run return
// ErrAuthRejected.
package relayclient
