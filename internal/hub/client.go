// ABOUTME: Client session state for dashboard viewers watching servers
// ABOUTME: Watch and unwatch join and leave the server's client room

package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/dashblock/internal/protocol"
)

// ClientSession is one live client connection.
type ClientSession struct {
	hub    *Hub
	peer   Peer
	logger *slog.Logger

	disconnectOnce sync.Once
}

// Handle dispatches one inbound client frame. Malformed or unknown frames
// are answered with an error frame.
func (c *ClientSession) Handle(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeWatchServer, protocol.TypeUnwatchServer:
		var msg protocol.WatchServer
		if err := f.Decode(&msg); err != nil {
			c.sendError("malformed " + f.Type)
			return
		}
		var err error
		if f.Type == protocol.TypeWatchServer {
			err = c.Watch(msg.ServerID)
		} else {
			err = c.Unwatch(msg.ServerID)
		}
		if err != nil {
			c.sendError(err.Error())
		}
	default:
		c.sendError("unknown message type: " + f.Type)
	}
}

func (c *ClientSession) sendError(msg string) {
	_ = c.peer.Send(protocol.MustFrame(protocol.TypeError, protocol.ErrorMessage{Message: msg}))
}

var errNoServerID = errors.New("serverId is required")

// Watch subscribes the client to serverID's updates. No per-server
// authorization is applied here.
func (c *ClientSession) Watch(serverID string) error {
	if serverID == "" {
		return errNoServerID
	}
	c.hub.clients.Join(RoomKey(serverID), c.peer)
	c.logger.Debug("watching server", "server_id", serverID)
	return nil
}

// Unwatch unsubscribes the client from serverID.
func (c *ClientSession) Unwatch(serverID string) error {
	if serverID == "" {
		return errNoServerID
	}
	c.hub.clients.Leave(RoomKey(serverID), c.peer.ID())
	c.logger.Debug("stopped watching server", "server_id", serverID)
	return nil
}

// Watching returns the room keys this client is in.
func (c *ClientSession) Watching() []string {
	return c.hub.clients.RoomsOf(c.peer.ID())
}

// Disconnect leaves every room. Safe to call more than once.
func (c *ClientSession) Disconnect() {
	c.disconnectOnce.Do(func() {
		c.hub.clients.LeaveAll(c.peer.ID())
		c.hub.clientCount.Add(-1)
		c.hub.metrics.ClientConnected(false)
		c.logger.Debug("client disconnected")
	})
}
