// ABOUTME: AgentRelay gRPC service implementation for supervisor agents
// ABOUTME: One reader goroutine and one writer goroutine per stream; frames are handled in arrival order

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/dashblock/internal/hub"
	"github.com/2389/dashblock/internal/protocol"
)

// relayServer implements protocol.AgentRelayServer on top of the hub.
type relayServer struct {
	hub          *hub.Hub
	sendBuffer   int
	flushTimeout time.Duration
	logger       *slog.Logger
}

func newRelayServer(h *hub.Hub, sendBuffer int, flushTimeout time.Duration, logger *slog.Logger) *relayServer {
	return &relayServer{
		hub:          h,
		sendBuffer:   sendBuffer,
		flushTimeout: flushTimeout,
		logger:       logger,
	}
}

// Connect handles the bidirectional stream with one agent.
// Protocol flow:
// 1. Agent sends authenticate{agentKey}
// 2. Hub replies authenticated{serverId} or auth_error{message} and closes
// 3. Agent sends status_update frames; hub sends command frames
func (s *relayServer) Connect(stream protocol.RelayStream) error {
	ctx := stream.Context()
	out := newOutbound(uuid.NewString(), s.sendBuffer)
	logger := s.logger.With("peer_id", out.ID())

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- out.run(func(f protocol.Frame) error { return stream.Send(&f) }, nil, nil)
	}()
	defer func() {
		out.Close()
		if !out.wait(s.flushTimeout) {
			logger.Warn("agent stream writer did not drain in time")
		}
	}()

	session := s.hub.ConnectAgent(out)
	defer session.Disconnect(context.WithoutCancel(ctx))

	inbound := make(chan *protocol.Frame)
	recvErr := make(chan error, 1)
	go func() {
		for {
			f, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case inbound <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case f := <-inbound:
			if err := session.Handle(ctx, *f); err != nil {
				logger.Error("handling agent frame", "type", f.Type, "error", err)
			}

		case err := <-recvErr:
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				logger.Debug("agent stream closed", "server_id", session.ServerID())
				return nil
			}
			logger.Warn("receiving from agent", "error", err)
			return status.Errorf(codes.Internal, "receiving frame: %v", err)

		case err := <-writeErr:
			return status.Errorf(codes.Unavailable, "sending frame: %v", err)

		case <-out.closing:
			// The session closed its peer (rejected key or deleted record).
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}
