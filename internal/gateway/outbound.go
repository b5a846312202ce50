// ABOUTME: Bounded per-connection send queue drained by a single writer goroutine
// ABOUTME: Implements hub.Peer so the hub never blocks on a slow connection

package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/2389/dashblock/internal/protocol"
)

var (
	// ErrPeerClosed is returned by Send after the peer was closed.
	ErrPeerClosed = errors.New("peer closed")
	// ErrSlowPeer is returned by Send when the queue is full.
	ErrSlowPeer = errors.New("peer send queue full")
)

// outbound queues frames for one connection. Close stops accepting frames;
// the writer flushes what is already queued and then closes done.
type outbound struct {
	id        string
	frames    chan protocol.Frame
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newOutbound(id string, size int) *outbound {
	return &outbound{
		id:      id,
		frames:  make(chan protocol.Frame, size),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (o *outbound) ID() string { return o.id }

func (o *outbound) Send(f protocol.Frame) error {
	select {
	case <-o.closing:
		return ErrPeerClosed
	default:
	}

	select {
	case o.frames <- f:
		return nil
	default:
		return ErrSlowPeer
	}
}

func (o *outbound) Close() {
	o.closeOnce.Do(func() { close(o.closing) })
}

// run writes queued frames until the peer is closed or a write fails.
// When keepalive is non-nil, ping is called on every tick.
func (o *outbound) run(write func(protocol.Frame) error, keepalive <-chan time.Time, ping func() error) error {
	defer close(o.done)

	for {
		select {
		case f := <-o.frames:
			if err := write(f); err != nil {
				o.Close()
				return err
			}
		case <-keepalive:
			if err := ping(); err != nil {
				o.Close()
				return err
			}
		case <-o.closing:
			return o.flush(write)
		}
	}
}

func (o *outbound) flush(write func(protocol.Frame) error) error {
	for {
		select {
		case f := <-o.frames:
			if err := write(f); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// wait blocks until the writer has finished or timeout elapses.
func (o *outbound) wait(timeout time.Duration) bool {
	select {
	case <-o.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
