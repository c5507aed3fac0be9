// Package transport is the messaging substrate beneath wirerpc: framed,
// bidirectional byte delivery over TCP with no request/response pairing of
// its own. Correlation, timeouts and retries all live above it.
//
// A Conn is safe for concurrent senders. Reads happen in one dedicated
// goroutine (the stream must be parsed sequentially to find frame
// boundaries) and every inbound frame is handed to the receive callback.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"wirerpc/protocol"
)

var (
	// ErrSend: the frame could not be written to the peer.
	ErrSend = errors.New("transport: send failed")
	// ErrClosed: the connection is closed.
	ErrClosed = errors.New("transport: connection closed")
	// ErrConnect: the endpoint could not be reached.
	ErrConnect = errors.New("transport: connect failed")
)

// Handler receives one inbound frame. It runs on the connection's single
// receive goroutine, so frames of one connection are delivered in arrival
// order.
type Handler func(t protocol.MsgType, body []byte)

// Conn is one framed connection to a peer.
type Conn struct {
	conn    net.Conn
	writeMu sync.Mutex // Concurrent senders must not interleave frames
	closed  atomic.Bool
	log     *zap.Logger
}

// Dial connects to addr over TCP. A nil logger disables logging.
func Dial(addr string, log *zap.Logger) (*Conn, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, addr, err)
	}
	return NewConn(nc, log), nil
}

// NewConn wraps an established net.Conn.
func NewConn(nc net.Conn, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	return &Conn{conn: nc, log: log}
}

// Start launches the receive loop. Each inbound frame is passed to handler;
// when the loop ends (peer gone, corrupt stream, local close), onClose is
// invoked once with the cause. A corrupt frame header means the stream
// position is no longer trustworthy, so the loop stops there.
func (c *Conn) Start(handler Handler, onClose func(error)) {
	go func() {
		for {
			t, body, err := protocol.ReadFrame(c.conn)
			if err != nil {
				if c.closed.Load() {
					err = ErrClosed
				}
				c.log.Debug("receive loop ended", zap.String("peer", c.RemoteAddr()), zap.Error(err))
				onClose(err)
				return
			}
			handler(t, body)
		}
	}()
}

// Send writes one frame to the peer. Fails with ErrSend if the peer is
// unreachable or the connection is closed; the core never retries a send.
func (c *Conn) Send(t protocol.MsgType, body []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %s", ErrSend, ErrClosed)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteFrame(c.conn, t, body); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	return nil
}

// Close shuts the connection down. The receive loop observes the close and
// reports ErrClosed through onClose.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
