// Package refetch provides a repeated-fetch HTTP/1.1 client.
// It issues the same GET request over a fresh TCP connection every cycle,
// frames the response by Content-Length, and hands bodies to a bounded buffer.
package refetch

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// Transport is one request/response session owned by a single fetch cycle.
type Transport interface {
	// SendAll writes the whole request and half-closes the write side.
	SendAll(p []byte) error
	// Receive reads up to len(p) bytes. peerClosed is true once the peer
	// has finished sending and no bytes were read.
	Receive(p []byte) (n int, peerClosed bool, err error)
	// Close releases the session.
	Close() error
	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}

// Dialer opens a Transport to address.
type Dialer func(ctx context.Context, address string, opts ...Option) (Transport, error)

// Conn represents a client TCP connection to the fetch target.
type Conn struct {
	rawConn *net.TCPConn
	logger  Logger

	opts options

	closed atomic.Bool
}

// Dial resolves address and opens a new TCP session to it.
// Resolution and connect failures are returned as *TransportError.
func Dial(ctx context.Context, address string, opt ...Option) (*Conn, error) {
	opts := newOptions(opt)

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, newTransportError("resolve", err)
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		if err == nil {
			err = errors.New("no addresses")
		}
		return nil, newTransportError("resolve", err)
	}

	// try the resolved addresses in order; the first that connects wins
	dialer := &net.Dialer{Timeout: opts.connectTimeout}
	var c net.Conn
	for _, addr := range addrs {
		c, err = dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, port))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, newTransportError("connect", err)
	}

	cc := &Conn{
		rawConn: c.(*net.TCPConn),
		logger:  opts.logger,
		opts:    opts,
	}
	cc.logger.Debug("connection established", "addr", cc.RemoteAddr())
	return cc, nil
}

// dialTransport adapts Dial to the Dialer signature.
func dialTransport(ctx context.Context, address string, opts ...Option) (Transport, error) {
	return Dial(ctx, address, opts...)
}

// SendAll writes p completely and then shuts down the outbound direction,
// telling the server no more data follows.
func (c *Conn) SendAll(p []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.ioTimeout))

	for len(p) > 0 {
		n, err := c.rawConn.Write(p)
		if err != nil {
			c.logger.Debug("write error", "addr", c.RemoteAddr(), "error", err)
			return newTransportError("send", err)
		}
		p = p[n:]
	}

	if err := c.rawConn.CloseWrite(); err != nil {
		return newTransportError("shutdown", err)
	}
	return nil
}

// Receive reads the next chunk into p.
// A zero-byte read at EOF is reported as peerClosed, not as an error.
func (c *Conn) Receive(p []byte) (int, bool, error) {
	if c.closed.Load() {
		return 0, false, ErrConnectionClosed
	}

	_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.ioTimeout))

	n, err := c.rawConn.Read(p)
	switch {
	case err == nil:
		return n, false, nil
	case errors.Is(err, io.EOF):
		// bytes delivered together with EOF still count; the next call reports the close
		return n, n == 0, nil
	default:
		c.logger.Debug("read error", "addr", c.RemoteAddr(), "error", err)
		return n, false, newTransportError("receive", err)
	}
}

// Close releases the connection.
// Closing twice returns ErrConnectionClosed.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return ErrConnectionClosed
	}
	if err := c.rawConn.Close(); err != nil {
		return newTransportError("close", err)
	}
	return nil
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.rawConn.RemoteAddr()
}
