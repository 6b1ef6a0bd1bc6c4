package refetch

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestConnPair dials a fresh loopback listener and returns both ends.
func createTestConnPair(t *testing.T, opts ...Option) (*Conn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	opts = append([]Option{LoggerOption(DiscardLogger())}, opts...)
	client, err := Dial(context.Background(), listener.Addr().String(), opts...)
	require.NoError(t, err)

	_ = listener.SetDeadline(time.Now().Add(5 * time.Second))
	server, err := listener.AcceptTCP()
	require.NoError(t, err)

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return client, server
}

func receiveAll(t *testing.T, c *Conn) []byte {
	t.Helper()

	var got []byte
	buf := make([]byte, 4)
	for {
		n, peerClosed, err := c.Receive(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
		if peerClosed {
			return got
		}
	}
}

func TestDial_ConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	_, err = Dial(context.Background(), addr, LoggerOption(DiscardLogger()))

	var te *TransportError
	require.True(t, errors.As(err, &te), "expected *TransportError, got %v", err)
	assert.Equal(t, "connect", te.Op)
	assert.NotZero(t, te.Code)
	assert.Contains(t, te.Error(), "transport error: connect")
}

func TestDial_ResolveFailure(t *testing.T) {
	_, err := Dial(context.Background(), "does-not-exist.invalid:80", LoggerOption(DiscardLogger()))

	var te *TransportError
	require.True(t, errors.As(err, &te), "expected *TransportError, got %v", err)
	assert.Equal(t, "resolve", te.Op)
}

func TestDial_MissingPort(t *testing.T) {
	_, err := Dial(context.Background(), "example.com", LoggerOption(DiscardLogger()))

	var te *TransportError
	require.True(t, errors.As(err, &te), "expected *TransportError, got %v", err)
	assert.Equal(t, "resolve", te.Op)
}

func TestDial_ResolvedAddress(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	_, port, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)

	// localhost may resolve to ::1 first; the IPv4 address must still be reached
	client, err := Dial(context.Background(), net.JoinHostPort("localhost", port), LoggerOption(DiscardLogger()))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, listener.Addr().String(), client.RemoteAddr().String())
}

func TestConn_SendAllHalfCloses(t *testing.T) {
	client, server := createTestConnPair(t)
	request := NewRequest("example.com", "/index.html")

	require.NoError(t, client.SendAll(request))

	// ReadAll only returns once the client has shut down its write side
	_ = server.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(server)
	require.NoError(t, err)
	assert.Equal(t, request, got)
}

func TestConn_ReceiveUntilPeerClosed(t *testing.T) {
	client, server := createTestConnPair(t)

	_, err := server.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, server.CloseWrite())

	assert.Equal(t, "hello world", string(receiveAll(t, client)))
}

func TestConn_ReceiveTimeout(t *testing.T) {
	client, _ := createTestConnPair(t, IOTimeoutOption(50*time.Millisecond))

	_, peerClosed, err := client.Receive(make([]byte, 16))

	assert.False(t, peerClosed)
	var te *TransportError
	require.True(t, errors.As(err, &te), "expected *TransportError, got %v", err)
	assert.Equal(t, "receive", te.Op)
	var netErr net.Error
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout())
}

func TestConn_Close(t *testing.T) {
	client, _ := createTestConnPair(t)

	require.NoError(t, client.Close())
	assert.True(t, client.IsClosed())

	assert.ErrorIs(t, client.Close(), ErrConnectionClosed)
	assert.ErrorIs(t, client.SendAll([]byte("x")), ErrConnectionClosed)
	_, _, err := client.Receive(make([]byte, 1))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConn_RemoteAddr(t *testing.T) {
	client, server := createTestConnPair(t)

	assert.Equal(t, server.LocalAddr().String(), client.RemoteAddr().String())
}
