// Package httpstub provides a loopback TCP server that answers every
// connection with a scripted raw HTTP response. It can split responses into
// small writes to exercise incremental framing on the client side.
package httpstub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Responder returns the raw bytes written back on the n-th connection (0-based).
type Responder func(n int) []byte

// Server represents a TCP server replaying scripted responses.
type Server struct {
	listener  *net.TCPListener
	logger    *slog.Logger
	respond   Responder
	chunkSize int
	chunkGap  time.Duration

	mu       sync.Mutex
	shutdown bool
	served   int
	requests [][]byte

	wg sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// LoggerOption sets the logger for the server.
func LoggerOption(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ChunkedWritesOption makes the server write each response in pieces of
// size bytes with gap between them.
func ChunkedWritesOption(size int, gap time.Duration) ServerOption {
	return func(s *Server) {
		s.chunkSize = size
		s.chunkGap = gap
	}
}

// New creates a server bound to addr, e.g. "127.0.0.1:0".
func New(addr string, respond Responder, opts ...ServerOption) (*Server, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: listener,
		logger:   slog.Default(),
		respond:  respond,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Each connection gets one response and is then closed.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("stub server started", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	defer s.wg.Wait()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.logger.Info("stub server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.mu.Lock()
		n := s.served
		s.served++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn, n)
		}()
	}
}

func (s *Server) handle(conn *net.TCPConn, n int) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	request, err := readRequest(conn)
	if err != nil {
		s.logger.Debug("read request failed", "remote_addr", conn.RemoteAddr(), "error", err)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, request)
	s.mu.Unlock()

	response := s.respond(n)
	if err := s.write(conn, response); err != nil {
		s.logger.Debug("write response failed", "remote_addr", conn.RemoteAddr(), "error", err)
		return
	}
	_ = conn.CloseWrite()
}

func (s *Server) write(conn *net.TCPConn, response []byte) error {
	if s.chunkSize <= 0 {
		_, err := conn.Write(response)
		return err
	}
	for len(response) > 0 {
		size := s.chunkSize
		if size > len(response) {
			size = len(response)
		}
		if _, err := conn.Write(response[:size]); err != nil {
			return err
		}
		response = response[size:]
		if s.chunkGap > 0 && len(response) > 0 {
			time.Sleep(s.chunkGap)
		}
	}
	return nil
}

// readRequest reads until the end of the request header block or EOF.
func readRequest(conn *net.TCPConn) ([]byte, error) {
	var request []byte
	buf := make([]byte, 512)
	for !bytes.Contains(request, []byte("\r\n\r\n")) {
		n, err := conn.Read(buf)
		request = append(request, buf[:n]...)
		if err != nil {
			if len(request) > 0 {
				return request, nil
			}
			return nil, err
		}
	}
	return request, nil
}

// Close stops the server by closing the underlying listener.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

// Served returns the number of accepted connections.
func (s *Server) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

// Requests returns copies of the requests received so far.
func (s *Server) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.requests))
	for i, r := range s.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Sequence answers connection n with responses[n], repeating the last one.
func Sequence(responses ...[]byte) Responder {
	return func(n int) []byte {
		if len(responses) == 0 {
			return nil
		}
		if n >= len(responses) {
			n = len(responses) - 1
		}
		return responses[n]
	}
}

// OK builds a 200 response carrying body with a matching Content-Length.
func OK(body string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: %d\r\n\r\n%s", len(body), body))
}
