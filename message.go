package refetch

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is the HTTP port used when a Target leaves it unset.
const DefaultPort = 80

// Response is one framed HTTP response.
type Response struct {
	StatusCode    int
	Status        string // full status line
	ContentLength int
	Body          []byte
}

// Length returns the length of the body.
func (r *Response) Length() int {
	return len(r.Body)
}

// Target is the fixed resource fetched every cycle.
type Target struct {
	Host string
	Port int
	Path string
}

// Address returns host:port for dialing.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.port()))
}

// Request returns the raw GET request for the target.
func (t Target) Request() []byte {
	return NewRequest(t.hostHeader(), t.path())
}

func (t Target) String() string {
	return "http://" + t.hostHeader() + t.path()
}

func (t Target) port() int {
	if t.Port <= 0 {
		return DefaultPort
	}
	return t.Port
}

func (t Target) path() string {
	if t.Path == "" {
		return "/"
	}
	return t.Path
}

func (t Target) hostHeader() string {
	if t.port() == DefaultPort {
		return t.Host
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(t.port()))
}

// NewRequest builds "GET <path> HTTP/1.1" with a Host header and no body.
func NewRequest(host, path string) []byte {
	return []byte(fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", path, host))
}
