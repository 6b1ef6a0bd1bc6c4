package refetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequest(t *testing.T) {
	got := NewRequest("gameprogrammingpatterns.com", "/contents.html")

	assert.Equal(t,
		"GET /contents.html HTTP/1.1\r\nHost: gameprogrammingpatterns.com\r\n\r\n",
		string(got))
}

func TestTarget_Defaults(t *testing.T) {
	target := Target{Host: "example.com"}

	assert.Equal(t, "example.com:80", target.Address())
	assert.Equal(t, "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", string(target.Request()))
	assert.Equal(t, "http://example.com/", target.String())
}

func TestTarget_NonDefaultPort(t *testing.T) {
	target := Target{Host: "127.0.0.1", Port: 8080, Path: "/a"}

	assert.Equal(t, "127.0.0.1:8080", target.Address())
	assert.Equal(t, "GET /a HTTP/1.1\r\nHost: 127.0.0.1:8080\r\n\r\n", string(target.Request()))
}

func TestTarget_IPv6(t *testing.T) {
	target := Target{Host: "::1", Port: 8080}

	assert.Equal(t, "[::1]:8080", target.Address())
}

func TestResponse_Length(t *testing.T) {
	assert.Equal(t, 5, (&Response{Body: []byte("hello")}).Length())
	assert.Zero(t, (&Response{}).Length())
}
