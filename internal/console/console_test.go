package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/refetch"
)

// syncBuffer is a bytes.Buffer safe for the console and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestConsole(input string, bodies ...string) (*Console, *syncBuffer, *refetch.Buffer[[]byte]) {
	buffer := refetch.NewBuffer[[]byte](10, refetch.DropNewest)
	for _, body := range bodies {
		buffer.Push([]byte(body))
	}
	out := &syncBuffer{}
	return New(strings.NewReader(input), out, buffer, refetch.DiscardLogger()), out, buffer
}

func outputLines(out *syncBuffer) []string {
	var lines []string
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimPrefix(line, Prompt)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestConsole_GetDataSuppressesRepeats(t *testing.T) {
	c, out, buffer := newTestConsole("", "X", "X", "Y")

	c.Execute("get data")
	c.Execute("get data")
	c.Execute("get data")

	assert.Equal(t, []string{"X", SameMessage, "Y"}, outputLines(out))
	assert.Zero(t, buffer.Len())
}

func TestConsole_GetDataAnyway(t *testing.T) {
	c, out, _ := newTestConsole("", "X", "X")

	c.Execute("get data")
	c.Execute("get data_anyway")

	assert.Equal(t, []string{"X", "X"}, outputLines(out))
}

func TestConsole_AnywayUpdatesPrevious(t *testing.T) {
	c, out, _ := newTestConsole("", "X", "X")

	c.Execute("get data_anyway")
	c.Execute("get data")

	assert.Equal(t, []string{"X", SameMessage}, outputLines(out))
}

func TestConsole_FirstEmptyBodyIsShown(t *testing.T) {
	c, out, _ := newTestConsole("", "")

	c.Execute("get data")

	assert.Equal(t, "\n", out.String())
}

func TestConsole_EmptyBuffer(t *testing.T) {
	c, out, _ := newTestConsole("")

	c.Execute("get data")
	c.Execute("get data_anyway")

	assert.Equal(t, []string{EmptyMessage, EmptyMessage}, outputLines(out))
}

func TestConsole_ResponseCount(t *testing.T) {
	c, out, buffer := newTestConsole("", "a", "b", "c")

	c.Execute("get response_count")

	assert.Equal(t, []string{"Output> 3"}, outputLines(out))
	assert.Equal(t, 3, buffer.Len(), "counting does not consume")
}

func TestConsole_IgnoresUnknownInput(t *testing.T) {
	c, out, _ := newTestConsole("", "a")

	assert.False(t, c.Execute(""))
	assert.False(t, c.Execute("   "))
	assert.False(t, c.Execute("get"))
	assert.False(t, c.Execute("get nothing"))
	assert.False(t, c.Execute("fetch data"))

	assert.Empty(t, out.String())
}

func TestConsole_Help(t *testing.T) {
	c, out, _ := newTestConsole("")

	c.Execute("help")

	assert.Contains(t, out.String(), "get response_count")
}

func TestConsole_RunExit(t *testing.T) {
	c, out, buffer := newTestConsole("get data\nexit\nget data\n", "first", "second")

	err := c.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, outputLines(out))
	assert.Equal(t, 1, buffer.Len(), "commands after exit are not run")
	assert.True(t, strings.HasPrefix(out.String(), Prompt))
}

func TestConsole_RunEOF(t *testing.T) {
	c, out, _ := newTestConsole("  get   response_count  \n", "a")

	err := c.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"Output> 1"}, outputLines(out))
}

func TestConsole_RunCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	buffer := refetch.NewBuffer[[]byte](1, refetch.DropNewest)
	c := New(pr, &syncBuffer{}, buffer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
}

func TestConsole_ReportError(t *testing.T) {
	c, out, _ := newTestConsole("")

	c.ReportError(errors.New("transport error: connect: refused"))

	assert.Equal(t, "Error> transport error: connect: refused\n", out.String())
}
