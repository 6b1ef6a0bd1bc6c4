// Package console implements the line-oriented command loop that consumes
// fetched bodies from a refetch.Buffer.
//
// Commands:
//
//	exit                 stop the program
//	get data             show the oldest body, or note that it did not change
//	get data_anyway      show the oldest body unconditionally
//	get response_count   show how many bodies are buffered
//	help                 list commands
//
// Unknown input is ignored.
package console

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Zereker/refetch"
)

// Fixed console texts.
const (
	Prompt        = "Input> "
	EmptyMessage  = "Output> Buffer is empty."
	SameMessage   = "Output> Same output (nothing changed)."
	outputPrefix  = "Output> "
	errorPrefix   = "Error> "
	helpMessage   = "Output> commands: exit | get data | get data_anyway | get response_count | help"
	maxLineLength = 64 * 1024
)

// Console reads commands from an input stream and writes results to an output.
type Console struct {
	in     io.Reader
	buffer *refetch.Buffer[[]byte]
	logger refetch.Logger

	mu  sync.Mutex // serializes writes to out
	out io.Writer

	prev    []byte
	hasPrev bool
}

// New creates a Console consuming from buffer.
func New(in io.Reader, out io.Writer, buffer *refetch.Buffer[[]byte], logger refetch.Logger) *Console {
	if logger == nil {
		logger = refetch.DiscardLogger()
	}
	return &Console{
		in:     in,
		out:    out,
		buffer: buffer,
		logger: logger,
	}
}

// Run reads and executes commands until "exit", end of input, or ctx is
// cancelled. It returns nil in the first two cases and ctx.Err() otherwise.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		c.write(Prompt)
		select {
		case <-ctx.Done():
			c.write("\n")
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				c.logger.Warn("console input failed", "error", err)
			}
			c.logger.Info("console input closed")
			return nil
		case line := <-lines:
			if c.Execute(line) {
				c.logger.Info("exit requested")
				return nil
			}
		}
	}
}

// Execute runs a single command line and reports whether it was "exit".
func (c *Console) Execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "exit":
		return true
	case "help":
		c.println(helpMessage)
	case "get":
		if len(fields) < 2 {
			return false
		}
		switch fields[1] {
		case "data":
			c.showData(false)
		case "data_anyway":
			c.showData(true)
		case "response_count":
			c.println(fmt.Sprintf("%s%d", outputPrefix, c.buffer.Len()))
		}
	}
	return false
}

// ReportError shows a fetch failure without interrupting the command loop.
func (c *Console) ReportError(err error) {
	c.println(errorPrefix + err.Error())
}

func (c *Console) showData(always bool) {
	body, ok := c.buffer.PopFront()
	if !ok {
		c.println(EmptyMessage)
		return
	}

	if !always && c.hasPrev && bytes.Equal(body, c.prev) {
		c.println(SameMessage)
	} else {
		c.println(string(body))
	}
	c.prev, c.hasPrev = body, true
}

func (c *Console) println(s string) {
	c.write(s + "\n")
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
}
