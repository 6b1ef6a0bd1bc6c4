package refetch

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ReadState is the framing state of a Reader.
type ReadState int

const (
	// StateAccumulating means the header block has not ended yet.
	StateAccumulating ReadState = iota
	// StateHeaderKnown means the header was parsed and the body length is known.
	StateHeaderKnown
	// StateComplete means every announced body byte has arrived.
	StateComplete
	// StateClosedEarly means the peer closed before the body was complete.
	StateClosedEarly
)

func (s ReadState) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateHeaderKnown:
		return "header-known"
	case StateComplete:
		return "complete"
	case StateClosedEarly:
		return "closed-early"
	default:
		return fmt.Sprintf("ReadState(%d)", int(s))
	}
}

var (
	crlfDelimiter = []byte("\r\n\r\n")
	lfDelimiter   = []byte("\n\n")
)

// Reader frames one HTTP/1.1 response out of a byte stream delivered in
// arbitrary chunks. The body length comes from Content-Length only.
type Reader struct {
	buf     []byte
	maxSize int

	state        ReadState
	searchOffset int // where the next delimiter search starts

	statusCode    int
	status        string
	bodyStart     int
	contentLength int
}

// NewReader creates a Reader that rejects responses larger than maxSize bytes.
func NewReader(maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	return &Reader{maxSize: maxSize}
}

// State returns the current framing state.
func (r *Reader) State() ReadState {
	return r.state
}

// Buffered returns the number of bytes held for the current message.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// ContentLength returns the declared body length, valid once the header is known.
func (r *Reader) ContentLength() int {
	return r.contentLength
}

// Feed appends a received chunk and advances the state machine.
// Bytes past the end of the announced body are ignored.
func (r *Reader) Feed(chunk []byte) (ReadState, error) {
	switch r.state {
	case StateComplete:
		return r.state, nil
	case StateClosedEarly:
		return r.state, &FramingError{Err: ErrClosedEarly}
	case StateHeaderKnown:
		if missing := r.messageEnd() - len(r.buf); len(chunk) > missing {
			chunk = chunk[:missing]
		}
		r.buf = append(r.buf, chunk...)
	case StateAccumulating:
		r.buf = append(r.buf, chunk...)
		if err := r.scanHeader(); err != nil {
			return r.state, err
		}
		if r.state == StateAccumulating {
			if len(r.buf) > r.maxSize {
				return r.state, &FramingError{Err: ErrMessageTooLarge}
			}
			return r.state, nil
		}
		if end := r.messageEnd(); len(r.buf) > end {
			r.buf = r.buf[:end]
		}
	}

	if !r.needMore() {
		r.state = StateComplete
	}
	return r.state, nil
}

// PeerClosed tells the reader a receive returned zero bytes because the peer
// finished sending. A complete message stays complete; anything else fails.
func (r *Reader) PeerClosed() (ReadState, error) {
	if !r.needMore() {
		r.state = StateComplete
		return r.state, nil
	}
	if r.state == StateAccumulating {
		return r.state, &ProtocolViolation{Reason: "peer closed before end of header block"}
	}
	r.state = StateClosedEarly
	return r.state, &FramingError{Err: ErrClosedEarly}
}

// Body returns a copy of the body of a complete message.
func (r *Reader) Body() ([]byte, error) {
	if r.needMore() {
		if r.state == StateAccumulating {
			return nil, &ProtocolViolation{Reason: "header block incomplete"}
		}
		return nil, &FramingError{Err: ErrClosedEarly}
	}
	return StripHeader(r.buf, r.bodyStart, r.contentLength)
}

// Response returns the parsed status and body of a complete message.
func (r *Reader) Response() (*Response, error) {
	body, err := r.Body()
	if err != nil {
		return nil, err
	}
	resp := r.header()
	resp.Body = body
	return resp, nil
}

// header returns the parsed status of the message without its body.
func (r *Reader) header() *Response {
	return &Response{
		StatusCode:    r.statusCode,
		Status:        r.status,
		ContentLength: r.contentLength,
	}
}

// Reset clears the reader for the next message, keeping its allocation.
func (r *Reader) Reset() {
	r.buf = r.buf[:0]
	r.state = StateAccumulating
	r.searchOffset = 0
	r.statusCode = 0
	r.status = ""
	r.bodyStart = 0
	r.contentLength = 0
}

// needMore reports whether the current message still lacks bytes.
// Every completion decision in Reader goes through it.
func (r *Reader) needMore() bool {
	if r.state == StateAccumulating {
		return true
	}
	return len(r.buf)-r.bodyStart < r.contentLength
}

func (r *Reader) messageEnd() int {
	return r.bodyStart + r.contentLength
}

// scanHeader looks for the empty line ending the header block and parses it.
func (r *Reader) scanHeader() error {
	window := r.buf[r.searchOffset:]
	end, delimLen := -1, 0
	if i := bytes.Index(window, crlfDelimiter); i >= 0 {
		end, delimLen = i, len(crlfDelimiter)
	}
	if i := bytes.Index(window, lfDelimiter); i >= 0 && (end < 0 || i < end) {
		end, delimLen = i, len(lfDelimiter)
	}
	if end < 0 {
		// the delimiter may straddle the next chunk
		if n := len(r.buf) - (len(crlfDelimiter) - 1); n > r.searchOffset {
			r.searchOffset = n
		}
		return nil
	}
	end += r.searchOffset

	code, status, length, err := parseHeaderBlock(r.buf[:end])
	if err != nil {
		return err
	}
	bodyStart := end + delimLen
	// compared by subtraction so a huge length cannot overflow messageEnd
	if length > r.maxSize-bodyStart {
		return &FramingError{Err: ErrMessageTooLarge}
	}
	r.statusCode = code
	r.status = status
	r.contentLength = length
	r.bodyStart = bodyStart
	r.state = StateHeaderKnown
	return nil
}

// parseHeaderBlock parses the status line and headers, returning the status
// code, the status line and the declared body length.
func parseHeaderBlock(block []byte) (int, string, int, error) {
	lines := strings.Split(string(block), "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	code, err := parseStatusLine(lines[0])
	if err != nil {
		return 0, "", 0, err
	}

	length, found := -1, false
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return 0, "", 0, &ProtocolViolation{Reason: fmt.Sprintf("malformed header line %q", line)}
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := parseContentLength(value)
		if err != nil {
			return 0, "", 0, err
		}
		if found && n != length {
			return 0, "", 0, &FramingError{Err: ErrLengthInvalid}
		}
		length, found = n, true
	}
	if !found {
		return 0, "", 0, &FramingError{Err: ErrLengthMissing}
	}
	return code, lines[0], length, nil
}

func parseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, &ProtocolViolation{Reason: fmt.Sprintf("malformed status line %q", line)}
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || len(fields[1]) != 3 {
		return 0, &ProtocolViolation{Reason: fmt.Sprintf("malformed status code %q", fields[1])}
	}
	return code, nil
}

func parseContentLength(value string) (int, error) {
	value = strings.TrimSpace(value)
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || value[0] == '+' {
		return 0, &FramingError{Err: ErrLengthInvalid}
	}
	return n, nil
}

// StripHeader returns a copy of exactly length bytes starting at bodyStart.
// A zero length fails with ErrEmptyBody, which callers treat as no data.
func StripHeader(raw []byte, bodyStart, length int) ([]byte, error) {
	if length == 0 {
		return nil, &FramingError{Err: ErrEmptyBody}
	}
	if length < 0 || bodyStart < 0 {
		return nil, &FramingError{Err: ErrLengthInvalid}
	}
	if len(raw) < bodyStart+length {
		return nil, &FramingError{Err: ErrClosedEarly}
	}
	body := make([]byte, length)
	copy(body, raw[bodyStart:bodyStart+length])
	return body, nil
}
