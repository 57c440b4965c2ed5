package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/roach88/visiontool/internal/fault"
)

// Defaults for a Framer. They match the appliance transport.
const (
	DefaultMaxLineBytes  = 1024
	DefaultMaxWriteBytes = 768
	DefaultPollInterval  = 2 * time.Millisecond
)

// Framer reads and writes newline-terminated frames over a byte stream.
//
// Framer is not safe for concurrent use; the serving loop owns it.
type Framer struct {
	rw       io.ReadWriter
	clk      clock.Clock
	maxLine  int
	maxWrite int
	poll     time.Duration

	chunk   []byte
	pending []byte // bytes read past the last terminator

	// discarding is set after an over-long line until its terminator (or a
	// quiet timeout) is seen, so its tail is not parsed as a new request.
	discarding bool
}

// FramerOption configures a Framer.
type FramerOption func(*Framer)

// WithClock sets the time source used for line timeouts.
func WithClock(clk clock.Clock) FramerOption {
	return func(f *Framer) { f.clk = clk }
}

// WithMaxLineBytes sets the hard cap on an incoming line, excluding the
// terminator.
func WithMaxLineBytes(n int) FramerOption {
	return func(f *Framer) { f.maxLine = n }
}

// WithMaxWriteBytes sets the largest frame written, including the terminator.
func WithMaxWriteBytes(n int) FramerOption {
	return func(f *Framer) { f.maxWrite = n }
}

// WithPollInterval sets the sleep between empty reads.
func WithPollInterval(d time.Duration) FramerOption {
	return func(f *Framer) { f.poll = d }
}

// NewFramer wraps rw. A serial port configured with a short read timeout is
// the expected transport; plain readers returning io.EOF when drained work
// too.
func NewFramer(rw io.ReadWriter, opts ...FramerOption) *Framer {
	f := &Framer{
		rw:       rw,
		clk:      clock.New(),
		maxLine:  DefaultMaxLineBytes,
		maxWrite: DefaultMaxWriteBytes,
		poll:     DefaultPollInterval,
		chunk:    make([]byte, 256),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ReadLine assembles one line, dropping '\r'.
//
// It returns (line, true) when a terminator arrives, and the partial buffer
// with true when the timeout elapses after some bytes were buffered. It
// returns (nil, false) on an empty timeout, a read error, or when the line
// exceeds the cap before its terminator.
func (f *Framer) ReadLine(timeout time.Duration) ([]byte, bool) {
	start := f.clk.Now()
	var buf []byte
	received := false

	for {
		if line, done, ok := f.consume(&buf); done {
			return line, ok
		}
		if f.clk.Since(start) >= timeout {
			break
		}

		n, err := f.rw.Read(f.chunk)
		if n > 0 {
			received = true
			f.pending = append(f.pending, f.chunk[:n]...)
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, false
		}
		f.clk.Sleep(f.poll)
	}

	if !received {
		f.discarding = false
	}
	if len(buf) > 0 {
		return buf, true
	}
	return nil, false
}

// consume moves pending bytes into buf until a terminator or the cap.
func (f *Framer) consume(buf *[]byte) (line []byte, done bool, ok bool) {
	for len(f.pending) > 0 {
		b := f.pending[0]
		f.pending = f.pending[1:]

		switch {
		case b == '\n':
			if f.discarding {
				f.discarding = false
				continue
			}
			if *buf == nil {
				return []byte{}, true, true
			}
			return *buf, true, true
		case f.discarding || b == '\r':
			continue
		case len(*buf) >= f.maxLine:
			f.discarding = true
			*buf = nil
			return nil, true, false
		default:
			*buf = append(*buf, b)
		}
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return nil, false, false
}

// WriteLine writes line followed by exactly one terminator. A frame larger
// than the write cap is replaced by a BAD_REQUEST("too_long") envelope.
func (f *Framer) WriteLine(line []byte) error {
	out := make([]byte, 0, len(line)+1)
	out = append(out, line...)
	if !bytes.HasSuffix(out, []byte("\n")) {
		out = append(out, '\n')
	}
	if len(out) > f.maxWrite {
		out = Encode(ShortError(nil, fault.CodeBadRequest, "too_long"), f.maxWrite-1)
		out = append(out, '\n')
	}
	if _, err := f.rw.Write(out); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}
