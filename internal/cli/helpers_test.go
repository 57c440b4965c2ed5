package cli

import (
	"bytes"
	"io"
	"sync"

	"github.com/roach88/visiontool/internal/serialport"
)

// fakePort answers each written line with reply(line). Reads with nothing
// pending report io.EOF, as a UART read timeout would report no data.
type fakePort struct {
	mu      sync.Mutex
	reply   func(line []byte) []byte
	pending []byte
	written bytes.Buffer
	closed  bool
	opened  string
	opts    serialport.Options
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written.Write(b)
	if p.reply != nil {
		p.pending = append(p.pending, p.reply(bytes.TrimSuffix(b, []byte("\n")))...)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// inject queues bytes as if the host had sent them.
func (p *fakePort) inject(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, s...)
}

func (p *fakePort) output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *fakePort) open(path string, opts serialport.Options) (io.ReadWriteCloser, error) {
	p.opened = path
	p.opts = opts
	return p, nil
}
