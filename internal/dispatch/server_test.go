package dispatch

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/visiontool/internal/hal"
	"github.com/roach88/visiontool/internal/protocol"
)

// scriptedReader serves queued lines, then cancels the serving context.
type scriptedReader struct {
	lines  []string
	cancel context.CancelFunc
	panics bool
}

func (r *scriptedReader) ReadLine(time.Duration) ([]byte, bool) {
	if r.panics {
		r.panics = false
		panic("uart fault")
	}
	if len(r.lines) == 0 {
		r.cancel()
		return nil, false
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return []byte(line), true
}

type flag struct{ set bool }

func (f *flag) Changed() bool {
	was := f.set
	f.set = false
	return was
}

func TestServerAnswersEachLine(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	in := &scriptedReader{
		lines:  []string{`{"req_id":1,"cmd":"PING"}`, `{"req_id":2,"cmd":"WHO"}`},
		cancel: cancel,
	}

	err := NewServer(in, f.d, 10*time.Millisecond).Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, f.out.lines, 2)
	assert.Contains(t, f.out.lines[0], `"req_id":1`)
	assert.Contains(t, f.out.lines[1], `"person":"UNKNOWN"`)
}

func TestServerRecoversFromLoopPanic(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	in := &scriptedReader{
		lines:  []string{`{"req_id":1,"cmd":"PING"}`},
		cancel: cancel,
		panics: true,
	}
	status := &stateLog{}

	err := NewServer(in, f.d, 10*time.Millisecond, WithServerStatus(status)).Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.vision.recovers)
	assert.Contains(t, status.states, hal.StateError)
	require.Len(t, f.out.lines, 1, "the panicking iteration emits nothing")
}

func TestServerReloadsModelsOnChange(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	in := &scriptedReader{lines: []string{`{"req_id":1,"cmd":"PING"}`}, cancel: cancel}
	changed := &flag{set: true}
	reloads := 0

	err := NewServer(in, f.d, 10*time.Millisecond,
		WithModelReload(changed, func() { reloads++ }),
	).Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, reloads)
}

func TestServerOverFramer(t *testing.T) {
	f := newFixture(t)
	port := &loopPort{input: []byte("{\"req_id\":\"x\",\"cmd\":\"PING\"}\n")}
	framer := protocol.NewFramer(port)
	f.d = New(f.vision, framer, WithClock(f.clk))
	ctx, cancel := context.WithCancel(context.Background())
	port.onDrain = cancel

	err := NewServer(framer, f.d, 10*time.Millisecond).Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "{\"req_id\":\"x\",\"ok\":true,\"result\":{\"status\":\"ok\",\"tool\":\"vision_k210\"}}\n", port.output.String())
}

// loopPort feeds input once, then reports a closed port after the first
// response has been written.
type loopPort struct {
	input   []byte
	output  strings.Builder
	onDrain func()
}

func (p *loopPort) Read(b []byte) (int, error) {
	if len(p.input) == 0 {
		if p.output.Len() > 0 && p.onDrain != nil {
			p.onDrain()
		}
		return 0, io.ErrClosedPipe
	}
	n := copy(b, p.input)
	p.input = p.input[n:]
	return n, nil
}

func (p *loopPort) Write(b []byte) (int, error) {
	return p.output.Write(b)
}
