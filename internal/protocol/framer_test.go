package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkPort serves reads one chunk at a time and reports io.EOF when drained.
type chunkPort struct {
	chunks  [][]byte
	readErr error
	written bytes.Buffer
}

func (p *chunkPort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		if p.readErr != nil {
			return 0, p.readErr
		}
		return 0, io.EOF
	}
	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *chunkPort) Write(b []byte) (int, error) {
	return p.written.Write(b)
}

func newPort(chunks ...string) *chunkPort {
	p := &chunkPort{}
	for _, c := range chunks {
		p.chunks = append(p.chunks, []byte(c))
	}
	return p
}

const testTimeout = 20 * time.Millisecond

func TestReadLineAssemblesAcrossChunks(t *testing.T) {
	f := NewFramer(newPort(`{"req_id":`, `1,"cmd":"PING"}`, "\r\n"))

	line, ok := f.ReadLine(testTimeout)
	require.True(t, ok)
	assert.Equal(t, `{"req_id":1,"cmd":"PING"}`, string(line))
}

func TestReadLineKeepsBytesAfterTerminator(t *testing.T) {
	f := NewFramer(newPort("first\nsecond\nthi", "rd\n"))

	for _, want := range []string{"first", "second", "third"} {
		line, ok := f.ReadLine(testTimeout)
		require.True(t, ok)
		assert.Equal(t, want, string(line))
	}
}

func TestReadLineEmptyLine(t *testing.T) {
	f := NewFramer(newPort("\r\n"))

	line, ok := f.ReadLine(testTimeout)
	require.True(t, ok)
	assert.NotNil(t, line)
	assert.Empty(t, line)
}

func TestReadLineTimeout(t *testing.T) {
	t.Run("nothing received", func(t *testing.T) {
		f := NewFramer(newPort())
		line, ok := f.ReadLine(testTimeout)
		assert.False(t, ok)
		assert.Nil(t, line)
	})

	t.Run("partial returned", func(t *testing.T) {
		f := NewFramer(newPort(`{"req_id":1`))
		line, ok := f.ReadLine(testTimeout)
		assert.True(t, ok)
		assert.Equal(t, `{"req_id":1`, string(line))
	})
}

func TestReadLineDiscardsOverlongLine(t *testing.T) {
	long := strings.Repeat("a", 40)
	f := NewFramer(newPort(long+"\n", "ok\n"), WithMaxLineBytes(16))

	line, ok := f.ReadLine(testTimeout)
	assert.False(t, ok)
	assert.Nil(t, line)

	line, ok = f.ReadLine(testTimeout)
	require.True(t, ok)
	assert.Equal(t, "ok", string(line), "tail of the long line must not leak into the next read")
}

func TestReadLineExactlyAtCap(t *testing.T) {
	f := NewFramer(newPort(strings.Repeat("b", 16)+"\n"), WithMaxLineBytes(16))

	line, ok := f.ReadLine(testTimeout)
	require.True(t, ok)
	assert.Len(t, line, 16)
}

func TestReadLineQuietTimeoutEndsDiscard(t *testing.T) {
	port := newPort(strings.Repeat("c", 40))
	f := NewFramer(port, WithMaxLineBytes(16))

	_, ok := f.ReadLine(testTimeout)
	assert.False(t, ok)

	_, ok = f.ReadLine(testTimeout)
	assert.False(t, ok)

	port.chunks = append(port.chunks, []byte("fresh\n"))
	line, ok := f.ReadLine(testTimeout)
	require.True(t, ok)
	assert.Equal(t, "fresh", string(line))
}

func TestReadLineReadError(t *testing.T) {
	port := newPort()
	port.readErr = errors.New("device gone")
	f := NewFramer(port)

	line, ok := f.ReadLine(testTimeout)
	assert.False(t, ok)
	assert.Nil(t, line)
}

func TestWriteLineAppendsOneTerminator(t *testing.T) {
	port := newPort()
	f := NewFramer(port)

	require.NoError(t, f.WriteLine([]byte(`{"a":1}`)))
	require.NoError(t, f.WriteLine([]byte("{\"b\":2}\n")))
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", port.written.String())
}

func TestWriteLineReplacesOversizedFrame(t *testing.T) {
	port := newPort()
	f := NewFramer(port, WithMaxWriteBytes(768))

	require.NoError(t, f.WriteLine(bytes.Repeat([]byte("z"), 800)))
	assert.Equal(t, string(MinimalErrorLine)+"\n", port.written.String())
}
