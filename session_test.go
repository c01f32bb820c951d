package serialterm

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/go-serial-term/keyboard"
	"github.com/luhtfiimanal/go-serial-term/serial"
)

// fakePort delivers one element of reads per Read call. Once reads is
// closed, Read returns readErr (which may be nil, meaning a zero-byte read).
type fakePort struct {
	reads    chan []byte
	readErr  error
	writes   chan []byte
	writeErr error
	hangOnce sync.Once
}

// newFakePort hangs the port up when the test ends, so the session's read
// goroutine does not outlive it.
func newFakePort(t *testing.T) *fakePort {
	t.Helper()
	p := &fakePort{
		reads:  make(chan []byte),
		writes: make(chan []byte, 16),
	}
	t.Cleanup(p.hangUp)
	return p
}

// hangUp makes every pending and later Read return readErr.
func (p *fakePort) hangUp() {
	p.hangOnce.Do(func() { close(p.reads) })
}

func (p *fakePort) Read(b []byte) (int, error) {
	data, ok := <-p.reads
	if !ok {
		return 0, p.readErr
	}
	return copy(b, data), nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes <- append([]byte(nil), b...)
	return len(b), nil
}

// screen passes every write on to a channel.
type screen chan string

func (s screen) Write(b []byte) (int, error) {
	s <- string(b)
	return len(b), nil
}

func start(t *testing.T, ctx context.Context, s *Session) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()
	return result
}

func wait(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for session to end")
		return nil
	}
}

func drained(writes chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case w := <-writes:
			out = append(out, w)
		default:
			return out
		}
	}
}

func TestSession_ShowsSerialOutput(t *testing.T) {
	port := newFakePort(t)
	out := make(screen, 4)
	ctx, cancel := context.WithCancel(context.Background())
	result := start(t, ctx, &Session{Port: port, Keys: make(chan keyboard.Chunk), Screen: out})

	// The device sends "Hi\n" and then blocks.
	port.reads <- []byte("Hi\n")
	select {
	case s := <-out:
		require.Equal(t, "Hi\n", s)
	case <-time.After(time.Second):
		t.Fatal("serial output not shown")
	}

	cancel()
	require.ErrorIs(t, wait(t, result), context.Canceled)
	require.Empty(t, out)
}

func TestSession_DecodesInvalidUTF8(t *testing.T) {
	port := newFakePort(t)
	out := make(screen, 4)
	ctx, cancel := context.WithCancel(context.Background())
	result := start(t, ctx, &Session{Port: port, Keys: nil, Screen: out})

	port.reads <- []byte{'o', 'k', 0xFF, 0xE2, 0x82}
	require.Equal(t, "ok\uFFFD\uFFFD", <-out)

	cancel()
	require.ErrorIs(t, wait(t, result), context.Canceled)
}

func TestSession_ForwardsKeysUntilExitByte(t *testing.T) {
	port := newFakePort(t)
	keys := make(chan keyboard.Chunk, 3)
	keys <- keyboard.Chunk("a")
	keys <- keyboard.Chunk("b")
	keys <- keyboard.Chunk{ExitByte}

	result := start(t, context.Background(), &Session{Port: port, Keys: keys, Screen: io.Discard})
	require.NoError(t, wait(t, result))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, drained(port.writes))
}

func TestSession_ForwardsWholeChunk(t *testing.T) {
	port := newFakePort(t)
	keys := make(chan keyboard.Chunk, 2)
	keys <- keyboard.Chunk("ls -l\r\x03\x1b[A")
	ctx, cancel := context.WithCancel(context.Background())
	result := start(t, ctx, &Session{Port: port, Keys: keys, Screen: io.Discard})

	select {
	case w := <-port.writes:
		require.Equal(t, []byte("ls -l\r\x03\x1b[A"), w)
	case <-time.After(time.Second):
		t.Fatal("chunk not forwarded")
	}

	cancel()
	require.ErrorIs(t, wait(t, result), context.Canceled)
}

func TestSession_ExitByteDropsChunk(t *testing.T) {
	for _, chunk := range []keyboard.Chunk{
		{ExitByte},
		{ExitByte, 'x', 'y'},
		{'x', ExitByte, 'y'},
		{'x', 'y', ExitByte},
	} {
		port := newFakePort(t)
		keys := make(chan keyboard.Chunk, 1)
		keys <- chunk

		result := start(t, context.Background(), &Session{Port: port, Keys: keys, Screen: io.Discard})
		require.NoError(t, wait(t, result))
		require.Empty(t, drained(port.writes), "chunk %q", chunk)
	}
}

func TestSession_ReadError(t *testing.T) {
	boom := errors.New("device unplugged")
	port := newFakePort(t)
	port.readErr = boom
	port.hangUp()

	result := start(t, context.Background(), &Session{Port: port, Keys: make(chan keyboard.Chunk), Screen: io.Discard})
	err := wait(t, result)
	require.ErrorIs(t, err, ErrSerialRead)
	require.ErrorIs(t, err, boom)
}

func TestSession_ZeroByteReadIsEOF(t *testing.T) {
	port := newFakePort(t)
	port.hangUp()

	result := start(t, context.Background(), &Session{Port: port, Keys: make(chan keyboard.Chunk), Screen: io.Discard})
	err := wait(t, result)
	require.ErrorIs(t, err, ErrSerialRead)
	require.ErrorIs(t, err, io.EOF)
}

func TestSession_WriteError(t *testing.T) {
	boom := errors.New("write failed")
	port := newFakePort(t)
	port.writeErr = boom
	keys := make(chan keyboard.Chunk, 1)
	keys <- keyboard.Chunk("a")

	result := start(t, context.Background(), &Session{Port: port, Keys: keys, Screen: io.Discard})
	err := wait(t, result)
	require.ErrorIs(t, err, ErrSerialWrite)
	require.ErrorIs(t, err, boom)
}

func TestSession_ClosedKeyboardKeepsSerialFlowing(t *testing.T) {
	port := newFakePort(t)
	keys := make(chan keyboard.Chunk)
	close(keys)
	out := make(screen, 4)
	ctx, cancel := context.WithCancel(context.Background())
	result := start(t, ctx, &Session{Port: port, Keys: keys, Screen: out})

	port.reads <- []byte("one")
	require.Equal(t, "one", <-out)
	port.reads <- []byte("two")
	require.Equal(t, "two", <-out)

	cancel()
	require.ErrorIs(t, wait(t, result), context.Canceled)
}

// sinkWriter receives whatever a bufio.Writer flushes to it.
type sinkWriter struct {
	flushed chan string
}

func (w *sinkWriter) Write(b []byte) (int, error) {
	w.flushed <- string(b)
	return len(b), nil
}

func TestSession_FlushesBufferedScreen(t *testing.T) {
	port := newFakePort(t)
	sink := &sinkWriter{flushed: make(chan string, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	result := start(t, ctx, &Session{Port: port, Keys: nil, Screen: bufio.NewWriter(sink)})

	port.reads <- []byte("prompt> ")
	select {
	case s := <-sink.flushed:
		require.Equal(t, "prompt> ", s)
	case <-time.After(time.Second):
		t.Fatal("buffered screen was not flushed")
	}

	cancel()
	require.ErrorIs(t, wait(t, result), context.Canceled)
}

func TestSession_OverPTY(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port, err := serial.Open(serial.Config{Device: slave.Name(), BaudRate: 115200})
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	typed, typing := io.Pipe()
	t.Cleanup(func() { typing.Close() })
	queue := keyboard.NewQueue()
	done := make(chan struct{})
	defer close(done)
	go keyboard.NewReader(typed).Run(done, queue, nil)

	out := make(screen, 8)
	result := start(t, context.Background(), &Session{Port: port, Keys: queue, Screen: out})

	// Device to screen
	_, err = master.Write([]byte("Hi\n"))
	require.NoError(t, err)
	select {
	case s := <-out:
		require.Equal(t, "Hi\n", s)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for device output")
	}

	// Keyboard to device
	_, err = typing.Write([]byte("ab"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(master, buf)
	require.NoError(t, err)
	require.Equal(t, "ab", string(buf))

	_, err = typing.Write([]byte{ExitByte})
	require.NoError(t, err)
	require.NoError(t, wait(t, result))
}
