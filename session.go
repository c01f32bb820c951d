package serialterm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/luhtfiimanal/go-serial-term/keyboard"
)

// ExitByte ends a session when it appears anywhere in a keyboard chunk.
// It is what the terminal sends for Ctrl + ].
const ExitByte = 29

// readSize is the size of the fresh buffer handed to each serial read.
const readSize = 4096

var (
	// ErrSerialRead wraps the error that ended a session while reading the port.
	// A device that closes its end of the stream is reported as io.EOF.
	ErrSerialRead = errors.New("serial read")

	// ErrSerialWrite wraps the error that ended a session while writing the port.
	ErrSerialWrite = errors.New("serial write")
)

// Flusher is implemented by screens that buffer output.
type Flusher interface {
	Flush() error
}

// Session relays bytes between a serial port and a keyboard queue.
type Session struct {
	// Port is the serial device. Its Write must write the whole buffer or fail.
	Port io.ReadWriter

	// Keys delivers keyboard chunks in the order they were typed. A closed
	// queue means keyboard input is exhausted; the session keeps showing
	// serial output.
	Keys <-chan keyboard.Chunk

	// Screen receives decoded serial output. It is flushed after every write
	// when it implements Flusher.
	Screen io.Writer
}

type readResult struct {
	data []byte
	err  error
}

// Run relays until the exit byte is typed, an I/O error occurs, or ctx is
// done. It returns nil on the exit byte, an error wrapping ErrSerialRead or
// ErrSerialWrite on port failure, and ctx.Err() on cancellation.
//
// A read already in progress on Port when Run returns is left behind;
// closing the port releases it.
func (s *Session) Run(ctx context.Context) error {
	reads := make(chan readResult)
	stop := make(chan struct{})
	defer close(stop)
	go s.pump(reads, stop)

	keys := s.Keys
	for {
		select {
		case r := <-reads:
			if r.err != nil {
				return fmt.Errorf("%w: %w", ErrSerialRead, r.err)
			}
			if err := s.display(r.data); err != nil {
				return err
			}
		case chunk, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			if bytes.IndexByte(chunk, ExitByte) >= 0 {
				return nil
			}
			if _, err := s.Port.Write(chunk); err != nil {
				return fmt.Errorf("%w: %w", ErrSerialWrite, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pump reads the port into a fresh buffer each time and hands the result to
// Run. It stops after the first error or once stop is closed.
func (s *Session) pump(reads chan<- readResult, stop <-chan struct{}) {
	for {
		buf := make([]byte, readSize)
		n, err := s.Port.Read(buf)
		if n == 0 && err == nil {
			err = io.EOF
		}
		if n > 0 {
			select {
			case reads <- readResult{data: buf[:n]}:
			case <-stop:
				return
			}
		}
		if err != nil {
			select {
			case reads <- readResult{err: err}:
			case <-stop:
			}
			return
		}
	}
}

func (s *Session) display(data []byte) error {
	if _, err := io.WriteString(s.Screen, DecodeLossy(data)); err != nil {
		return fmt.Errorf("write screen: %w", err)
	}
	if f, ok := s.Screen.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush screen: %w", err)
		}
	}
	return nil
}
