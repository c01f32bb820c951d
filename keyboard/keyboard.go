// Package keyboard forwards raw bytes typed on standard input to a
// single consumer as discrete chunks.
package keyboard

import (
	"errors"
	"io"
)

const (
	// MaxChunk is the largest number of bytes taken from the input in one read.
	MaxChunk = 1024

	// QueueDepth is the capacity of the queue created by NewQueue.
	QueueDepth = 64
)

// Chunk is the bytes returned by one read of the input, in order.
type Chunk []byte

// NewQueue returns a queue for a single Reader and a single consumer.
// A full queue blocks the Reader until the consumer catches up.
func NewQueue() chan Chunk {
	return make(chan Chunk, QueueDepth)
}

// Reader reads chunks from an input stream.
type Reader struct {
	in   io.Reader
	size int
}

// NewReader returns a Reader over in using MaxChunk sized reads.
func NewReader(in io.Reader) *Reader {
	return &Reader{in: in, size: MaxChunk}
}

// Run reads from the input until it is exhausted, fails, or done is closed,
// sending every non-empty read to queue as a fresh Chunk. Read errors other
// than io.EOF are passed to onError, which may be nil. Run closes queue
// before returning.
//
// A read already blocked on the input cannot be interrupted; closing done
// takes effect once that read returns.
func (r *Reader) Run(done <-chan struct{}, queue chan<- Chunk, onError func(error)) {
	defer close(queue)

	buf := make([]byte, r.size)
	for {
		n, err := r.in.Read(buf)
		if n > 0 {
			chunk := make(Chunk, n)
			copy(chunk, buf[:n])
			select {
			case queue <- chunk:
			case <-done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && onError != nil {
				onError(err)
			}
			return
		}
		if n == 0 {
			// End of input
			return
		}
	}
}
