package pty

import (
	"io"
)

// reader reads data from a Streamer, tracking its own position in the buffer
// and waiting for new data as it arrives. It implements io.ReadCloser and is
// safe for concurrent use.
type reader struct {
	position int
	closed   bool

	s *Streamer
}

// Read performs a blocking read of data from the buffer of the Streamer.
// When there's no more data left and no more coming, it returns io.EOF.
func (r *reader) Read(p []byte) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// Broadcast is called on 'more data available', 'source done' and
	// 'reader closed'.
	for r.position >= len(r.s.buffer) && !r.isFinished() {
		r.s.cond.Wait()
	}

	if r.closed || r.position >= len(r.s.buffer) {
		return 0, io.EOF
	}

	n := copy(p, r.s.buffer[r.position:])

	r.position += n

	return n, nil
}

// Close unsubscribes the reader and wakes any blocked Read. Closing a
// closed reader returns io.ErrClosedPipe.
func (r *reader) Close() error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.closed {
		return io.ErrClosedPipe
	}

	r.closed = true

	r.s.cond.Broadcast()

	return nil
}

// isFinished must be called with the Streamer lock held.
func (r *reader) isFinished() bool {
	return r.closed || (r.s.isDone() && r.position >= len(r.s.buffer))
}
