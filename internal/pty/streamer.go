package pty

import (
	"io"
	"sync"
)

const (
	// initialBufferCapacity is the starting size for the output buffer.
	initialBufferCapacity = 4096

	// readBufferSize is the temporary buffer size for reading from the source.
	// 4KB aligns with typical pipe buffer sizes.
	readBufferSize = 4096
)

// Streamer reads terminal output from a source io.ReadCloser and stores it in
// an internal buffer. Any number of subscribers can read the complete output
// from the beginning, concurrently. The buffer grows to hold all output.
type Streamer struct {
	// NOTE: The buffer grows with no upper bound. Sessions are expected to
	// reap jobs and close their terminals.
	buffer []byte

	done chan struct{}
	mu   sync.Mutex
	cond sync.Cond
}

// NewStreamer creates a Streamer that reads from source and immediately
// begins processing until source returns an error, io.EOF included.
func NewStreamer(source io.ReadCloser) *Streamer {
	s := &Streamer{
		buffer: make([]byte, 0, initialBufferCapacity),
		done:   make(chan struct{}),
	}

	s.cond.L = &s.mu

	go s.processOutput(source)

	return s
}

func (s *Streamer) processOutput(source io.ReadCloser) {
	defer func() {
		close(s.done)
		source.Close()

		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	buffer := make([]byte, readBufferSize)

	for {
		n, err := source.Read(buffer)
		if n > 0 {
			s.mu.Lock()

			s.buffer = append(s.buffer, buffer[:n]...)

			s.cond.Broadcast()

			s.mu.Unlock()
		}

		if err != nil {
			// io.EOF or a closed pipe both end the stream.
			return
		}
	}
}

// Subscribe returns an io.ReadCloser for reading data from the Streamer.
// Close cancels the subscription.
func (s *Streamer) Subscribe() io.ReadCloser {
	return &reader{s: s}
}

// Done returns a channel that is closed when processing has finished, i.e.
// the source has been closed.
func (s *Streamer) Done() <-chan struct{} {
	return s.done
}

// Bytes returns a copy of the output buffered so far.
func (s *Streamer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.buffer...)
}

func (s *Streamer) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
