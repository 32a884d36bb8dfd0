// Package pty provides an in-memory pseudo terminal for jobs.
//
// A Pty is the Tty handed to a job. The job reads input written on the
// master side with WriteInput and its output can be streamed concurrently to
// any number of subscribers, each receiving the complete output from the
// beginning.
package pty

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Pty is an in-memory pseudo terminal.
type Pty struct {
	outW   *io.PipeWriter
	output *Streamer

	mu        sync.Mutex
	cond      sync.Cond
	input     bytes.Buffer
	inputEOF  bool
	closed    bool
	onDetach  func(jobID int)
	closeOnce sync.Once
}

// New creates a Pty and starts streaming its output.
func New() *Pty {
	outR, outW := io.Pipe()

	p := &Pty{
		outW:   outW,
		output: NewStreamer(outR),
	}

	p.cond.L = &p.mu

	return p
}

// Read reads input written with WriteInput, blocking until some is available.
// It returns io.EOF once input is closed and all of it has been read.
func (p *Pty) Read(b []byte) (int, error) {
	return p.ReadContext(context.Background(), b)
}

// ReadContext is like Read but returns the context error if ctx is done
// before any input is available.
func (p *Pty) ReadContext(ctx context.Context, b []byte) (int, error) {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for p.input.Len() == 0 && !p.inputEOF && !p.closed && ctx.Err() == nil {
		p.cond.Wait()
	}

	if p.input.Len() > 0 {
		return p.input.Read(b)
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return 0, io.EOF
}

// Write writes output of the job to the Pty.
func (p *Pty) Write(b []byte) (int, error) {
	return p.outW.Write(b)
}

// WriteInput queues b as input for the job. It never blocks on the job.
func (p *Pty) WriteInput(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.inputEOF {
		return 0, io.ErrClosedPipe
	}

	n, err := p.input.Write(b)

	p.cond.Broadcast()

	return n, err
}

// CloseInput ends the input of the Pty. Reads return io.EOF once the
// buffered input has been consumed; output is unaffected.
func (p *Pty) CloseInput() {
	p.mu.Lock()
	p.inputEOF = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Subscribe returns an io.ReadCloser of all output of the Pty since it was
// created. Read blocks waiting for new output until the Pty is closed.
func (p *Pty) Subscribe() io.ReadCloser {
	return p.output.Subscribe()
}

// Output returns a copy of the output written so far.
func (p *Pty) Output() []byte {
	return p.output.Bytes()
}

// Done returns a channel that is closed once the Pty is closed and its
// output fully buffered.
func (p *Pty) Done() <-chan struct{} {
	return p.output.Done()
}

// OnDetach registers fn to be called when the Pty is detached from a job.
func (p *Pty) OnDetach(fn func(jobID int)) {
	p.mu.Lock()
	p.onDetach = fn
	p.mu.Unlock()
}

// Detached is called by the scheduler when the Pty is detached from a job.
func (p *Pty) Detached(jobID int) {
	p.mu.Lock()
	fn := p.onDetach
	p.mu.Unlock()

	if fn != nil {
		fn(jobID)
	}
}

// Close ends input and output. Subscribers receive io.EOF after the buffered
// output.
func (p *Pty) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.cond.Broadcast()
		p.mu.Unlock()

		p.outW.Close()
	})

	return nil
}
