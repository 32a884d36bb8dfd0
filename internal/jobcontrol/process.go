package jobcontrol

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Command is a unit of cooperative work executed by a Job. Run blocks until
// the work is complete. It should return promptly once the context of p is
// done and call p.Checkpoint regularly so that suspension takes effect.
type Command interface {
	Run(p *Process) error
}

// CommandFunc adapts an ordinary function to a Command.
type CommandFunc func(p *Process) error

func (f CommandFunc) Run(p *Process) error {
	return f(p)
}

// Resolver turns an execution line into the Command to run and its arguments.
type Resolver interface {
	Resolve(line string) (Command, []string, error)
}

// Store is a key/value store shared between a session and the processes it
// runs.
type Store interface {
	Get(key string) (any, bool)
	Put(key string, value any)
	Remove(key string) (any, bool)
}

// Process is the handle a running Command uses to interact with its Job.
type Process struct {
	jobID int
	line  string
	args  []string
	store Store

	ctx    context.Context
	cancel context.CancelFunc

	tty *atomic.Pointer[ttyRef]

	mu         sync.Mutex
	cond       sync.Cond
	suspended  bool
	foreground atomic.Bool
}

func newProcess(parent context.Context, j *Job, store Store) *Process {
	ctx, cancel := context.WithCancel(parent)

	p := &Process{
		jobID:  j.id,
		line:   j.line,
		args:   j.args,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		tty:    &j.ttyRef,
	}

	p.cond.L = &p.mu

	// Wake anything parked in Checkpoint or Stdin once the process is
	// interrupted.
	context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})

	return p
}

// JobID returns the id of the Job running this process.
func (p *Process) JobID() int {
	return p.jobID
}

// Line returns the execution line of the Job.
func (p *Process) Line() string {
	return p.line
}

// Args returns the arguments of the command, excluding the command name.
func (p *Process) Args() []string {
	return p.args
}

// Context returns a context that is cancelled when the Job is interrupted or
// terminated.
func (p *Process) Context() context.Context {
	return p.ctx
}

// Session returns the store of the session the Job belongs to. It may be nil.
func (p *Process) Session() Store {
	return p.store
}

// Foreground reports whether the Job currently holds the foreground.
func (p *Process) Foreground() bool {
	return p.foreground.Load()
}

// Suspended reports whether the Job is currently stopped.
func (p *Process) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.suspended
}

// Checkpoint blocks while the Job is suspended. It returns the context error
// once the Job has been interrupted or terminated, and nil otherwise.
func (p *Process) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.suspended && p.ctx.Err() == nil {
		p.cond.Wait()
	}

	return p.ctx.Err()
}

// Stdout returns a writer to the tty currently attached to the Job. Writes
// follow the tty if it is swapped while the process runs and fail with
// ErrNoTty once it has been detached.
func (p *Process) Stdout() io.Writer {
	return processWriter{p}
}

// Stdin returns a reader of the tty currently attached to the Job. Reads
// block while the Job is in the background or suspended.
func (p *Process) Stdin() io.Reader {
	return processReader{p}
}

// Printf formats according to a format specifier and writes to Stdout.
func (p *Process) Printf(format string, a ...any) (int, error) {
	return fmt.Fprintf(p.Stdout(), format, a...)
}

func (p *Process) currentTty() Tty {
	ref := p.tty.Load()
	if ref == nil {
		return nil
	}

	return ref.tty
}

// waitInput blocks until the process may read from its tty.
func (p *Process) waitInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for (p.suspended || !p.foreground.Load()) && p.ctx.Err() == nil {
		p.cond.Wait()
	}

	return p.ctx.Err()
}

func (p *Process) setSuspended(suspended bool) {
	p.mu.Lock()
	p.suspended = suspended
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Process) setForeground(foreground bool) {
	p.mu.Lock()
	p.foreground.Store(foreground)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Process) interrupt() {
	p.cancel()
}

type processWriter struct {
	p *Process
}

func (w processWriter) Write(b []byte) (int, error) {
	tty := w.p.currentTty()
	if tty == nil {
		return 0, ErrNoTty
	}

	return tty.Write(b)
}

type processReader struct {
	p *Process
}

func (r processReader) Read(b []byte) (int, error) {
	if err := r.p.waitInput(); err != nil {
		return 0, err
	}

	tty := r.p.currentTty()
	if tty == nil {
		return 0, ErrNoTty
	}

	if cr, ok := tty.(ContextReader); ok {
		return cr.ReadContext(r.p.ctx, b)
	}

	return tty.Read(b)
}
