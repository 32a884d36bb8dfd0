package jobcontrol

import (
	"context"
	"io"
)

// Tty is the I/O endpoint a job reads input from and writes output to. A Job
// holds a non-owning reference: the lifetime of the Tty is managed by the
// session that created it.
//
// Implementations are used as map keys and so must be comparable, e.g. a
// pointer type.
type Tty interface {
	io.Reader
	io.Writer
}

// Detacher is implemented by a Tty that wants to be told when it is detached
// from a job.
type Detacher interface {
	Detached(jobID int)
}

// ContextReader is implemented by a Tty whose blocking reads can be
// abandoned when ctx is done. Reads through Process.Stdin use it so that an
// interrupted job is not left waiting for input.
type ContextReader interface {
	ReadContext(ctx context.Context, b []byte) (int, error)
}

// ttyBinding tracks which job each tty is attached to. It is confined to the
// scheduler loop.
type ttyBinding struct {
	owners map[Tty]*Job
}

func newTtyBinding() *ttyBinding {
	return &ttyBinding{owners: make(map[Tty]*Job)}
}

// attach binds tty to job, first releasing any tty previously bound to job.
// It fails with AlreadyBoundError if tty is attached to a different job.
func (b *ttyBinding) attach(job *Job, tty Tty) error {
	if owner, ok := b.owners[tty]; ok {
		if owner == job {
			return nil
		}

		return NewAlreadyBoundError(owner.id)
	}

	b.detach(job)

	b.owners[tty] = job
	job.tty = tty
	job.ttyRef.Store(&ttyRef{tty: tty})

	return nil
}

// detach releases the tty bound to job. It is a no-op if job is unbound.
func (b *ttyBinding) detach(job *Job) {
	if job.tty == nil {
		return
	}

	tty := job.tty

	delete(b.owners, tty)
	job.tty = nil
	job.ttyRef.Store(&ttyRef{})

	if d, ok := tty.(Detacher); ok {
		d.Detached(job.id)
	}
}

// owner returns the job tty is attached to, if any.
func (b *ttyBinding) owner(tty Tty) *Job {
	return b.owners[tty]
}

// ttyRef is the snapshot of a job's tty published to its running process.
type ttyRef struct {
	tty Tty
}
