package jobcontrol

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// ExitCodeNotRun is reported by a job that terminated without running.
	ExitCodeNotRun = -1

	// ExitCodeFailure is reported when a command fails with an error other
	// than an ExitError, or panics.
	ExitCodeFailure = 1

	// ExitCodeInterrupted is reported when a command acknowledges an
	// interrupt by returning its context error.
	ExitCodeInterrupted = 130

	// ExitCodeTerminated is reported when a job is forcibly terminated.
	ExitCodeTerminated = 137
)

// Job represents the execution of a command line within a Scheduler. It
// provides management of the Job's lifecycle and of the tty it is attached to.
type Job struct {
	id    int
	line  string
	args  []string
	cmd   Command
	sched *Scheduler

	status      atomicStatus
	lastStopped atomic.Int64
	ttyRef      atomic.Pointer[ttyRef]
	last        atomic.Pointer[StatusUpdate]
	acked       atomic.Bool

	// The fields below are confined to the scheduler loop.
	tty         Tty
	handler     StatusHandler
	proc        *Process
	interrupted bool
	exitCode    int
	err         error

	done chan struct{}
}

func newJob(s *Scheduler, id int, line string, cmd Command, args []string) *Job {
	j := &Job{
		id:       id,
		line:     line,
		args:     args,
		cmd:      cmd,
		sched:    s,
		exitCode: ExitCodeNotRun,
		done:     make(chan struct{}),
	}

	j.status.Store(StatusCreated)
	j.ttyRef.Store(&ttyRef{})

	u := j.snapshot(StatusUnknown)
	j.last.Store(&u)

	return j
}

// ID returns the id of the Job, unique within its Scheduler.
func (j *Job) ID() int {
	return j.id
}

// Line returns the execution line that created the Job.
func (j *Job) Line() string {
	return j.line
}

// Args returns the arguments the command is run with.
func (j *Job) Args() []string {
	return j.args
}

// Status returns the status of the Job.
func (j *Job) Status() Status {
	return j.status.Load()
}

// LastStopped returns when the Job was last suspended, or the zero Time if it
// never was.
func (j *Job) LastStopped() time.Time {
	ms := j.lastStopped.Load()
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms)
}

// ExitCode returns the exit code of the Job, or ExitCodeNotRun while it has
// not terminated.
func (j *Job) ExitCode() int {
	return j.last.Load().ExitCode
}

// Err returns the failure reason of a terminated Job, if any.
func (j *Job) Err() error {
	return j.last.Load().Err
}

// Snapshot returns the StatusUpdate of the most recently committed
// transition.
func (j *Job) Snapshot() StatusUpdate {
	return *j.last.Load()
}

// Foreground reports whether the Job is the foreground job of its Scheduler.
func (j *Job) Foreground() bool {
	return j.sched.fg.Load() == j
}

// Done returns a channel that is closed when the Job has terminated.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Tty returns the tty the Job is attached to, or nil.
func (j *Job) Tty() Tty {
	return j.ttyRef.Load().tty
}

// SetTty attaches tty to the Job, replacing any previously attached tty. A
// nil tty detaches the current one. It returns an AlreadyBoundError if tty is
// attached to another job.
func (j *Job) SetTty(tty Tty) error {
	return j.sched.call(func() error {
		if st := j.status.Load(); st.Terminal() {
			return NewIllegalStateError("set tty on", st)
		}

		if tty == nil {
			j.sched.binding.detach(j)
			return nil
		}

		return j.sched.binding.attach(j, tty)
	})
}

// SetStatusHandler registers the handler called with every status transition
// of the Job, replacing any previously registered handler. A nil handler
// removes it.
func (j *Job) SetStatusHandler(h StatusHandler) error {
	return j.sched.call(func() error {
		j.handler = h
		return nil
	})
}

// Run runs the Job in the foreground, demoting the current foreground job to
// the background. The command executes asynchronously; completion is
// reported through the status handler. Trying to run a Job that is not in
// StatusCreated returns an IllegalStateError, and a Job without a tty
// returns ErrNoTty.
func (j *Job) Run() error {
	return j.run(true)
}

// RunBackground runs the Job without claiming the foreground.
func (j *Job) RunBackground() error {
	return j.run(false)
}

func (j *Job) run(foreground bool) error {
	s := j.sched

	return s.call(func() error {
		if st := j.status.Load(); st != StatusCreated {
			return NewIllegalStateError("run", st)
		}

		if j.tty == nil {
			return ErrNoTty
		}

		p := newProcess(s.ctx, j, s.store)
		j.proc = p

		if foreground {
			s.setForeground(j)
		}

		s.commit(j, StatusRunning)

		go s.execute(j, p)

		return nil
	})
}

// Interrupt requests cooperative cancellation of a running or stopped Job.
// The Job terminates once its command returns. It reports whether the
// request was accepted, i.e. false for a Job that is created or terminated.
func (j *Job) Interrupt() bool {
	var accepted bool

	j.sched.call(func() error {
		if !j.status.Load().Live() {
			return nil
		}

		j.interrupted = true
		j.proc.interrupt()
		accepted = true

		return nil
	})

	return accepted
}

// Suspend stops a running Job and releases the foreground if it held it.
// Trying to suspend a Job that is not in StatusRunning returns an
// IllegalStateError.
func (j *Job) Suspend() error {
	s := j.sched

	return s.call(func() error {
		if st := j.status.Load(); st != StatusRunning {
			return NewIllegalStateError("suspend", st)
		}

		j.lastStopped.Store(s.clock.Now().UnixMilli())
		s.clearForeground(j)
		j.proc.setSuspended(true)

		s.commit(j, StatusStopped)

		return nil
	})
}

// Resume resumes a stopped Job. When foreground is true the Job claims the
// foreground, demoting the current foreground job first. Trying to resume a
// Job that is not in StatusStopped returns an IllegalStateError.
func (j *Job) Resume(foreground bool) error {
	return j.sched.call(func() error {
		return j.resume(foreground)
	})
}

// Continue resumes a stopped Job using the Scheduler's default foreground
// setting.
func (j *Job) Continue() error {
	return j.Resume(j.sched.resumeForeground)
}

func (j *Job) resume(foreground bool) error {
	s := j.sched

	if st := j.status.Load(); st != StatusStopped {
		return NewIllegalStateError("resume", st)
	}

	if foreground {
		s.setForeground(j)
	}

	j.proc.setSuspended(false)

	s.commit(j, StatusRunning)

	return nil
}

// ToForeground makes the Job the foreground job. A stopped Job is resumed
// as with Resume(true). Trying to bring a created or terminated Job to the
// foreground returns an IllegalStateError.
func (j *Job) ToForeground() error {
	s := j.sched

	return s.call(func() error {
		switch st := j.status.Load(); st {
		case StatusRunning:
			s.setForeground(j)
			return nil
		case StatusStopped:
			return j.resume(true)
		default:
			return NewIllegalStateError("foreground", st)
		}
	})
}

// ToBackground removes the foreground designation of the Job without
// changing its status. It is a no-op if the Job is in the background.
func (j *Job) ToBackground() error {
	return j.sched.call(func() error {
		j.sched.clearForeground(j)
		return nil
	})
}

// Terminate forcibly terminates the Job, releasing its tty and the
// foreground. Terminating a terminated Job is a no-op.
func (j *Job) Terminate() error {
	return j.sched.call(func() error {
		j.sched.terminate(j)
		return nil
	})
}

func (j *Job) String() string {
	return fmt.Sprintf("[%d] %s %s", j.id, j.status.Load(), j.line)
}

func (j *Job) snapshot(previous Status) StatusUpdate {
	return StatusUpdate{
		JobID:       j.id,
		Status:      j.status.Load(),
		Previous:    previous,
		Foreground:  j.Foreground(),
		ExitCode:    j.exitCode,
		LastStopped: j.LastStopped(),
		Err:         j.err,
	}
}

// exitStatus maps the result of a command to an exit code and failure
// reason.
func exitStatus(err error, interrupted bool) (int, error) {
	var exitErr *ExitError

	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.Code, nil
	case interrupted && errors.Is(err, context.Canceled):
		return ExitCodeInterrupted, nil
	default:
		return ExitCodeFailure, err
	}
}
