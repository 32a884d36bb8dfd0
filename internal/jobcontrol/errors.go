package jobcontrol

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrNoTty           = errors.New("no tty set")
	ErrSchedulerClosed = errors.New("scheduler closed")
	ErrCommandNotFound = errors.New("command not found")
	ErrEmptyLine       = errors.New("execution line is empty")
	ErrTerminated      = errors.New("job terminated")
)

// IllegalStateError is returned when an operation is not valid for the
// current status of a Job.
type IllegalStateError struct {
	op     string
	status Status
}

func (e IllegalStateError) Error() string {
	return fmt.Sprintf("cannot %s job in %s state", e.op, e.status)
}

// Op returns the name of the rejected operation.
func (e IllegalStateError) Op() string {
	return e.op
}

// Status returns the status the job was in when the operation was rejected.
func (e IllegalStateError) Status() Status {
	return e.status
}

func NewIllegalStateError(op string, status Status) IllegalStateError {
	return IllegalStateError{op, status}
}

// AlreadyBoundError is returned when attaching a tty that is already attached
// to another job.
type AlreadyBoundError struct {
	jobID int
}

func (e AlreadyBoundError) Error() string {
	return fmt.Sprintf("tty already bound to job %d", e.jobID)
}

// JobID returns the id of the job currently holding the tty.
func (e AlreadyBoundError) JobID() int {
	return e.jobID
}

func NewAlreadyBoundError(jobID int) AlreadyBoundError {
	return AlreadyBoundError{jobID}
}

// ExitError is returned by a Command to end with a specific, non-zero exit
// code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Exit returns an ExitError for code, or nil for a zero code.
func Exit(code int) error {
	if code == 0 {
		return nil
	}

	return &ExitError{Code: code}
}
