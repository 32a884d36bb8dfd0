package jobcontrol

import (
	"slices"
	"sync/atomic"
)

type Status int

const (
	// StatusUnknown indicates the status of the job is unknown. It's used as
	// the zero value for functions that return a (possibly absent) Status.
	StatusUnknown Status = iota

	// StatusCreated indicates the job has been created from an execution line
	// and can be run once a tty is set.
	StatusCreated

	// StatusRunning indicates the command of the job is executing.
	StatusRunning

	// StatusStopped indicates the job has been suspended. The command is
	// expected to park at its next checkpoint until resumed.
	StatusStopped

	// StatusTerminated indicates the job has finished, either by completing,
	// being interrupted or being forcibly terminated. It is terminal.
	StatusTerminated
)

// NOTE: This slice needs to be kept in sync with any changes to the Status
// values.
var statuses = []string{
	"Unknown",
	"Created",
	"Running",
	"Stopped",
	"Terminated",
}

// transitions lists the legal edges of the job state machine.
var transitions = map[Status][]Status{
	StatusCreated: {StatusRunning, StatusTerminated},
	StatusRunning: {StatusStopped, StatusTerminated},
	StatusStopped: {StatusRunning, StatusTerminated},
}

// String implements the Stringer interface for Status and returns a string
// representation of the Status by using the int value to index into a slice.
func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(statuses) {
		return statuses[0]
	}

	return statuses[s]
}

// CanTransitionTo reports whether moving from s to n is a legal edge.
func (s Status) CanTransitionTo(n Status) bool {
	return slices.Contains(transitions[s], n)
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusTerminated
}

// Live reports whether the job has been run and not yet terminated.
func (s Status) Live() bool {
	return s == StatusRunning || s == StatusStopped
}

// atomicStatus wraps an atomic.Int32 so the status of a Job can be read
// from any goroutine while writes stay confined to the scheduler loop.
type atomicStatus struct {
	v atomic.Int32
}

func (a *atomicStatus) Load() Status {
	return Status(a.v.Load())
}

func (a *atomicStatus) Store(s Status) {
	a.v.Store(int32(s))
}
