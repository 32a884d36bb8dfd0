// Package jobcontrol provides job control for an interactive shell session.
//
// A Job represents the execution of a command line. It can be run in the
// foreground or background, suspended, resumed, interrupted and terminated.
// Every status transition is reported to the single StatusHandler registered
// on the Job.
//
// A Scheduler creates and owns the Jobs of one session. All Job state is
// mutated on the scheduler's loop goroutine, so control operations may be
// called from any goroutine. At most one Job per Scheduler is in the
// foreground.
//
// Execution is cooperative: a running Command receives a Process handle and
// is expected to honour cancellation through its context and suspension
// through Process.Checkpoint.
package jobcontrol
