// Package shell implements the job control front-end of a session: it
// interprets command lines, starting jobs in the foreground or background,
// and the builtins that move jobs between them.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nixpig/jobcontrol/internal/command"
	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/nixpig/jobcontrol/internal/session"
	"github.com/rs/zerolog"
)

const waitPollInterval = 10 * time.Millisecond

var (
	// ErrExit is returned by Execute when the exit builtin is run.
	ErrExit = errors.New("exit")

	ErrNoCurrentJob = errors.New("no current job")
	ErrInvalidJobID = errors.New("invalid job id")
)

// Builtins are the names of the job control commands handled by the
// Interpreter itself.
var Builtins = []string{
	"bg", "exit", "fg", "interrupt", "jobs", "kill", "logout", "reap", "stop",
}

// Notifier is called with the status updates of jobs that are not in the
// foreground.
type Notifier func(job *jobcontrol.Job, u jobcontrol.StatusUpdate)

// Interpreter executes command lines against a session.Shell.
type Interpreter struct {
	shell  *session.Shell
	out    io.Writer
	output io.Writer
	notify Notifier
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithJobOutput copies the output of every job created by the Interpreter
// to w.
func WithJobOutput(w io.Writer) Option {
	return func(i *Interpreter) { i.output = w }
}

// WithNotifier sets the function told about status changes of background
// jobs.
func WithNotifier(n Notifier) Option {
	return func(i *Interpreter) { i.notify = n }
}

// WithLogger sets the logger of the Interpreter.
func WithLogger(l zerolog.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

// New creates an Interpreter for shell that writes builtin output to out.
func New(shell *session.Shell, out io.Writer, opts ...Option) *Interpreter {
	i := &Interpreter{
		shell:  shell,
		out:    out,
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(i)
	}

	i.ctx, i.cancel = context.WithCancel(context.Background())

	return i
}

// Close stops watching jobs. It does not close the Shell.
func (i *Interpreter) Close() {
	i.cancel()
}

// Execute runs line. Job control builtins are handled directly; any other
// line creates a job which runs in the background if the line ends with '&'
// and in the foreground otherwise. The job left in the foreground, if any,
// is returned so the caller can Wait for it.
func (i *Interpreter) Execute(line string) (*jobcontrol.Job, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	argv, err := command.Split(line)
	if err != nil {
		return nil, err
	}

	switch argv[0] {
	case "exit", "logout":
		return nil, ErrExit
	case "jobs":
		return nil, i.listJobs()
	case "fg":
		return i.foreground(argv[1:])
	case "bg":
		return nil, i.background(argv[1:])
	case "stop":
		return nil, i.withJob(argv[1:], (*jobcontrol.Job).Suspend)
	case "kill":
		return nil, i.withJob(argv[1:], (*jobcontrol.Job).Terminate)
	case "interrupt":
		return nil, i.interrupt(argv[1:])
	case "reap":
		return nil, i.reap()
	}

	return i.start(line)
}

// Wait blocks while job is running in the foreground. It returns once the
// job has stopped, terminated, or been moved to the background.
func (i *Interpreter) Wait(ctx context.Context, job *jobcontrol.Job) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		if job.Status() != jobcontrol.StatusRunning || !job.Foreground() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-job.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (i *Interpreter) start(line string) (*jobcontrol.Job, error) {
	background := false
	if trimmed, ok := strings.CutSuffix(line, "&"); ok {
		background = true
		line = strings.TrimSpace(trimmed)
	}

	job, err := i.shell.CreateJob(line)
	if err != nil {
		return nil, err
	}

	i.follow(job)

	if background {
		if err := job.RunBackground(); err != nil {
			return nil, err
		}

		fmt.Fprintf(i.out, "[%d] %s\n", job.ID(), job.Line())

		return nil, nil
	}

	if err := job.Run(); err != nil {
		return nil, err
	}

	return job, nil
}

// follow copies the output of job and reports its status changes.
func (i *Interpreter) follow(job *jobcontrol.Job) {
	if i.output != nil {
		if out, err := i.shell.StreamOutput(job.ID()); err == nil {
			go func() {
				defer out.Close()

				if _, err := io.Copy(i.output, out); err != nil {
					i.logger.Debug().Err(err).Int("job_id", job.ID()).Msg("output copy ended")
				}
			}()
		}
	}

	if i.notify != nil {
		go func() {
			err := i.shell.Watch(i.ctx, job.ID(), func(u jobcontrol.StatusUpdate) error {
				if !u.Foreground {
					i.notify(job, u)
				}

				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				i.logger.Debug().Err(err).Int("job_id", job.ID()).Msg("watch ended")
			}
		}()
	}
}

func (i *Interpreter) listJobs() error {
	w := tabwriter.NewWriter(i.out, 0, 0, 2, ' ', 0)

	for _, job := range i.shell.Jobs() {
		marker := " "
		if job.Foreground() {
			marker = "+"
		}

		status := job.Status().String()
		if job.Status().Terminal() {
			status = fmt.Sprintf("%s (%d)", status, job.ExitCode())
		}

		fmt.Fprintf(w, "[%d]%s\t%s\t%s\n", job.ID(), marker, status, job.Line())
	}

	return w.Flush()
}

func (i *Interpreter) foreground(args []string) (*jobcontrol.Job, error) {
	job, err := i.lookup(args)
	if err != nil {
		return nil, err
	}

	if err := job.ToForeground(); err != nil {
		return nil, err
	}

	fmt.Fprintln(i.out, job.Line())

	return job, nil
}

func (i *Interpreter) background(args []string) error {
	job, err := i.lookup(args)
	if err != nil {
		return err
	}

	if job.Status() == jobcontrol.StatusStopped {
		if err := job.Resume(false); err != nil {
			return err
		}
	} else if err := job.ToBackground(); err != nil {
		return err
	}

	fmt.Fprintf(i.out, "[%d] %s &\n", job.ID(), job.Line())

	return nil
}

func (i *Interpreter) interrupt(args []string) error {
	job, err := i.lookup(args)
	if err != nil {
		return err
	}

	if !job.Interrupt() {
		return jobcontrol.NewIllegalStateError("interrupt", job.Status())
	}

	return nil
}

func (i *Interpreter) withJob(args []string, op func(*jobcontrol.Job) error) error {
	job, err := i.lookup(args)
	if err != nil {
		return err
	}

	return op(job)
}

func (i *Interpreter) reap() error {
	reaped, err := i.shell.Reap()
	if err != nil {
		return err
	}

	for _, job := range reaped {
		fmt.Fprintf(i.out, "[%d] Done (%d) %s\n", job.ID(), job.ExitCode(), job.Line())
	}

	return nil
}

// lookup returns the job named by args, which is empty or a single job id
// optionally prefixed with '%'. With no id it returns the current job: the
// foreground job, or else the most recently created live job.
func (i *Interpreter) lookup(args []string) (*jobcontrol.Job, error) {
	switch len(args) {
	case 0:
		return i.current()
	case 1:
		id, err := strconv.Atoi(strings.TrimPrefix(args[0], "%"))
		if err != nil || id < 1 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidJobID, args[0])
		}

		return i.shell.Job(id)
	default:
		return nil, fmt.Errorf("%w: expected at most one job id", ErrInvalidJobID)
	}
}

func (i *Interpreter) current() (*jobcontrol.Job, error) {
	if job := i.shell.Scheduler().ForegroundJob(); job != nil {
		return job, nil
	}

	jobs := i.shell.Jobs()

	for j := len(jobs) - 1; j >= 0; j-- {
		if jobs[j].Status().Live() {
			return jobs[j], nil
		}
	}

	return nil, ErrNoCurrentJob
}
