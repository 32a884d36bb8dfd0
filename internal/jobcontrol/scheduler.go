package jobcontrol

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// opsBufferSize is the number of operations that can be queued for the loop
// before callers block.
const opsBufferSize = 64

// Scheduler is responsible for creating and managing the Jobs of a session.
// It owns a single loop goroutine on which all Job state is mutated; control
// operations called from other goroutines are queued and applied serially.
type Scheduler struct {
	resolver         Resolver
	clock            Clock
	logger           zerolog.Logger
	store            Store
	resumeForeground bool
	reapInterval     time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	ops        chan func()
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	dispatcher *dispatcher
	reaperWG   sync.WaitGroup

	fg atomic.Pointer[Job]

	// The fields below are confined to the loop.
	nextID     int
	jobs       map[int]*Job
	foreground *Job
	binding    *ttyBinding
	closed     bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source used to stamp suspensions.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger of the Scheduler.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithStore sets the session store handed to running processes.
func WithStore(st Store) Option {
	return func(s *Scheduler) { s.store = st }
}

// WithResumeForeground sets whether Job.Continue resumes in the foreground.
// The default is true.
func WithResumeForeground(foreground bool) Option {
	return func(s *Scheduler) { s.resumeForeground = foreground }
}

// WithReapInterval enables a background reaper that calls Reap every d. A
// zero or negative d disables it.
func WithReapInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.reapInterval = d }
}

// JobOption configures a Job as it is created.
type JobOption func(*Job)

// WithStatusHandler registers h on the Job before it becomes reachable
// through the Scheduler, so no transition is committed without it.
func WithStatusHandler(h StatusHandler) JobOption {
	return func(j *Job) { j.handler = h }
}

// NewScheduler creates a Scheduler that resolves execution lines with
// resolver. The loop is started immediately and runs until Close.
func NewScheduler(resolver Resolver, opts ...Option) *Scheduler {
	s := &Scheduler{
		resolver:         resolver,
		clock:            SystemClock(),
		logger:           zerolog.Nop(),
		resumeForeground: true,
		ops:              make(chan func(), opsBufferSize),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
		nextID:           1,
		jobs:             make(map[int]*Job),
		binding:          newTtyBinding(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With().Str("component", "scheduler").Logger()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.dispatcher = newDispatcher(s.logger)

	go s.loop()

	if s.reapInterval > 0 {
		s.reaperWG.Add(1)
		go s.reaper()
	}

	return s
}

// DefaultResumeForeground reports whether Job.Continue resumes in the
// foreground.
func (s *Scheduler) DefaultResumeForeground() bool {
	return s.resumeForeground
}

// CreateJob creates a Job from line in StatusCreated. If tty is not nil it
// is attached to the Job; an AlreadyBoundError is returned if tty is
// attached to another job.
func (s *Scheduler) CreateJob(line string, tty Tty, opts ...JobOption) (*Job, error) {
	if strings.TrimSpace(line) == "" {
		return nil, ErrEmptyLine
	}

	cmd, args, err := s.resolver.Resolve(line)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", line, err)
	}

	var job *Job

	if err := s.call(func() error {
		if tty != nil {
			if owner := s.binding.owner(tty); owner != nil {
				return NewAlreadyBoundError(owner.id)
			}
		}

		job = newJob(s, s.nextID, line, cmd, args)
		s.nextID++

		for _, opt := range opts {
			opt(job)
		}

		if tty != nil {
			if err := s.binding.attach(job, tty); err != nil {
				return err
			}
		}

		s.jobs[job.id] = job

		s.logger.Debug().
			Int("job_id", job.id).
			Str("line", line).
			Msg("created job")

		return nil
	}); err != nil {
		return nil, err
	}

	return job, nil
}

// GetJob returns the Job with the given id or ErrJobNotFound if it doesn't
// exist.
func (s *Scheduler) GetJob(id int) (*Job, error) {
	var job *Job

	if err := s.call(func() error {
		j, ok := s.jobs[id]
		if !ok {
			return ErrJobNotFound
		}

		job = j

		return nil
	}); err != nil {
		return nil, err
	}

	return job, nil
}

// Jobs returns the Jobs of the Scheduler ordered by id.
func (s *Scheduler) Jobs() []*Job {
	var jobs []*Job

	s.call(func() error {
		jobs = slices.SortedFunc(maps.Values(s.jobs), func(a, b *Job) int {
			return a.id - b.id
		})

		return nil
	})

	return jobs
}

// ForegroundJob returns the foreground Job, or nil if there is none.
func (s *Scheduler) ForegroundJob() *Job {
	return s.fg.Load()
}

// Reap removes terminated Jobs whose final status update has been delivered
// and returns them.
func (s *Scheduler) Reap() ([]*Job, error) {
	var reaped []*Job

	if err := s.call(func() error {
		for id, j := range s.jobs {
			if j.status.Load().Terminal() && j.acked.Load() {
				delete(s.jobs, id)
				reaped = append(reaped, j)
			}
		}

		return nil
	}); err != nil {
		return nil, err
	}

	slices.SortFunc(reaped, func(a, b *Job) int { return a.id - b.id })

	for _, j := range reaped {
		s.logger.Debug().Int("job_id", j.id).Msg("reaped job")
	}

	return reaped, nil
}

// Close terminates all live Jobs, waits for pending status updates to be
// delivered or ctx to be done, and stops the Scheduler. It must not be called
// from a StatusHandler.
func (s *Scheduler) Close(ctx context.Context) error {
	var err error

	s.closeOnce.Do(func() {
		err = s.call(func() error {
			s.closed = true

			for _, j := range s.jobs {
				s.terminate(j)
			}

			return nil
		})

		close(s.stop)
		<-s.done

		s.cancel()
		s.reaperWG.Wait()

		err = errors.Join(err, s.dispatcher.close(ctx))

		s.logger.Debug().Msg("scheduler closed")
	})

	return err
}

func (s *Scheduler) loop() {
	defer close(s.done)

	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.stop:
			return
		}
	}
}

// post queues op on the loop without waiting for it. It reports false if the
// Scheduler has stopped.
func (s *Scheduler) post(op func()) bool {
	select {
	case s.ops <- op:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result. It must not be called
// from the loop itself.
func (s *Scheduler) call(fn func() error) error {
	errCh := make(chan error, 1)

	if !s.post(func() {
		if s.closed {
			errCh <- ErrSchedulerClosed
			return
		}

		errCh <- fn()
	}) {
		return ErrSchedulerClosed
	}

	select {
	case err := <-errCh:
		return err
	case <-s.done:
		select {
		case err := <-errCh:
			return err
		default:
			return ErrSchedulerClosed
		}
	}
}

// commit moves j to status to and enqueues the resulting update. All other
// state changes belonging to the transition must already be applied.
func (s *Scheduler) commit(j *Job, to Status) {
	from := j.status.Load()
	if !from.CanTransitionTo(to) {
		// Operations check their preconditions before mutating anything, so
		// reaching this is a bug in the scheduler.
		panic(fmt.Sprintf("illegal transition from %s to %s", from, to))
	}

	j.status.Store(to)

	u := j.snapshot(from)
	j.last.Store(&u)

	if to.Terminal() {
		close(j.done)
	}

	s.logger.Debug().
		Int("job_id", j.id).
		Stringer("from", from).
		Stringer("to", to).
		Bool("foreground", u.Foreground).
		Msg("job status changed")

	s.dispatcher.enqueue(delivery{job: j, handler: j.handler, update: u})
}

func (s *Scheduler) setForeground(j *Job) {
	if s.foreground == j {
		return
	}

	if prev := s.foreground; prev != nil {
		if prev.proc != nil {
			prev.proc.setForeground(false)
		}

		s.logger.Debug().
			Int("job_id", prev.id).
			Int("by_job_id", j.id).
			Msg("demoted foreground job")
	}

	s.foreground = j
	s.fg.Store(j)

	if j.proc != nil {
		j.proc.setForeground(true)
	}
}

func (s *Scheduler) clearForeground(j *Job) {
	if s.foreground != j {
		return
	}

	s.foreground = nil
	s.fg.Store(nil)

	if j.proc != nil {
		j.proc.setForeground(false)
	}
}

func (s *Scheduler) release(j *Job) {
	s.binding.detach(j)
	s.clearForeground(j)

	if j.proc != nil {
		j.proc.interrupt()
	}
}

func (s *Scheduler) terminate(j *Job) {
	st := j.status.Load()
	if st.Terminal() {
		return
	}

	if st != StatusCreated {
		j.exitCode = ExitCodeTerminated
	}

	j.err = ErrTerminated

	s.release(j)
	s.commit(j, StatusTerminated)
}

// execute runs the command of j and posts its completion to the loop.
func (s *Scheduler) execute(j *Job, p *Process) {
	err := runCommand(j.cmd, p)

	s.post(func() {
		s.complete(j, p, err)
	})
}

func (s *Scheduler) complete(j *Job, p *Process, err error) {
	// The job may have been terminated while the command was finishing.
	if j.proc != p || j.status.Load().Terminal() {
		return
	}

	j.exitCode, j.err = exitStatus(err, j.interrupted)

	s.release(j)
	s.commit(j, StatusTerminated)

	if j.err != nil {
		s.logger.Warn().
			Int("job_id", j.id).
			Err(j.err).
			Msg("job failed")
	}
}

func (s *Scheduler) reaper() {
	defer s.reaperWG.Done()

	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reap(); err != nil {
				return
			}
		}
	}
}

func runCommand(cmd Command, p *Process) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()

	return cmd.Run(p)
}
