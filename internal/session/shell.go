// Package session hosts job control sessions. Each Shell owns a Scheduler,
// a key/value store shared with its jobs, and an in-memory pty per job whose
// output can be streamed and whose status updates can be watched.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/nixpig/jobcontrol/internal/pty"
	"github.com/rs/zerolog"
)

var ErrShellClosed = errors.New("shell closed")

// ShellConfig configures a Shell.
type ShellConfig struct {
	// ResumeForeground is the default used by Job.Continue.
	ResumeForeground bool

	// ReapInterval enables periodic reaping of terminated jobs whose final
	// update has been delivered. Zero disables it.
	ReapInterval time.Duration

	Logger zerolog.Logger
	Clock  jobcontrol.Clock
}

// Shell is a job control session.
type Shell struct {
	id     string
	store  *Store
	sched  *jobcontrol.Scheduler
	clock  jobcontrol.Clock
	logger zerolog.Logger

	lastActive atomic.Int64
	streams    atomic.Int64

	mu     sync.Mutex
	jobs   map[int]*jobState
	closed bool
}

// jobState is what the Shell tracks for each of its jobs: the pty the job is
// attached to and the history of its status updates.
type jobState struct {
	pty *pty.Pty

	mu      sync.Mutex
	cond    sync.Cond
	updates []jobcontrol.StatusUpdate
}

func newJobState() *jobState {
	st := &jobState{pty: pty.New()}
	st.cond.L = &st.mu

	return st
}

func (st *jobState) handle(u jobcontrol.StatusUpdate) {
	st.mu.Lock()
	st.updates = append(st.updates, u)
	st.cond.Broadcast()
	st.mu.Unlock()

	if u.Status.Terminal() {
		st.pty.Close()
	}
}

// NewShell creates a Shell with the given id that resolves job lines with
// resolver.
func NewShell(id string, resolver jobcontrol.Resolver, cfg ShellConfig) *Shell {
	if cfg.Clock == nil {
		cfg.Clock = jobcontrol.SystemClock()
	}

	logger := cfg.Logger.With().Str("session_id", id).Logger()

	s := &Shell{
		id:     id,
		store:  NewStore(),
		clock:  cfg.Clock,
		logger: logger,
		jobs:   make(map[int]*jobState),
	}

	s.sched = jobcontrol.NewScheduler(
		resolver,
		jobcontrol.WithStore(s.store),
		jobcontrol.WithLogger(logger),
		jobcontrol.WithClock(cfg.Clock),
		jobcontrol.WithResumeForeground(cfg.ResumeForeground),
		jobcontrol.WithReapInterval(cfg.ReapInterval),
	)

	s.touch()

	return s
}

// ID returns the id of the Shell.
func (s *Shell) ID() string {
	return s.id
}

// Store returns the key/value store shared with the jobs of the Shell.
func (s *Shell) Store() *Store {
	return s.store
}

// Scheduler returns the Scheduler running the jobs of the Shell.
func (s *Shell) Scheduler() *jobcontrol.Scheduler {
	return s.sched
}

// LastActive returns when the Shell was last used.
func (s *Shell) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Shell) touch() {
	s.lastActive.Store(s.clock.Now().UnixNano())
}

// Streaming reports whether output streams or watches of the Shell's jobs
// are open.
func (s *Shell) Streaming() bool {
	return s.streams.Load() > 0
}

func (s *Shell) openStream() func() {
	s.streams.Add(1)

	var once sync.Once

	return func() {
		once.Do(func() {
			s.streams.Add(-1)
			s.touch()
		})
	}
}

// streamReader releases its stream from the Shell when closed.
type streamReader struct {
	io.ReadCloser
	release func()
}

func (r *streamReader) Close() error {
	defer r.release()

	return r.ReadCloser.Close()
}

// CreateJob creates a job for line attached to a new pty.
func (s *Shell) CreateJob(line string) (*jobcontrol.Job, error) {
	s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShellClosed
	}

	st := newJobState()

	job, err := s.sched.CreateJob(
		line,
		st.pty,
		jobcontrol.WithStatusHandler(st.handle),
	)
	if err != nil {
		st.pty.Close()
		return nil, err
	}

	s.jobs[job.ID()] = st

	s.logger.Info().
		Int("job_id", job.ID()).
		Str("line", line).
		Msg("created job")

	return job, nil
}

// Job returns the job with the given id or jobcontrol.ErrJobNotFound if it
// doesn't exist.
func (s *Shell) Job(id int) (*jobcontrol.Job, error) {
	s.touch()

	return s.sched.GetJob(id)
}

// Jobs returns the jobs of the Shell ordered by id.
func (s *Shell) Jobs() []*jobcontrol.Job {
	s.touch()

	return s.sched.Jobs()
}

func (s *Shell) state(id int) (*jobState, error) {
	s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[id]
	if !ok {
		return nil, jobcontrol.ErrJobNotFound
	}

	return st, nil
}

// WriteInput queues data as input for the job with the given id.
func (s *Shell) WriteInput(id int, data []byte) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	if _, err := st.pty.WriteInput(data); err != nil {
		return fmt.Errorf("write input to job %d: %w", id, err)
	}

	return nil
}

// CloseInput ends the input of the job with the given id.
func (s *Shell) CloseInput(id int) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	st.pty.CloseInput()

	return nil
}

// StreamOutput returns an io.ReadCloser of output from the job with the given
// id or jobcontrol.ErrJobNotFound if it doesn't exist. The Shell is not
// evicted while the reader is open.
//
// Read will return all output since the job was created and block waiting
// for new output until the job terminates.
func (s *Shell) StreamOutput(id int) (io.ReadCloser, error) {
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}

	return &streamReader{ReadCloser: st.pty.Subscribe(), release: s.openStream()}, nil
}

// Watch calls fn with every status update of the job with the given id, from
// its first transition onwards. It returns after the Terminated update has
// been passed to fn, when fn returns an error, or when ctx is done.
func (s *Shell) Watch(
	ctx context.Context,
	id int,
	fn func(jobcontrol.StatusUpdate) error,
) error {
	st, err := s.state(id)
	if err != nil {
		return err
	}

	defer s.openStream()()

	stop := context.AfterFunc(ctx, func() {
		st.mu.Lock()
		st.cond.Broadcast()
		st.mu.Unlock()
	})
	defer stop()

	for next := 0; ; next++ {
		st.mu.Lock()

		for len(st.updates) <= next && ctx.Err() == nil {
			st.cond.Wait()
		}

		if len(st.updates) <= next {
			st.mu.Unlock()
			return ctx.Err()
		}

		u := st.updates[next]

		st.mu.Unlock()

		if err := fn(u); err != nil {
			return err
		}

		if u.Status.Terminal() {
			return nil
		}
	}
}

// Reap removes terminated jobs whose final update has been delivered,
// releasing their ptys.
func (s *Shell) Reap() ([]*jobcontrol.Job, error) {
	s.touch()

	reaped, err := s.sched.Reap()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, job := range reaped {
		delete(s.jobs, job.ID())
	}
	s.mu.Unlock()

	return reaped, nil
}

// Close terminates every job of the Shell and releases its resources. No
// jobs remain registered afterwards.
func (s *Shell) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	s.mu.Unlock()

	err := s.sched.Close(ctx)

	s.mu.Lock()
	for id, st := range s.jobs {
		st.pty.Close()
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.logger.Info().Msg("closed session")

	return err
}
