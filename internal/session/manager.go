package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/rs/zerolog"
)

var ErrSessionNotFound = errors.New("session not found")

// Config configures a Manager and the Shells it creates.
type Config struct {
	// IdleTimeout is how long a session may go unused before Evict closes
	// it. Zero disables eviction.
	IdleTimeout time.Duration

	// ReapInterval is how often Run evicts idle sessions.
	ReapInterval time.Duration

	// ResumeForeground is the default used by Job.Continue.
	ResumeForeground bool

	// JobReapInterval is how often each Shell reaps its terminated jobs.
	// Zero disables it.
	JobReapInterval time.Duration
}

// Manager is responsible for creating and managing Shells.
type Manager struct {
	resolver jobcontrol.Resolver
	cfg      Config
	clock    jobcontrol.Clock
	logger   zerolog.Logger

	shells map[string]*Shell

	mu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock sets the time source used to track session activity.
func WithManagerClock(c jobcontrol.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithManagerLogger sets the logger of the Manager and its Shells.
func WithManagerLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager whose Shells resolve job lines with resolver.
func NewManager(
	resolver jobcontrol.Resolver,
	cfg Config,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		resolver: resolver,
		cfg:      cfg,
		clock:    jobcontrol.SystemClock(),
		logger:   zerolog.Nop(),
		shells:   make(map[string]*Shell),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With().Str("component", "session").Logger()

	return m
}

// Create creates a new Shell and returns it.
func (m *Manager) Create() *Shell {
	id := uuid.NewString()

	shell := NewShell(id, m.resolver, ShellConfig{
		ResumeForeground: m.cfg.ResumeForeground,
		ReapInterval:     m.cfg.JobReapInterval,
		Logger:           m.logger,
		Clock:            m.clock,
	})

	m.mu.Lock()
	m.shells[id] = shell
	m.mu.Unlock()

	m.logger.Info().Str("session_id", id).Msg("created session")

	return shell
}

// Get returns the Shell with the given id or ErrSessionNotFound if it
// doesn't exist.
func (m *Manager) Get(id string) (*Shell, error) {
	m.mu.Lock()
	shell, exists := m.shells[id]
	m.mu.Unlock()

	if !exists {
		return nil, ErrSessionNotFound
	}

	shell.touch()

	return shell, nil
}

// Sessions returns the ids of all open sessions in lexical order.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Sorted(maps.Keys(m.shells))
}

// Close closes the Shell with the given id, terminating its jobs.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	shell, exists := m.shells[id]
	delete(m.shells, id)
	m.mu.Unlock()

	if !exists {
		return ErrSessionNotFound
	}

	return shell.Close(ctx)
}

// Evict closes every Shell that has been idle for longer than the configured
// timeout and returns their ids. A Shell with open streams is never idle.
func (m *Manager) Evict(ctx context.Context) []string {
	if m.cfg.IdleTimeout <= 0 {
		return nil
	}

	now := m.clock.Now()

	m.mu.Lock()
	var idle []*Shell
	for id, shell := range m.shells {
		if !shell.Streaming() && now.Sub(shell.LastActive()) > m.cfg.IdleTimeout {
			idle = append(idle, shell)
			delete(m.shells, id)
		}
	}
	m.mu.Unlock()

	var evicted []string

	for _, shell := range idle {
		if err := shell.Close(ctx); err != nil {
			m.logger.Warn().
				Err(err).
				Str("session_id", shell.ID()).
				Msg("failed to close idle session")
		}

		m.logger.Info().
			Str("session_id", shell.ID()).
			Time("last_active", shell.LastActive()).
			Msg("evicted idle session")

		evicted = append(evicted, shell.ID())
	}

	slices.Sort(evicted)

	return evicted
}

// Run evicts idle sessions every ReapInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.ReapInterval <= 0 || m.cfg.IdleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict(ctx)
		}
	}
}

// Shutdown closes every Shell, terminating all jobs.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	shells := slices.Collect(maps.Values(m.shells))
	clear(m.shells)
	m.mu.Unlock()

	var wg sync.WaitGroup

	for _, shell := range shells {
		wg.Go(func() {
			if err := shell.Close(ctx); err != nil {
				// Best effort; the process is exiting.
				m.logger.Warn().
					Err(err).
					Str("session_id", shell.ID()).
					Msg("failed to close session")
			}
		})
	}

	wg.Wait()
}
