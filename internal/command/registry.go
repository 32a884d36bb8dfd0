// Package command resolves execution lines into the commands jobs run.
package command

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"
	"github.com/nixpig/jobcontrol/internal/jobcontrol"
)

var (
	ErrInvalidName = errors.New("invalid command name")
	ErrInvalidLine = errors.New("invalid execution line")
)

// Registry maps command names to commands. It implements
// jobcontrol.Resolver and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]jobcontrol.Command
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]jobcontrol.Command)}
}

// Register registers cmd under name, replacing any command already
// registered with that name.
func (r *Registry) Register(name string, cmd jobcontrol.Command) error {
	if name == "" || strings.ContainsFunc(name, isSpace) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.commands[name] = cmd

	return nil
}

// Unregister removes the command registered under name and reports whether
// there was one.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.commands[name]
	delete(r.commands, name)

	return ok
}

// Names returns the names of the registered commands in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.commands))
}

// Resolve splits line using shell quoting rules and looks up the command
// named by its first word. The remaining words are returned as arguments.
func (r *Registry) Resolve(line string) (jobcontrol.Command, []string, error) {
	argv, err := Split(line)
	if err != nil {
		return nil, nil, err
	}

	if len(argv) == 0 {
		return nil, nil, jobcontrol.ErrEmptyLine
	}

	r.mu.RLock()
	cmd, ok := r.commands[argv[0]]
	r.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", jobcontrol.ErrCommandNotFound, argv[0])
	}

	return cmd, argv[1:], nil
}

// Split splits line into words using shell quoting rules.
func Split(line string) ([]string, error) {
	argv, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLine, err)
	}

	return argv, nil
}

// Join quotes words so that Split returns them unchanged.
func Join(words ...string) string {
	return shellquote.Join(words...)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
