package command

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nixpig/jobcontrol/internal/jobcontrol"
)

const (
	// ExitCodeUsage is returned by a builtin called with bad arguments.
	ExitCodeUsage = 2

	sleepStep   = 10 * time.Millisecond
	yesInterval = 10 * time.Millisecond
)

var ErrNoSession = errors.New("no session store")

// Builtins returns a Registry holding the builtin commands.
func Builtins() *Registry {
	r := NewRegistry()

	for name, cmd := range map[string]jobcontrol.CommandFunc{
		"echo":      echo,
		"sleep":     sleep,
		"cat":       cat,
		"yes":       yes,
		"true":      func(*jobcontrol.Process) error { return nil },
		"false":     func(*jobcontrol.Process) error { return jobcontrol.Exit(1) },
		"exit-code": exitCode,
		"get":       get,
		"set":       set,
		"unset":     unset,
	} {
		// Builtin names are always valid.
		_ = r.Register(name, cmd)
	}

	return r
}

func usage(p *jobcontrol.Process, text string) error {
	p.Printf("usage: %s\n", text)
	return jobcontrol.Exit(ExitCodeUsage)
}

func echo(p *jobcontrol.Process) error {
	_, err := p.Printf("%s\n", strings.Join(p.Args(), " "))
	return err
}

// sleep waits for the given duration, which is either a Go duration or a
// number of seconds. Time spent suspended is not counted.
func sleep(p *jobcontrol.Process) error {
	if len(p.Args()) != 1 {
		return usage(p, "sleep DURATION")
	}

	d, err := parseDuration(p.Args()[0])
	if err != nil {
		return usage(p, "sleep DURATION")
	}

	for remaining := d; remaining > 0; {
		if err := p.Checkpoint(); err != nil {
			return err
		}

		step := min(remaining, sleepStep)

		select {
		case <-p.Context().Done():
			return p.Context().Err()
		case <-time.After(step):
		}

		remaining -= step
	}

	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	return time.Duration(secs * float64(time.Second)), nil
}

// cat copies input to output until the input ends.
func cat(p *jobcontrol.Process) error {
	buf := make([]byte, 4096)

	for {
		if err := p.Checkpoint(); err != nil {
			return err
		}

		n, err := p.Stdin().Read(buf)
		if n > 0 {
			if _, werr := p.Stdout().Write(buf[:n]); werr != nil {
				return werr
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}
	}
}

// yes repeatedly writes its arguments, or "y", until interrupted.
func yes(p *jobcontrol.Process) error {
	line := "y"
	if len(p.Args()) > 0 {
		line = strings.Join(p.Args(), " ")
	}

	ticker := time.NewTicker(yesInterval)
	defer ticker.Stop()

	for {
		if err := p.Checkpoint(); err != nil {
			return err
		}

		if _, err := p.Printf("%s\n", line); err != nil {
			return err
		}

		select {
		case <-p.Context().Done():
			return p.Context().Err()
		case <-ticker.C:
		}
	}
}

func exitCode(p *jobcontrol.Process) error {
	if len(p.Args()) != 1 {
		return usage(p, "exit-code N")
	}

	code, err := strconv.Atoi(p.Args()[0])
	if err != nil || code < 0 || code > 255 {
		return usage(p, "exit-code N")
	}

	return jobcontrol.Exit(code)
}

func get(p *jobcontrol.Process) error {
	if len(p.Args()) != 1 {
		return usage(p, "get KEY")
	}

	store := p.Session()
	if store == nil {
		return ErrNoSession
	}

	v, ok := store.Get(p.Args()[0])
	if !ok {
		return jobcontrol.Exit(1)
	}

	_, err := p.Printf("%v\n", v)
	return err
}

func set(p *jobcontrol.Process) error {
	if len(p.Args()) < 2 {
		return usage(p, "set KEY VALUE...")
	}

	store := p.Session()
	if store == nil {
		return ErrNoSession
	}

	store.Put(p.Args()[0], strings.Join(p.Args()[1:], " "))

	return nil
}

func unset(p *jobcontrol.Process) error {
	if len(p.Args()) != 1 {
		return usage(p, "unset KEY")
	}

	store := p.Session()
	if store == nil {
		return ErrNoSession
	}

	if _, ok := store.Remove(p.Args()[0]); !ok {
		return jobcontrol.Exit(1)
	}

	return nil
}
