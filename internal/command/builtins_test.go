package command_test

import (
	"context"
	"testing"
	"time"

	"github.com/nixpig/jobcontrol/internal/command"
	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/nixpig/jobcontrol/internal/pty"
	"github.com/nixpig/jobcontrol/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func newScheduler(t *testing.T, store jobcontrol.Store) *jobcontrol.Scheduler {
	t.Helper()

	s := jobcontrol.NewScheduler(command.Builtins(), jobcontrol.WithStore(store))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()

		s.Close(ctx)
	})

	return s
}

// runJob runs line in the foreground and returns the finished job and its
// output.
func runJob(
	t *testing.T,
	s *jobcontrol.Scheduler,
	line string,
	input string,
) (*jobcontrol.Job, string) {
	t.Helper()

	p := pty.New()

	job, err := s.CreateJob(line, p)
	require.NoError(t, err)

	if input != "" {
		p.WriteInput([]byte(input))
		p.CloseInput()
	}

	require.NoError(t, job.Run())

	select {
	case <-job.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("expected job '%s' to terminate", line)
	}

	p.Close()
	<-p.Done()

	return job, string(p.Output())
}

func TestBuiltins(t *testing.T) {
	t.Parallel()

	t.Run("Test exit codes and output", func(t *testing.T) {
		t.Parallel()

		scenarios := map[string]struct {
			line     string
			input    string
			exitCode int
			output   string
		}{
			"Echo":              {line: "echo hello   'big world'", output: "hello big world\n"},
			"Echo no args":      {line: "echo", output: "\n"},
			"True":              {line: "true"},
			"False":             {line: "false", exitCode: 1},
			"Exit code":         {line: "exit-code 42", exitCode: 42},
			"Exit code zero":    {line: "exit-code 0"},
			"Exit code invalid": {line: "exit-code x", exitCode: command.ExitCodeUsage, output: "usage: exit-code N\n"},
			"Sleep":             {line: "sleep 10ms"},
			"Sleep seconds":     {line: "sleep 0.01"},
			"Sleep invalid":     {line: "sleep soon", exitCode: command.ExitCodeUsage, output: "usage: sleep DURATION\n"},
			"Cat":               {line: "cat", input: "line one\nline two\n", output: "line one\nline two\n"},
		}

		for scenario, config := range scenarios {
			t.Run(scenario, func(t *testing.T) {
				t.Parallel()

				s := newScheduler(t, session.NewStore())

				job, output := runJob(t, s, config.line, config.input)

				assert.Equal(t, config.exitCode, job.ExitCode())
				assert.Equal(t, config.output, output)
			})
		}
	})

	t.Run("Test session store builtins", func(t *testing.T) {
		t.Parallel()

		store := session.NewStore()
		s := newScheduler(t, store)

		job, _ := runJob(t, s, "set greeting hello world", "")
		assert.Equal(t, 0, job.ExitCode())

		v, ok := store.Get("greeting")
		require.True(t, ok)
		assert.Equal(t, "hello world", v)

		job, output := runJob(t, s, "get greeting", "")
		assert.Equal(t, 0, job.ExitCode())
		assert.Equal(t, "hello world\n", output)

		job, _ = runJob(t, s, "unset greeting", "")
		assert.Equal(t, 0, job.ExitCode())

		job, output = runJob(t, s, "get greeting", "")
		assert.Equal(t, 1, job.ExitCode())
		assert.Empty(t, output)

		job, _ = runJob(t, s, "unset greeting", "")
		assert.Equal(t, 1, job.ExitCode())
	})

	t.Run("Test store builtins without session", func(t *testing.T) {
		t.Parallel()

		s := newScheduler(t, nil)

		job, _ := runJob(t, s, "get anything", "")
		assert.Equal(t, jobcontrol.ExitCodeFailure, job.ExitCode())
		assert.ErrorIs(t, job.Err(), command.ErrNoSession)
	})

	t.Run("Test yes is interruptible", func(t *testing.T) {
		t.Parallel()

		s := newScheduler(t, nil)

		p := pty.New()
		defer p.Close()

		job, err := s.CreateJob("yes ok", p)
		require.NoError(t, err)
		require.NoError(t, job.Run())

		require.Eventually(t, func() bool {
			return len(p.Output()) >= len("ok\nok\n")
		}, waitTimeout, time.Millisecond)

		require.True(t, job.Interrupt())

		select {
		case <-job.Done():
		case <-time.After(waitTimeout):
			t.Fatal("expected yes to stop after interrupt")
		}

		assert.Equal(t, jobcontrol.ExitCodeInterrupted, job.ExitCode())
		assert.Contains(t, string(p.Output()), "ok\nok\n")
	})

	t.Run("Test cat is interruptible while waiting for input", func(t *testing.T) {
		t.Parallel()

		s := newScheduler(t, nil)

		p := pty.New()
		defer p.Close()

		job, err := s.CreateJob("cat", p)
		require.NoError(t, err)
		require.NoError(t, job.Run())

		p.WriteInput([]byte("first\n"))

		require.Eventually(t, func() bool {
			return string(p.Output()) == "first\n"
		}, waitTimeout, time.Millisecond)

		require.True(t, job.Interrupt())

		select {
		case <-job.Done():
		case <-time.After(waitTimeout):
			t.Fatal("expected cat to stop after interrupt")
		}

		assert.Equal(t, jobcontrol.ExitCodeInterrupted, job.ExitCode())
	})

	t.Run("Test sleep pauses while suspended", func(t *testing.T) {
		t.Parallel()

		s := newScheduler(t, nil)

		p := pty.New()
		defer p.Close()

		job, err := s.CreateJob("sleep 50ms", p)
		require.NoError(t, err)
		require.NoError(t, job.Run())
		require.NoError(t, job.Suspend())

		select {
		case <-job.Done():
			t.Fatal("expected suspended sleep not to finish")
		case <-time.After(150 * time.Millisecond):
		}

		require.NoError(t, job.Resume(true))

		select {
		case <-job.Done():
		case <-time.After(waitTimeout):
			t.Fatal("expected sleep to finish after resume")
		}

		assert.Equal(t, 0, job.ExitCode())
	})
}
