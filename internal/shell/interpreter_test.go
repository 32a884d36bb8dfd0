package shell_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nixpig/jobcontrol/internal/command"
	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/nixpig/jobcontrol/internal/session"
	"github.com/nixpig/jobcontrol/internal/shell"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// syncBuffer is a bytes.Buffer safe for concurrent writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func newTestInterpreter(
	t *testing.T,
	opts ...shell.Option,
) (*shell.Interpreter, *session.Shell, *syncBuffer) {
	t.Helper()

	sh := session.NewShell("test", command.Builtins(), session.ShellConfig{
		ResumeForeground: true,
		Logger:           zerolog.Nop(),
	})

	out := &syncBuffer{}
	i := shell.New(sh, out, opts...)

	t.Cleanup(func() {
		i.Close()

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()

		sh.Close(ctx)
	})

	return i, sh, out
}

func wait(t *testing.T, i *shell.Interpreter, job *jobcontrol.Job) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	require.NoError(t, i.Wait(ctx, job))
}

func TestInterpreter(t *testing.T) {
	t.Parallel()

	t.Run("Test foreground job", func(t *testing.T) {
		t.Parallel()

		output := &syncBuffer{}
		i, _, _ := newTestInterpreter(t, shell.WithJobOutput(output))

		job, err := i.Execute("echo 'hello there'")
		require.NoError(t, err)
		require.NotNil(t, job)

		wait(t, i, job)

		require.Eventually(t, func() bool {
			return output.String() == "hello there\n"
		}, waitTimeout, time.Millisecond)
	})

	t.Run("Test background job", func(t *testing.T) {
		t.Parallel()

		i, sh, out := newTestInterpreter(t)

		job, err := i.Execute("sleep 10s &")
		require.NoError(t, err)
		assert.Nil(t, job, "expected no foreground job")

		assert.Equal(t, "[1] sleep 10s\n", out.String())

		bg, err := sh.Job(1)
		require.NoError(t, err)
		assert.Equal(t, jobcontrol.StatusRunning, bg.Status())
		assert.False(t, bg.Foreground())
		assert.Equal(t, "sleep 10s", bg.Line())
	})

	t.Run("Test stop, bg and fg", func(t *testing.T) {
		t.Parallel()

		i, sh, out := newTestInterpreter(t)

		job, err := i.Execute("sleep 10s")
		require.NoError(t, err)
		require.NotNil(t, job)

		_, err = i.Execute("stop %1")
		require.NoError(t, err)

		wait(t, i, job)
		assert.Equal(t, jobcontrol.StatusStopped, job.Status())

		_, err = i.Execute("bg")
		require.NoError(t, err)
		assert.Equal(t, jobcontrol.StatusRunning, job.Status())
		assert.False(t, job.Foreground())
		assert.Contains(t, out.String(), "[1] sleep 10s &\n")

		fg, err := i.Execute("fg 1")
		require.NoError(t, err)
		assert.Same(t, job, fg)
		assert.Same(t, job, sh.Scheduler().ForegroundJob())
	})

	t.Run("Test kill and interrupt", func(t *testing.T) {
		t.Parallel()

		i, _, _ := newTestInterpreter(t)

		_, err := i.Execute("sleep 10s &")
		require.NoError(t, err)

		_, err = i.Execute("yes &")
		require.NoError(t, err)

		_, err = i.Execute("kill %1")
		require.NoError(t, err)

		_, err = i.Execute("interrupt")
		require.NoError(t, err, "expected interrupt to target the current job")

		_, err = i.Execute("interrupt %1")

		var stateErr jobcontrol.IllegalStateError
		assert.ErrorAs(t, err, &stateErr)
	})

	t.Run("Test jobs and reap", func(t *testing.T) {
		t.Parallel()

		i, _, out := newTestInterpreter(t)

		job, err := i.Execute("exit-code 3")
		require.NoError(t, err)
		wait(t, i, job)

		_, err = i.Execute("sleep 10s &")
		require.NoError(t, err)

		_, err = i.Execute("jobs")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 3)
		assert.Regexp(t, `^\[1\]\s+Terminated \(3\)\s+exit-code 3$`, lines[1])
		assert.Regexp(t, `^\[2\]\s+Running\s+sleep 10s$`, lines[2])

		require.Eventually(t, func() bool {
			_, err := i.Execute("reap")
			return err == nil && strings.Contains(out.String(), "[1] Done (3) exit-code 3")
		}, waitTimeout, time.Millisecond)
	})

	t.Run("Test notifier", func(t *testing.T) {
		t.Parallel()

		var (
			mu       sync.Mutex
			statuses []jobcontrol.Status
		)

		i, _, _ := newTestInterpreter(t, shell.WithNotifier(
			func(_ *jobcontrol.Job, u jobcontrol.StatusUpdate) {
				mu.Lock()
				statuses = append(statuses, u.Status)
				mu.Unlock()
			},
		))

		_, err := i.Execute("true &")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()

			return len(statuses) == 2
		}, waitTimeout, time.Millisecond)

		assert.Equal(t, []jobcontrol.Status{
			jobcontrol.StatusRunning,
			jobcontrol.StatusTerminated,
		}, statuses)
	})

	t.Run("Test errors", func(t *testing.T) {
		t.Parallel()

		i, _, _ := newTestInterpreter(t)

		scenarios := map[string]struct {
			line string
			err  error
		}{
			"Exit":            {line: "exit", err: shell.ErrExit},
			"Logout":          {line: "logout", err: shell.ErrExit},
			"No current job":  {line: "fg", err: shell.ErrNoCurrentJob},
			"Invalid job id":  {line: "kill %x", err: shell.ErrInvalidJobID},
			"Too many ids":    {line: "stop 1 2", err: shell.ErrInvalidJobID},
			"Unknown job":     {line: "fg %9", err: jobcontrol.ErrJobNotFound},
			"Unknown command": {line: "frobnicate", err: jobcontrol.ErrCommandNotFound},
		}

		for scenario, config := range scenarios {
			t.Run(scenario, func(t *testing.T) {
				_, err := i.Execute(config.line)
				assert.ErrorIs(t, err, config.err)
			})
		}

		job, err := i.Execute("   ")
		assert.NoError(t, err)
		assert.Nil(t, job)
	})
}
