package jobcontrol_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// testTty is a Tty that records output and serves canned input.
type testTty struct {
	mu  sync.Mutex
	in  bytes.Buffer
	out bytes.Buffer
}

func (t *testTty) Read(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.in.Read(b)
}

func (t *testTty) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.out.Write(b)
}

func (t *testTty) output() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.out.String()
}

type testResolver map[string]jobcontrol.Command

func (r testResolver) Resolve(line string) (jobcontrol.Command, []string, error) {
	fields := strings.Fields(line)

	cmd, ok := r[fields[0]]
	if !ok {
		return nil, nil, jobcontrol.ErrCommandNotFound
	}

	return cmd, fields[1:], nil
}

var errBoom = errors.New("boom")

func testCommands() testResolver {
	return testResolver{
		"echo": jobcontrol.CommandFunc(func(p *jobcontrol.Process) error {
			_, err := p.Printf("%s\n", strings.Join(p.Args(), " "))
			return err
		}),
		// block runs until interrupted, honouring suspension.
		"block": jobcontrol.CommandFunc(func(p *jobcontrol.Process) error {
			for {
				if err := p.Checkpoint(); err != nil {
					return err
				}

				select {
				case <-p.Context().Done():
					return p.Context().Err()
				case <-time.After(5 * time.Millisecond):
				}
			}
		}),
		"fail": jobcontrol.CommandFunc(func(p *jobcontrol.Process) error {
			return errBoom
		}),
		"exit": jobcontrol.CommandFunc(func(p *jobcontrol.Process) error {
			return jobcontrol.Exit(3)
		}),
		"panic": jobcontrol.CommandFunc(func(p *jobcontrol.Process) error {
			panic("oops")
		}),
		"read": jobcontrol.CommandFunc(func(p *jobcontrol.Process) error {
			buf := make([]byte, 64)

			n, err := p.Stdin().Read(buf)
			if err != nil {
				return err
			}

			_, err = p.Stdout().Write(buf[:n])
			return err
		}),
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func newTestScheduler(
	t *testing.T,
	opts ...jobcontrol.Option,
) *jobcontrol.Scheduler {
	t.Helper()

	s := jobcontrol.NewScheduler(testCommands(), opts...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()

		s.Close(ctx)
	})

	return s
}

// recorder collects the status updates delivered for a job.
type recorder struct {
	mu      sync.Mutex
	updates []jobcontrol.StatusUpdate
}

func (r *recorder) handle(u jobcontrol.StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updates = append(r.updates, u)
}

func (r *recorder) get() []jobcontrol.StatusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]jobcontrol.StatusUpdate(nil), r.updates...)
}

func (r *recorder) statuses() []jobcontrol.Status {
	var got []jobcontrol.Status

	for _, u := range r.get() {
		got = append(got, u.Status)
	}

	return got
}

func (r *recorder) waitFor(t *testing.T, n int) []jobcontrol.StatusUpdate {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(r.get()) >= n
	}, waitTimeout, time.Millisecond, "expected %d status updates", n)

	return r.get()
}

func newRecordedJob(
	t *testing.T,
	s *jobcontrol.Scheduler,
	line string,
) (*jobcontrol.Job, *testTty, *recorder) {
	t.Helper()

	tty := &testTty{}

	rec := &recorder{}

	job, err := s.CreateJob(line, tty, jobcontrol.WithStatusHandler(rec.handle))
	require.NoError(t, err)

	return job, tty, rec
}

func waitDone(t *testing.T, job *jobcontrol.Job) {
	t.Helper()

	select {
	case <-job.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("expected job %d to terminate: status '%s'", job.ID(), job.Status())
	}
}
