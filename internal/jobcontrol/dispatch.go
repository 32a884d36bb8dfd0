package jobcontrol

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StatusUpdate is a snapshot of a Job taken when a status transition was
// committed.
type StatusUpdate struct {
	JobID       int
	Status      Status
	Previous    Status
	Foreground  bool
	ExitCode    int
	LastStopped time.Time
	// Err is the failure reason of a terminated job, if any.
	Err error
}

// StatusHandler is called with every status transition of a Job.
type StatusHandler func(StatusUpdate)

type delivery struct {
	job     *Job
	handler StatusHandler
	update  StatusUpdate
}

// dispatcher delivers status updates on a single goroutine, in the order the
// transitions were committed. A handler that triggers another transition
// only enqueues the resulting update, which is delivered after the handler
// returns.
type dispatcher struct {
	logger zerolog.Logger

	// NOTE: The queue is unbounded so the scheduler loop never blocks on a
	// slow handler.
	queue  []delivery
	closed bool

	done chan struct{}
	mu   sync.Mutex
	cond sync.Cond
}

func newDispatcher(logger zerolog.Logger) *dispatcher {
	d := &dispatcher{
		logger: logger,
		done:   make(chan struct{}),
	}

	d.cond.L = &d.mu

	go d.run()

	return d
}

func (d *dispatcher) enqueue(dl delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	d.queue = append(d.queue, dl)
	d.cond.Signal()
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()

		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}

		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}

		dl := d.queue[0]
		d.queue[0] = delivery{}
		d.queue = d.queue[1:]

		d.mu.Unlock()

		d.deliver(dl)
	}
}

func (d *dispatcher) deliver(dl delivery) {
	if dl.handler != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error().
						Int("job_id", dl.update.JobID).
						Stringer("status", dl.update.Status).
						Interface("panic", r).
						Msg("status handler panicked")
				}
			}()

			dl.handler(dl.update)
		}()
	}

	if dl.update.Status.Terminal() {
		dl.job.acked.Store(true)
	}
}

// close stops accepting updates and waits for the queued ones to be
// delivered, or for ctx to be done.
func (d *dispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
