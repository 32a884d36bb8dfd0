// Command jobctl controls the jobs of a session on a jobserver.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the exit status when jobctl is stopped by a signal.
const exitInterrupted = 130

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		os.Interrupt,
	)

	c := newCLI()

	err := c.rootCmd().ExecuteContext(ctx)

	c.close()
	stop()

	os.Exit(exitStatus(ctx, err))
}

// exitStatus returns the process exit status for the result of running a
// command under ctx.
func exitStatus(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return 0
	case ctx.Err() != nil:
		return exitInterrupted
	default:
		return 1
	}
}
