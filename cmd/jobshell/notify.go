package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/nixpig/jobcontrol/internal/shell"
)

var (
	errorColor   = color.New(color.FgRed)
	stoppedColor = color.New(color.FgYellow)
	doneColor    = color.New(color.FgGreen)
	failedColor  = color.New(color.FgRed, color.Bold)
)

// newNotifier reports background job status changes to w.
func newNotifier(w io.Writer) shell.Notifier {
	return func(job *jobcontrol.Job, u jobcontrol.StatusUpdate) {
		if msg, c := notification(job.Line(), u); msg != "" {
			c.Fprintln(w, msg)
		}
	}
}

func notification(line string, u jobcontrol.StatusUpdate) (string, *color.Color) {
	switch u.Status {
	case jobcontrol.StatusStopped:
		return fmt.Sprintf("[%d]+ Stopped\t%s", u.JobID, line), stoppedColor

	case jobcontrol.StatusTerminated:
		switch {
		case u.Err != nil:
			return fmt.Sprintf("[%d] Failed (%d)\t%s: %v", u.JobID, u.ExitCode, line, u.Err), failedColor
		case u.ExitCode != 0:
			return fmt.Sprintf("[%d] Exit %d\t%s", u.JobID, u.ExitCode, line), failedColor
		default:
			return fmt.Sprintf("[%d] Done\t%s", u.JobID, line), doneColor
		}
	}

	return "", nil
}
