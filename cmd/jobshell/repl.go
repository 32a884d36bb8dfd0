package main

import (
	"context"
	"io"

	"github.com/chzyer/readline"
	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/nixpig/jobcontrol/internal/session"
	"github.com/nixpig/jobcontrol/internal/shell"
)

const prompt = "jobshell$ "

// repl routes terminal input either to the interpreter or, while a job runs
// in the foreground, to that job.
type repl struct {
	sh        *session.Shell
	interp    *shell.Interpreter
	out       io.Writer
	prompt    string
	setPrompt func(string)
}

// foreground returns the job currently running in the foreground, if any.
func (r *repl) foreground() *jobcontrol.Job {
	job := r.sh.Scheduler().ForegroundJob()
	if job == nil || job.Status() != jobcontrol.StatusRunning {
		return nil
	}

	return job
}

func (r *repl) handleLine(ctx context.Context, line string) error {
	if job := r.foreground(); job != nil {
		return r.sh.WriteInput(job.ID(), []byte(line+"\n"))
	}

	job, err := r.interp.Execute(line)
	if err != nil {
		return err
	}

	if job != nil {
		r.attach(ctx, job)
	}

	return nil
}

// attach hides the prompt until job leaves the foreground.
func (r *repl) attach(ctx context.Context, job *jobcontrol.Job) {
	r.setPrompt("")

	go func() {
		// Wait only fails when ctx is done, and the prompt is restored
		// either way.
		_ = r.interp.Wait(ctx, job)

		r.setPrompt(r.prompt)
	}()
}

func (r *repl) interrupt() {
	if job := r.foreground(); job != nil {
		job.Interrupt()
	}
}

// endInput closes the input of the foreground job. It reports false if
// there is no foreground job.
func (r *repl) endInput() bool {
	job := r.foreground()
	if job == nil {
		return false
	}

	if err := r.sh.CloseInput(job.ID()); err != nil {
		errorColor.Fprintf(r.out, "error: %v\n", err)
	}

	return true
}

// filterInput suspends the foreground job on Ctrl-Z instead of passing the
// key to readline.
func (r *repl) filterInput(key rune) (rune, bool) {
	if key != readline.CharCtrlZ {
		return key, true
	}

	if job := r.foreground(); job != nil {
		if err := job.Suspend(); err != nil && r.out != nil {
			errorColor.Fprintf(r.out, "error: %v\n", err)
		}
	}

	return key, false
}
