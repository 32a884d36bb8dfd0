package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/nixpig/jobcontrol/internal/command"
	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/nixpig/jobcontrol/internal/logging"
	"github.com/nixpig/jobcontrol/internal/session"
	"github.com/nixpig/jobcontrol/internal/shell"
	"github.com/spf13/cobra"
)

const closeTimeout = 5 * time.Second

type options struct {
	historyFile      string
	resumeForeground bool
	reapInterval     time.Duration
	welcome          string
	noColor          bool
	debug            bool
}

func rootCmd() *cobra.Command {
	opts := &options{}

	c := &cobra.Command{
		Use:          "jobshell",
		Short:        "Interactive job control shell",
		Long:         helpText,
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), opts)
		},
	}

	defaultHistory := ""
	if home, err := os.UserHomeDir(); err == nil {
		defaultHistory = filepath.Join(home, ".jobshell_history")
	}

	c.Flags().StringVar(&opts.historyFile, "history-file", defaultHistory, "Path to history file (empty disables history)")
	c.Flags().BoolVar(&opts.resumeForeground, "resume-foreground", true, "Resume stopped jobs into the foreground by default")
	c.Flags().DurationVar(&opts.reapInterval, "reap-interval", 0, "How often to reap terminated jobs (0 reaps only with 'reap')")
	c.Flags().StringVar(&opts.welcome, "welcome", "jobshell "+version+". Type 'exit' or 'logout' to leave.", "Message printed when the shell starts (empty disables it)")
	c.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored notifications")
	c.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logs")

	return c
}

const helpText = `Interactive job control shell.

Lines run builtin commands as jobs. A trailing '&' runs the job in the
background. While a job is in the foreground, typed lines are sent to its
input, Ctrl-C interrupts it, Ctrl-Z suspends it and Ctrl-D ends its input.

Job control: jobs, fg [%N], bg [%N], stop [%N], kill [%N], interrupt [%N],
reap, exit, logout. Tab completes command names.`

func runShell(ctx context.Context, opts *options) error {
	level := "warn"
	if opts.debug {
		level = "debug"
	}

	logger := logging.Configure(level, logging.Console(os.Stderr))

	registry := command.Builtins()

	sh := session.NewShell(uuid.NewString(), registry, session.ShellConfig{
		ResumeForeground: opts.resumeForeground,
		ReapInterval:     opts.reapInterval,
		Logger:           logger,
		Clock:            jobcontrol.SystemClock(),
	})

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		if err := sh.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to close shell")
		}
	}()

	r := &repl{sh: sh, prompt: prompt}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:              prompt,
		HistoryFile:         opts.historyFile,
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		AutoComplete:        completer{names: shell.NewCompleter(registry.Names(), shell.Builtins)},
		FuncFilterInputRune: r.filterInput,
	})
	if err != nil {
		return fmt.Errorf("initialise readline: %w", err)
	}
	defer rl.Close()

	if opts.noColor {
		color.NoColor = true
	}

	r.out = rl.Stdout()

	if opts.welcome != "" {
		fmt.Fprintln(r.out, opts.welcome)
	}

	r.setPrompt = func(p string) {
		rl.SetPrompt(p)
		rl.Refresh()
	}
	r.interp = shell.New(
		sh,
		rl.Stdout(),
		shell.WithJobOutput(rl.Stdout()),
		shell.WithNotifier(newNotifier(rl.Stdout())),
		shell.WithLogger(logger),
	)
	defer r.interp.Close()

	return r.run(ctx, rl)
}

func (r *repl) run(ctx context.Context, rl *readline.Instance) error {
	for ctx.Err() == nil {
		line, err := rl.Readline()

		switch {
		case errors.Is(err, readline.ErrInterrupt):
			r.interrupt()
			continue

		case errors.Is(err, io.EOF):
			if r.endInput() {
				continue
			}

			return nil

		case err != nil:
			return err
		}

		if err := r.handleLine(ctx, line); err != nil {
			if errors.Is(err, shell.ErrExit) {
				return nil
			}

			errorColor.Fprintf(r.out, "error: %v\n", err)
		}
	}

	return nil
}
