package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	api "github.com/nixpig/jobcontrol/api/v1"
	cmdline "github.com/nixpig/jobcontrol/internal/command"
	"github.com/nixpig/jobcontrol/internal/tlsconfig"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const version = "0.1.0"

// sessionEnv names the environment variable holding the default session.
const sessionEnv = "JOBCTL_SESSION"

type config struct {
	serverHostname string
	serverPort     string
	caCertPath     string
	certPath       string
	keyPath        string
	insecure       bool
	session        string
}

type cli struct {
	client api.JobControlClient
	conn   *grpc.ClientConn
	cfg    config
}

func newCLI() *cli {
	return &cli{}
}

func (c *cli) connect() error {
	creds := insecure.NewCredentials()

	if !c.cfg.insecure {
		tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
			CertPath:   c.cfg.certPath,
			KeyPath:    c.cfg.keyPath,
			CACertPath: c.cfg.caCertPath,
			ServerName: c.cfg.serverHostname,
		})
		if err != nil {
			return err
		}

		creds = credentials.NewTLS(tlsConfig)
	}

	conn, err := grpc.NewClient(
		net.JoinHostPort(c.cfg.serverHostname, c.cfg.serverPort),
		grpc.WithTransportCredentials(creds),
	)
	if err != nil {
		return err
	}

	c.conn = conn
	c.client = api.NewJobControlClient(conn)

	return nil
}

// close closes the connection to the server, if one was opened. It is called
// once the command has finished, whether or not it failed.
func (c *cli) close() error {
	if c.conn == nil {
		return nil
	}

	conn := c.conn
	c.conn = nil

	return conn.Close()
}

func (c *cli) rootCmd() *cobra.Command {
	command := &cobra.Command{
		Use:          "jobctl",
		Short:        "CLI for controlling jobs on a jobserver",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.client != nil {
				return nil
			}

			return c.connect()
		},
	}

	command.AddCommand(
		c.sessionCmd(),
		c.createCmd(),
		c.startCmd(),
		c.runCmd(),
		c.suspendCmd(),
		c.resumeCmd(),
		c.interruptCmd(),
		c.terminateCmd(),
		c.fgCmd(),
		c.bgCmd(),
		c.statusCmd(),
		c.listCmd(),
		c.reapCmd(),
		c.inputCmd(),
		c.watchCmd(),
		c.streamCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	flags := command.PersistentFlags()

	flags.StringVar(&c.cfg.serverHostname, "server-hostname", "localhost", "Server hostname")
	flags.StringVar(&c.cfg.serverPort, "server-port", "8443", "Server port")

	flags.StringVar(
		&c.cfg.certPath,
		"cert-path",
		"certs/client-operator.crt",
		"Path to client TLS certificate",
	)

	flags.StringVar(
		&c.cfg.keyPath,
		"key-path",
		"certs/client-operator.key",
		"Path to client TLS private key",
	)

	flags.StringVar(
		&c.cfg.caCertPath,
		"ca-cert-path",
		"certs/ca.crt",
		"Path to CA certificate for mTLS",
	)

	flags.BoolVar(&c.cfg.insecure, "insecure", false, "Connect without TLS")

	flags.StringVarP(
		&c.cfg.session,
		"session",
		"s",
		os.Getenv(sessionEnv),
		"Session id (defaults to $"+sessionEnv+")",
	)

	return command
}

func (c *cli) sessionID() (string, error) {
	if c.cfg.session == "" {
		return "", fmt.Errorf("no session: pass --session or set %s", sessionEnv)
	}

	return c.cfg.session, nil
}

// jobRef builds a reference to the job id in arg within the current session.
func (c *cli) jobRef(arg string) (*api.JobRef, error) {
	sid, err := c.sessionID()
	if err != nil {
		return nil, err
	}

	id, err := parseJobID(arg)
	if err != nil {
		return nil, err
	}

	return &api.JobRef{SessionID: sid, JobID: id}, nil
}

// parseJobID accepts a job id as N or %N.
func parseJobID(arg string) (int, error) {
	if len(arg) > 0 && arg[0] == '%' {
		arg = arg[1:]
	}

	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}

	return id, nil
}

func (c *cli) sessionCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}

	command.AddCommand(
		&cobra.Command{
			Use:     "create",
			Short:   "Create a new session and print its id",
			Example: "  export JOBCTL_SESSION=$(jobctl session create)",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := c.client.CreateSession(cmd.Context(), &api.Empty{})
				if err != nil {
					return mapError(err)
				}

				fmt.Fprintln(cmd.OutOrStdout(), resp.SessionID)

				return nil
			},
		},
		&cobra.Command{
			Use:   "close",
			Short: "Close the session, terminating its jobs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				sid, err := c.sessionID()
				if err != nil {
					return err
				}

				if _, err := c.client.CloseSession(
					cmd.Context(),
					&api.SessionRef{SessionID: sid},
				); err != nil {
					return mapError(err)
				}

				return nil
			},
		},
	)

	return command
}

func (c *cli) createJob(cmd *cobra.Command, args []string) (*api.JobStatus, error) {
	sid, err := c.sessionID()
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateJob(
		cmd.Context(),
		&api.CreateJobRequest{SessionID: sid, Line: cmdline.Join(args...)},
	)
	if err != nil {
		return nil, mapError(err)
	}

	return resp, nil
}

func (c *cli) createCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "create [flags] COMMAND [ARGS]",
		Short:   "Create a job without running it and print its id",
		Example: "  jobctl create sleep 30",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.createJob(cmd, args)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)

			return nil
		},
	}

	command.Flags().SetInterspersed(false)

	return command
}

func (c *cli) startCmd() *cobra.Command {
	var background bool

	command := &cobra.Command{
		Use:     "start [flags] COMMAND [ARGS]",
		Short:   "Create and run a job and print its id",
		Example: "  jobctl start --background yes",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := c.createJob(cmd, args)
			if err != nil {
				return err
			}

			if _, err := c.client.RunJob(cmd.Context(), &api.RunJobRequest{
				SessionID:  c.cfg.session,
				JobID:      created.JobID,
				Background: background,
			}); err != nil {
				return mapError(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), created.JobID)

			return nil
		},
	}

	// Stop parsing args after first position so that flags passed to the
	// command are passed as-is, e.g. `-n` is an argument to `echo` _not_ to
	// `jobctl start`:
	//	`jobctl start echo -n hello`
	command.Flags().SetInterspersed(false)
	command.Flags().BoolVarP(&background, "background", "b", false, "Run the job in the background")

	return command
}

func (c *cli) runCmd() *cobra.Command {
	var background bool

	command := &cobra.Command{
		Use:     "run [flags] JOB_ID",
		Short:   "Run a created job",
		Example: "  jobctl run 1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.jobRef(args[0])
			if err != nil {
				return err
			}

			resp, err := c.client.RunJob(cmd.Context(), &api.RunJobRequest{
				SessionID:  ref.SessionID,
				JobID:      ref.JobID,
				Background: background,
			})
			if err != nil {
				return mapError(err)
			}

			return printStatuses(cmd.OutOrStdout(), resp)
		},
	}

	command.Flags().BoolVarP(&background, "background", "b", false, "Run the job in the background")

	return command
}

// controlCmd builds a command that applies op to a single job and prints its
// resulting status.
func (c *cli) controlCmd(
	use, short string,
	op func(cmd *cobra.Command, ref *api.JobRef) (*api.JobStatus, error),
) *cobra.Command {
	return &cobra.Command{
		Use:     use + " [flags] JOB_ID",
		Short:   short,
		Example: "  jobctl " + use + " 1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.jobRef(args[0])
			if err != nil {
				return err
			}

			resp, err := op(cmd, ref)
			if err != nil {
				return mapError(err)
			}

			return printStatuses(cmd.OutOrStdout(), resp)
		},
	}
}

func (c *cli) suspendCmd() *cobra.Command {
	return c.controlCmd("suspend", "Suspend a running job",
		func(cmd *cobra.Command, ref *api.JobRef) (*api.JobStatus, error) {
			return c.client.SuspendJob(cmd.Context(), ref)
		})
}

func (c *cli) resumeCmd() *cobra.Command {
	var foreground, background bool

	command := c.controlCmd("resume", "Resume a stopped job",
		func(cmd *cobra.Command, ref *api.JobRef) (*api.JobStatus, error) {
			req := &api.ResumeJobRequest{SessionID: ref.SessionID, JobID: ref.JobID}

			switch {
			case foreground:
				req.Foreground = &foreground
			case background:
				fg := false
				req.Foreground = &fg
			}

			return c.client.ResumeJob(cmd.Context(), req)
		})

	command.Flags().BoolVar(&foreground, "foreground", false, "Resume into the foreground")
	command.Flags().BoolVar(&background, "background", false, "Resume into the background")
	command.MarkFlagsMutuallyExclusive("foreground", "background")

	return command
}

func (c *cli) interruptCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "interrupt [flags] JOB_ID",
		Short:   "Request a running job to stop",
		Example: "  jobctl interrupt 1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.jobRef(args[0])
			if err != nil {
				return err
			}

			resp, err := c.client.InterruptJob(cmd.Context(), ref)
			if err != nil {
				return mapError(err)
			}

			if !resp.Accepted {
				return errors.New("job is not running")
			}

			return nil
		},
	}
}

func (c *cli) terminateCmd() *cobra.Command {
	command := c.controlCmd("terminate", "Forcibly terminate a job",
		func(cmd *cobra.Command, ref *api.JobRef) (*api.JobStatus, error) {
			return c.client.TerminateJob(cmd.Context(), ref)
		})

	command.Aliases = []string{"kill"}

	return command
}

func (c *cli) fgCmd() *cobra.Command {
	return c.controlCmd("fg", "Move a running job to the foreground",
		func(cmd *cobra.Command, ref *api.JobRef) (*api.JobStatus, error) {
			return c.client.ForegroundJob(cmd.Context(), ref)
		})
}

func (c *cli) bgCmd() *cobra.Command {
	return c.controlCmd("bg", "Move the foreground job to the background",
		func(cmd *cobra.Command, ref *api.JobRef) (*api.JobStatus, error) {
			return c.client.BackgroundJob(cmd.Context(), ref)
		})
}

func (c *cli) statusCmd() *cobra.Command {
	return c.controlCmd("status", "Query status of job",
		func(cmd *cobra.Command, ref *api.JobRef) (*api.JobStatus, error) {
			return c.client.QueryJob(cmd.Context(), ref)
		})
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List the jobs of the session",
		Example: "  jobctl list",
		Aliases: []string{"jobs"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := c.sessionID()
			if err != nil {
				return err
			}

			resp, err := c.client.ListJobs(cmd.Context(), &api.SessionRef{SessionID: sid})
			if err != nil {
				return mapError(err)
			}

			return printStatuses(cmd.OutOrStdout(), pointers(resp.Jobs)...)
		},
	}
}

func (c *cli) reapCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "reap",
		Short:   "Remove terminated jobs from the session and list them",
		Example: "  jobctl reap",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := c.sessionID()
			if err != nil {
				return err
			}

			resp, err := c.client.ReapJobs(cmd.Context(), &api.SessionRef{SessionID: sid})
			if err != nil {
				return mapError(err)
			}

			return printStatuses(cmd.OutOrStdout(), pointers(resp.Jobs)...)
		},
	}
}

func (c *cli) inputCmd() *cobra.Command {
	var closeInput bool

	command := &cobra.Command{
		Use:     "input [flags] JOB_ID [DATA]",
		Short:   "Write input to a job, reading standard input if no DATA is given",
		Example: "  jobctl input --close 1 'hello'\n  cat file | jobctl input --close 1",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.jobRef(args[0])
			if err != nil {
				return err
			}

			var data []byte
			if len(args) == 2 {
				data = []byte(args[1])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}
			}

			if _, err := c.client.WriteInput(cmd.Context(), &api.WriteInputRequest{
				SessionID:  ref.SessionID,
				JobID:      ref.JobID,
				Data:       data,
				CloseInput: closeInput,
			}); err != nil {
				return mapError(err)
			}

			return nil
		},
	}

	command.Flags().BoolVar(&closeInput, "close", false, "End the job's input after writing")

	return command
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "watch [flags] JOB_ID",
		Short:   "Print status updates of a job until it terminates",
		Example: "  jobctl watch 1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.jobRef(args[0])
			if err != nil {
				return err
			}

			stream, err := c.client.WatchJob(cmd.Context(), ref)
			if err != nil {
				return mapError(err)
			}

			for {
				resp, err := stream.Recv()
				if err != nil {
					if err == io.EOF || status.Code(err) == codes.Canceled {
						return nil
					}

					return mapError(err)
				}

				fmt.Fprintln(cmd.OutOrStdout(), formatUpdate(resp))
			}
		},
	}
}

func (c *cli) streamCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "stream [flags] JOB_ID",
		Short:   "Stream job output",
		Example: "  jobctl stream 1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.jobRef(args[0])
			if err != nil {
				return err
			}

			stream, err := c.client.StreamJobOutput(cmd.Context(), ref)
			if err != nil {
				return mapError(err)
			}

			for {
				resp, err := stream.Recv()
				if err != nil {
					if err == io.EOF {
						break
					}

					if status.Code(err) == codes.Canceled {
						break
					}

					return mapError(err)
				}

				cmd.OutOrStdout().Write(resp.Data)
			}

			return nil
		},
	}

	return command
}

func pointers(statuses []api.JobStatus) []*api.JobStatus {
	ptrs := make([]*api.JobStatus, len(statuses))
	for i := range statuses {
		ptrs[i] = &statuses[i]
	}

	return ptrs
}

// printStatuses writes statuses as a table.
func printStatuses(out io.Writer, statuses ...*api.JobStatus) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "ID\tSTATUS\tFG\tEXIT CODE\tLAST STOPPED\tLINE\t\n")

	for _, st := range statuses {
		fg := ""
		if st.Foreground {
			fg = "+"
		}

		exitCode := ""
		if st.Status == "Terminated" {
			exitCode = strconv.Itoa(st.ExitCode)
		}

		fmt.Fprintf(
			w,
			"%d\t%s\t%s\t%s\t%s\t%s\t\n",
			st.JobID,
			st.Status,
			fg,
			exitCode,
			formatTime(st.LastStopped),
			st.Line,
		)
	}

	return w.Flush()
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}

	return time.UnixMilli(ms).Format(time.RFC3339)
}

func formatUpdate(st *api.JobStatus) string {
	s := fmt.Sprintf("[%d] %s -> %s", st.JobID, st.Previous, st.Status)

	if st.Status == "Terminated" {
		s += fmt.Sprintf(" (%d)", st.ExitCode)
	}

	if st.Error != "" {
		s += ": " + st.Error
	}

	return s
}

// mapError translates gRPC errors to human-readable messages.
func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("not found: %s", st.Message())
	case codes.PermissionDenied:
		return errors.New("permission denied")
	case codes.Unauthenticated:
		return errors.New("not authenticated")
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%s", st.Message())
	case codes.Unavailable:
		return errors.New("server unavailable")
	default:
		return fmt.Errorf("%s", st.Message())
	}
}
