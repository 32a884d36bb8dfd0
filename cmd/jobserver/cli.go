package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/nixpig/jobcontrol/certs"
	"github.com/nixpig/jobcontrol/internal/command"
	"github.com/nixpig/jobcontrol/internal/config"
	"github.com/nixpig/jobcontrol/internal/logging"
	"github.com/nixpig/jobcontrol/internal/session"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

const shutdownTimeout = 10 * time.Second

func rootCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "jobserver",
		Short:   "gRPC server for controlling jobs in remote job control sessions",
		Example: "jobserver --debug\n  jobserver --config jobserver.yaml --port 9443",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			return runServer(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	bindFlags(c.Flags())

	c.AddCommand(certsCmd())

	return c
}

func certsCmd() *cobra.Command {
	var (
		dir   string
		hosts []string
	)

	c := &cobra.Command{
		Use:     "certs",
		Short:   "Generate a development CA with server and client certificates",
		Example: "jobserver certs --dir certs --host localhost --host 10.0.0.5",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := certs.Generate(dir, hosts...); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "certificates written to %s\n", dir)

			return nil
		},
	}

	c.Flags().StringVar(&dir, "dir", "certs", "Directory to write certificates to")
	c.Flags().StringArrayVar(&hosts, "host", nil, "Server host name or IP (repeatable)")

	return c
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger := logging.Configure(cfg.Log.Level, logging.Console(os.Stderr))

	sessions := session.NewManager(
		command.Builtins(),
		session.Config{
			IdleTimeout:      cfg.Session.IdleTimeout,
			ReapInterval:     cfg.Session.ReapInterval,
			ResumeForeground: cfg.Jobs.ResumeForeground,
			JobReapInterval:  cfg.Jobs.ReapInterval,
		},
		session.WithManagerLogger(logger),
	)

	listener, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr(), err)
	}

	s := newServer(sessions, logger, cfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go sessions.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.start(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		s.shutdown()
		err = <-errCh

	case err = <-errCh:
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(
		context.Background(),
		shutdownTimeout,
	)
	defer cancelShutdown()

	sessions.Shutdown(shutdownCtx)

	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}

	return err
}
