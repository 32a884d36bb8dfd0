package main

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	api "github.com/nixpig/jobcontrol/api/v1"
	"github.com/nixpig/jobcontrol/certs"
	"github.com/nixpig/jobcontrol/internal/command"
	"github.com/nixpig/jobcontrol/internal/config"
	"github.com/nixpig/jobcontrol/internal/session"
	"github.com/nixpig/jobcontrol/internal/tlsconfig"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func startServer(t *testing.T, cfg config.Config, listener net.Listener) {
	t.Helper()

	sessions := session.NewManager(command.Builtins(), session.Config{
		ResumeForeground: cfg.Jobs.ResumeForeground,
	})

	s := newServer(sessions, zerolog.Nop(), cfg)

	go func() {
		if err := s.start(listener); err != nil {
			t.Logf("failed to start server: '%v'", err)
		}
	}()

	t.Cleanup(func() {
		s.shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		sessions.Shutdown(ctx)
	})
}

func setupInsecureClient(t *testing.T) api.JobControlClient {
	t.Helper()

	cfg := config.Default()
	cfg.TLS.Insecure = true

	listener := bufconn.Listen(bufSize)

	startServer(t, cfg, listener)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() { conn.Close() })

	return api.NewJobControlClient(conn)
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()

	st, ok := status.FromError(err)
	require.True(t, ok, "expected gRPC status error: got '%v'", err)
	assert.Equal(t, code, st.Code(), "unexpected code: %v", err)
}

func readOutput(t *testing.T, client api.JobControlClient, ref *api.JobRef) string {
	t.Helper()

	stream, err := client.StreamJobOutput(t.Context(), ref)
	require.NoError(t, err)

	var output []byte

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		output = append(output, chunk.Data...)
	}

	return string(output)
}

func TestJobServerIntegration(t *testing.T) {
	t.Parallel()

	client := setupInsecureClient(t)

	newSession := func(t *testing.T) string {
		t.Helper()

		resp, err := client.CreateSession(t.Context(), &api.Empty{})
		require.NoError(t, err)
		require.NotEmpty(t, resp.SessionID)

		return resp.SessionID
	}

	t.Run("Test job output streaming", func(t *testing.T) {
		t.Parallel()

		sid := newSession(t)

		created, err := client.CreateJob(t.Context(), &api.CreateJobRequest{
			SessionID: sid,
			Line:      `echo "Hello, world!"`,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, created.JobID)
		assert.Equal(t, "Created", created.Status)
		assert.Equal(t, -1, created.ExitCode)

		ref := &api.JobRef{SessionID: sid, JobID: created.JobID}

		_, err = client.RunJob(t.Context(), &api.RunJobRequest{
			SessionID: sid,
			JobID:     created.JobID,
		})
		require.NoError(t, err)

		assert.Equal(t, "Hello, world!\n", readOutput(t, client, ref))

		st, err := client.QueryJob(t.Context(), ref)
		require.NoError(t, err)
		assert.Equal(t, "Terminated", st.Status)
		assert.Equal(t, 0, st.ExitCode)
		assert.Equal(t, `echo "Hello, world!"`, st.Line)
	})

	t.Run("Test job lifecycle", func(t *testing.T) {
		t.Parallel()

		sid := newSession(t)

		created, err := client.CreateJob(t.Context(), &api.CreateJobRequest{
			SessionID: sid,
			Line:      "sleep 30",
		})
		require.NoError(t, err)

		ref := &api.JobRef{SessionID: sid, JobID: created.JobID}

		st, err := client.RunJob(t.Context(), &api.RunJobRequest{
			SessionID:  sid,
			JobID:      created.JobID,
			Background: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "Running", st.Status)
		assert.False(t, st.Foreground)

		st, err = client.SuspendJob(t.Context(), ref)
		require.NoError(t, err)
		assert.Equal(t, "Stopped", st.Status)
		assert.Equal(t, "Running", st.Previous)
		assert.NotZero(t, st.LastStopped)

		_, err = client.SuspendJob(t.Context(), ref)
		requireCode(t, err, codes.FailedPrecondition)

		st, err = client.ResumeJob(t.Context(), &api.ResumeJobRequest{
			SessionID: sid,
			JobID:     created.JobID,
		})
		require.NoError(t, err)
		assert.Equal(t, "Running", st.Status)
		assert.True(t, st.Foreground)

		st, err = client.BackgroundJob(t.Context(), ref)
		require.NoError(t, err)
		assert.False(t, st.Foreground)

		st, err = client.ForegroundJob(t.Context(), ref)
		require.NoError(t, err)
		assert.True(t, st.Foreground)

		st, err = client.TerminateJob(t.Context(), ref)
		require.NoError(t, err)
		assert.Equal(t, "Terminated", st.Status)
		assert.Equal(t, 137, st.ExitCode)

		_, err = client.RunJob(t.Context(), &api.RunJobRequest{
			SessionID: sid,
			JobID:     created.JobID,
		})
		requireCode(t, err, codes.FailedPrecondition)
	})

	t.Run("Test resume into background", func(t *testing.T) {
		t.Parallel()

		sid := newSession(t)

		created, err := client.CreateJob(t.Context(), &api.CreateJobRequest{
			SessionID: sid,
			Line:      "sleep 30",
		})
		require.NoError(t, err)

		ref := &api.JobRef{SessionID: sid, JobID: created.JobID}

		_, err = client.RunJob(t.Context(), &api.RunJobRequest{SessionID: sid, JobID: created.JobID})
		require.NoError(t, err)

		_, err = client.SuspendJob(t.Context(), ref)
		require.NoError(t, err)

		background := false

		st, err := client.ResumeJob(t.Context(), &api.ResumeJobRequest{
			SessionID:  sid,
			JobID:      created.JobID,
			Foreground: &background,
		})
		require.NoError(t, err)
		assert.Equal(t, "Running", st.Status)
		assert.False(t, st.Foreground)
	})

	t.Run("Test watch job until interrupted", func(t *testing.T) {
		t.Parallel()

		sid := newSession(t)

		created, err := client.CreateJob(t.Context(), &api.CreateJobRequest{
			SessionID: sid,
			Line:      "yes",
		})
		require.NoError(t, err)

		ref := &api.JobRef{SessionID: sid, JobID: created.JobID}

		stream, err := client.WatchJob(t.Context(), ref)
		require.NoError(t, err)

		_, err = client.RunJob(t.Context(), &api.RunJobRequest{SessionID: sid, JobID: created.JobID})
		require.NoError(t, err)

		resp, err := client.InterruptJob(t.Context(), ref)
		require.NoError(t, err)
		assert.True(t, resp.Accepted)

		var updates []*api.JobStatus

		for {
			u, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)

			updates = append(updates, u)
		}

		require.Len(t, updates, 2)
		assert.Equal(t, "Running", updates[0].Status)
		assert.Equal(t, "Terminated", updates[1].Status)
		assert.Equal(t, 130, updates[1].ExitCode)

		resp, err = client.InterruptJob(t.Context(), ref)
		require.NoError(t, err)
		assert.False(t, resp.Accepted)
	})

	t.Run("Test write input", func(t *testing.T) {
		t.Parallel()

		sid := newSession(t)

		created, err := client.CreateJob(t.Context(), &api.CreateJobRequest{
			SessionID: sid,
			Line:      "cat",
		})
		require.NoError(t, err)

		ref := &api.JobRef{SessionID: sid, JobID: created.JobID}

		_, err = client.WriteInput(t.Context(), &api.WriteInputRequest{
			SessionID:  sid,
			JobID:      created.JobID,
			Data:       []byte("hello\n"),
			CloseInput: true,
		})
		require.NoError(t, err)

		_, err = client.RunJob(t.Context(), &api.RunJobRequest{SessionID: sid, JobID: created.JobID})
		require.NoError(t, err)

		assert.Equal(t, "hello\n", readOutput(t, client, ref))

		_, err = client.WriteInput(t.Context(), &api.WriteInputRequest{
			SessionID: sid,
			JobID:     created.JobID,
			Data:      []byte("more"),
		})
		requireCode(t, err, codes.FailedPrecondition)
	})

	t.Run("Test list and reap jobs", func(t *testing.T) {
		t.Parallel()

		sid := newSession(t)

		for _, line := range []string{"true", "sleep 30"} {
			created, err := client.CreateJob(t.Context(), &api.CreateJobRequest{
				SessionID: sid,
				Line:      line,
			})
			require.NoError(t, err)

			_, err = client.RunJob(t.Context(), &api.RunJobRequest{
				SessionID:  sid,
				JobID:      created.JobID,
				Background: true,
			})
			require.NoError(t, err)
		}

		list, err := client.ListJobs(t.Context(), &api.SessionRef{SessionID: sid})
		require.NoError(t, err)
		require.Len(t, list.Jobs, 2)
		assert.Equal(t, 1, list.Jobs[0].JobID)
		assert.Equal(t, 2, list.Jobs[1].JobID)

		var reaped []api.JobStatus

		require.Eventually(t, func() bool {
			resp, err := client.ReapJobs(t.Context(), &api.SessionRef{SessionID: sid})
			if err != nil {
				return false
			}

			reaped = append(reaped, resp.Jobs...)

			return len(reaped) == 1
		}, 2*time.Second, 10*time.Millisecond)

		assert.Equal(t, 1, reaped[0].JobID)
		assert.Equal(t, "Terminated", reaped[0].Status)

		_, err = client.QueryJob(t.Context(), &api.JobRef{SessionID: sid, JobID: 1})
		requireCode(t, err, codes.NotFound)

		list, err = client.ListJobs(t.Context(), &api.SessionRef{SessionID: sid})
		require.NoError(t, err)
		require.Len(t, list.Jobs, 1)
		assert.Equal(t, "Running", list.Jobs[0].Status)
	})

	t.Run("Test close session", func(t *testing.T) {
		t.Parallel()

		sid := newSession(t)

		_, err := client.CreateJob(t.Context(), &api.CreateJobRequest{
			SessionID: sid,
			Line:      "sleep 30",
		})
		require.NoError(t, err)

		_, err = client.CloseSession(t.Context(), &api.SessionRef{SessionID: sid})
		require.NoError(t, err)

		_, err = client.ListJobs(t.Context(), &api.SessionRef{SessionID: sid})
		requireCode(t, err, codes.NotFound)

		_, err = client.CloseSession(t.Context(), &api.SessionRef{SessionID: sid})
		requireCode(t, err, codes.NotFound)
	})

	t.Run("Test invalid requests", func(t *testing.T) {
		t.Parallel()

		sid := newSession(t)

		scenarios := map[string]struct {
			call func() error
			code codes.Code
		}{
			"Test empty session id": {
				call: func() error {
					_, err := client.ListJobs(t.Context(), &api.SessionRef{})
					return err
				},
				code: codes.InvalidArgument,
			},
			"Test unknown session": {
				call: func() error {
					_, err := client.ListJobs(t.Context(), &api.SessionRef{SessionID: "unknown"})
					return err
				},
				code: codes.NotFound,
			},
			"Test empty line": {
				call: func() error {
					_, err := client.CreateJob(t.Context(), &api.CreateJobRequest{SessionID: sid, Line: "  "})
					return err
				},
				code: codes.InvalidArgument,
			},
			"Test unknown command": {
				call: func() error {
					_, err := client.CreateJob(t.Context(), &api.CreateJobRequest{SessionID: sid, Line: "rm -rf /"})
					return err
				},
				code: codes.InvalidArgument,
			},
			"Test unterminated quote": {
				call: func() error {
					_, err := client.CreateJob(t.Context(), &api.CreateJobRequest{SessionID: sid, Line: `echo "oops`})
					return err
				},
				code: codes.InvalidArgument,
			},
			"Test invalid job id": {
				call: func() error {
					_, err := client.QueryJob(t.Context(), &api.JobRef{SessionID: sid})
					return err
				},
				code: codes.InvalidArgument,
			},
			"Test unknown job": {
				call: func() error {
					_, err := client.QueryJob(t.Context(), &api.JobRef{SessionID: sid, JobID: 99})
					return err
				},
				code: codes.NotFound,
			},
		}

		for scenario, config := range scenarios {
			t.Run(scenario, func(t *testing.T) {
				requireCode(t, config.call(), config.code)
			})
		}
	})
}

func TestJobServerAuthorisation(t *testing.T) {
	t.Parallel()

	certDir := t.TempDir()
	require.NoError(t, certs.Generate(certDir, "localhost"))

	cfg := config.Default()
	cfg.TLS.CertPath = filepath.Join(certDir, certs.ServerCert)
	cfg.TLS.KeyPath = filepath.Join(certDir, certs.ServerKey)
	cfg.TLS.CACertPath = filepath.Join(certDir, certs.CACert)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	startServer(t, cfg, listener)

	dial := func(t *testing.T, cert, key string) api.JobControlClient {
		t.Helper()

		tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
			CertPath:   filepath.Join(certDir, cert),
			KeyPath:    filepath.Join(certDir, key),
			CACertPath: filepath.Join(certDir, certs.CACert),
			ServerName: "localhost",
		})
		require.NoError(t, err)

		conn, err := grpc.NewClient(
			listener.Addr().String(),
			grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		)
		require.NoError(t, err)

		t.Cleanup(func() { conn.Close() })

		return api.NewJobControlClient(conn)
	}

	operator := dial(t, certs.OperatorCert, certs.OperatorKey)
	viewer := dial(t, certs.ViewerCert, certs.ViewerKey)

	resp, err := operator.CreateSession(t.Context(), &api.Empty{})
	require.NoError(t, err)

	sid := resp.SessionID

	created, err := operator.CreateJob(t.Context(), &api.CreateJobRequest{
		SessionID: sid,
		Line:      "echo hi",
	})
	require.NoError(t, err)

	t.Run("Test viewer cannot create session", func(t *testing.T) {
		_, err := viewer.CreateSession(t.Context(), &api.Empty{})
		requireCode(t, err, codes.PermissionDenied)
	})

	t.Run("Test viewer cannot run job", func(t *testing.T) {
		_, err := viewer.RunJob(t.Context(), &api.RunJobRequest{SessionID: sid, JobID: created.JobID})
		requireCode(t, err, codes.PermissionDenied)
	})

	t.Run("Test viewer can list jobs", func(t *testing.T) {
		list, err := viewer.ListJobs(t.Context(), &api.SessionRef{SessionID: sid})
		require.NoError(t, err)
		assert.Len(t, list.Jobs, 1)
	})

	t.Run("Test viewer can watch job", func(t *testing.T) {
		stream, err := viewer.WatchJob(t.Context(), &api.JobRef{SessionID: sid, JobID: created.JobID})
		require.NoError(t, err)

		_, err = operator.RunJob(t.Context(), &api.RunJobRequest{SessionID: sid, JobID: created.JobID})
		require.NoError(t, err)

		var last *api.JobStatus

		for {
			u, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)

			last = u
		}

		require.NotNil(t, last)
		assert.Equal(t, "Terminated", last.Status)
	})
}
