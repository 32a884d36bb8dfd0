package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	api "github.com/nixpig/jobcontrol/api/v1"
	"github.com/nixpig/jobcontrol/internal/auth"
	"github.com/nixpig/jobcontrol/internal/command"
	"github.com/nixpig/jobcontrol/internal/config"
	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/nixpig/jobcontrol/internal/session"
	"github.com/nixpig/jobcontrol/internal/tlsconfig"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	// streamBufferSize is the buffer size for reading job output.
	streamBufferSize = 4096
)

type server struct {
	api.UnimplementedJobControlServer

	sessions   *session.Manager
	logger     zerolog.Logger
	cfg        config.Config
	grpcServer *grpc.Server
}

func newServer(
	sessions *session.Manager,
	logger zerolog.Logger,
	cfg config.Config,
) *server {
	return &server{
		sessions: sessions,
		logger:   logger.With().Str("component", "server").Logger(),
		cfg:      cfg,
	}
}

func (s *server) start(listener net.Listener) error {
	opts, err := s.serverOptions()
	if err != nil {
		return err
	}

	s.grpcServer = grpc.NewServer(opts...)

	api.RegisterJobControlServer(s.grpcServer, s)

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Bool("insecure", s.cfg.TLS.Insecure).
		Msg("serving")

	return s.grpcServer.Serve(listener)
}

func (s *server) serverOptions() ([]grpc.ServerOption, error) {
	unary := []grpc.UnaryServerInterceptor{contextCheckUnaryInterceptor}
	stream := []grpc.StreamServerInterceptor{contextCheckStreamInterceptor}

	var creds credentials.TransportCredentials

	if s.cfg.TLS.Insecure {
		s.logger.Warn().Msg("mTLS disabled, requests will not be authorised")

		creds = insecure.NewCredentials()
	} else {
		tlsCreds, err := s.loadTLSCreds()
		if err != nil {
			return nil, fmt.Errorf("load TLS credentials: %w", err)
		}

		creds = tlsCreds

		unary = append(unary, auth.UnaryInterceptor(s.logger))
		stream = append(stream, auth.StreamInterceptor(s.logger))
	}

	return []grpc.ServerOption{
		grpc.Creds(creds),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}, nil
}

func (s *server) shutdown() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}

func (s *server) shell(id string) (*session.Shell, error) {
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "session id is empty")
	}

	shell, err := s.sessions.Get(id)
	if err != nil {
		return nil, s.mapError("get session", err)
	}

	return shell, nil
}

func (s *server) job(ref *api.JobRef) (*session.Shell, *jobcontrol.Job, error) {
	shell, err := s.shell(ref.SessionID)
	if err != nil {
		return nil, nil, err
	}

	if ref.JobID <= 0 {
		return nil, nil, status.Error(codes.InvalidArgument, "job id must be positive")
	}

	job, err := shell.Job(ref.JobID)
	if err != nil {
		return nil, nil, s.mapError("get job", err)
	}

	return shell, job, nil
}

// control runs op against the job referenced by ref and returns its status.
func (s *server) control(
	name string,
	ref *api.JobRef,
	op func(*jobcontrol.Job) error,
) (*api.JobStatus, error) {
	_, job, err := s.job(ref)
	if err != nil {
		return nil, err
	}

	if err := op(job); err != nil {
		return nil, s.mapError(name, err)
	}

	s.logger.Debug().
		Str("session_id", ref.SessionID).
		Int("job_id", job.ID()).
		Str("op", name).
		Msg("job control")

	return currentStatus(job), nil
}

func (s *server) CreateSession(
	ctx context.Context,
	req *api.Empty,
) (*api.CreateSessionResponse, error) {
	shell := s.sessions.Create()

	if id, ok := auth.FromContext(ctx); ok {
		s.logger.Info().
			Str("session_id", shell.ID()).
			Str("cn", id.Name).
			Msg("session created for client")
	}

	return &api.CreateSessionResponse{SessionID: shell.ID()}, nil
}

func (s *server) CloseSession(
	ctx context.Context,
	req *api.SessionRef,
) (*api.Empty, error) {
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session id is empty")
	}

	if err := s.sessions.Close(ctx, req.SessionID); err != nil {
		return nil, s.mapError("close session", err)
	}

	return &api.Empty{}, nil
}

func (s *server) CreateJob(
	ctx context.Context,
	req *api.CreateJobRequest,
) (*api.JobStatus, error) {
	shell, err := s.shell(req.SessionID)
	if err != nil {
		return nil, err
	}

	job, err := shell.CreateJob(req.Line)
	if err != nil {
		return nil, s.mapError("create job", err)
	}

	return currentStatus(job), nil
}

func (s *server) RunJob(
	ctx context.Context,
	req *api.RunJobRequest,
) (*api.JobStatus, error) {
	ref := &api.JobRef{SessionID: req.SessionID, JobID: req.JobID}

	return s.control("run job", ref, func(j *jobcontrol.Job) error {
		if req.Background {
			return j.RunBackground()
		}

		return j.Run()
	})
}

func (s *server) SuspendJob(
	ctx context.Context,
	req *api.JobRef,
) (*api.JobStatus, error) {
	return s.control("suspend job", req, (*jobcontrol.Job).Suspend)
}

func (s *server) ResumeJob(
	ctx context.Context,
	req *api.ResumeJobRequest,
) (*api.JobStatus, error) {
	ref := &api.JobRef{SessionID: req.SessionID, JobID: req.JobID}

	return s.control("resume job", ref, func(j *jobcontrol.Job) error {
		if req.Foreground == nil {
			return j.Continue()
		}

		return j.Resume(*req.Foreground)
	})
}

func (s *server) InterruptJob(
	ctx context.Context,
	req *api.JobRef,
) (*api.InterruptJobResponse, error) {
	_, job, err := s.job(req)
	if err != nil {
		return nil, err
	}

	return &api.InterruptJobResponse{Accepted: job.Interrupt()}, nil
}

func (s *server) TerminateJob(
	ctx context.Context,
	req *api.JobRef,
) (*api.JobStatus, error) {
	return s.control("terminate job", req, (*jobcontrol.Job).Terminate)
}

func (s *server) ForegroundJob(
	ctx context.Context,
	req *api.JobRef,
) (*api.JobStatus, error) {
	return s.control("foreground job", req, (*jobcontrol.Job).ToForeground)
}

func (s *server) BackgroundJob(
	ctx context.Context,
	req *api.JobRef,
) (*api.JobStatus, error) {
	return s.control("background job", req, (*jobcontrol.Job).ToBackground)
}

func (s *server) QueryJob(
	ctx context.Context,
	req *api.JobRef,
) (*api.JobStatus, error) {
	_, job, err := s.job(req)
	if err != nil {
		return nil, err
	}

	return currentStatus(job), nil
}

func (s *server) ListJobs(
	ctx context.Context,
	req *api.SessionRef,
) (*api.ListJobsResponse, error) {
	shell, err := s.shell(req.SessionID)
	if err != nil {
		return nil, err
	}

	return &api.ListJobsResponse{Jobs: jobStatuses(shell.Jobs())}, nil
}

func (s *server) ReapJobs(
	ctx context.Context,
	req *api.SessionRef,
) (*api.ReapJobsResponse, error) {
	shell, err := s.shell(req.SessionID)
	if err != nil {
		return nil, err
	}

	reaped, err := shell.Reap()
	if err != nil {
		return nil, s.mapError("reap jobs", err)
	}

	return &api.ReapJobsResponse{Jobs: jobStatuses(reaped)}, nil
}

func (s *server) WriteInput(
	ctx context.Context,
	req *api.WriteInputRequest,
) (*api.Empty, error) {
	shell, _, err := s.job(&api.JobRef{SessionID: req.SessionID, JobID: req.JobID})
	if err != nil {
		return nil, err
	}

	if len(req.Data) > 0 {
		if err := shell.WriteInput(req.JobID, req.Data); err != nil {
			return nil, s.mapError("write input", err)
		}
	}

	if req.CloseInput {
		if err := shell.CloseInput(req.JobID); err != nil {
			return nil, s.mapError("close input", err)
		}
	}

	return &api.Empty{}, nil
}

func (s *server) WatchJob(
	req *api.JobRef,
	stream api.JobControl_WatchJobServer,
) error {
	shell, job, err := s.job(req)
	if err != nil {
		return err
	}

	err = shell.Watch(stream.Context(), job.ID(), func(u jobcontrol.StatusUpdate) error {
		return stream.Send(jobStatus(job.Line(), u))
	})

	switch {
	case err == nil:
		return nil

	case stream.Context().Err() != nil:
		return status.FromContextError(stream.Context().Err()).Err()

	default:
		return s.mapError("watch job", err)
	}
}

func (s *server) StreamJobOutput(
	req *api.JobRef,
	stream api.JobControl_StreamJobOutputServer,
) error {
	shell, _, err := s.job(req)
	if err != nil {
		return err
	}

	outputReader, err := shell.StreamOutput(req.JobID)
	if err != nil {
		return s.mapError("output stream", err)
	}

	stop := context.AfterFunc(stream.Context(), func() {
		outputReader.Close()
	})

	defer func() {
		if stop() {
			outputReader.Close()
		}
	}()

	buf := make([]byte, streamBufferSize)
	for {
		n, err := outputReader.Read(buf)
		if n > 0 {
			if err := stream.Send(&api.OutputChunk{
				Data: buf[:n],
			}); err != nil {
				s.logger.Warn().
					Err(err).
					Str("session_id", req.SessionID).
					Int("job_id", req.JobID).
					Msg("stream data to client")

				return status.Error(codes.DataLoss, "failed to stream data")
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}

			return s.mapError("read job output stream", err)
		}
	}

	if err := stream.Context().Err(); err != nil {
		return status.FromContextError(err).Err()
	}

	return nil
}

// mapError translates session and job control errors to gRPC errors.
func (s *server) mapError(logMsg string, err error) error {
	var (
		illegal jobcontrol.IllegalStateError
		bound   jobcontrol.AlreadyBoundError
	)

	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, jobcontrol.ErrJobNotFound):
		s.logger.Warn().Err(err).Msg(logMsg)
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, jobcontrol.ErrEmptyLine),
		errors.Is(err, jobcontrol.ErrCommandNotFound),
		errors.Is(err, command.ErrInvalidLine):
		s.logger.Warn().Err(err).Msg(logMsg)
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.As(err, &illegal),
		errors.As(err, &bound),
		errors.Is(err, jobcontrol.ErrNoTty),
		errors.Is(err, jobcontrol.ErrSchedulerClosed),
		errors.Is(err, session.ErrShellClosed),
		errors.Is(err, io.ErrClosedPipe):
		s.logger.Warn().Err(err).Msg(logMsg)
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		s.logger.Error().Err(err).Msg(logMsg)
		return status.Error(codes.Internal, "internal server error")
	}
}

// loadTLSCreds creates the gRPC transport credentials with mTLS enabled.
func (s *server) loadTLSCreds() (credentials.TransportCredentials, error) {
	tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
		CertPath:   s.cfg.TLS.CertPath,
		KeyPath:    s.cfg.TLS.KeyPath,
		CACertPath: s.cfg.TLS.CACertPath,
		Server:     true,
	})
	if err != nil {
		return nil, err
	}

	return credentials.NewTLS(tlsConfig), nil
}

func jobStatus(line string, u jobcontrol.StatusUpdate) *api.JobStatus {
	st := &api.JobStatus{
		JobID:      u.JobID,
		Line:       line,
		Status:     u.Status.String(),
		Foreground: u.Foreground,
		ExitCode:   u.ExitCode,
	}

	if u.Previous != jobcontrol.StatusUnknown {
		st.Previous = u.Previous.String()
	}

	if !u.LastStopped.IsZero() {
		st.LastStopped = u.LastStopped.UnixMilli()
	}

	if u.Err != nil {
		st.Error = u.Err.Error()
	}

	return st
}

// currentStatus is the last committed status of job. Foreground changes
// are not committed so it is read directly.
func currentStatus(job *jobcontrol.Job) *api.JobStatus {
	st := jobStatus(job.Line(), job.Snapshot())
	st.Foreground = job.Foreground()

	return st
}

func jobStatuses(jobs []*jobcontrol.Job) []api.JobStatus {
	statuses := make([]api.JobStatus, 0, len(jobs))

	for _, job := range jobs {
		statuses = append(statuses, *currentStatus(job))
	}

	return statuses
}

// contextCheckUnaryInterceptor rejects requests with a cancelled context.
func contextCheckUnaryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	if ctx.Err() != nil {
		return nil, status.FromContextError(ctx.Err()).Err()
	}

	return handler(ctx, req)
}

// contextCheckStreamInterceptor rejects streams with a cancelled context.
func contextCheckStreamInterceptor(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	if err := ss.Context().Err(); err != nil {
		return status.FromContextError(err).Err()
	}

	return handler(srv, ss)
}
