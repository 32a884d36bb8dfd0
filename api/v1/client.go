package apiv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// JobControlClient is the client API for the JobControl service.
type JobControlClient interface {
	CreateSession(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CreateSessionResponse, error)
	CloseSession(ctx context.Context, in *SessionRef, opts ...grpc.CallOption) (*Empty, error)
	CreateJob(ctx context.Context, in *CreateJobRequest, opts ...grpc.CallOption) (*JobStatus, error)
	RunJob(ctx context.Context, in *RunJobRequest, opts ...grpc.CallOption) (*JobStatus, error)
	SuspendJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*JobStatus, error)
	ResumeJob(ctx context.Context, in *ResumeJobRequest, opts ...grpc.CallOption) (*JobStatus, error)
	InterruptJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*InterruptJobResponse, error)
	TerminateJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*JobStatus, error)
	ForegroundJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*JobStatus, error)
	BackgroundJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*JobStatus, error)
	QueryJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*JobStatus, error)
	ListJobs(ctx context.Context, in *SessionRef, opts ...grpc.CallOption) (*ListJobsResponse, error)
	ReapJobs(ctx context.Context, in *SessionRef, opts ...grpc.CallOption) (*ReapJobsResponse, error)
	WriteInput(ctx context.Context, in *WriteInputRequest, opts ...grpc.CallOption) (*Empty, error)
	WatchJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (JobControl_WatchJobClient, error)
	StreamJobOutput(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (JobControl_StreamJobOutputClient, error)
}

// JobControl_WatchJobClient is the client side of a WatchJob stream.
type JobControl_WatchJobClient interface {
	Recv() (*JobStatus, error)
	grpc.ClientStream
}

// JobControl_StreamJobOutputClient is the client side of a StreamJobOutput
// stream.
type JobControl_StreamJobOutputClient interface {
	Recv() (*OutputChunk, error)
	grpc.ClientStream
}

type jobControlClient struct {
	cc grpc.ClientConnInterface
}

func NewJobControlClient(cc grpc.ClientConnInterface) JobControlClient {
	return &jobControlClient{cc}
}

func invoke[Req, Resp any](
	ctx context.Context,
	cc grpc.ClientConnInterface,
	method string,
	in *Req,
	opts []grpc.CallOption,
) (*Resp, error) {
	msg, err := Encode(in)
	if err != nil {
		return nil, err
	}

	out := &structpb.Struct{}
	if err := cc.Invoke(ctx, method, msg, out, opts...); err != nil {
		return nil, err
	}

	resp := new(Resp)
	if err := Decode(out, resp); err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *jobControlClient) CreateSession(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CreateSessionResponse, error) {
	return invoke[Empty, CreateSessionResponse](ctx, c.cc, JobControl_CreateSession_FullMethodName, in, opts)
}

func (c *jobControlClient) CloseSession(ctx context.Context, in *SessionRef, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[SessionRef, Empty](ctx, c.cc, JobControl_CloseSession_FullMethodName, in, opts)
}

func (c *jobControlClient) CreateJob(ctx context.Context, in *CreateJobRequest, opts ...grpc.CallOption) (*JobStatus, error) {
	return invoke[CreateJobRequest, JobStatus](ctx, c.cc, JobControl_CreateJob_FullMethodName, in, opts)
}

func (c *jobControlClient) RunJob(ctx context.Context, in *RunJobRequest, opts ...grpc.CallOption) (*JobStatus, error) {
	return invoke[RunJobRequest, JobStatus](ctx, c.cc, JobControl_RunJob_FullMethodName, in, opts)
}

func (c *jobControlClient) SuspendJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*JobStatus, error) {
	return invoke[JobRef, JobStatus](ctx, c.cc, JobControl_SuspendJob_FullMethodName, in, opts)
}

func (c *jobControlClient) ResumeJob(ctx context.Context, in *ResumeJobRequest, opts ...grpc.CallOption) (*JobStatus, error) {
	return invoke[ResumeJobRequest, JobStatus](ctx, c.cc, JobControl_ResumeJob_FullMethodName, in, opts)
}

func (c *jobControlClient) InterruptJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*InterruptJobResponse, error) {
	return invoke[JobRef, InterruptJobResponse](ctx, c.cc, JobControl_InterruptJob_FullMethodName, in, opts)
}

func (c *jobControlClient) TerminateJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*JobStatus, error) {
	return invoke[JobRef, JobStatus](ctx, c.cc, JobControl_TerminateJob_FullMethodName, in, opts)
}

func (c *jobControlClient) ForegroundJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*JobStatus, error) {
	return invoke[JobRef, JobStatus](ctx, c.cc, JobControl_ForegroundJob_FullMethodName, in, opts)
}

func (c *jobControlClient) BackgroundJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*JobStatus, error) {
	return invoke[JobRef, JobStatus](ctx, c.cc, JobControl_BackgroundJob_FullMethodName, in, opts)
}

func (c *jobControlClient) QueryJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (*JobStatus, error) {
	return invoke[JobRef, JobStatus](ctx, c.cc, JobControl_QueryJob_FullMethodName, in, opts)
}

func (c *jobControlClient) ListJobs(ctx context.Context, in *SessionRef, opts ...grpc.CallOption) (*ListJobsResponse, error) {
	return invoke[SessionRef, ListJobsResponse](ctx, c.cc, JobControl_ListJobs_FullMethodName, in, opts)
}

func (c *jobControlClient) ReapJobs(ctx context.Context, in *SessionRef, opts ...grpc.CallOption) (*ReapJobsResponse, error) {
	return invoke[SessionRef, ReapJobsResponse](ctx, c.cc, JobControl_ReapJobs_FullMethodName, in, opts)
}

func (c *jobControlClient) WriteInput(ctx context.Context, in *WriteInputRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[WriteInputRequest, Empty](ctx, c.cc, JobControl_WriteInput_FullMethodName, in, opts)
}

type clientStream[T any] struct {
	grpc.ClientStream
}

func (s *clientStream[T]) Recv() (*T, error) {
	in := &structpb.Struct{}
	if err := s.ClientStream.RecvMsg(in); err != nil {
		return nil, err
	}

	m := new(T)
	if err := Decode(in, m); err != nil {
		return nil, err
	}

	return m, nil
}

func (c *jobControlClient) newServerStream(
	ctx context.Context,
	desc *grpc.StreamDesc,
	method string,
	in any,
	opts []grpc.CallOption,
) (grpc.ClientStream, error) {
	msg, err := Encode(in)
	if err != nil {
		return nil, err
	}

	stream, err := c.cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}

	if err := stream.SendMsg(msg); err != nil {
		return nil, err
	}

	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	return stream, nil
}

func (c *jobControlClient) WatchJob(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (JobControl_WatchJobClient, error) {
	stream, err := c.newServerStream(ctx, &JobControl_ServiceDesc.Streams[0], JobControl_WatchJob_FullMethodName, in, opts)
	if err != nil {
		return nil, err
	}

	return &clientStream[JobStatus]{stream}, nil
}

func (c *jobControlClient) StreamJobOutput(ctx context.Context, in *JobRef, opts ...grpc.CallOption) (JobControl_StreamJobOutputClient, error) {
	stream, err := c.newServerStream(ctx, &JobControl_ServiceDesc.Streams[1], JobControl_StreamJobOutput_FullMethodName, in, opts)
	if err != nil {
		return nil, err
	}

	return &clientStream[OutputChunk]{stream}, nil
}
