package apiv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "jobcontrol.v1.JobControl"

const (
	JobControl_CreateSession_FullMethodName   = "/" + ServiceName + "/CreateSession"
	JobControl_CloseSession_FullMethodName    = "/" + ServiceName + "/CloseSession"
	JobControl_CreateJob_FullMethodName       = "/" + ServiceName + "/CreateJob"
	JobControl_RunJob_FullMethodName          = "/" + ServiceName + "/RunJob"
	JobControl_SuspendJob_FullMethodName      = "/" + ServiceName + "/SuspendJob"
	JobControl_ResumeJob_FullMethodName       = "/" + ServiceName + "/ResumeJob"
	JobControl_InterruptJob_FullMethodName    = "/" + ServiceName + "/InterruptJob"
	JobControl_TerminateJob_FullMethodName    = "/" + ServiceName + "/TerminateJob"
	JobControl_ForegroundJob_FullMethodName   = "/" + ServiceName + "/ForegroundJob"
	JobControl_BackgroundJob_FullMethodName   = "/" + ServiceName + "/BackgroundJob"
	JobControl_QueryJob_FullMethodName        = "/" + ServiceName + "/QueryJob"
	JobControl_ListJobs_FullMethodName        = "/" + ServiceName + "/ListJobs"
	JobControl_ReapJobs_FullMethodName        = "/" + ServiceName + "/ReapJobs"
	JobControl_WriteInput_FullMethodName      = "/" + ServiceName + "/WriteInput"
	JobControl_WatchJob_FullMethodName        = "/" + ServiceName + "/WatchJob"
	JobControl_StreamJobOutput_FullMethodName = "/" + ServiceName + "/StreamJobOutput"
)

// JobControlServer is the server API for the JobControl service.
type JobControlServer interface {
	CreateSession(context.Context, *Empty) (*CreateSessionResponse, error)
	CloseSession(context.Context, *SessionRef) (*Empty, error)
	CreateJob(context.Context, *CreateJobRequest) (*JobStatus, error)
	RunJob(context.Context, *RunJobRequest) (*JobStatus, error)
	SuspendJob(context.Context, *JobRef) (*JobStatus, error)
	ResumeJob(context.Context, *ResumeJobRequest) (*JobStatus, error)
	InterruptJob(context.Context, *JobRef) (*InterruptJobResponse, error)
	TerminateJob(context.Context, *JobRef) (*JobStatus, error)
	ForegroundJob(context.Context, *JobRef) (*JobStatus, error)
	BackgroundJob(context.Context, *JobRef) (*JobStatus, error)
	QueryJob(context.Context, *JobRef) (*JobStatus, error)
	ListJobs(context.Context, *SessionRef) (*ListJobsResponse, error)
	ReapJobs(context.Context, *SessionRef) (*ReapJobsResponse, error)
	WriteInput(context.Context, *WriteInputRequest) (*Empty, error)
	WatchJob(*JobRef, JobControl_WatchJobServer) error
	StreamJobOutput(*JobRef, JobControl_StreamJobOutputServer) error
}

// UnimplementedJobControlServer can be embedded to have forward compatible
// implementations.
type UnimplementedJobControlServer struct{}

func (UnimplementedJobControlServer) CreateSession(context.Context, *Empty) (*CreateSessionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateSession not implemented")
}

func (UnimplementedJobControlServer) CloseSession(context.Context, *SessionRef) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method CloseSession not implemented")
}

func (UnimplementedJobControlServer) CreateJob(context.Context, *CreateJobRequest) (*JobStatus, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateJob not implemented")
}

func (UnimplementedJobControlServer) RunJob(context.Context, *RunJobRequest) (*JobStatus, error) {
	return nil, status.Error(codes.Unimplemented, "method RunJob not implemented")
}

func (UnimplementedJobControlServer) SuspendJob(context.Context, *JobRef) (*JobStatus, error) {
	return nil, status.Error(codes.Unimplemented, "method SuspendJob not implemented")
}

func (UnimplementedJobControlServer) ResumeJob(context.Context, *ResumeJobRequest) (*JobStatus, error) {
	return nil, status.Error(codes.Unimplemented, "method ResumeJob not implemented")
}

func (UnimplementedJobControlServer) InterruptJob(context.Context, *JobRef) (*InterruptJobResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method InterruptJob not implemented")
}

func (UnimplementedJobControlServer) TerminateJob(context.Context, *JobRef) (*JobStatus, error) {
	return nil, status.Error(codes.Unimplemented, "method TerminateJob not implemented")
}

func (UnimplementedJobControlServer) ForegroundJob(context.Context, *JobRef) (*JobStatus, error) {
	return nil, status.Error(codes.Unimplemented, "method ForegroundJob not implemented")
}

func (UnimplementedJobControlServer) BackgroundJob(context.Context, *JobRef) (*JobStatus, error) {
	return nil, status.Error(codes.Unimplemented, "method BackgroundJob not implemented")
}

func (UnimplementedJobControlServer) QueryJob(context.Context, *JobRef) (*JobStatus, error) {
	return nil, status.Error(codes.Unimplemented, "method QueryJob not implemented")
}

func (UnimplementedJobControlServer) ListJobs(context.Context, *SessionRef) (*ListJobsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListJobs not implemented")
}

func (UnimplementedJobControlServer) ReapJobs(context.Context, *SessionRef) (*ReapJobsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReapJobs not implemented")
}

func (UnimplementedJobControlServer) WriteInput(context.Context, *WriteInputRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method WriteInput not implemented")
}

func (UnimplementedJobControlServer) WatchJob(*JobRef, JobControl_WatchJobServer) error {
	return status.Error(codes.Unimplemented, "method WatchJob not implemented")
}

func (UnimplementedJobControlServer) StreamJobOutput(*JobRef, JobControl_StreamJobOutputServer) error {
	return status.Error(codes.Unimplemented, "method StreamJobOutput not implemented")
}

// JobControl_WatchJobServer is the server side of a WatchJob stream.
type JobControl_WatchJobServer interface {
	Send(*JobStatus) error
	grpc.ServerStream
}

// JobControl_StreamJobOutputServer is the server side of a StreamJobOutput
// stream.
type JobControl_StreamJobOutputServer interface {
	Send(*OutputChunk) error
	grpc.ServerStream
}

type serverStream[T any] struct {
	grpc.ServerStream
}

func (s *serverStream[T]) Send(m *T) error {
	msg, err := Encode(m)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}

	return s.ServerStream.SendMsg(msg)
}

// RegisterJobControlServer registers srv with s.
func RegisterJobControlServer(s grpc.ServiceRegistrar, srv JobControlServer) {
	s.RegisterService(&JobControl_ServiceDesc, srv)
}

// unaryHandler adapts a typed server method to a grpc.MethodHandler,
// converting the request and response from and to their wire form.
func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(JobControlServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(
		srv any,
		ctx context.Context,
		dec func(any) error,
		interceptor grpc.UnaryServerInterceptor,
	) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}

		req := new(Req)
		if err := Decode(in, req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}

		handler := func(ctx context.Context, req any) (any, error) {
			resp, err := call(srv.(JobControlServer), ctx, req.(*Req))
			if err != nil {
				return nil, err
			}

			out, err := Encode(resp)
			if err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}

			return out, nil
		}

		if interceptor == nil {
			return handler(ctx, req)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}

		return interceptor(ctx, req, info, handler)
	}
}

func streamHandler[Req, Stream any](
	call func(JobControlServer, *Req, Stream) error,
	wrap func(grpc.ServerStream) Stream,
) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		in := &structpb.Struct{}
		if err := stream.RecvMsg(in); err != nil {
			return err
		}

		req := new(Req)
		if err := Decode(in, req); err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}

		return call(srv.(JobControlServer), req, wrap(stream))
	}
}

// JobControl_ServiceDesc is the grpc.ServiceDesc for the JobControl service.
var JobControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateSession",
			Handler:    unaryHandler(JobControl_CreateSession_FullMethodName, JobControlServer.CreateSession),
		},
		{
			MethodName: "CloseSession",
			Handler:    unaryHandler(JobControl_CloseSession_FullMethodName, JobControlServer.CloseSession),
		},
		{
			MethodName: "CreateJob",
			Handler:    unaryHandler(JobControl_CreateJob_FullMethodName, JobControlServer.CreateJob),
		},
		{
			MethodName: "RunJob",
			Handler:    unaryHandler(JobControl_RunJob_FullMethodName, JobControlServer.RunJob),
		},
		{
			MethodName: "SuspendJob",
			Handler:    unaryHandler(JobControl_SuspendJob_FullMethodName, JobControlServer.SuspendJob),
		},
		{
			MethodName: "ResumeJob",
			Handler:    unaryHandler(JobControl_ResumeJob_FullMethodName, JobControlServer.ResumeJob),
		},
		{
			MethodName: "InterruptJob",
			Handler:    unaryHandler(JobControl_InterruptJob_FullMethodName, JobControlServer.InterruptJob),
		},
		{
			MethodName: "TerminateJob",
			Handler:    unaryHandler(JobControl_TerminateJob_FullMethodName, JobControlServer.TerminateJob),
		},
		{
			MethodName: "ForegroundJob",
			Handler:    unaryHandler(JobControl_ForegroundJob_FullMethodName, JobControlServer.ForegroundJob),
		},
		{
			MethodName: "BackgroundJob",
			Handler:    unaryHandler(JobControl_BackgroundJob_FullMethodName, JobControlServer.BackgroundJob),
		},
		{
			MethodName: "QueryJob",
			Handler:    unaryHandler(JobControl_QueryJob_FullMethodName, JobControlServer.QueryJob),
		},
		{
			MethodName: "ListJobs",
			Handler:    unaryHandler(JobControl_ListJobs_FullMethodName, JobControlServer.ListJobs),
		},
		{
			MethodName: "ReapJobs",
			Handler:    unaryHandler(JobControl_ReapJobs_FullMethodName, JobControlServer.ReapJobs),
		},
		{
			MethodName: "WriteInput",
			Handler:    unaryHandler(JobControl_WriteInput_FullMethodName, JobControlServer.WriteInput),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "WatchJob",
			Handler: streamHandler(
				JobControlServer.WatchJob,
				func(s grpc.ServerStream) JobControl_WatchJobServer {
					return &serverStream[JobStatus]{s}
				},
			),
			ServerStreams: true,
		},
		{
			StreamName: "StreamJobOutput",
			Handler: streamHandler(
				JobControlServer.StreamJobOutput,
				func(s grpc.ServerStream) JobControl_StreamJobOutputServer {
					return &serverStream[OutputChunk]{s}
				},
			),
			ServerStreams: true,
		},
	},
}
