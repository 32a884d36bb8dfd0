// Package apiv1 defines the jobcontrol.v1.JobControl gRPC service.
//
// Messages are plain Go structs carried on the wire as
// google.protobuf.Struct values, so the service needs no generated code.
package apiv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type Empty struct{}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type SessionRef struct {
	SessionID string `json:"session_id"`
}

type JobRef struct {
	SessionID string `json:"session_id"`
	JobID     int    `json:"job_id"`
}

type CreateJobRequest struct {
	SessionID string `json:"session_id"`
	Line      string `json:"line"`
}

type RunJobRequest struct {
	SessionID  string `json:"session_id"`
	JobID      int    `json:"job_id"`
	Background bool   `json:"background,omitempty"`
}

type ResumeJobRequest struct {
	SessionID string `json:"session_id"`
	JobID     int    `json:"job_id"`
	// Foreground is nil to use the server's configured default.
	Foreground *bool `json:"foreground,omitempty"`
}

type InterruptJobResponse struct {
	Accepted bool `json:"accepted"`
}

// JobStatus is a snapshot of a job.
type JobStatus struct {
	JobID      int    `json:"job_id"`
	Line       string `json:"line,omitempty"`
	Status     string `json:"status"`
	Previous   string `json:"previous,omitempty"`
	Foreground bool   `json:"foreground,omitempty"`
	ExitCode   int    `json:"exit_code"`
	// LastStopped is in milliseconds since the Unix epoch, or 0.
	LastStopped int64  `json:"last_stopped,omitempty"`
	Error       string `json:"error,omitempty"`
}

type ListJobsResponse struct {
	Jobs []JobStatus `json:"jobs"`
}

type ReapJobsResponse struct {
	Jobs []JobStatus `json:"jobs"`
}

type WriteInputRequest struct {
	SessionID string `json:"session_id"`
	JobID     int    `json:"job_id"`
	Data      []byte `json:"data,omitempty"`
	// CloseInput ends the input of the job after Data has been written.
	CloseInput bool `json:"close_input,omitempty"`
}

type OutputChunk struct {
	Data []byte `json:"data"`
}

// Encode converts m to its wire form.
func Encode(m any) (*structpb.Struct, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", m, err)
	}

	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", m, err)
	}

	return s, nil
}

// Decode converts the wire form s into m.
func Decode(s *structpb.Struct, m any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", m, err)
	}

	if err := json.Unmarshal(b, m); err != nil {
		return fmt.Errorf("decode %T: %w", m, err)
	}

	return nil
}
