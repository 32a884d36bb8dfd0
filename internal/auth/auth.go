// Package auth authorises gRPC requests from the identity in the client's
// mTLS certificate. The certificate's common name identifies the client and
// its first organisational unit names its role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	api "github.com/nixpig/jobcontrol/api/v1"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

var (
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrPermissionDenied = errors.New("not authorised")
)

type Permission string

const (
	PermissionSessionManage Permission = "session:manage"
	PermissionJobControl    Permission = "job:control"
	PermissionJobQuery      Permission = "job:query"
	PermissionJobWatch      Permission = "job:watch"
)

type Role string

const (
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

var RolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermissionSessionManage,
		PermissionJobControl,
		PermissionJobQuery,
		PermissionJobWatch,
	},
	RoleViewer: {PermissionJobQuery, PermissionJobWatch},
}

var MethodPermissions = map[string]Permission{
	api.JobControl_CreateSession_FullMethodName:   PermissionSessionManage,
	api.JobControl_CloseSession_FullMethodName:    PermissionSessionManage,
	api.JobControl_CreateJob_FullMethodName:       PermissionJobControl,
	api.JobControl_RunJob_FullMethodName:          PermissionJobControl,
	api.JobControl_SuspendJob_FullMethodName:      PermissionJobControl,
	api.JobControl_ResumeJob_FullMethodName:       PermissionJobControl,
	api.JobControl_InterruptJob_FullMethodName:    PermissionJobControl,
	api.JobControl_TerminateJob_FullMethodName:    PermissionJobControl,
	api.JobControl_ForegroundJob_FullMethodName:   PermissionJobControl,
	api.JobControl_BackgroundJob_FullMethodName:   PermissionJobControl,
	api.JobControl_ReapJobs_FullMethodName:        PermissionJobControl,
	api.JobControl_WriteInput_FullMethodName:      PermissionJobControl,
	api.JobControl_QueryJob_FullMethodName:        PermissionJobQuery,
	api.JobControl_ListJobs_FullMethodName:        PermissionJobQuery,
	api.JobControl_WatchJob_FullMethodName:        PermissionJobWatch,
	api.JobControl_StreamJobOutput_FullMethodName: PermissionJobWatch,
}

// Identity is the authenticated client of a request.
type Identity struct {
	Name string
	Role Role
}

// GetClientIdentity returns the common name and first organisational unit of
// the verified client certificate of the peer in ctx.
func GetClientIdentity(ctx context.Context) (string, string, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return "", "", fmt.Errorf("failed to get peer info from context")
	}

	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return "", "", fmt.Errorf("failed to get TLS info from peer auth info")
	}

	if len(tlsInfo.State.VerifiedChains) == 0 ||
		len(tlsInfo.State.VerifiedChains[0]) == 0 {
		return "", "", fmt.Errorf("no verified chains in TLS info")
	}

	cert := tlsInfo.State.VerifiedChains[0][0]

	cn := cert.Subject.CommonName

	var ou string
	if len(cert.Subject.OrganizationalUnit) > 0 {
		ou = cert.Subject.OrganizationalUnit[0]
	}

	return cn, ou, nil
}

// IsAuthorised returns an error unless role holds the permission required
// by method.
func IsAuthorised(role Role, method string) error {
	required, exists := MethodPermissions[method]
	if !exists {
		return fmt.Errorf("method %s not in method permissions", method)
	}

	permissions, ok := RolePermissions[role]
	if !ok {
		return fmt.Errorf("role %q not in role permissions", role)
	}

	if !slices.Contains(permissions, required) {
		return fmt.Errorf("permission %s not granted to role %s", required, role)
	}

	return nil
}

// Authorise authorises the client of ctx to call method. The returned error
// wraps ErrUnauthenticated or ErrPermissionDenied.
func Authorise(ctx context.Context, method string) (Identity, error) {
	cn, ou, err := GetClientIdentity(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	id := Identity{Name: cn, Role: Role(ou)}

	if err := IsAuthorised(id.Role, method); err != nil {
		return id, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	return id, nil
}
