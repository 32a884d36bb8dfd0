package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type identityKey struct{}

// FromContext returns the Identity stored by the interceptors, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func authorise(
	ctx context.Context,
	method string,
	logger zerolog.Logger,
) (context.Context, error) {
	id, err := Authorise(ctx, method)

	switch {
	case errors.Is(err, ErrUnauthenticated):
		logger.Warn().Err(err).Str("method", method).Msg("failed to get client identity")
		return nil, status.Error(codes.Unauthenticated, "not authenticated")

	case err != nil:
		logger.Warn().
			Err(err).
			Str("cn", id.Name).
			Str("role", string(id.Role)).
			Str("method", method).
			Msg("failed to authorise client")

		return nil, status.Error(codes.PermissionDenied, "not authorised")
	}

	logger.Debug().
		Str("cn", id.Name).
		Str("role", string(id.Role)).
		Str("method", method).
		Msg("authorised client request")

	return context.WithValue(ctx, identityKey{}, id), nil
}

// UnaryInterceptor rejects unary requests from clients not authorised to
// call the method.
func UnaryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authorise(ctx, info.FullMethod, logger)
		if err != nil {
			return nil, err
		}

		return handler(ctx, req)
	}
}

// StreamInterceptor rejects streams from clients not authorised to call the
// method.
func StreamInterceptor(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authorise(ss.Context(), info.FullMethod, logger)
		if err != nil {
			return err
		}

		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context {
	return s.ctx
}
