// Package grpclimiter enforces rate limits on gRPC servers.
package grpclimiter

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/lowc1012/adaptive-ratelimiter/internal/log"
	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter"
	"github.com/lowc1012/adaptive-ratelimiter/internal/utils"
)

const (
	// UserIDKey is the metadata key carrying the authenticated user id.
	UserIDKey = "x-user-id"
	// RetryAfterKey is the header metadata key set on denials.
	RetryAfterKey = "retry-after"
)

// SubjectFromContext builds the subject of an incoming call: user id from
// metadata, else the peer address. The route is the full method name.
func SubjectFromContext(ctx context.Context, fullMethod string) (ratelimiter.Subject, error) {
	s := ratelimiter.Subject{Route: fullMethod}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(UserIDKey); len(values) > 0 {
			s.ID = strings.TrimSpace(values[0])
		}
	}
	if s.ID == "" {
		p, ok := peer.FromContext(ctx)
		if !ok || p.Addr == nil {
			return s, errors.New("no peer address")
		}
		addr, err := utils.RemoteIP(p.Addr.String())
		if err != nil {
			return s, err
		}
		s.Address = addr
	}
	return s, s.Validate()
}

// UnaryServerInterceptor rejects calls checker denies.
func UnaryServerInterceptor(checker ratelimiter.Checker) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		setHeader := func(md metadata.MD) error { return grpc.SetHeader(ctx, md) }
		if err := check(ctx, checker, info.FullMethod, setHeader); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor counts one request per stream.
func StreamServerInterceptor(checker ratelimiter.Checker) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := check(ss.Context(), checker, info.FullMethod, ss.SetHeader); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func check(ctx context.Context, checker ratelimiter.Checker, method string, setHeader func(metadata.MD) error) error {
	subject, err := SubjectFromContext(ctx, method)
	if err != nil {
		return status.Error(codes.InvalidArgument, "invalid rate limit key")
	}
	d, err := checker.Check(ctx, subject)
	if err != nil {
		if errors.Is(err, ratelimiter.ErrInvalidKey) {
			return status.Error(codes.InvalidArgument, "invalid rate limit key")
		}
		log.Logger().Error("rate limit check failed",
			zap.String("identifier", subject.Identifier()),
			zap.String("method", method),
			zap.Error(err))
		return status.Error(codes.Unavailable, "rate limiting check failed")
	}
	if d.Allowed {
		return nil
	}

	var rle *ratelimiter.RateLimitError
	errors.As(d.Err(), &rle)
	retry := strconv.FormatInt(rle.RetryAfterSeconds(), 10)
	if err := setHeader(metadata.Pairs(RetryAfterKey, retry)); err != nil {
		log.Logger().Warn("failed to set retry-after header",
			zap.String("method", method),
			zap.Error(err))
	}
	return status.Errorf(codes.ResourceExhausted, "rate limit exceeded at tier %s, retry after %ss", rle.Tier, retry)
}
