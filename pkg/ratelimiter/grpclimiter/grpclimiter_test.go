package grpclimiter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/lowc1012/adaptive-ratelimiter/internal/log"
	"github.com/lowc1012/adaptive-ratelimiter/internal/ratelimiter"
	"github.com/lowc1012/adaptive-ratelimiter/internal/store"
)

const method = "/orders.v1.OrderService/Create"

func newChecker(t *testing.T, limit int64) (ratelimiter.Checker, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	lim, err := ratelimiter.NewFixedWindowLimiter(store.NewRedisStore(client), ratelimiter.Rule{Limit: limit, Window: time.Minute}, nil)
	require.NoError(t, err)
	return &ratelimiter.Single{LimitType: ratelimiter.LimitAPIGeneral, Limiter: lim, PerRoute: true}, server
}

func peerContext(addr string) context.Context {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	return peer.NewContext(context.Background(), &peer.Peer{Addr: tcp})
}

func invoke(ctx context.Context, checker ratelimiter.Checker) (any, error) {
	info := &grpc.UnaryServerInfo{FullMethod: method}
	return UnaryServerInterceptor(checker)(ctx, "req", info, func(ctx context.Context, req any) (any, error) {
		return "resp", nil
	})
}

func TestSubjectFromContext(t *testing.T) {
	s, err := SubjectFromContext(peerContext("10.1.2.3:5000"), method)
	require.NoError(t, err)
	assert.Equal(t, ratelimiter.Subject{Address: "10.1.2.3", Route: method}, s)

	ctx := metadata.NewIncomingContext(peerContext("10.1.2.3:5000"), metadata.Pairs(UserIDKey, "alice"))
	s, err = SubjectFromContext(ctx, method)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.ID)
	assert.Empty(t, s.Address)

	_, err = SubjectFromContext(context.Background(), method)
	assert.Error(t, err)
}

func TestUnaryServerInterceptor(t *testing.T) {
	checker, _ := newChecker(t, 2)
	ctx := peerContext("10.1.2.3:5000")

	for i := 0; i < 2; i++ {
		resp, err := invoke(ctx, checker)
		require.NoError(t, err)
		assert.Equal(t, "resp", resp)
	}

	resp, err := invoke(ctx, checker)
	assert.Nil(t, resp)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.ResourceExhausted, st.Code())
	assert.Contains(t, st.Message(), "per_subject_endpoint")
}

func TestUnaryServerInterceptor_HeaderFailureLogged(t *testing.T) {
	prev := log.Logger()
	t.Cleanup(func() { log.SetLogger(prev) })
	core, logs := observer.New(zapcore.WarnLevel)
	log.SetLogger(zap.New(core))

	checker, _ := newChecker(t, 1)
	ctx := peerContext("10.1.2.3:5000")
	_, err := invoke(ctx, checker)
	require.NoError(t, err)

	// no server transport in ctx, so grpc.SetHeader fails
	_, err = invoke(ctx, checker)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	entries := logs.FilterMessage("failed to set retry-after header").All()
	require.Len(t, entries, 1)
	assert.Equal(t, method, entries[0].ContextMap()["method"])
}

func TestUnaryServerInterceptor_Failures(t *testing.T) {
	checker, server := newChecker(t, 2)

	_, err := invoke(context.Background(), checker)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(UserIDKey, "bad\tuser"))
	_, err = invoke(ctx, checker)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	server.Close()
	_, err = invoke(peerContext("10.1.2.3:5000"), checker)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

type fakeStream struct {
	grpc.ServerStream
	ctx    context.Context
	header metadata.MD
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func (f *fakeStream) SetHeader(md metadata.MD) error {
	f.header = metadata.Join(f.header, md)
	return nil
}

func TestStreamServerInterceptor(t *testing.T) {
	checker, _ := newChecker(t, 1)
	interceptor := StreamServerInterceptor(checker)
	info := &grpc.StreamServerInfo{FullMethod: method}
	stream := &fakeStream{ctx: peerContext("10.9.9.9:7000")}
	calls := 0
	handler := func(any, grpc.ServerStream) error { calls++; return nil }

	require.NoError(t, interceptor(nil, stream, info, handler))
	assert.Empty(t, stream.header)

	err := interceptor(nil, stream, info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, 1, calls)
	retry := stream.header.Get(RetryAfterKey)
	require.Len(t, retry, 1)
	assert.NotEqual(t, "0", retry[0])
}
