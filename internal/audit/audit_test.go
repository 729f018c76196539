package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu         sync.Mutex
	violations []Violation
	err        error
}

func (r *recordingSink) Record(_ context.Context, v Violation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, v)
	return r.err
}

func sample() Violation {
	return Violation{
		Identifier: "ip:1.2.3.4",
		LimitType:  "authentication",
		Tier:       "per_subject",
		Limit:      5,
		RetryAfter: 30 * time.Second,
		Timestamp:  time.Date(2025, 9, 17, 10, 30, 0, 0, time.UTC),
		Context:    map[string]string{"endpoint": "/auth/login"},
	}
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Record(context.Background(), sample()))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Rate limit exceeded", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "ip:1.2.3.4", fields["identifier"])
	assert.Equal(t, "per_subject", fields["tier"])
	assert.Equal(t, "/auth/login", fields["ctx.endpoint"])

	assert.NoError(t, NewLogSink(nil).Record(context.Background(), sample()))
}

func TestThrottled(t *testing.T) {
	next := &recordingSink{}
	// zero refill: only the burst gets through
	th := NewThrottled(next, 0, 3)

	for i := 0; i < 10; i++ {
		require.NoError(t, th.Record(context.Background(), sample()))
	}
	assert.Len(t, next.violations, 3)
	assert.Equal(t, int64(7), th.Dropped())
}

func TestMulti(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("disk full")}
	m := Multi{a, nil, b, Nop{}}

	err := m.Record(context.Background(), sample())
	assert.EqualError(t, err, "disk full")
	assert.Len(t, a.violations, 1)
	assert.Len(t, b.violations, 1)
}

type fakeCollection struct {
	docs []interface{}
	err  error
}

func (f *fakeCollection) InsertOne(_ context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.docs = append(f.docs, doc)
	return &mongo.InsertOneResult{InsertedID: len(f.docs)}, nil
}

func TestMongoSink(t *testing.T) {
	col := &fakeCollection{}
	sink := &MongoSink{col: col}
	require.NoError(t, sink.Record(context.Background(), sample()))
	require.Len(t, col.docs, 1)
	assert.Equal(t, sample(), col.docs[0])

	col.err = errors.New("no primary")
	err := sink.Record(context.Background(), sample())
	assert.ErrorContains(t, err, "no primary")

	assert.Error(t, NewMongoSink(nil).Record(context.Background(), sample()))
}
