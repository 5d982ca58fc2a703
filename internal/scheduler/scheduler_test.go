package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelpipe/internal/pipeline"
	"intelpipe/internal/report"
)

type countingRunner struct {
	calls int
	err   error
}

func (r *countingRunner) Run(ctx context.Context) (*pipeline.Result, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Result{RunID: "r", Key: "k", Document: report.NewAssembler("").Generate(nil)}, nil
}

type heldLock struct{}

func (heldLock) TryLock(context.Context) (func(context.Context) error, bool, error) {
	return nil, false, nil
}

func TestNew_DefaultSpecRunsAtThreeUTC(t *testing.T) {
	s, err := New("", &countingRunner{})
	require.NoError(t, err)

	next := s.Next()
	assert.Equal(t, time.UTC, next.Location())
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New("every tuesday", &countingRunner{})
	assert.ErrorContains(t, err, "invalid schedule")
}

func TestRunOnce(t *testing.T) {
	r := &countingRunner{}
	s, err := New(DefaultSpec, r)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, r.calls)

	r.err = errors.New("store down")
	assert.ErrorContains(t, s.RunOnce(context.Background()), "store down")
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	r := &countingRunner{}
	s, err := New(DefaultSpec, r, WithLock(heldLock{}))
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 0, r.calls)
}

func TestRun_StopsWithContext(t *testing.T) {
	s, err := New("@every 1h", &countingRunner{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

// TestRedisLock_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisLock_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := "intelpipe:test:" + time.Now().Format(time.RFC3339Nano)
	a := NewRedisLock(client, key, time.Minute)
	b := NewRedisLock(client, key, time.Minute)

	release, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	releaseB, ok, err := b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, releaseB(ctx))
}
