package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryRunsUntilStopped(t *testing.T) {
	s := New()
	var n int32
	s.Every(10*time.Millisecond, FuncJob(func(ctx context.Context) {
		atomic.AddInt32(&n, 1)
	}))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := atomic.LoadInt32(&n)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&n))
}

func TestOnceAfterCancelledByStop(t *testing.T) {
	s := New()
	var ran int32
	s.OnceAfter(time.Hour, FuncJob(func(ctx context.Context) {
		atomic.StoreInt32(&ran, 1)
	}))
	s.Stop()
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestCronRegistersEntries(t *testing.T) {
	c := NewCron(nil)
	id, err := c.AddFunc("@every 60s", func(ctx context.Context) {})
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, c.Entries(), 1)

	_, err = c.AddFunc("not a schedule", func(ctx context.Context) {})
	assert.Error(t, err)

	c.Start()
	c.Stop()
}
