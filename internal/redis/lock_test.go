package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/interval"
)

func newTestLocker(t *testing.T, wait time.Duration) (*DoctorLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewDoctorLocker(client, 5*time.Second, wait), mr
}

func TestNewRedisClientPings(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), "", "")
	require.NoError(t, err)
	_ = client.Close()
}

func TestDoctorLockHeldDuringCallback(t *testing.T) {
	locker, mr := newTestLocker(t, 0)

	err := locker.WithDoctorLock(context.Background(), "d1", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:doctor:d1"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:doctor:d1"))
}

func TestDoctorLockReturnsCallbackError(t *testing.T) {
	locker, mr := newTestLocker(t, 0)
	boom := errors.New("boom")

	err := locker.WithDoctorLock(context.Background(), "d1", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:doctor:d1"))
}

func TestDoctorLockNotAcquired(t *testing.T) {
	locker, mr := newTestLocker(t, 60*time.Millisecond)
	require.NoError(t, mr.Set("lock:doctor:d1", "someone-else"))

	called := false
	err := locker.WithDoctorLock(context.Background(), "d1", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	v, err := mr.Get("lock:doctor:d1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestDoctorLockWaitsForRelease(t *testing.T) {
	locker, mr := newTestLocker(t, 2*time.Second)
	require.NoError(t, mr.Set("lock:doctor:d1", "someone-else"))

	go func() {
		time.Sleep(80 * time.Millisecond)
		mr.Del("lock:doctor:d1")
	}()

	called := false
	err := locker.WithDoctorLock(context.Background(), "d1", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDoctorLockDoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t, 0)

	err := locker.WithDoctorLock(context.Background(), "d1", func(ctx context.Context) error {
		// Simulate expiry and takeover by another holder
		return mr.Set("lock:doctor:d1", "new-owner")
	})
	require.NoError(t, err)

	v, err := mr.Get("lock:doctor:d1")
	require.NoError(t, err)
	assert.Equal(t, "new-owner", v)
}

func TestDoctorLockContextCancelledWhileWaiting(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	require.NoError(t, mr.Set("lock:doctor:d1", "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := locker.WithDoctorLock(ctx, "d1", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoctorLockSerializesLedgerBookings(t *testing.T) {
	locker, _ := newTestLocker(t, 5*time.Second)
	ledger := appointment.NewLedger(appointment.NewMemoryStore(), appointment.WithLocker(locker))

	start := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	iv := interval.Interval{Start: start, End: start.Add(30 * time.Minute)}

	const n = 8
	var (
		wg        sync.WaitGroup
		successes int64
		conflicts int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Insert(context.Background(), "p1", "d1", iv, "")
			switch {
			case err == nil:
				atomic.AddInt64(&successes, 1)
			case errors.Is(err, appointment.ErrDoctorConflict):
				atomic.AddInt64(&conflicts, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes)
	assert.EqualValues(t, n-1, conflicts)
}
