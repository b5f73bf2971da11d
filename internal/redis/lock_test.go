package redisclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisDoctorLocker(client, 5*time.Second), mr
}

func TestWithDoctorLock_RunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t)
	doctorID := uuid.New()
	key := fmt.Sprintf("lock:doctor:%s", doctorID)

	ran := false
	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(key), "lock key should be held inside the critical section")
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(key), "lock key should be released afterwards")
}

func TestWithDoctorLock_HeldLockRefused(t *testing.T) {
	locker, mr := newTestLocker(t)
	doctorID := uuid.New()
	key := fmt.Sprintf("lock:doctor:%s", doctorID)

	// Another process holds the lock.
	mr.Set(key, "other-token")
	mr.SetTTL(key, 5*time.Second)

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})

	require.ErrorIs(t, err, ErrLockNotAcquired)

	// The foreign lock is untouched.
	got, _ := mr.Get(key)
	assert.Equal(t, "other-token", got)
}

func TestWithDoctorLock_ErrorPropagatesAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t)
	doctorID := uuid.New()
	key := fmt.Sprintf("lock:doctor:%s", doctorID)

	boom := errors.New("insert failed")
	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(key))
}

func TestWithDoctorLock_DoctorsDoNotContend(t *testing.T) {
	locker, _ := newTestLocker(t)

	err := locker.WithDoctorLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		// A booking for a different doctor proceeds while this one is held.
		return locker.WithDoctorLock(ctx, uuid.New(), func(ctx context.Context) error {
			return nil
		})
	})

	require.NoError(t, err)
}

func TestWithDoctorLock_SameDoctorContends(t *testing.T) {
	locker, _ := newTestLocker(t)
	doctorID := uuid.New()

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		return locker.WithDoctorLock(ctx, doctorID, func(ctx context.Context) error {
			t.Fatal("nested acquisition for the same doctor must fail")
			return nil
		})
	})

	require.ErrorIs(t, err, ErrLockNotAcquired)
}
