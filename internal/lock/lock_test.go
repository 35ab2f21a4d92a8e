package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalLockerIsExclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "pipeline", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = l.TryLock(ctx, "pipeline", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, l.Release(ctx, "pipeline", token))

	_, ok, err = l.TryLock(ctx, "pipeline", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockerReleaseIgnoresForeignToken(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	_, ok, _ := l.TryLock(ctx, "pipeline", time.Minute)
	assert.True(t, ok)

	assert.NoError(t, l.Release(ctx, "pipeline", "someone-else"))

	_, ok, _ = l.TryLock(ctx, "pipeline", time.Minute)
	assert.False(t, ok)
}

func TestLocalLockerLeaseExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, ok, _ := l.TryLock(ctx, "pipeline", time.Minute)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.TryLock(ctx, "pipeline", time.Minute)
	assert.True(t, ok)
}

func TestLockValidation(t *testing.T) {
	l := NewLocalLocker()

	_, _, err := l.TryLock(context.Background(), "", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, _, err = l.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestNilRedisLocker(t *testing.T) {
	var l *RedisLocker
	assert.Nil(t, NewRedisLocker(nil))

	_, ok, err := l.TryLock(context.Background(), "k", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
}
