package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLockerRefusesToLock(t *testing.T) {
	var l *Locker
	assert.Nil(t, NewLocker(nil))
	_, ok, err := l.TryLock(context.Background(), DefaultKey, time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, l.Release(context.Background(), DefaultKey, "x"))
	assert.NoError(t, l.Close())
}

func TestOpenRejectsBadURL(t *testing.T) {
	_, err := Open("not-a-url://")
	require.Error(t, err)
}

// Runs against a real server when VB_TEST_REDIS_URL is set.
func TestLockLifecycle(t *testing.T) {
	url := os.Getenv("VB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("VB_TEST_REDIS_URL not set")
	}
	l, err := Open(url)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	key := DefaultKey + ":test:" + t.Name()
	token, ok, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer l.Release(ctx, key, token)

	_, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Extend(ctx, key, token, 2*time.Minute))
	assert.ErrorIs(t, l.Extend(ctx, key, "stranger", time.Minute), ErrHeld)

	require.NoError(t, l.Release(ctx, key, token))
	again, ok, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release(ctx, key, again))
}
