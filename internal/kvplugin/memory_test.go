package kvplugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGetRoundTrip(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("hello"), 0))
	val, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), val)
}

func TestMemoryStore_GetMissingKeyIsNotFound(t *testing.T) {
	s := newMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_TTLExpiryMakesKeyUnreadable(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := s.Get(ctx, "a")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("v"), 0))
	time.Sleep(5 * time.Millisecond)

	val, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := newMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("v"), 0))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Get(ctx, "a")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryEntry_ExpiredZeroMeansNoExpiry(t *testing.T) {
	e := memoryEntry{value: []byte("v")}
	assert.False(t, e.expired(time.Now().Add(time.Hour)))
}
