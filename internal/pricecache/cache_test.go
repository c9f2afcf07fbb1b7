package pricecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_FreshValueNotRefetched(t *testing.T) {
	mock := clock.NewMock()
	calls := 0
	c := New(time.Minute, func(ctx context.Context) (float64, error) {
		calls++
		return 1.5, nil
	}).WithClock(mock)

	v, stale, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
	assert.False(t, stale)

	mock.Add(30 * time.Second)
	v, stale, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
	assert.False(t, stale)
	assert.Equal(t, 1, calls)
}

func TestCache_RefreshAfterTTL(t *testing.T) {
	mock := clock.NewMock()
	next := 1.0
	c := New(time.Minute, func(ctx context.Context) (float64, error) {
		return next, nil
	}).WithClock(mock)

	v, _, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	next = 2.0
	mock.Add(time.Minute)
	v, stale, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
	assert.False(t, stale)
}

func TestCache_StaleFallbackOnRefreshFailure(t *testing.T) {
	mock := clock.NewMock()
	fail := false
	c := New(time.Minute, func(ctx context.Context) (float64, error) {
		if fail {
			return 0, errors.New("exchange unreachable")
		}
		return 3.25, nil
	}).WithClock(mock)

	_, _, err := c.Get(context.Background())
	require.NoError(t, err)

	fail = true
	mock.Add(2 * time.Minute)
	v, stale, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.25, v)
	assert.True(t, stale)
}

func TestCache_UnprimedFailureReturnsError(t *testing.T) {
	c := New(time.Minute, func(ctx context.Context) (float64, error) {
		return 0, errors.New("exchange unreachable")
	}).WithClock(clock.NewMock())

	_, _, err := c.Get(context.Background())
	assert.Error(t, err)
}
