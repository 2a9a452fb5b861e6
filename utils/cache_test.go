package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	type entry struct {
		UserID string `json:"user_id"`
		XP     int64  `json:"xp"`
	}
	require.NoError(t, c.Set(ctx, "board", []entry{{"u1", 120}}, time.Minute))

	var got []entry
	require.NoError(t, c.Get(ctx, "board", &got))
	assert.Equal(t, []entry{{"u1", 120}}, got)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "board", &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "forever", 1, 0))
	require.NoError(t, c.Delete(ctx, "forever"))
	var n int
	assert.ErrorIs(t, c.Get(ctx, "forever", &n), ErrCacheMiss)

	assert.ErrorIs(t, c.Set(ctx, "", 1, 0), ErrInvalidKey)
}
