package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cityEntry struct {
	City string  `json:"city"`
	Lat  float64 `json:"lat"`
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var out cityEntry
	found, err := store.Get(ctx, "city:lyon", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "city:lyon", cityEntry{City: "Lyon", Lat: 45.76}, 0))
	found, err = store.Get(ctx, "city:lyon", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, cityEntry{City: "Lyon", Lat: 45.76}, out)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "elevation:u0", 237.0, time.Minute))

	var alt float64
	found, _ := store.Get(ctx, "elevation:u0", &alt)
	assert.True(t, found)

	now = now.Add(2 * time.Minute)
	found, _ = store.Get(ctx, "elevation:u0", &alt)
	assert.False(t, found)
}
