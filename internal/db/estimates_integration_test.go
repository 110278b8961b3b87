package db

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxrate/internal/packing"
)

func newTestStore(t *testing.T) *EstimateStore {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	pool, err := NewPool(t.Context(), dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewEstimateStore(pool)
	require.NoError(t, store.EnsureSchema(t.Context()))
	return store
}

func TestEstimateStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)

	e := &Estimate{
		RequestID:     "req-1",
		PostalCode:    "97201",
		Country:       "US",
		BoxName:       "Small 8x6x4",
		BoxDimensions: packing.Dimensions{Length: 8, Width: 6, Height: 4},
		Weight:        1.5,
		Rates:         json.RawMessage(`{"no_rush":{"amount":"4.77","delivery_days":5}}`),
	}
	require.NoError(t, store.Save(t.Context(), e))
	require.NotEqual(t, uuid.Nil, e.ID)

	got, err := store.Get(t.Context(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.BoxName, got.BoxName)
	assert.Equal(t, e.BoxDimensions, got.BoxDimensions)
	assert.Equal(t, "req-1", got.RequestID)
	assert.False(t, got.Fallback)
	assert.JSONEq(t, string(e.Rates), string(got.Rates))

	err = store.Save(t.Context(), e)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestEstimateStore_GetUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(t.Context(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewPool_RequiresURL(t *testing.T) {
	_, err := NewPool(t.Context(), "")
	assert.Error(t, err)
}
