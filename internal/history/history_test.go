package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingNewestFirstAndBounded(t *testing.T) {
	r := NewRing(3)
	ctx := context.Background()
	for _, typ := range []EventType{EventStart, EventStop, EventStart, EventStop} {
		require.NoError(t, r.Send(ctx, NewEvent(typ, "hotkey")))
	}
	got := r.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, EventStop, got[0].Type)
	assert.Equal(t, EventStart, got[1].Type)
	assert.Equal(t, EventStop, got[2].Type)

	assert.Len(t, r.Recent(2), 2)
	assert.Len(t, r.Recent(10), 3)
}

func TestRingEmpty(t *testing.T) {
	assert.Empty(t, NewRing(0).Recent(5))
}

func TestNewEventHasIdentity(t *testing.T) {
	a := NewEvent(EventStart, "ui")
	b := NewEvent(EventStart, "ui")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.OccurredAt.IsZero())
}
