package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(start time.Time) (*MemoryJournal, func(time.Duration)) {
	j := NewMemoryJournal()
	now := start
	j.now = func() time.Time { return now }
	return j, func(d time.Duration) { now = now.Add(d) }
}

func TestPrepare(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, Prepare(nil, now), ErrInvalidRecord)
	assert.ErrorIs(t, Prepare(&Exchange{Direction: DirectionInbound}, now), ErrInvalidRecord)
	assert.ErrorIs(t, Prepare(&Exchange{MessageID: "m@test", Direction: "sideways"}, now), ErrInvalidRecord)

	ex := &Exchange{MessageID: "m@test", Direction: DirectionOutbound}
	require.NoError(t, Prepare(ex, now))
	assert.Equal(t, "outbound:m@test", ex.ID)
	assert.Equal(t, now, ex.CreatedAt)
	assert.Equal(t, now, ex.UpdatedAt)
}

func TestMemoryJournal_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	j, advance := newTestJournal(start)

	require.NoError(t, j.RecordExchange(ctx, &Exchange{
		MessageID:  "m@test",
		Direction:  DirectionInbound,
		Status:     StatusRejected,
		ErrorCodes: []string{"EBMS:0101"},
	}))

	_, err := j.GetExchange(ctx, DirectionOutbound, "m@test")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := j.GetExchange(ctx, DirectionInbound, "m@test")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, []string{"EBMS:0101"}, got.ErrorCodes)

	// returned records are copies
	got.ErrorCodes[0] = "changed"
	again, err := j.GetExchange(ctx, DirectionInbound, "m@test")
	require.NoError(t, err)
	assert.Equal(t, "EBMS:0101", again.ErrorCodes[0])

	advance(time.Minute)
	require.NoError(t, j.RecordExchange(ctx, &Exchange{
		MessageID: "m@test",
		Direction: DirectionInbound,
		Status:    StatusAccepted,
	}))
	replaced, err := j.GetExchange(ctx, DirectionInbound, "m@test")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, replaced.Status)
	assert.Equal(t, start, replaced.CreatedAt)
	assert.Equal(t, start.Add(time.Minute), replaced.UpdatedAt)
}

func TestMemoryJournal_RecordInvalid(t *testing.T) {
	j := NewMemoryJournal()
	err := j.RecordExchange(context.Background(), &Exchange{Direction: DirectionOutbound})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestMemoryJournal_List(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	j, advance := newTestJournal(start)

	records := []*Exchange{
		{MessageID: "a", Direction: DirectionOutbound, Status: StatusDelivered},
		{MessageID: "b", Direction: DirectionOutbound, Status: StatusFailed},
		{MessageID: "c", Direction: DirectionInbound, Status: StatusAccepted},
		{MessageID: "d", Direction: DirectionOutbound, Status: StatusDelivered},
	}
	for _, ex := range records {
		require.NoError(t, j.RecordExchange(ctx, ex))
		advance(time.Second)
	}

	all, err := j.ListExchanges(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].MessageID)
	assert.Equal(t, "a", all[3].MessageID)

	outbound, err := j.ListExchanges(ctx, &ExchangeFilter{Direction: DirectionOutbound, Status: StatusDelivered})
	require.NoError(t, err)
	require.Len(t, outbound, 2)
	assert.Equal(t, "d", outbound[0].MessageID)

	since := start.Add(2 * time.Second)
	recent, err := j.ListExchanges(ctx, &ExchangeFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := j.ListExchanges(ctx, &ExchangeFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "d", limited[0].MessageID)
}

func TestMemoryJournal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := NewMemoryJournal()
	assert.ErrorIs(t, j.RecordExchange(ctx, &Exchange{MessageID: "m", Direction: DirectionInbound}), context.Canceled)
	_, err := j.ListExchanges(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
