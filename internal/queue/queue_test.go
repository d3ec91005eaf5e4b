package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	q := New(opt, "default")
	t.Cleanup(func() { q.Close() })
	return q
}

func TestIDIsCanonicalAndYearScoped(t *testing.T) {
	assert.Equal(t, "com,example):2020", ID("example.com", "2020"))
	assert.Equal(t, ID("https://example.com/", "2020"), ID("EXAMPLE.COM", "2020"))
	assert.NotEqual(t, ID("example.com", "2020"), ID("example.com", "2021"))
}

func TestSubmitDetectsAlreadyActive(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id1, active1, err := q.Submit(ctx, "example.com", "2020")
	require.NoError(t, err)
	assert.False(t, active1)

	id2, active2, err := q.Submit(ctx, "example.com", "2020")
	require.NoError(t, err)
	assert.True(t, active2)
	assert.Equal(t, id1, id2)
}

func TestSubmitAllowsDistinctYearsConcurrently(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, active1, err := q.Submit(ctx, "example.com", "2020")
	require.NoError(t, err)
	assert.False(t, active1)

	_, active2, err := q.Submit(ctx, "example.com", "2021")
	require.NoError(t, err)
	assert.False(t, active2)
}

func TestStatusReturnsNotFoundForUnknownID(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Status("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusReportsPendingForQueuedTask(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, _, err := q.Submit(ctx, "example.com", "2020")
	require.NoError(t, err)

	res, err := q.Status(id)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", string(res.State))
}
