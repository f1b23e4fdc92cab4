package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()

	c, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEnqueueStoresJob(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, "send_weekly_digest", map[string]any{"user_id": "u1"}, Options{
		Priority: 2,
		Attempts: 5,
		Backoff:  10 * time.Second,
		Timeout:  time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	body, err := c.redis.Get(ctx, fmt.Sprintf(jobKeyFmt, id)).Result()
	require.NoError(t, err)

	var j job
	require.NoError(t, json.Unmarshal([]byte(body), &j))
	assert.Equal(t, "send_weekly_digest", j.Name)
	assert.Equal(t, "u1", j.Payload["user_id"])
	assert.Equal(t, 2, j.Priority)
	assert.Equal(t, 5, j.Attempts)
	assert.Equal(t, int64(10000), j.BackoffMS)

	depth, err := c.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestEnqueueDefaults(t *testing.T) {
	c := newTestClient(t)

	id, err := c.Enqueue(context.Background(), "cleanup", nil, Options{})
	require.NoError(t, err)

	body, err := c.redis.Get(context.Background(), fmt.Sprintf(jobKeyFmt, id)).Result()
	require.NoError(t, err)

	var j job
	require.NoError(t, json.Unmarshal([]byte(body), &j))
	assert.Equal(t, 3, j.Priority)
	assert.Equal(t, 3, j.Attempts)
}

func TestEnqueuePriorityOrdering(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	lowID, err := c.Enqueue(ctx, "low", nil, Options{Priority: 4})
	require.NoError(t, err)
	urgentID, err := c.Enqueue(ctx, "urgent", nil, Options{Priority: 1})
	require.NoError(t, err)

	// Workers pop the lowest score first: urgent before low despite
	// arriving later.
	ids, err := c.redis.ZRange(ctx, pendingKey, 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{urgentID, lowID}, ids)
}

func TestEnqueueAfterClose(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.Close())

	_, err := c.Enqueue(context.Background(), "anything", nil, Options{})
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.Ping(context.Background()))
}
