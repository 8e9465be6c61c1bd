package asynqadp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q := &Queue{client: asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})}
	return q, mr
}

func TestEnqueueScanWritesTaskToRedis(t *testing.T) {
	q, mr := newTestQueue(t)
	defer q.Close()

	require.NoError(t, q.EnqueueScan(context.Background(), "job-1", "alice", true))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()

	tasks, err := inspector.ListPendingTasks("default")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskScanUser, tasks[0].Type)

	var p scanPayload
	require.NoError(t, json.Unmarshal(tasks[0].Payload, &p))
	assert.Equal(t, "job-1", p.JobID)
	assert.Equal(t, "alice", p.Username)
	assert.True(t, p.ForceOverwrite)
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	_, err := New("not-a-redis-url")
	assert.Error(t, err)
}
