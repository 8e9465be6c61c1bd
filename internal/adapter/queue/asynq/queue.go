// Package asynqadp implements the ambient scan-job queue on top of asynq
// (spec.md §6 supplement #1): a producer side (Queue, implementing
// domain.ScanQueue) and a consumer side (Worker) that drives the scanner
// orchestrator for each dequeued task, in the style of the teacher's own
// queue/asynq package.
package asynqadp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// TaskScanUser is the asynq task type name for a user scan.
const TaskScanUser = "scan_user"

// scanPayload is the JSON body of a TaskScanUser task.
type scanPayload struct {
	JobID          string `json:"job_id"`
	Username       string `json:"username"`
	ForceOverwrite bool   `json:"force_overwrite"`
}

// Queue enqueues scan jobs onto asynq/Redis, implementing domain.ScanQueue.
type Queue struct {
	client *asynq.Client
}

// New returns a Queue backed by the Redis instance at redisURL.
func New(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynqadp: parse redis uri: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt)}, nil
}

// EnqueueScan implements domain.ScanQueue.
func (q *Queue) EnqueueScan(ctx domain.Context, jobID, username string, forceOverwrite bool) error {
	body, err := json.Marshal(scanPayload{JobID: jobID, Username: username, ForceOverwrite: forceOverwrite})
	if err != nil {
		return fmt.Errorf("asynqadp: marshal scan payload: %w", err)
	}
	task := asynq.NewTask(TaskScanUser, body)
	if _, err := q.client.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Retention(24*time.Hour)); err != nil {
		return fmt.Errorf("asynqadp: enqueue scan: %w", err)
	}
	observability.EnqueueScan(string(domain.ScanQueued))
	return nil
}

// Close releases the underlying Redis client.
func (q *Queue) Close() error { return q.client.Close() }

var _ domain.ScanQueue = (*Queue)(nil)
