package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rhdesk/hrcore/pkg/async"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Queue hands an entry to a background worker. A nil error means the entry
// was accepted, not that it was written.
type Queue interface {
	Enqueue(ctx context.Context, entry *Entry) error
}

// PoolQueue writes entries on an in-process worker pool. Enqueue never blocks:
// a full pool is reported as async.ErrPoolFull.
type PoolQueue struct {
	pool    *async.WorkerPool
	writer  Writer
	log     logrus.FieldLogger
	metrics *observability.Metrics
}

// NewPoolQueue creates a queue backed by pool
func NewPoolQueue(pool *async.WorkerPool, writer Writer, log logrus.FieldLogger, metrics *observability.Metrics) *PoolQueue {
	return &PoolQueue{
		pool:    pool,
		writer:  writer,
		log:     observability.OrDefault(log),
		metrics: metrics,
	}
}

// Enqueue implements Queue
func (q *PoolQueue) Enqueue(ctx context.Context, entry *Entry) error {
	return q.pool.TrySubmit(func(ctx context.Context) error {
		if err := q.writer.Write(ctx, entry); err != nil {
			q.metrics.AuditEvent("failed")
			return fmt.Errorf("audit %s: %w", entry.Action, err)
		}
		q.metrics.AuditEvent("written")
		return nil
	})
}

// TaskTypeWrite is the asynq task type carrying one audit entry
const TaskTypeWrite = "audit:write"

// AsynqQueue enqueues entries as asynq tasks consumed by the audit worker
type AsynqQueue struct {
	client *asynq.Client
	queue  string
}

// NewAsynqQueue creates a queue publishing to the named asynq queue
func NewAsynqQueue(client *asynq.Client, queue string) *AsynqQueue {
	if queue == "" {
		queue = "audit"
	}
	return &AsynqQueue{client: client, queue: queue}
}

// NewWriteTask builds the asynq task for entry
func NewWriteTask(entry *Entry) (*asynq.Task, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeWrite, payload), nil
}

// Enqueue implements Queue
func (q *AsynqQueue) Enqueue(ctx context.Context, entry *Entry) error {
	task, err := NewWriteTask(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit task: %w", err)
	}
	if _, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	); err != nil {
		return fmt.Errorf("failed to enqueue audit task: %w", err)
	}
	return nil
}

// NewTaskHandler returns the asynq handler persisting TaskTypeWrite tasks.
// Undecodable payloads are skipped rather than retried.
func NewTaskHandler(writer Writer, log logrus.FieldLogger, metrics *observability.Metrics) asynq.HandlerFunc {
	log = observability.OrDefault(log)
	return func(ctx context.Context, t *asynq.Task) error {
		var entry Entry
		if err := json.Unmarshal(t.Payload(), &entry); err != nil {
			log.WithError(err).Error("dropping undecodable audit task")
			metrics.AuditEvent("failed")
			return fmt.Errorf("decode audit task: %w", asynq.SkipRetry)
		}
		if err := writer.Write(ctx, &entry); err != nil {
			log.WithError(err).WithField("action", entry.Action).Warn("audit write failed, will retry")
			metrics.AuditEvent("failed")
			return err
		}
		metrics.AuditEvent("written")
		return nil
	}
}
