package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// MaxDeliver bounds redeliveries of one task. The reaper picks up
	// anything that exhausts it.
	MaxDeliver = 5

	taskRetention = 24 * time.Hour
	nakDelay      = 5 * time.Second
)

// Queue is the durable work queue that carries analysis tasks from the API to
// workers.
type Queue struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger
}

// NewQueue ensures the task stream exists on the client's connection.
func NewQueue(ctx context.Context, c *Client, logger *slog.Logger) (*Queue, error) {
	js, err := jetstream.New(c.conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamTasks,
		Subjects:  []string{SubjectAnalyzeTask},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    taskRetention,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", StreamTasks, err)
	}
	return &Queue{js: js, stream: stream, logger: logger}, nil
}

// Enqueue publishes a task and waits for the stream to persist it.
func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := q.js.Publish(ctx, SubjectAnalyzeTask, payload); err != nil {
		return fmt.Errorf("publish task %s: %w", t.RequestID, err)
	}
	return nil
}

// TaskHandler processes one task. Returning a retryable error redelivers the
// task; any other error drops it.
type TaskHandler func(ctx context.Context, t Task) error

// Consume runs handler for tasks on a durable consumer with at most
// concurrency tasks in flight. It blocks until ctx is cancelled and then
// waits for in-flight tasks.
func (q *Queue) Consume(ctx context.Context, durable string, concurrency int, ackWait time.Duration, retryable func(error) bool, handler TaskHandler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	cons, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: SubjectAnalyzeTask,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    MaxDeliver,
		MaxAckPending: concurrency * 2,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", durable, err)
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = msg.Nak()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			q.dispatch(ctx, msg, retryable, handler)
		}()
	}, jetstream.PullMaxMessages(concurrency))
	if err != nil {
		return fmt.Errorf("consume %s: %w", durable, err)
	}
	q.logger.Info("consuming tasks", "durable", durable, "concurrency", concurrency)

	<-ctx.Done()
	cc.Stop()
	wg.Wait()
	return nil
}

func (q *Queue) dispatch(ctx context.Context, msg jetstream.Msg, retryable func(error) bool, handler TaskHandler) {
	var delivered uint64 = 1
	if md, err := msg.Metadata(); err == nil {
		delivered = md.NumDelivered
	}

	task, err := DecodeTask(msg.Data())
	if err != nil {
		q.logger.Error("dropping malformed task", "error", err)
		_ = msg.Term()
		return
	}

	err = handler(ctx, task)
	outcome := settle(msg, delivered, err, retryable)
	if err != nil {
		q.logger.Warn("task handler failed",
			"request_id", task.RequestID, "delivery", delivered, "outcome", outcome, "error", err)
	}
}

type settler interface {
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// settle acknowledges a delivery based on the handler result and returns a
// label for logging.
func settle(msg settler, delivered uint64, err error, retryable func(error) bool) string {
	switch {
	case err == nil:
		_ = msg.Ack()
		return "ack"
	case retryable != nil && retryable(err) && delivered < MaxDeliver:
		_ = msg.NakWithDelay(nakDelay * time.Duration(delivered))
		return "nak"
	default:
		_ = msg.Term()
		return "term"
	}
}
