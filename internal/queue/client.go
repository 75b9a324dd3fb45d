package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, maxRetry int, timeout time.Duration) *Client {
	if maxRetry < 0 {
		maxRetry = 0
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: maxRetry,
		timeout:  timeout,
	}
}

// EnqueueNormalizeArtwork schedules normalization of an uploaded original.
// The artwork ID doubles as the task ID so a repeated enqueue is rejected
// with asynq.ErrTaskIDConflict.
func (c *Client) EnqueueNormalizeArtwork(ctx context.Context, payload NormalizeArtworkPayload) (*asynq.TaskInfo, error) {
	task, err := NewNormalizeArtworkTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.ArtworkID),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
		asynq.Retention(24*time.Hour),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
