package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UpdatesChannel is the redis pub/sub channel gateway instances listen on.
const UpdatesChannel = "analysis:updates"

const (
	statusKeyPrefix = "analysis:status:"
	statusTTL       = 10 * time.Minute
)

// TaskProgress is the frame the gateway relays to WebSocket subscribers.
type TaskProgress struct {
	TaskID         uuid.UUID `json:"task_id"`
	Status         string    `json:"status"`
	ProcessedFiles int       `json:"processed_files"`
	TotalFiles     int       `json:"total_files"`
	FailedFiles    int       `json:"failed_files"`
	DefectsFound   int       `json:"defects_found"`
	Message        string    `json:"message,omitempty"`
}

// Publisher pushes progress frames to redis: the status key for polling
// clients and the pub/sub channel for live WebSocket relays.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, progress *TaskProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}

	key := statusKeyPrefix + progress.TaskID.String()
	if err := p.client.Set(ctx, key, data, statusTTL).Err(); err != nil {
		return err
	}

	return p.client.Publish(ctx, UpdatesChannel, data).Err()
}
