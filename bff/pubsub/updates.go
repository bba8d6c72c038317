package pubsub

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"gridinspect/bff/database"
	"gridinspect/bff/dto"
)

// UpdatesChannel is the redis pub/sub channel progress frames travel on.
// The worker publishes, every gateway instance subscribes.
const UpdatesChannel = "analysis:updates"

type Handler func(progress *dto.TaskProgress)

// Subscriber relays task progress frames from redis pub/sub to a handler.
type Subscriber struct {
	cache  *database.Cache
	logger *zap.Logger
}

func NewSubscriber(cache *database.Cache, logger *zap.Logger) *Subscriber {
	return &Subscriber{cache: cache, logger: logger}
}

// Run consumes frames until the context is cancelled. Malformed frames are
// logged and dropped; a dead subscriber would silently stall every
// progress-watching client.
func (s *Subscriber) Run(ctx context.Context, handler Handler) {
	sub := s.cache.Subscribe(ctx, UpdatesChannel)
	defer sub.Close()

	ch := sub.Channel()
	s.logger.Info("subscribed to task updates", zap.String("channel", UpdatesChannel))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("updates subscriber stopping")
			return
		case msg, ok := <-ch:
			if !ok {
				s.logger.Warn("updates channel closed")
				return
			}

			var progress dto.TaskProgress
			if err := json.Unmarshal([]byte(msg.Payload), &progress); err != nil {
				s.logger.Error("malformed progress frame",
					zap.String("payload", msg.Payload),
					zap.Error(err),
				)
				continue
			}

			handler(&progress)
		}
	}
}
