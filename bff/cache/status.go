package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gridinspect/bff/database"
	"gridinspect/bff/dto"
)

const (
	statusKeyPrefix = "analysis:status:"
	statusTTL       = 10 * time.Minute
)

// StatusCache keeps the latest progress frame per task so status polls
// do not hit Postgres while a batch is running.
type StatusCache struct {
	cache *database.Cache
}

func NewStatusCache(cache *database.Cache) *StatusCache {
	return &StatusCache{cache: cache}
}

func (sc *StatusCache) Get(ctx context.Context, taskID uuid.UUID) (*dto.TaskProgress, error) {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, taskID)

	data, err := sc.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var progress dto.TaskProgress
	if err := json.Unmarshal([]byte(data), &progress); err != nil {
		return nil, err
	}

	return &progress, nil
}

func (sc *StatusCache) Set(ctx context.Context, progress *dto.TaskProgress) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, progress.TaskID)

	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}

	return sc.cache.Set(ctx, key, data, statusTTL)
}

func (sc *StatusCache) Delete(ctx context.Context, taskID uuid.UUID) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, taskID)
	return sc.cache.Del(ctx, key)
}
