package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/pkg/types"
)

// DefaultRedisKey is the hash holding every config, keyed by server id.
const DefaultRedisKey = "toolgate:servers"

// RedisStore keeps configs as JSON values of a single redis hash.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisStore creates a store on rdb. An empty key uses DefaultRedisKey.
func NewRedisStore(rdb *redis.Client, key string, logger *zap.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, key: key, logger: logger}
}

func (s *RedisStore) Save(ctx context.Context, cfg *types.ToolServerConfig) error {
	if cfg.Kind == types.KindInProcess {
		return fmt.Errorf("servers of kind %s are not persisted", cfg.Kind)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode tool server %s: %w", cfg.ID, err)
	}
	if err := s.rdb.HSet(ctx, s.key, cfg.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to save tool server %s: %w", cfg.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.HDel(ctx, s.key, id).Err(); err != nil {
		return fmt.Errorf("failed to delete tool server %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*types.ToolServerConfig, error) {
	all, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tool servers: %w", err)
	}
	out := make([]*types.ToolServerConfig, 0, len(all))
	for id, raw := range all {
		var cfg types.ToolServerConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			s.logger.Warn("skipping unreadable tool server config", zap.String("server_id", id), zap.Error(err))
			continue
		}
		out = append(out, &cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*types.ToolServerConfig, error) {
	raw, err := s.rdb.HGet(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tool server %s: %w", id, err)
	}
	var cfg types.ToolServerConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode tool server %s: %w", id, err)
	}
	return &cfg, nil
}
