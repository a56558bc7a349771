package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"stagechat/internal/model"
)

// RedisStore 把每个会话状态存成一个 JSON 值：
//
//	<prefix>:session:<session_id> -> SessionState JSON
//	<prefix>:current              -> 上次使用的 session_id
//
// 单条 SET 即整组评估字段的原子更新，与文件后端契约一致。
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "stagechat"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *RedisStore) currentKey() string {
	return s.prefix + ":current"
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.SessionState, error) {
	data, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var state model.SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &state, nil
}

func (s *RedisStore) Save(ctx context.Context, state *model.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state.SessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]model.SessionSummary, error) {
	keys, err := s.client.Keys(ctx, s.key("*")).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys: %w", err)
	}
	var out []model.SessionSummary
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var state model.SessionState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			continue
		}
		out = append(out, model.SessionSummary{
			SessionID:  state.SessionID,
			Name:       state.Name,
			PromptFile: state.PromptFile,
			UpdatedAt:  state.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *RedisStore) Current(ctx context.Context) (string, error) {
	id, err := s.client.Get(ctx, s.currentKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get current: %w", err)
	}
	return id, nil
}

func (s *RedisStore) SetCurrent(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, s.currentKey(), id, 0).Err(); err != nil {
		return fmt.Errorf("redis set current: %w", err)
	}
	return nil
}
