// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reward

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"firmnav/internal/rediskv"
	"firmnav/pkg/config"
)

// PrefixMemo 曾触发违背的动作前缀集合，跨 episode 保留
type PrefixMemo interface {
	Contains(ctx context.Context, key string) (bool, error)
	Add(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
}

type memoryPrefixMemo struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewMemoryPrefixMemo 进程内前缀记忆
func NewMemoryPrefixMemo() PrefixMemo {
	return &memoryPrefixMemo{keys: make(map[string]struct{})}
}

func (m *memoryPrefixMemo) Contains(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *memoryPrefixMemo) Add(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
	return nil
}

func (m *memoryPrefixMemo) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys), nil
}

// redisPrefixMemo 以 Set 保存，可跨进程与重启保留
type redisPrefixMemo struct {
	client *redis.Client
	key    string
}

// NewRedisPrefixMemo 使用已有客户端
func NewRedisPrefixMemo(client *redis.Client, key string) PrefixMemo {
	return &redisPrefixMemo{client: client, key: key}
}

func (m *redisPrefixMemo) Contains(ctx context.Context, key string) (bool, error) {
	return m.client.SIsMember(ctx, m.key, key).Result()
}

func (m *redisPrefixMemo) Add(ctx context.Context, key string) error {
	return m.client.SAdd(ctx, m.key, key).Err()
}

func (m *redisPrefixMemo) Len(ctx context.Context) (int, error) {
	n, err := m.client.SCard(ctx, m.key).Result()
	return int(n), err
}

// NewPrefixMemo 按配置创建：memory（默认）| redis
func NewPrefixMemo(ctx context.Context, cfg config.MemoConfig) (PrefixMemo, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryPrefixMemo(), nil
	case "redis":
		client, err := rediskv.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewRedisPrefixMemo(client, rediskv.Key(cfg.Namespace, "prefixes")), nil
	default:
		return nil, fmt.Errorf("unsupported prefix memo type: %s", cfg.Type)
	}
}
