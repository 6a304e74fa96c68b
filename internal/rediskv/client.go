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

// Package rediskv 为记忆表后端构造 Redis 客户端
package rediskv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"firmnav/pkg/config"
)

// DefaultNamespace 未配置命名空间时的 key 前缀
const DefaultNamespace = "firmnav"

// OptionsFromMemoConfig 从 MemoConfig 构造 redis.Options（type=redis 时使用）
func OptionsFromMemoConfig(cfg config.MemoConfig) *redis.Options {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.DB < 0 {
		opts.DB = 0
	}
	return opts
}

// NewClient 创建客户端并 ping
func NewClient(ctx context.Context, cfg config.MemoConfig) (*redis.Client, error) {
	client := redis.NewClient(OptionsFromMemoConfig(cfg))
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Key 拼接命名空间下的 key
func Key(namespace, name string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + ":" + name
}
