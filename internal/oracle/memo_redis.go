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

package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// redisMemo 以 Hash 保存记忆表，多个进程共享同一 key 即共享记忆；HSETNX 保证首写胜出
type redisMemo struct {
	client *redis.Client
	key    string
}

// NewRedisMemo 使用已有客户端创建 Redis 记忆表
func NewRedisMemo(client *redis.Client, key string) Memo {
	return &redisMemo{client: client, key: key}
}

// 编码："1|rule" 或 "0|"
func encodeVerdict(v Verdict) string {
	if v.Violated {
		return "1|" + v.Rule
	}
	return "0|"
}

func decodeVerdict(s string) (Verdict, error) {
	flag, rule, ok := strings.Cut(s, "|")
	if !ok || (flag != "0" && flag != "1") {
		return Verdict{}, fmt.Errorf("malformed verdict %q", s)
	}
	return Verdict{Violated: flag == "1", Rule: rule}, nil
}

func (s *redisMemo) Get(ctx context.Context, fp string) (Verdict, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, fp).Result()
	if errors.Is(err, redis.Nil) {
		return Verdict{}, false, nil
	}
	if err != nil {
		return Verdict{}, false, err
	}
	v, err := decodeVerdict(raw)
	if err != nil {
		return Verdict{}, false, err
	}
	return v, true, nil
}

func (s *redisMemo) PutIfAbsent(ctx context.Context, fp string, v Verdict) (Verdict, error) {
	set, err := s.client.HSetNX(ctx, s.key, fp, encodeVerdict(v)).Result()
	if err != nil {
		return Verdict{}, err
	}
	if set {
		return v, nil
	}
	old, ok, err := s.Get(ctx, fp)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return v, nil
	}
	return old, nil
}

func (s *redisMemo) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *redisMemo) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	return int(n), err
}
