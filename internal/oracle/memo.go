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
	"fmt"
	"sync"

	"firmnav/internal/rediskv"
	"firmnav/pkg/config"
)

// Memo 指纹 -> 结论 的记忆表，只追加
type Memo interface {
	Get(ctx context.Context, fingerprint string) (Verdict, bool, error)
	// PutIfAbsent 写入结论；已存在时保留旧值并返回之
	PutIfAbsent(ctx context.Context, fingerprint string, v Verdict) (Verdict, error)
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// memoryMemo 进程内记忆表
type memoryMemo struct {
	mu sync.RWMutex
	m  map[string]Verdict
}

// NewMemoryMemo 创建内存记忆表
func NewMemoryMemo() Memo {
	return &memoryMemo{m: make(map[string]Verdict)}
}

func (s *memoryMemo) Get(ctx context.Context, fp string) (Verdict, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[fp]
	return v, ok, nil
}

func (s *memoryMemo) PutIfAbsent(ctx context.Context, fp string, v Verdict) (Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.m[fp]; ok {
		return old, nil
	}
	s.m[fp] = v
	return v, nil
}

func (s *memoryMemo) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]Verdict)
	return nil
}

func (s *memoryMemo) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m), nil
}

// NewMemo 按配置创建记忆表：memory（默认）| redis
func NewMemo(ctx context.Context, cfg config.MemoConfig) (Memo, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryMemo(), nil
	case "redis":
		client, err := rediskv.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewRedisMemo(client, rediskv.Key(cfg.Namespace, "oracle")), nil
	default:
		return nil, fmt.Errorf("unsupported oracle memo type: %s", cfg.Type)
	}
}
