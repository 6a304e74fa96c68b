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

// Package runlog 记录每一步的动作、奖励与事件，便于回放与筛选有价值的运行
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"firmnav/pkg/config"
)

// Run 一次运行（多个 epoch）
type Run struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

// Step 单步记录
type Step struct {
	RunID       string  `json:"run_id"`
	Epoch       int     `json:"epoch"`
	Episode     int     `json:"episode"`
	Step        int     `json:"step"`
	TotalReward float64 `json:"total_reward"`
	Reward      float64 `json:"reward"`
	Opcode      int     `json:"opcode"`
	Operand0    *int64  `json:"operand0"`
	Operand1    *int64  `json:"operand1"`
	// Events 本步解码出的事件（JSON 数组）
	Events    json.RawMessage `json:"events"`
	CreatedAt time.Time       `json:"created_at"`
}

// AllEpisodes ListSteps 不按 episode 过滤
const AllEpisodes = -1

// Store 运行日志存储
type Store interface {
	BeginRun(ctx context.Context, name string) (Run, error)
	AppendSteps(ctx context.Context, steps []Step) error
	// ListSteps 按 (epoch, episode, step) 顺序返回；episode 为 AllEpisodes 时返回全部
	ListSteps(ctx context.Context, runID string, episode int) ([]Step, error)
	Close() error
}

// NewStore 按配置创建：memory（默认）| sqlite | postgres | none
func NewStore(ctx context.Context, cfg config.RunLogConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "none":
		return nopStore{}, nil
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported runlog type: %s", cfg.Type)
	}
}

func newRun(name string) Run {
	id := uuid.New().String()
	if name == "" {
		name = "run_" + time.Now().UTC().Format("20060102T150405")
	}
	return Run{ID: id, Name: name, StartedAt: time.Now().UTC()}
}

func eventsOrNull(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}

// nopStore 不记录
type nopStore struct{}

func (nopStore) BeginRun(ctx context.Context, name string) (Run, error) { return newRun(name), nil }

func (nopStore) AppendSteps(ctx context.Context, steps []Step) error { return nil }

func (nopStore) ListSteps(ctx context.Context, runID string, episode int) ([]Step, error) {
	return nil, nil
}

func (nopStore) Close() error { return nil }
