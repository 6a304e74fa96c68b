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

// Package reward 将不变量违背转为偏向“组合已知 gadget”的链式奖励
package reward

import (
	"context"

	"firmnav/internal/wire"
	perrors "firmnav/pkg/errors"
)

// InitialDistinct 每个 episode 开始时的违背计数
const InitialDistinct = 1

// EpisodeState 单个 episode 的状态
type EpisodeState struct {
	Prefix             []wire.Command
	DistinctInvariants int
	CumulativeReward   float64
}

// Accumulator 计算增量奖励。非并发安全；PrefixMemo 可跨实例共享
type Accumulator struct {
	memo  PrefixMemo
	state EpisodeState
}

// New 创建累加器；memo 为 nil 时使用内存前缀记忆
func New(memo PrefixMemo) *Accumulator {
	if memo == nil {
		memo = NewMemoryPrefixMemo()
	}
	a := &Accumulator{memo: memo}
	a.ResetEpisode()
	return a
}

// ResetEpisode 清空前缀与累计奖励，计数回到初值；前缀记忆不清空
func (a *Accumulator) ResetEpisode() {
	a.state = EpisodeState{DistinctInvariants: InitialDistinct}
}

// Push 追加本步命令到动作前缀
func (a *Accumulator) Push(cmd wire.Command) {
	a.state.Prefix = append(a.state.Prefix, cmd)
}

// Reward 对本步一条违背事件计算增量奖励（计数先读后增），并记录前缀。
// 未违背时返回 0
func (a *Accumulator) Reward(ctx context.Context, stepIndex int, violated bool) (float64, error) {
	if !violated {
		return 0, nil
	}
	key := wire.PrefixKey(a.state.Prefix)
	seen, err := a.memo.Contains(ctx, key)
	if err != nil {
		return 0, perrors.Wrap(err, "prefix memo lookup")
	}

	d := float64(a.state.DistinctInvariants)
	var r float64
	if seen {
		r = 5 * max(1, 15*d)
	} else {
		r = float64(stepIndex) * 10 * max(1, 5*d)
	}
	if err := a.memo.Add(ctx, key); err != nil {
		return 0, perrors.Wrap(err, "prefix memo add")
	}
	// 记忆写入成功后才推进计数，失败的一步不改变 episode 状态
	a.state.DistinctInvariants++
	a.state.CumulativeReward += r
	return r, nil
}

// State 当前 episode 状态快照
func (a *Accumulator) State() EpisodeState {
	s := a.state
	s.Prefix = append([]wire.Command(nil), a.state.Prefix...)
	return s
}

// Total 本 episode 累计奖励
func (a *Accumulator) Total() float64 { return a.state.CumulativeReward }
