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

package navigator

import (
	"context"
	"fmt"
	"math/rand"

	"firmnav/internal/env"
	"firmnav/internal/wire"
	"firmnav/pkg/config"
	perrors "firmnav/pkg/errors"
	"firmnav/pkg/log"
	"firmnav/pkg/utils"
)

// 动作选择方式
const (
	ModeSequential = "sequential"
	ModeRandom     = "random"
)

// Stepper 驱动所需的环境接口；*env.Environment 满足该接口
type Stepper interface {
	Reset(ctx context.Context) (env.Observation, error)
	Step(ctx context.Context, cmd wire.Command) (env.StepResult, error)
}

// Summary 一次驱动运行的汇总
type Summary struct {
	Episodes    int
	Steps       int
	Degraded    int
	Aborted     int // 因致命错误提前结束的 episode 数
	TotalReward float64
	BestReward  float64
}

// Driver 外部训练循环的替身：按配置的动作表执行若干 episode
type Driver struct {
	env      Stepper
	actions  []wire.Command
	mode     string
	rng      *rand.Rand
	episodes int
	logger   *log.Logger
}

// NewDriver 创建驱动；actions 不能为空
func NewDriver(e Stepper, actions []wire.Command, cfg config.DriverConfig, logger *log.Logger) (*Driver, error) {
	if len(actions) == 0 {
		return nil, perrors.Wrap(perrors.ErrInvalidArg, "driver: empty action list")
	}
	switch cfg.Mode {
	case "", ModeSequential, ModeRandom:
	default:
		return nil, perrors.Wrapf(perrors.ErrInvalidArg, "driver: unknown mode %q", cfg.Mode)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Driver{
		env:      e,
		actions:  actions,
		mode:     cfg.Mode,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		episodes: utils.PositiveOr(cfg.Episodes, 1),
		logger:   logger.Component("driver"),
	}, nil
}

// Actions 由配置得到动作表：显式列表优先，否则按地址区间枚举
func Actions(cfg config.DriverConfig) ([]wire.Command, error) {
	if len(cfg.Actions) > 0 {
		out := make([]wire.Command, 0, len(cfg.Actions))
		for _, s := range cfg.Actions {
			cmd, err := wire.ParseCommand(s)
			if err != nil {
				return nil, err
			}
			out = append(out, cmd)
		}
		return out, nil
	}
	if cfg.AddressLen <= 0 {
		return nil, perrors.Wrap(perrors.ErrInvalidArg, "driver: neither actions nor address range configured")
	}
	return ActionSpace(cfg.AddressStart, cfg.AddressLen, cfg.AddressStride), nil
}

// ActionSpace 枚举动作空间：对区间内每个地址生成 GetCRC/GetAccessVariable/ValidateAccessKey，
// 另加一个无参 AllocatePool
func ActionSpace(start, length, stride int64) []wire.Command {
	if stride <= 0 {
		stride = 4
	}
	var locs []int64
	for a := start; a < start+length; a += stride {
		locs = append(locs, a)
	}
	out := make([]wire.Command, 0, 3*len(locs)+1)
	for _, l := range locs {
		out = append(out, wire.Command{Opcode: wire.OpGetCRC, Operand0: wire.Some(l)})
	}
	out = append(out, wire.Command{Opcode: wire.OpAllocatePool})
	for _, op := range []wire.Opcode{wire.OpGetAccessVariable, wire.OpValidateAccessKey} {
		for _, l := range locs {
			out = append(out, wire.Command{Opcode: op, Operand0: wire.Some(l)})
		}
	}
	return out
}

func (d *Driver) pick(i int) wire.Command {
	if d.mode == ModeRandom {
		return d.actions[d.rng.Intn(len(d.actions))]
	}
	return d.actions[i%len(d.actions)]
}

// Run 执行全部 episode。Step 的致命错误只结束当前 episode（下一次 Reset 会重启会话）；
// Reset 失败或 ctx 结束时返回
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	next := 0
	for ep := 0; ep < d.episodes; ep++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if _, err := d.env.Reset(ctx); err != nil {
			return sum, fmt.Errorf("reset episode %d: %w", ep, err)
		}
		sum.Episodes++

		var total float64
		for {
			res, err := d.env.Step(ctx, d.pick(next))
			next++
			if err != nil {
				if ctx.Err() != nil {
					return sum, ctx.Err()
				}
				d.logger.Error("episode 因致命错误结束", "episode", ep, "error", err)
				sum.Aborted++
				break
			}
			sum.Steps++
			if res.Degraded != nil {
				sum.Degraded++
			}
			if res.Reward > 0 {
				d.logger.Info("发现不变量违背", "episode", ep, "reward", res.Reward, "total", res.TotalReward)
			}
			total = res.TotalReward
			if res.Done {
				break
			}
		}
		sum.TotalReward += total
		if total > sum.BestReward {
			sum.BestReward = total
		}
		d.logger.Info("episode 结束", "episode", ep, "total_reward", total)
	}
	return sum, nil
}
