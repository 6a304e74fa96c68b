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

// Package env 将会话、解码、Oracle 与奖励组合为训练循环使用的 Reset/Step 环境
package env

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"firmnav/internal/event"
	"firmnav/internal/oracle"
	"firmnav/internal/reward"
	"firmnav/internal/runlog"
	"firmnav/internal/session"
	"firmnav/internal/wire"
	perrors "firmnav/pkg/errors"
	"firmnav/pkg/log"
	"firmnav/pkg/metrics"
	"firmnav/pkg/tracing"
	"firmnav/pkg/utils"
)

// 默认值，与 pkg/config 一致
const (
	DefaultMaxSteps           = 16
	DefaultEpisodesPerEpoch   = 10
	DefaultInitEventCount     = 4
	DefaultDesyncWarnAfter    = 8
	DefaultDesyncWarnInterval = 10 * time.Second
)

// Options 环境参数
type Options struct {
	Layout             wire.Layout
	ReadSize           int
	MaxSteps           int
	EpisodesPerEpoch   int
	InitEventCount     int
	DesyncWarnAfter    int
	DesyncWarnInterval time.Duration
	// ClearOracleOnReset 会话重置时清空不变量记忆表
	ClearOracleOnReset bool
	Logger             *log.Logger
}

func (o *Options) applyDefaults() {
	if len(o.Layout.Schemas) == 0 {
		o.Layout = wire.DefaultLayout()
	}
	o.MaxSteps = utils.PositiveOr(o.MaxSteps, DefaultMaxSteps)
	o.EpisodesPerEpoch = utils.PositiveOr(o.EpisodesPerEpoch, DefaultEpisodesPerEpoch)
	if o.InitEventCount < 0 {
		o.InitEventCount = 0
	}
	o.DesyncWarnAfter = utils.PositiveOr(o.DesyncWarnAfter, DefaultDesyncWarnAfter)
	o.DesyncWarnInterval = utils.PositiveOr(o.DesyncWarnInterval, DefaultDesyncWarnInterval)
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
}

// StepResult 单步结果
type StepResult struct {
	Observation Observation
	// Reward 本步增量奖励
	Reward float64
	// TotalReward 本 episode 累计奖励
	TotalReward float64
	Done        bool
	Events      []event.Record
	// Degraded 本步的可恢复错误；非 nil 时观测行与奖励均为 0
	Degraded error
}

// Status 供监控读取的快照
type Status struct {
	RunID         string  `json:"run_id"`
	Session       string  `json:"session"`
	Epoch         int     `json:"epoch"`
	Episode       int     `json:"episode"`
	Step          int     `json:"step"`
	TotalReward   float64 `json:"total_reward"`
	FailureStreak int     `json:"failure_streak"`
	Evaluations   int64   `json:"oracle_evaluations"`
}

// Environment 单个 target+tracer 的环境实例；Reset/Step 在调用方 goroutine 中同步执行，不可并发调用
type Environment struct {
	opts    Options
	session *session.Controller
	reader  *wire.Reader
	encoder *wire.Encoder
	oracle  *oracle.Oracle
	reward  *reward.Accumulator
	runlog  *runlog.Buffer
	logger  *log.Logger
	warn    *rate.Limiter

	obs             Observation
	stepIndex       int
	epoch           int
	episode         int
	episodesInEpoch int
	started         bool
	failStreak      int

	status atomic.Pointer[Status]
}

// New 组装环境；runLog 可为 nil
func New(ctrl *session.Controller, orc *oracle.Oracle, acc *reward.Accumulator, runLog *runlog.Buffer, opts Options) *Environment {
	opts.applyDefaults()
	logger := opts.Logger.Component("env")
	e := &Environment{
		opts:    opts,
		session: ctrl,
		reader:  wire.NewReader(nil, opts.Layout, wire.WithReadSize(opts.ReadSize), wire.WithLogger(opts.Logger.Component("wire"))),
		encoder: wire.NewEncoder(nopWriter{}),
		oracle:  orc,
		reward:  acc,
		runlog:  runLog,
		logger:  logger,
		warn:    rate.NewLimiter(rate.Every(opts.DesyncWarnInterval), 1),
		obs:     newObservation(opts.MaxSteps),
	}
	e.publish()
	return e
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// Reset 结束当前 episode 并开始新的：写出运行日志、重启会话、清空 episode 状态、丢弃初始事件
func (e *Environment) Reset(ctx context.Context) (Observation, error) {
	ctx, span := tracing.StartResetSpan(ctx, e.episode, e.epoch)
	defer span.End()

	if err := e.flushRunLog(ctx); err != nil {
		e.logger.Warn("写入运行日志失败", "error", err)
	}
	if e.started {
		e.episode++
		e.episodesInEpoch++
		if e.episodesInEpoch >= e.opts.EpisodesPerEpoch {
			e.epoch++
			e.episodesInEpoch = 0
		}
	}

	if err := e.restartSession(ctx); err != nil {
		tracing.RecordError(span, err)
		return e.obs.Clone(), err
	}
	if e.opts.ClearOracleOnReset {
		if err := e.oracle.Reset(ctx); err != nil {
			tracing.RecordError(span, err)
			return e.obs.Clone(), err
		}
	}
	e.reward.ResetEpisode()
	e.obs = newObservation(e.opts.MaxSteps)
	e.stepIndex = 0
	e.started = true
	metrics.EpisodesTotal.Inc()

	if err := e.flushInitEvents(ctx); err != nil {
		tracing.RecordError(span, err)
		return e.obs.Clone(), err
	}
	e.logger.Info("episode 开始", "epoch", e.epoch, "episode", e.episode)
	e.publish()
	return e.obs.Clone(), nil
}

func (e *Environment) restartSession(ctx context.Context) error {
	var err error
	switch e.session.State() {
	case session.StateUninitialized, session.StateClosed:
		err = e.session.Spawn(ctx)
	default:
		err = e.session.Reset(ctx)
	}
	if err != nil {
		return err
	}
	conn, err := e.session.Connect(ctx)
	if err != nil {
		return err
	}
	e.reader.SetSource(conn)
	e.encoder.Reset(conn)
	return nil
}

// flushInitEvents 丢弃 pre-main 阶段的初始事件；超时等可恢复错误直接结束等待
func (e *Environment) flushInitEvents(ctx context.Context) error {
	for i := 0; i < e.opts.InitEventCount; i++ {
		_, err := e.reader.Next(ctx)
		if err == nil {
			continue
		}
		if perrors.Recoverable(err) {
			e.logger.Debug("初始事件未到齐", "received", i, "error", err)
			return nil
		}
		return err
	}
	return nil
}

// Step 发送一条命令并返回观测与奖励。
// 可恢复的传输/解码错误不会返回 error，而是体现为 StepResult.Degraded；返回 error 时本次运行应终止
func (e *Environment) Step(ctx context.Context, cmd wire.Command) (StepResult, error) {
	if !e.started || e.session.State() != session.StateConnected {
		return StepResult{Done: true}, perrors.Wrap(perrors.ErrInvalidState, "step before reset")
	}
	if e.stepIndex >= e.opts.MaxSteps {
		return StepResult{Observation: e.obs.Clone(), Done: true}, perrors.Wrap(perrors.ErrInvalidState, "episode finished, call reset")
	}
	ctx, span := tracing.StartStepSpan(ctx, e.episode, e.stepIndex, int(cmd.Opcode))
	defer span.End()

	res, err := e.step(ctx, cmd)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.StepsTotal.WithLabelValues("fatal").Inc()
		res.Done = true
		res.Observation = e.obs.Clone()
		e.publish()
		return res, err
	}
	e.publish()
	return res, nil
}

func (e *Environment) step(ctx context.Context, cmd wire.Command) (StepResult, error) {
	idx := e.stepIndex
	e.reward.Push(cmd)
	if err := e.encoder.Send(ctx, cmd); err != nil {
		return StepResult{}, err
	}

	recs, degraded := e.collect(ctx)
	if degraded != nil && !perrors.Recoverable(degraded) {
		return StepResult{}, degraded
	}
	if err := e.oracle.Annotate(ctx, recs); err != nil {
		return StepResult{}, err
	}

	var inc float64
	for _, rec := range recs {
		if !rec.Invariant {
			continue
		}
		r, err := e.reward.Reward(ctx, idx, true)
		if err != nil {
			return StepResult{}, perrors.Wrap(err, "reward")
		}
		inc += r
	}

	var row Row
	if len(recs) > 0 {
		row = recs[0].Row()
	}
	e.obs.Rows[idx] = row
	e.stepIndex++
	e.trackFailures(degraded)

	outcome := "ok"
	if degraded != nil {
		outcome = "degraded"
	}
	metrics.StepsTotal.WithLabelValues(outcome).Inc()
	metrics.StepReward.Observe(inc)
	e.record(idx, cmd, inc, recs)

	return StepResult{
		Observation: e.obs.Clone(),
		Reward:      inc,
		TotalReward: e.reward.Total(),
		Done:        e.stepIndex >= e.opts.MaxSteps,
		Events:      recs,
		Degraded:    degraded,
	}, nil
}

// collect 读取本步事件：至少一帧，再取出同一次读取中已缓冲的其余帧。
// 解析出事件时 error 为 nil；否则返回第一个错误，由调用方按严重程度区分
func (e *Environment) collect(ctx context.Context) ([]event.Record, error) {
	frame, err := e.reader.Next(ctx)
	if err != nil {
		return nil, err
	}
	frames := []wire.Frame{frame}
	more, derr := e.reader.DrainBuffered()
	frames = append(frames, more...)

	var recs []event.Record
	var first error
	for _, f := range frames {
		rs, err := event.FromFrame(f, e.encoder.Current())
		recs = append(recs, rs...)
		if err != nil && first == nil {
			first = err
		}
	}
	if derr != nil {
		e.logger.Debug("丢弃损坏的后续消息", "error", derr)
	}
	// 至少解析出一条事件时本步视为正常
	if len(recs) > 0 {
		return recs, nil
	}
	if first == nil {
		first = derr
	}
	return nil, first
}

func (e *Environment) trackFailures(degraded error) {
	if degraded == nil {
		e.failStreak = 0
		metrics.StepFailureStreak.Set(0)
		return
	}
	e.failStreak++
	metrics.StepFailureStreak.Set(float64(e.failStreak))
	if e.failStreak >= e.opts.DesyncWarnAfter && e.warn.Allow() {
		e.logger.Warn("连续多步无法解码事件，对端可能已崩溃", "streak", e.failStreak, "error", degraded)
	} else {
		e.logger.Debug("本步事件解码失败", "error", degraded)
	}
}

func (e *Environment) record(idx int, cmd wire.Command, inc float64, recs []event.Record) {
	if e.runlog == nil {
		return
	}
	events := json.RawMessage("[]")
	if len(recs) > 0 {
		if b, err := json.Marshal(recs); err == nil {
			events = b
		}
	}
	st := runlog.Step{
		Epoch:       e.epoch,
		Episode:     e.episode,
		Step:        idx,
		TotalReward: e.reward.Total(),
		Reward:      inc,
		Opcode:      int(cmd.Opcode),
		Events:      events,
	}
	if cmd.Operand0.Valid {
		v := cmd.Operand0.Value
		st.Operand0 = &v
	}
	if cmd.Operand1.Valid {
		v := cmd.Operand1.Value
		st.Operand1 = &v
	}
	e.runlog.Add(st)
}

func (e *Environment) flushRunLog(ctx context.Context) error {
	if e.runlog == nil {
		return nil
	}
	return e.runlog.Flush(ctx)
}

// Close 写出剩余运行日志并关闭会话
func (e *Environment) Close(ctx context.Context) error {
	ferr := e.flushRunLog(ctx)
	serr := e.session.Close()
	e.publish()
	if ferr != nil {
		return ferr
	}
	return serr
}

func (e *Environment) publish() {
	s := &Status{
		Session:       e.session.State().String(),
		Epoch:         e.epoch,
		Episode:       e.episode,
		Step:          e.stepIndex,
		TotalReward:   e.reward.Total(),
		FailureStreak: e.failStreak,
		Evaluations:   e.oracle.Evaluations(),
	}
	if e.runlog != nil {
		s.RunID = e.runlog.Run().ID
	}
	e.status.Store(s)
}

// Status 最近一次 Reset/Step 结束时的快照，可并发读取
func (e *Environment) Status() Status {
	return *e.status.Load()
}

// Epoch 当前 epoch
func (e *Environment) Epoch() int { return e.epoch }

// Episode 当前 episode
func (e *Environment) Episode() int { return e.episode }
