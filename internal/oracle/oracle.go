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

// Package oracle 带记忆的不变量判定：同一规范化字段集合只求值一次
package oracle

import (
	"context"
	"sync"
	"sync/atomic"

	"firmnav/internal/event"
	"firmnav/pkg/log"
	"firmnav/pkg/metrics"
)

// Verdict 判定结论
type Verdict struct {
	Violated bool
	Rule     string
}

// Oracle 判定器。记忆表可在多个环境间共享，此时须同时共享 Locker（或使用自带原子性的 redis 后端）
type Oracle struct {
	memo   Memo
	rules  []Rule
	mu     sync.Locker
	logger *log.Logger
	evals  atomic.Int64
}

// Option Oracle 可选项
type Option func(*Oracle)

// WithLocker 注入共享锁
func WithLocker(l sync.Locker) Option {
	return func(o *Oracle) {
		if l != nil {
			o.mu = l
		}
	}
}

// WithRules 替换规则表
func WithRules(rules []Rule) Option {
	return func(o *Oracle) { o.rules = rules }
}

// WithLogger 设置日志
func WithLogger(l *log.Logger) Option {
	return func(o *Oracle) {
		if l != nil {
			o.logger = l
		}
	}
}

// New 创建 Oracle；memo 为 nil 时使用内存记忆表
func New(memo Memo, opts ...Option) *Oracle {
	if memo == nil {
		memo = NewMemoryMemo()
	}
	o := &Oracle{
		memo:   memo,
		rules:  DefaultRules(),
		mu:     &sync.Mutex{},
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Check 返回事件的判定结论；命中记忆表时不再求值规则
func (o *Oracle) Check(ctx context.Context, rec event.Record) (Verdict, error) {
	fp := Fingerprint(rec)

	o.mu.Lock()
	defer o.mu.Unlock()

	v, ok, err := o.memo.Get(ctx, fp)
	if err != nil {
		return Verdict{}, &OracleError{Op: "memo get", Err: err}
	}
	if ok {
		metrics.OracleChecks.WithLabelValues("memo_hit").Inc()
		o.observe(v)
		return v, nil
	}

	v = evaluate(o.rules, rec)
	o.evals.Add(1)
	metrics.OracleChecks.WithLabelValues("evaluated").Inc()

	v, err = o.memo.PutIfAbsent(ctx, fp, v)
	if err != nil {
		return Verdict{}, &OracleError{Op: "memo put", Err: err}
	}
	if v.Violated {
		o.logger.Info("发现不变量违背", "rule", v.Rule, "command", rec.Command.String(), "fingerprint", fp[:12])
	}
	o.observe(v)
	return v, nil
}

func (o *Oracle) observe(v Verdict) {
	if v.Violated {
		metrics.InvariantViolations.WithLabelValues(v.Rule).Inc()
	}
}

// Annotate 对一组事件逐条判定并写回 Invariant/Rule
func (o *Oracle) Annotate(ctx context.Context, recs []event.Record) error {
	for i := range recs {
		v, err := o.Check(ctx, recs[i])
		if err != nil {
			return err
		}
		recs[i].Invariant = v.Violated
		recs[i].Rule = v.Rule
	}
	return nil
}

// Reset 清空记忆表（会话重置时）
func (o *Oracle) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.memo.Clear(ctx); err != nil {
		return &OracleError{Op: "memo clear", Err: err}
	}
	return nil
}

// Evaluations 规则表实际求值次数
func (o *Oracle) Evaluations() int64 { return o.evals.Load() }

// MemoSize 记忆表条目数
func (o *Oracle) MemoSize(ctx context.Context) (int, error) {
	return o.memo.Len(ctx)
}
