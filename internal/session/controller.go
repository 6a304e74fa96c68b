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

// Package session 管理单个 target+tracer 的进程组与本地端点生命周期
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	perrors "firmnav/pkg/errors"
	"firmnav/pkg/log"
	"firmnav/pkg/metrics"
	"firmnav/pkg/tracing"
)

// State 会话状态
type State int

const (
	StateUninitialized State = iota
	StateSpawning
	StateListening
	StateConnected
	StateTerminating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSpawning:
		return "spawning"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Observer 状态迁移回调；在持锁状态下调用，不得回调 Controller
type Observer func(from, to State)

// 默认超时
const (
	DefaultAcceptTimeout = 30 * time.Second
	DefaultRecvTimeout   = 30 * time.Second
)

// SessionError 启动、绑定、accept 失败；致命
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string { return "session " + e.Op + ": " + e.Err.Error() }

func (e *SessionError) Unwrap() error { return e.Err }

// Severity 致命
func (e *SessionError) Severity() perrors.Severity { return perrors.SeverityFatal }

// Options Controller 配置
type Options struct {
	SocketPath    string
	AcceptTimeout time.Duration
	RecvTimeout   time.Duration
	// Spawner 为 nil 时不启动进程，由外部编排负责
	Spawner   Spawner
	Logger    *log.Logger
	Observers []Observer
}

// Controller 会话状态机：Uninitialized → Spawning → Listening → Connected → Terminating → Closed
type Controller struct {
	mu   sync.Mutex
	opts Options

	state State
	proc  Process
	ln    *net.UnixListener
	conn  net.Conn
}

// NewController 创建 Controller
func NewController(opts Options) *Controller {
	if opts.SocketPath == "" {
		opts.SocketPath = DefaultSocketPath("")
	}
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = DefaultAcceptTimeout
	}
	if opts.RecvTimeout <= 0 {
		opts.RecvTimeout = DefaultRecvTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Controller{opts: opts}
}

// Observe 追加状态观察者
func (c *Controller) Observe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Observers = append(c.opts.Observers, o)
}

// State 当前状态
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint 端点路径
func (c *Controller) Endpoint() string { return c.opts.SocketPath }

// Conn 已连接的通道，未连接时为 nil
func (c *Controller) Conn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Controller) transition(to State) {
	from := c.state
	c.state = to
	metrics.SessionTransitions.WithLabelValues(to.String()).Inc()
	c.opts.Logger.Debug("会话状态迁移", "from", from.String(), "to", to.String())
	for _, o := range c.opts.Observers {
		o(from, to)
	}
}

// Spawn 启动 target+tracer 并进入 Spawning；仅在 Uninitialized/Closed 时可调用
func (c *Controller) Spawn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateUninitialized, StateClosed:
	default:
		return perrors.Wrapf(perrors.ErrInvalidState, "spawn in state %s", c.state)
	}
	return c.spawnLocked(ctx)
}

func (c *Controller) spawnLocked(ctx context.Context) error {
	c.transition(StateSpawning)
	if c.opts.Spawner == nil {
		return nil
	}
	ctx, span := tracing.StartSessionSpan(ctx, "spawn", c.opts.SocketPath)
	defer span.End()
	proc, err := c.opts.Spawner.Spawn(ctx, c.opts.SocketPath)
	if err != nil {
		tracing.RecordError(span, err)
		return &SessionError{Op: "spawn", Err: err}
	}
	c.proc = proc
	c.opts.Logger.Info("已启动 target+tracer", "pid", proc.Pid(), "endpoint", c.opts.SocketPath)
	return nil
}

// removeStale 删除上次运行遗留的端点文件
func removeStale(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Connect 绑定端点并在 AcceptTimeout 内接受唯一一个对端连接；已连接时返回 ErrInvalidState
func (c *Controller) Connect(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateSpawning:
	case StateConnected:
		return nil, perrors.Wrap(perrors.ErrInvalidState, "already connected")
	default:
		return nil, perrors.Wrapf(perrors.ErrInvalidState, "connect in state %s", c.state)
	}

	ctx, span := tracing.StartSessionSpan(ctx, "connect", c.opts.SocketPath)
	defer span.End()

	if err := removeStale(c.opts.SocketPath); err != nil {
		tracing.RecordError(span, err)
		return nil, &SessionError{Op: "remove stale endpoint", Err: err}
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: c.opts.SocketPath, Net: "unix"})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, &SessionError{Op: "bind", Err: err}
	}
	ln.SetUnlinkOnClose(true)
	c.ln = ln
	c.transition(StateListening)
	c.opts.Logger.Info("等待 tracer 连接", "endpoint", c.opts.SocketPath)

	if err := ln.SetDeadline(time.Now().Add(c.opts.AcceptTimeout)); err != nil {
		return nil, &SessionError{Op: "accept", Err: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.SetDeadline(time.Now()) })
	defer stop()

	conn, err := ln.AcceptUnix()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		tracing.RecordError(span, err)
		return nil, &SessionError{Op: "accept", Err: err}
	}
	c.conn = &deadlineConn{Conn: conn, recv: c.opts.RecvTimeout}
	c.transition(StateConnected)
	c.opts.Logger.Info("tracer 已连接", "endpoint", c.opts.SocketPath)
	return c.conn, nil
}

// teardown 结束进程组、关闭通道与端点、删除端点文件
func (c *Controller) teardown() error {
	var errs []error
	if c.proc != nil {
		if err := c.proc.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("kill: %w", err))
		}
		c.proc = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.ln != nil {
		_ = c.ln.Close()
		c.ln = nil
	}
	if err := removeStale(c.opts.SocketPath); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Reset 经 Terminating 强制结束当前进程组并清理端点，然后重新 Spawn
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition(StateTerminating)
	if err := c.teardown(); err != nil {
		c.opts.Logger.Warn("清理会话资源失败", "error", err)
	}
	return c.spawnLocked(ctx)
}

// Close 经 Terminating 进入 Closed；重复调用无副作用
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	c.transition(StateTerminating)
	err := c.teardown()
	c.transition(StateClosed)
	return err
}

// deadlineConn 每次读取前设置接收超时
type deadlineConn struct {
	net.Conn
	recv time.Duration
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	if d.recv > 0 {
		if err := d.Conn.SetReadDeadline(time.Now().Add(d.recv)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Read(p)
}
