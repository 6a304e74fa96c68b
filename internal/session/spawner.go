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

package session

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"

	perrors "firmnav/pkg/errors"
)

// Process 已启动的 target+tracer 进程组
type Process interface {
	Pid() int
	// Kill 终止整个进程组并回收，可重复调用
	Kill() error
}

// Spawner 启动 target+tracer，endpoint 为其应连接的端点
type Spawner interface {
	Spawn(ctx context.Context, endpoint string) (Process, error)
}

// SpawnerFunc 函数适配
type SpawnerFunc func(ctx context.Context, endpoint string) (Process, error)

func (f SpawnerFunc) Spawn(ctx context.Context, endpoint string) (Process, error) {
	return f(ctx, endpoint)
}

// ExecSpawner 以独立进程组执行 Command
type ExecSpawner struct {
	Command []string
	Dir     string
	Launch  LaunchEnv
	Stdout  io.Writer
	Stderr  io.Writer
}

// Spawn 启动子进程；ctx 仅约束启动本身，进程生命周期由 Kill 控制
func (s *ExecSpawner) Spawn(ctx context.Context, endpoint string) (Process, error) {
	if len(s.Command) == 0 {
		return nil, perrors.Wrap(perrors.ErrInvalidArg, "empty spawn command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Dir
	if cmd.Dir == "" {
		cmd.Dir = s.Launch.BenchDir
	}
	cmd.Env = s.Launch.Environ(endpoint)
	if !s.Launch.Quiet {
		cmd.Stdout = s.Stdout
		cmd.Stderr = s.Stderr
	}
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	once    sync.Once
}

func (p *execProcess) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Kill() error {
	var err error
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if kerr := killProcessGroup(p.cmd); kerr != nil && !errors.Is(kerr, errProcessDone) {
			err = kerr
		}
		<-p.done
	})
	return err
}

// Exited 进程是否已退出
func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
