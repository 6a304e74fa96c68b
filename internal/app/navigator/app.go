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

// Package navigator 按配置组装环境、运行日志与监控接口，并由内置驱动执行 episode
package navigator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	apphttp "firmnav/internal/api/http"
	"firmnav/internal/api/http/middleware"
	bootstrap "firmnav/internal/app"
	"firmnav/internal/env"
	"firmnav/internal/oracle"
	"firmnav/internal/reward"
	"firmnav/internal/runlog"
	"firmnav/internal/session"
	"firmnav/internal/wire"
	"firmnav/pkg/config"
	"firmnav/pkg/log"
	"firmnav/pkg/utils"
)

// App navigator 进程
type App struct {
	boot    *bootstrap.Bootstrap
	logger  *log.Logger
	env     *env.Environment
	store   runlog.Store
	run     runlog.Run
	driver  *Driver
	hertz   *server.Hertz
	serving bool
	logFile io.Closer
}

// NewApp 创建记忆表、运行日志、会话控制器与环境；spawner 为 nil 时按 session.command 决定
func NewApp(ctx context.Context, boot *bootstrap.Bootstrap, spawner session.Spawner) (*App, error) {
	cfg := boot.Config
	logger := boot.Logger

	if spawner == nil && len(cfg.Session.Command) > 0 {
		launch, err := session.LoadLaunchEnv()
		if err != nil {
			return nil, err
		}
		es := &session.ExecSpawner{Command: cfg.Session.Command, Dir: cfg.Session.WorkDir, Launch: launch}
		if !launch.Quiet {
			es.Stdout, es.Stderr = os.Stdout, os.Stderr
		}
		spawner = es
	}
	socket := utils.Coalesce(cfg.Session.SocketPath, session.DefaultSocketPath(cfg.Session.SocketDir))
	ctrl := session.NewController(session.Options{
		SocketPath:    socket,
		AcceptTimeout: config.ParseDuration(cfg.Session.AcceptTimeout, session.DefaultAcceptTimeout),
		RecvTimeout:   config.ParseDuration(cfg.Session.RecvTimeout, session.DefaultRecvTimeout),
		Spawner:       spawner,
		Logger:        logger.Component("session"),
	})

	memo, err := oracle.NewMemo(ctx, cfg.Oracle.Memo)
	if err != nil {
		return nil, fmt.Errorf("初始化 oracle 记忆表失败: %w", err)
	}
	prefixes, err := reward.NewPrefixMemo(ctx, cfg.Reward.PrefixMemo)
	if err != nil {
		return nil, fmt.Errorf("初始化前缀记忆失败: %w", err)
	}
	store, err := runlog.NewStore(ctx, cfg.RunLog)
	if err != nil {
		return nil, fmt.Errorf("初始化运行日志失败: %w", err)
	}
	run, err := store.BeginRun(ctx, "")
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("创建运行记录失败: %w", err)
	}

	e := env.New(ctrl,
		oracle.New(memo, oracle.WithLogger(logger.Component("oracle"))),
		reward.New(prefixes),
		runlog.NewBuffer(store, run),
		env.Options{
			Layout: wire.Layout{
				Sentinel:   cfg.Wire.Sentinel,
				Schemas:    cfg.Wire.Schemas,
				MaxPayload: cfg.Wire.MaxPayload,
			},
			ReadSize:           cfg.Wire.ReadSize,
			MaxSteps:           cfg.Env.MaxSteps,
			EpisodesPerEpoch:   cfg.Env.EpisodesPerEpoch,
			InitEventCount:     cfg.Env.InitEventCount,
			DesyncWarnAfter:    cfg.Env.DesyncWarnAfter,
			DesyncWarnInterval: config.ParseDuration(cfg.Env.DesyncWarnInterval, env.DefaultDesyncWarnInterval),
			ClearOracleOnReset: cfg.ClearOracleOnReset(),
			Logger:             logger,
		})

	actions, err := Actions(cfg.Driver)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	driver, err := NewDriver(e, actions, cfg.Driver, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{boot: boot, logger: logger, env: e, store: store, run: run, driver: driver}
	if cfg.Monitoring.Prometheus.Enable {
		if err := a.buildHTTP(cfg); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	logger.Info("navigator 已初始化", "run_id", run.ID, "endpoint", socket, "actions", len(actions))
	return a, nil
}

// buildHTTP Hertz 日志与 bootstrap 配置对齐；启用链路追踪时挂载 server tracer
func (a *App) buildHTTP(cfg *config.Config) error {
	var output io.Writer = os.Stdout
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
		a.logFile = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(cfg.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	router := apphttp.NewRouter(apphttp.NewHandler(a.env, a.store), middleware.NewMiddleware(a.logger))
	router.SetRateLimit(cfg.Monitoring.Prometheus.RateLimit, cfg.Monitoring.Prometheus.Burst)

	var opts []hertzconfig.Option
	var extra []app.HandlerFunc
	if a.boot.Tracer != nil {
		tracerOpt, tcfg := hertztracing.NewServerTracer()
		opts = append(opts, tracerOpt)
		extra = append(extra, hertztracing.ServerMiddleware(tcfg))
	}
	addr := fmt.Sprintf("%s:%d", cfg.Monitoring.Prometheus.Host, cfg.Monitoring.Prometheus.Port)
	a.hertz = router.Build(addr, opts, extra...)
	return nil
}

// Environment 组装好的环境
func (a *App) Environment() *env.Environment { return a.env }

// Run 启动监控接口（若启用）并执行驱动，驱动结束或 ctx 结束时返回
func (a *App) Run(ctx context.Context) (Summary, error) {
	if a.hertz != nil {
		a.serving = true
		go func() {
			if err := a.hertz.Run(); err != nil {
				a.logger.Error("监控接口异常退出", "error", err)
			}
		}()
	}
	sum, err := a.driver.Run(ctx)
	a.logger.Info("运行结束",
		"run_id", a.run.ID,
		"episodes", sum.Episodes,
		"steps", sum.Steps,
		"degraded", sum.Degraded,
		"aborted", sum.Aborted,
		"best_reward", sum.BestReward,
	)
	return sum, err
}

// Shutdown 关闭环境（写出剩余运行日志）、监控接口与存储
func (a *App) Shutdown(ctx context.Context) error {
	var first error
	if err := a.env.Close(ctx); err != nil {
		first = err
	}
	if a.serving {
		if err := a.hertz.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	if err := a.store.Close(); err != nil && first == nil {
		first = err
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
	if err := a.boot.Close(ctx); err != nil && first == nil {
		first = err
	}
	return first
}
