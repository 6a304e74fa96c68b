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

// Package http 只读监控接口：健康检查、运行状态与 Prometheus 指标
package http

import (
	"bytes"
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/prometheus/common/expfmt"

	"firmnav/internal/env"
	"firmnav/internal/runlog"
	"firmnav/pkg/metrics"
)

// StatusSource 提供环境快照；*env.Environment 满足该接口
type StatusSource interface {
	Status() env.Status
}

// Handler HTTP 处理器
type Handler struct {
	status StatusSource
	store  runlog.Store
}

// NewHandler 创建处理器；status/store 可为 nil
func NewHandler(status StatusSource, store runlog.Store) *Handler {
	return &Handler{status: status, store: store}
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

// Status 当前 epoch/episode/step 与会话状态
func (h *Handler) Status(ctx context.Context, c *app.RequestContext) {
	if h.status == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "environment not started"})
		return
	}
	c.JSON(consts.StatusOK, h.status.Status())
}

// ListSteps 查询运行日志；episode 参数缺省时返回全部
func (h *Handler) ListSteps(ctx context.Context, c *app.RequestContext) {
	if h.store == nil {
		c.JSON(consts.StatusNotFound, utils.H{"error": "run log disabled"})
		return
	}
	runID := c.Param("id")
	episode := runlog.AllEpisodes
	if v := c.Query("episode"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid episode"})
			return
		}
		episode = n
	}
	steps, err := h.store.ListSteps(ctx, runID, episode)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	if steps == nil {
		steps = []runlog.Step{}
	}
	c.JSON(consts.StatusOK, utils.H{"run_id": runID, "steps": steps})
}

// Metrics Prometheus 文本格式
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.Data(consts.StatusOK, string(expfmt.NewFormat(expfmt.TypeTextPlain)), buf.Bytes())
}
