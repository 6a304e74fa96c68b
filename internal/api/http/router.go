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

package http

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"firmnav/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	rps        float64
	burst      int
}

// NewRouter 创建路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// SetRateLimit 设置全局限流，rps<=0 关闭
func (r *Router) SetRateLimit(rps float64, burst int) {
	r.rps = rps
	r.burst = burst
}

// Build 创建 Hertz 实例并注册路由；extra 中的中间件（如链路追踪）最先执行
func (r *Router) Build(addr string, opts []config.Option, extra ...app.HandlerFunc) *server.Hertz {
	all := append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.New(all...)
	h.Use(extra...)
	h.Use(r.middleware.AccessLog(), r.middleware.RateLimit(r.rps, r.burst))

	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api", r.middleware.CORS())
	api.GET("/health", r.handler.HealthCheck)
	api.GET("/status", r.handler.Status)
	api.GET("/runs/:id/steps", r.handler.ListSteps)
	return h
}
