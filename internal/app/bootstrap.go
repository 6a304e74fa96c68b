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

package app

import (
	"context"
	"fmt"
	"os"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"firmnav/pkg/config"
	"firmnav/pkg/log"
	"firmnav/pkg/secrets"
	"firmnav/pkg/tracing"
	"firmnav/pkg/utils"
)

// DefaultServiceName 未配置 tracing.service_name 时使用
const DefaultServiceName = "firmnav"

// Bootstrap 统一初始化：日志、secret 解析、链路追踪
type Bootstrap struct {
	Config *config.Config
	Logger *log.Logger
	// Tracer 未启用链路追踪时为 nil
	Tracer *sdktrace.TracerProvider
}

// NewBootstrap 根据配置创建 Bootstrap；会就地解析 cfg 中的 secret 引用
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	store, err := secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Vault: secrets.VaultConfig{
			Address:    cfg.Secrets.Vault.Address,
			Token:      cfg.Secrets.Vault.Token,
			PathPrefix: cfg.Secrets.Vault.PathPrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 secret store 失败: %w", err)
	}
	if err := config.ResolveSecrets(ctx, cfg, store); err != nil {
		return nil, err
	}

	b := &Bootstrap{Config: cfg, Logger: logger}
	if t := cfg.Monitoring.Tracing; t.Enable {
		endpoint := utils.Coalesce(t.ExportEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
		if endpoint != "" {
			name := utils.Coalesce(t.ServiceName, DefaultServiceName)
			tp, err := tracing.InitTracer(tracing.OTelConfig{ServiceName: name, ExportEndpoint: endpoint, Insecure: t.Insecure})
			if err != nil {
				return nil, fmt.Errorf("初始化链路追踪失败: %w", err)
			}
			b.Tracer = tp
			logger.Info("链路追踪已启用", "service_name", name, "endpoint", endpoint)
		}
	}
	return b, nil
}

// Close 刷新追踪数据并关闭日志文件
func (b *Bootstrap) Close(ctx context.Context) error {
	if b.Tracer != nil {
		_ = b.Tracer.Shutdown(ctx)
	}
	return b.Logger.Close()
}
