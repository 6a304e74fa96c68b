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

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"firmnav/internal/app"
	"firmnav/internal/app/navigator"
	"firmnav/pkg/config"
)

func main() {
	path := flag.String("config", "configs/navigator.yaml", "配置文件路径（可由 FIRMNAV_CONFIG 覆盖）")
	episodes := flag.Int("episodes", 0, "覆盖 driver.episodes")
	flag.Parse()
	if p := os.Getenv("FIRMNAV_CONFIG"); p != "" {
		*path = p
	}

	cfg, err := config.LoadConfig(*path)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *episodes > 0 {
		cfg.Driver.Episodes = *episodes
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boot, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	application, err := navigator.NewApp(ctx, boot, nil)
	if err != nil {
		log.Fatalf("创建 navigator 失败: %v", err)
	}

	_, runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Printf("关闭失败: %v", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatalf("运行失败: %v", runErr)
	}
	log.Println("navigator 已退出")
}
