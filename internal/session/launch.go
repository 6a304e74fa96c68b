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
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/caarlos0/env/v11"
)

// EndpointEnvVar 子进程从该变量获取要连接的端点路径
const EndpointEnvVar = "FIRMNAV_ENDPOINT"

// LaunchEnv 启动 target+tracer 时从当前进程环境读取的参数
type LaunchEnv struct {
	BenchDir  string `env:"UEFI_PATH"`
	Profile   string `env:"BENCH_PROFILE"`
	Verbosity int    `env:"BENCH_VERBOSITY" envDefault:"5"`
	Quiet     bool   `env:"FIRMNAV_TRACER_QUIET"`
}

// LoadLaunchEnv 解析环境变量
func LoadLaunchEnv() (LaunchEnv, error) {
	var l LaunchEnv
	if err := env.Parse(&l); err != nil {
		return LaunchEnv{}, fmt.Errorf("parse launch env: %w", err)
	}
	return l, nil
}

// Environ 子进程环境：继承当前环境并追加 bench 运行参数与端点
func (l LaunchEnv) Environ(endpoint string) []string {
	out := append([]string(nil), os.Environ()...)
	out = append(out,
		"BENCH_OVERRIDE_EXEC=yes",
		"BENCH_RUN_NAV_PID="+strconv.Itoa(os.Getpid()),
		"BENCH_RUN_GDB_CONTINUE=yes",
		"BENCH_RUN_CONFIRM_QUIT_QEMU=yes",
		"BENCH_RUN_CONFIRM_QUIT_GDB=yes",
		"BENCH_RUN_CONFIRM_BUILD_MODULE_FIRMWARE=no",
		"BENCH_VERBOSITY="+strconv.Itoa(l.Verbosity),
		EndpointEnvVar+"="+endpoint,
	)
	if l.Profile != "" {
		out = append(out, "BENCH_PROFILE="+l.Profile)
	}
	return out
}

// DefaultSocketPath 每进程唯一的端点路径：<dir>/firmnav_<pid>.sock
func DefaultSocketPath(dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "firmnav_"+strconv.Itoa(os.Getpid())+".sock")
}
