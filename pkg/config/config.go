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

package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firmnav/pkg/secrets"
)

// Config 应用配置结构体
type Config struct {
	Session    SessionConfig    `mapstructure:"session"`
	Wire       WireConfig       `mapstructure:"wire"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Reward     RewardConfig     `mapstructure:"reward"`
	Env        EnvConfig        `mapstructure:"env"`
	RunLog     RunLogConfig     `mapstructure:"runlog"`
	Driver     DriverConfig     `mapstructure:"driver"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
}

// SessionConfig 目标/Tracer 进程与本地端点配置
type SessionConfig struct {
	SocketDir     string   `mapstructure:"socket_dir"`     // 端点目录，空则 os.TempDir()
	SocketPath    string   `mapstructure:"socket_path"`    // 显式端点路径，优先于 socket_dir
	AcceptTimeout string   `mapstructure:"accept_timeout"` // 如 "30s"
	RecvTimeout   string   `mapstructure:"recv_timeout"`   // 每次读取的超时，如 "30s"
	Command       []string `mapstructure:"command"`        // 启动 target+tracer 的 argv；空表示由外部编排
	WorkDir       string   `mapstructure:"work_dir"`
}

// WireConfig 帧格式配置（需与 tracer 侧保持同步）
type WireConfig struct {
	Sentinel   uint32   `mapstructure:"sentinel"`
	Schemas    []string `mapstructure:"schemas"`
	MaxPayload int      `mapstructure:"max_payload"` // 单个 schema 最大字节数，超过视为长度字段损坏
	ReadSize   int      `mapstructure:"read_size"`
}

// MemoConfig 记忆表后端配置
type MemoConfig struct {
	Type      string `mapstructure:"type"` // memory | redis
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"` // redis key 前缀，多个实例共享同一命名空间即共享记忆
}

// OracleConfig 不变量 Oracle 配置
type OracleConfig struct {
	Memo         MemoConfig `mapstructure:"memo"`
	ClearOnReset *bool      `mapstructure:"clear_on_reset"` // 未配置时默认 true
}

// RewardConfig 奖励累加器配置
type RewardConfig struct {
	PrefixMemo MemoConfig `mapstructure:"prefix_memo"`
}

// EnvConfig 环境步进配置
type EnvConfig struct {
	MaxSteps           int    `mapstructure:"max_steps"`
	EpisodesPerEpoch   int    `mapstructure:"episodes_per_epoch"`
	InitEventCount     int    `mapstructure:"init_event_count"`     // 连接后丢弃的 pre-main 事件数
	DesyncWarnAfter    int    `mapstructure:"desync_warn_after"`    // 连续失败步数达到此值后告警
	DesyncWarnInterval string `mapstructure:"desync_warn_interval"` // 告警日志最小间隔
}

// RunLogConfig 运行日志存储配置
type RunLogConfig struct {
	Type string `mapstructure:"type"` // memory | sqlite | postgres | none
	Path string `mapstructure:"path"` // sqlite 文件路径
	DSN  string `mapstructure:"dsn"`  // Postgres 连接串，type=postgres 时必填
}

// DriverConfig 内置驱动（外部训练循环的替身）配置
type DriverConfig struct {
	Episodes int      `mapstructure:"episodes"`
	Actions  []string `mapstructure:"actions"` // 如 "2,0x6abf0c8"、"1"
	Mode     string   `mapstructure:"mode"`    // sequential | random
	Seed     int64    `mapstructure:"seed"`
	// actions 为空时按地址区间枚举动作空间
	AddressStart  int64 `mapstructure:"address_start"`
	AddressLen    int64 `mapstructure:"address_len"`
	AddressStride int64 `mapstructure:"address_stride"` // 默认 4（按 dword 对齐）
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool   `mapstructure:"enable"`
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	// RateLimit 监控接口每秒请求数上限，0 表示不限流
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// SecretsConfig Secret 解析配置，配置值以 "secret:" 开头时经此解析
type SecretsConfig struct {
	Provider string      `mapstructure:"provider"` // env | memory | vault
	Vault    VaultConfig `mapstructure:"vault"`
}

// VaultConfig Vault 连接配置
type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// SecretPrefix 引用 secret store 的配置值前缀
const SecretPrefix = "secret:"

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.accept_timeout", "30s")
	v.SetDefault("session.recv_timeout", "30s")
	v.SetDefault("wire.sentinel", 0x36afb081)
	v.SetDefault("wire.schemas", []string{"heap"})
	v.SetDefault("wire.max_payload", 1<<20)
	v.SetDefault("wire.read_size", 1024)
	v.SetDefault("oracle.memo.type", "memory")
	v.SetDefault("reward.prefix_memo.type", "memory")
	v.SetDefault("env.max_steps", 16)
	v.SetDefault("env.episodes_per_epoch", 10)
	v.SetDefault("env.init_event_count", 4)
	v.SetDefault("env.desync_warn_after", 8)
	v.SetDefault("env.desync_warn_interval", "10s")
	v.SetDefault("runlog.type", "memory")
	v.SetDefault("driver.mode", "sequential")
	v.SetDefault("driver.episodes", 1)
	v.SetDefault("driver.address_stride", 4)
	v.SetDefault("monitoring.prometheus.host", "127.0.0.1")
	v.SetDefault("monitoring.prometheus.port", 9464)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("secrets.provider", "env")
}

// Default 返回全部取默认值的配置（不读文件）
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 基本合法性校验
func (c *Config) Validate() error {
	if len(c.Wire.Schemas) == 0 {
		return fmt.Errorf("wire.schemas 不能为空")
	}
	if c.Wire.Sentinel == 0 {
		return fmt.Errorf("wire.sentinel 不能为 0")
	}
	if c.Env.MaxSteps <= 0 {
		return fmt.Errorf("env.max_steps 必须大于 0，当前 %d", c.Env.MaxSteps)
	}
	switch c.RunLog.Type {
	case "", "memory", "none":
	case "sqlite":
		if c.RunLog.Path == "" {
			return fmt.Errorf("runlog.type=sqlite 时 runlog.path 必填")
		}
	case "postgres":
		if c.RunLog.DSN == "" {
			return fmt.Errorf("runlog.type=postgres 时 runlog.dsn 必填")
		}
	default:
		return fmt.Errorf("不支持的 runlog.type: %s", c.RunLog.Type)
	}
	return nil
}

// ClearOracleOnReset 会话重置时是否清空不变量记忆表
func (c *Config) ClearOracleOnReset() bool {
	if c.Oracle.ClearOnReset == nil {
		return true
	}
	return *c.Oracle.ClearOnReset
}

// ParseDuration 解析时长字符串，空或非法时返回 def
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// expandEnv 将 "${VAR}" 形式替换为环境变量值；未设置时保留原值
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	envVar := strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// replaceEnvVars 替换配置中的环境变量
func replaceEnvVars(config *Config) {
	config.RunLog.DSN = expandEnv(config.RunLog.DSN)
	config.Oracle.Memo.Password = expandEnv(config.Oracle.Memo.Password)
	config.Reward.PrefixMemo.Password = expandEnv(config.Reward.PrefixMemo.Password)
	config.Secrets.Vault.Token = expandEnv(config.Secrets.Vault.Token)
}

// ResolveSecrets 将 "secret:<key>" 形式的敏感配置经 store 解析为明文
func ResolveSecrets(ctx context.Context, config *Config, store secrets.Store) error {
	fields := []*string{
		&config.RunLog.DSN,
		&config.Oracle.Memo.Password,
		&config.Reward.PrefixMemo.Password,
	}
	for _, f := range fields {
		if !strings.HasPrefix(*f, SecretPrefix) {
			continue
		}
		key := strings.TrimPrefix(*f, SecretPrefix)
		val, err := store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("解析 secret %q 失败: %w", key, err)
		}
		*f = val
	}
	return nil
}
