// Copyright 2026 fanjia1024
// Secret resolution for connection strings and passwords

package secrets

import (
	"context"
	"fmt"
)

// Store Secret 只读接口（配置中 "secret:<key>" 引用经此解析）
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider string      // env | memory | vault
	Vault    VaultConfig // provider=vault 时使用
}

// NewStore 创建 Secret Store
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "", "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(nil), nil
	case "vault":
		return NewVaultStore(config.Vault)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Provider)
	}
}
