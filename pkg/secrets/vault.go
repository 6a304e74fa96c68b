// Copyright 2026 fanjia1024
// HashiCorp Vault secret store

package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig Vault 连接配置
type VaultConfig struct {
	Address    string // 如 http://vault:8200
	Token      string
	PathPrefix string // 如 "secret/data/firmnav"
}

type vaultStore struct {
	client     *vault.Client
	pathPrefix string
}

// NewVaultStore 创建 Vault store；key 形如 "redis/password" 时读取 <prefix>/redis 的 password 字段，
// 无字段部分时读取 <prefix>/<key> 的 value 字段
func NewVaultStore(config VaultConfig) (Store, error) {
	cfg := vault.DefaultConfig()
	if config.Address != "" {
		cfg.Address = config.Address
	}
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if config.Token != "" {
		client.SetToken(config.Token)
	}
	prefix := strings.TrimSuffix(config.PathPrefix, "/")
	if prefix == "" {
		prefix = "secret"
	}
	return &vaultStore{client: client, pathPrefix: prefix}, nil
}

func (v *vaultStore) split(key string) (path, field string) {
	if i := strings.LastIndex(key, "/"); i > 0 {
		return v.pathPrefix + "/" + key[:i], key[i+1:]
	}
	return v.pathPrefix + "/" + key, "value"
}

// dataOf 兼容 KV v1 与 KV v2（v2 的字段位于 data.data 下）
func dataOf(secret *vault.Secret) map[string]interface{} {
	if secret == nil {
		return nil
	}
	if inner, ok := secret.Data["data"].(map[string]interface{}); ok {
		return inner
	}
	return secret.Data
}

func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	path, field := v.split(key)
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}
	data := dataOf(secret)
	if data == nil {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	if s, ok := data[field].(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("secret field %q not found at %s", field, path)
}
