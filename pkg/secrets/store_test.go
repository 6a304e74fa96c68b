package secrets

import (
	"context"
	"strings"
	"testing"
)

func TestNewStore_Providers(t *testing.T) {
	tests := []struct {
		name        string
		provider    string
		wantErr     bool
		errContains string
	}{
		{name: "default env", provider: ""},
		{name: "env", provider: "env"},
		{name: "memory", provider: "memory"},
		{name: "unknown provider", provider: "k8s", wantErr: true, errContains: "unsupported secret provider"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewStore(Config{Provider: tc.provider})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tc.errContains) {
					t.Fatalf("error = %q, want contains %q", err.Error(), tc.errContains)
				}
				return
			}
			if err != nil || store == nil {
				t.Fatalf("unexpected: store=%v err=%v", store, err)
			}
		})
	}
}

func TestMemoryAndEnvStoreBasicContract(t *testing.T) {
	ctx := context.Background()
	t.Setenv("NAV_TEST_KEY", "value")
	values := map[string]string{"nav/test-key": "value"}
	mem := NewMemoryStore(values)
	// 创建后修改入参不影响 store
	values["nav/test-key"] = "changed"
	for _, s := range []Store{mem, NewEnvStore()} {
		got, err := s.Get(ctx, "nav/test-key")
		if err != nil {
			t.Fatalf("get secret failed: %v", err)
		}
		if got != "value" {
			t.Fatalf("get secret = %q, want value", got)
		}
		if _, err := s.Get(ctx, "nav/missing-key"); err == nil {
			t.Fatalf("expected error for missing key")
		}
	}
}

func TestEnvStore_KeyMapping(t *testing.T) {
	t.Setenv("RUNLOG_DSN", "postgres://x")
	got, err := NewEnvStore().Get(context.Background(), "runlog.dsn")
	if err != nil || got != "postgres://x" {
		t.Fatalf("got %q err %v", got, err)
	}
}

func TestVaultStore_Split(t *testing.T) {
	s, err := NewVaultStore(VaultConfig{Address: "http://127.0.0.1:8200", PathPrefix: "secret/data/firmnav/"})
	if err != nil {
		t.Fatalf("NewVaultStore: %v", err)
	}
	vs := s.(*vaultStore)
	path, field := vs.split("redis/password")
	if path != "secret/data/firmnav/redis" || field != "password" {
		t.Fatalf("split = %q %q", path, field)
	}
	path, field = vs.split("dsn")
	if path != "secret/data/firmnav/dsn" || field != "value" {
		t.Fatalf("split = %q %q", path, field)
	}
}
